package clinic

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, m ...echo.MiddlewareFunc) {
	g := api.Group("/clinics", m...)
	g.GET("", h.ListClinics)
	g.GET("/:id", h.GetClinic)
}

func (h *Handler) ListClinics(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListClinics(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	if items == nil {
		items = []*Clinic{}
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	return c.JSON(http.StatusOK, resp.WithLinks(c.Path(), c.QueryParams()))
}

func (h *Handler) GetClinic(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	detail, err := h.svc.GetClinic(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, detail)
}
