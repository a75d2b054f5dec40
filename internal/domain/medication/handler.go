package medication

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

// RegisterRoutes mounts the read-only catalogue. Extra middleware, such as
// response caching, applies to both routes.
func (h *Handler) RegisterRoutes(api *echo.Group, m ...echo.MiddlewareFunc) {
	g := api.Group("/medications", m...)
	g.GET("", h.ListMedications)
	g.GET("/:id", h.GetMedication)
}

func (h *Handler) ListMedications(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMedications(c.Request().Context(), c.QueryParam("name"), pg.Limit, pg.Offset)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	resp := pagination.NewResponse(toViews(items), total, pg.Limit, pg.Offset)
	return c.JSON(http.StatusOK, resp.WithLinks(c.Path(), c.QueryParams()))
}

func (h *Handler) GetMedication(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.svc.GetMedication(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, m.ToView())
}
