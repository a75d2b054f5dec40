package messaging

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the conversation routes. Posting to a consultation's
// own path is how the consultation page sends a message.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consultation/:id", h.PostMessage)
	api.GET("/consultation/:id/messages", h.ListMessages)
}

type postRequest struct {
	Description string `json:"description" form:"description"`
}

func (h *Handler) PostMessage(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consultation id")
	}
	var req postRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.Post(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()), req.Description)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consultation id")
	}
	messages, err := h.svc.ListForUser(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": messages})
}
