package consultation

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
	"github.com/lightweightcoder/telehealth-app/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := auth.RequireRole(auth.RoleDoctor)

	api.GET("/patient-dashboard", h.PatientDashboard)
	api.GET("/doctor-dashboard", h.DoctorDashboard, doctor)
	api.GET("/new-consultation/:doctorId", h.NewConsultationForm)
	api.POST("/consultation", h.Book)

	g := api.Group("/consultation/:id")
	g.GET("", h.GetConsultation)
	g.PUT("", h.Transition)
	g.GET("/edit", h.GetForEdit, doctor)
	g.PUT("/diagnosis", h.UpdateDiagnosis, doctor)
	g.POST("/prescription", h.AddPrescription, doctor)
	g.PUT("/prescription/:pid", h.UpdatePrescription, doctor)
	g.DELETE("/prescription/:pid", h.DeletePrescription, doctor)
}

func (h *Handler) PatientDashboard(c echo.Context) error {
	return h.dashboard(c, auth.RolePatient)
}

func (h *Handler) DoctorDashboard(c echo.Context) error {
	return h.dashboard(c, auth.RoleDoctor)
}

func (h *Handler) dashboard(c echo.Context, role auth.Role) error {
	user := auth.UserFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Dashboard(c.Request().Context(), user, role, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":          user,
		"mode":          role,
		"consultations": resp.WithLinks(c.Path(), c.QueryParams()),
	})
}

func (h *Handler) NewConsultationForm(c echo.Context) error {
	doctorID, err := strconv.ParseInt(c.Param("doctorId"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	form, err := h.svc.NewConsultationForm(c.Request().Context(), auth.UserFromContext(c.Request().Context()), doctorID)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, form)
}

func (h *Handler) Book(c echo.Context) error {
	var in BookingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.Book(c.Request().Context(), auth.UserFromContext(c.Request().Context()), in)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetConsultation(c echo.Context) error {
	id, err := consultationID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

type transitionRequest struct {
	Status string `json:"status" form:"status"`
}

// Transition applies the consultation page's action button. The actor's
// role is their place in the consultation, not the UI mode.
func (h *Handler) Transition(c echo.Context) error {
	id, err := consultationID(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.TransitionAsParty(ctx, id, auth.UserIDFromContext(ctx), Status(req.Status)); err != nil {
		return apperror.ToHTTP(err)
	}
	d, err := h.svc.Get(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetForEdit(c echo.Context) error {
	id, err := consultationID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetForEdit(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

type diagnosisRequest struct {
	Diagnosis string `json:"diagnosis" form:"diagnosis"`
}

func (h *Handler) UpdateDiagnosis(c echo.Context) error {
	id, err := consultationID(c)
	if err != nil {
		return err
	}
	var req diagnosisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.UpdateDiagnosis(ctx, id, auth.UserIDFromContext(ctx), req.Diagnosis); err != nil {
		return apperror.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type ledgerResponse struct {
	Prescription *Prescription `json:"prescription,omitempty"`
	Money
	MoneyView
}

func newLedgerResponse(p *Prescription, m Money) ledgerResponse {
	return ledgerResponse{Prescription: p, Money: m, MoneyView: m.Display()}
}

func (h *Handler) AddPrescription(c echo.Context) error {
	id, err := consultationID(c)
	if err != nil {
		return err
	}
	var in PrescriptionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	p, m, err := h.svc.AddPrescription(ctx, id, auth.UserIDFromContext(ctx), in)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, newLedgerResponse(p, m))
}

func (h *Handler) UpdatePrescription(c echo.Context) error {
	id, err := consultationID(c)
	if err != nil {
		return err
	}
	pid, err := strconv.ParseInt(c.Param("pid"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	var in PrescriptionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	m, err := h.svc.UpdatePrescription(ctx, id, pid, auth.UserIDFromContext(ctx), in)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, newLedgerResponse(nil, m))
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	id, err := consultationID(c)
	if err != nil {
		return err
	}
	pid, err := strconv.ParseInt(c.Param("pid"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	ctx := c.Request().Context()
	m, err := h.svc.DeletePrescription(ctx, id, pid, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, newLedgerResponse(nil, m))
}

func consultationID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid consultation id")
	}
	return id, nil
}
