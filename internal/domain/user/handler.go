package user

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
)

// LoginFailedMessage is shown for any failed login attempt.
const LoginFailedMessage = "Sorry you have keyed in an incorrect email/password"

// Dashboard paths a user lands on after login or a mode switch.
const (
	PatientDashboardPath = "/patient-dashboard"
	DoctorDashboardPath  = "/doctor-dashboard"
)

type Handler struct {
	svc    *Service
	hasher *auth.Hasher
	secure bool
}

// NewHandler creates the account handler. secure marks the session cookies
// Secure and should be set whenever the service is reached over TLS.
func NewHandler(svc *Service, hasher *auth.Hasher, secure bool) *Handler {
	return &Handler{svc: svc, hasher: hasher, secure: secure}
}

// Middleware groups the per-route middleware the account routes need.
type Middleware struct {
	Login  []echo.MiddlewareFunc // login form, e.g. rate limiting
	Upload []echo.MiddlewareFunc // signup and profile, e.g. body limits
}

// RegisterPublicRoutes mounts the routes reachable without a session.
func (h *Handler) RegisterPublicRoutes(e *echo.Echo, m Middleware) {
	e.GET("/", h.LoginPage)
	e.POST("/", h.Login, m.Login...)
	e.POST("/logout", h.Logout)
	e.POST("/signup", h.Signup, m.Upload...)
}

// RegisterRoutes mounts the routes that require a session.
func (h *Handler) RegisterRoutes(api *echo.Group, m Middleware) {
	api.GET("/profile", h.GetProfile)
	api.PUT("/profile", h.UpdateProfile, m.Upload...)
	api.PUT("/mode", h.SwitchMode, auth.RequireRole(auth.RoleDoctor))
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (h *Handler) LoginPage(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "log in with email and password",
		"fields":  []string{"email", "password"},
		"signup":  "/signup",
	})
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, LoginFailedMessage)
		}
		return apperror.ToHTTP(err)
	}
	auth.SetSessionCookies(c, h.hasher, u.SessionUser(), h.secure)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":     u.SessionUser(),
		"redirect": PatientDashboardPath,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	auth.ClearSessionCookies(c, h.secure)
	return c.Redirect(http.StatusFound, apperror.LoginPath)
}

func (h *Handler) Signup(c echo.Context) error {
	var in SignupInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.Signup(c.Request().Context(), in)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	auth.SetSessionCookies(c, h.hasher, u.SessionUser(), h.secure)
	return c.JSON(http.StatusCreated, u.SessionUser())
}

func (h *Handler) GetProfile(c echo.Context) error {
	p, err := h.svc.GetProfile(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

// UpdateProfile accepts JSON or a multipart form. A multipart form may carry
// a new photo in the "photo" field.
func (h *Handler) UpdateProfile(c echo.Context) error {
	var in ProfileInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var photo *Photo
	fh, err := c.FormFile("photo")
	switch {
	case err == nil:
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable photo upload")
		}
		defer f.Close()
		photo = &Photo{FileName: fh.Filename, Content: f}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}

	p, err := h.svc.UpdateProfile(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), in, photo)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

type modeRequest struct {
	Mode string `json:"mode" form:"mode"`
}

// SwitchMode toggles a doctor between the patient and doctor views. Without
// an explicit mode it flips the current one.
func (h *Handler) SwitchMode(c echo.Context) error {
	var req modeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user := auth.UserFromContext(c.Request().Context())

	var mode auth.Role
	switch auth.Role(req.Mode) {
	case auth.RolePatient, auth.RoleDoctor:
		mode = auth.Role(req.Mode)
	case "":
		mode = auth.RoleDoctor
		if auth.ModeFromRequest(c.Request(), user) == auth.RoleDoctor {
			mode = auth.RolePatient
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be patient or doctor")
	}

	auth.SetMode(c, mode, h.secure)
	redirect := PatientDashboardPath
	if mode == auth.RoleDoctor {
		redirect = DoctorDashboardPath
	}
	return c.JSON(http.StatusOK, map[string]string{"mode": string(mode), "redirect": redirect})
}
