// Package apperror defines the error kinds shared by the telehealth domain
// packages and their translation into HTTP responses at the route boundary.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// LoginPath is the login entry point that recovery links point at.
const LoginPath = "/"

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
)

// NotFound wraps ErrNotFound with the name of the missing entity.
func NotFound(entity string) error {
	return fmt.Errorf("%s: %w", entity, ErrNotFound)
}

// Unavailable wraps a storage failure so that callers can match it with
// errors.Is(err, ErrServiceUnavailable) while the cause stays in the chain
// for logging.
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrServiceUnavailable, cause)
}

// Invalid wraps ErrInvalidInput with a human readable reason.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Status returns the HTTP status for an error kind. Unknown errors map to 503
// because every unclassified failure in this service originates in storage.
// ErrServiceUnavailable wins over any kind carried by its cause.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// ToHTTP converts a domain error into an *echo.HTTPError. Service failures
// carry a recovery link to the login page and never leak the storage cause.
func ToHTTP(err error) *echo.HTTPError {
	status := Status(err)
	if status == http.StatusServiceUnavailable {
		return echo.NewHTTPError(status, map[string]string{
			"message":   "error 503: service unavailable. Return to login page",
			"login_url": LoginPath,
		})
	}
	return echo.NewHTTPError(status, err.Error())
}
