package auth

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
)

// RequireRole admits users who can act in the given role. Every user can act
// as a patient; only users registered as doctors can act as doctors. It must
// run after RequireSession.
func RequireRole(role Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := UserFromContext(c.Request().Context())
			if user == nil {
				return c.Redirect(http.StatusFound, apperror.LoginPath)
			}
			if role == RoleDoctor && !user.IsDoctor {
				return echo.NewHTTPError(http.StatusForbidden, fmt.Sprintf("required role: %s", role))
			}
			return next(c)
		}
	}
}
