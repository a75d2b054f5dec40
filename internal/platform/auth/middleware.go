package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
)

type contextKey string

const userKey contextKey = "session_user"

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the authenticated user, or nil outside a session.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey).(*User)
	return u
}

// UserIDFromContext returns the authenticated user's id, or 0.
func UserIDFromContext(ctx context.Context) int64 {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return 0
}

// RequireSession authenticates every request not matched by skipper.
// Unauthenticated requests are redirected to the login page; a failed user
// lookup answers 503 with a link back to it. Authenticated requests carry
// the user in their context.
func RequireSession(v *Verifier, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			user, err := v.Verify(c.Request().Context(), ReadCookies(c.Request()))
			if err != nil {
				if errors.Is(err, apperror.ErrUnauthenticated) {
					return c.Redirect(http.StatusFound, apperror.LoginPath)
				}
				return apperror.ToHTTP(err)
			}

			c.Set("user_id", user.ID)
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), user)))
			return next(c)
		}
	}
}
