package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// TimeoutConfig configures RequestTimeoutWithConfig.
type TimeoutConfig struct {
	Timeout time.Duration
	Skipper echomw.Skipper
}

// RequestTimeout bounds every request except the live feed by d.
func RequestTimeout(d time.Duration) echo.MiddlewareFunc {
	return RequestTimeoutWithConfig(TimeoutConfig{Timeout: d, Skipper: skipLiveFeed})
}

// RequestTimeoutWithConfig puts a deadline on the request context. Queries
// and ledger transactions observe it and roll back. The handler runs on the
// calling goroutine; once the deadline has passed, whatever the handler
// returned is replaced by 504 unless a response was already written.
func RequestTimeoutWithConfig(cfg TimeoutConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = echomw.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) || cfg.Timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.Timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) || c.Response().Committed {
				return err
			}
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"message": "request processing exceeded the allowed time limit",
			})
		}
	}
}

func skipLiveFeed(c echo.Context) bool {
	p := c.Request().URL.Path
	return p == "/ws" || strings.HasPrefix(p, "/ws/")
}
