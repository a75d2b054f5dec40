package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityConfig controls the browser hardening headers.
type SecurityConfig struct {
	// HSTS adds Strict-Transport-Security. Only set it when the service is
	// reached over TLS.
	HSTS bool
	// ImageSources lists extra origins profile photos may load from, e.g.
	// https://res.cloudinary.com.
	ImageSources []string
}

// SecurityHeaders sets hardening headers on every response. Responses carry
// consultation notes and prescriptions and default to no-store; ETag
// overrides Cache-Control on the reference data routes.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	csp := contentSecurityPolicy(cfg.ImageSources)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Content-Security-Policy", csp)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			return next(c)
		}
	}
}

func contentSecurityPolicy(imageSources []string) string {
	img := append([]string{"'self'"}, imageSources...)
	return "default-src 'none'; img-src " + strings.Join(img, " ") +
		"; connect-src 'self'; frame-ancestors 'none'"
}
