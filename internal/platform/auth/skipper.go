package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths are the routes reachable without a session: the login form,
// account creation, health checks.
var publicPaths = map[string]bool{
	"/":          true,
	"/logout":    true,
	"/signup":    true,
	"/health":    true,
	"/health/db": true,
}

// SessionSkipper reports whether a request bypasses RequireSession. It
// matches on the registered route path, falling back to the URL for static
// profile photos.
func SessionSkipper(c echo.Context) bool {
	if publicPaths[c.Path()] {
		return true
	}
	return strings.HasPrefix(c.Request().URL.Path, photoPathPrefix)
}

// IsPublicPath reports whether path is served without a session.
func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, photoPathPrefix)
}
