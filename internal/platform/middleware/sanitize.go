package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// DefaultMaxHeaderBytes bounds a single header value.
const DefaultMaxHeaderBytes = 8 << 10

var (
	// Queries are parameterized, so these are only logged.
	sqlProbe = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	scriptProbe = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// SanitizeConfig configures SanitizeWithConfig.
type SanitizeConfig struct {
	MaxHeaderBytes int
	Logger         zerolog.Logger
}

// Sanitize applies SanitizeWithConfig with the default header limit.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return SanitizeWithConfig(SanitizeConfig{MaxHeaderBytes: DefaultMaxHeaderBytes, Logger: logger})
}

// SanitizeWithConfig refuses with 400 any request whose path escapes its
// directory or holds a NUL byte, whose headers are oversized or carry CR/LF,
// or whose query holds a NUL byte or script fragment. The photo route maps
// the last path segment onto a file name, so the path checks guard it too.
func SanitizeWithConfig(cfg SanitizeConfig) echo.MiddlewareFunc {
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			reason := badPath(req)
			if reason == "" {
				reason = badHeader(req.Header, cfg.MaxHeaderBytes)
			}
			if reason == "" {
				reason = badQuery(req, cfg.Logger)
			}
			if reason != "" {
				cfg.Logger.Info().Str("path", req.URL.Path).Str("remote_ip", c.RealIP()).
					Str("reason", reason).Msg("request refused")
				return echo.NewHTTPError(http.StatusBadRequest, reason)
			}
			return next(c)
		}
	}
}

func badPath(req *http.Request) string {
	for _, p := range []string{req.URL.Path, req.URL.RawPath} {
		lower := strings.ToLower(p)
		switch {
		case strings.Contains(p, ".."), strings.Contains(lower, "%2e%2e"), strings.Contains(lower, "%252e"):
			return "path traversal detected"
		case hasNUL(p):
			return "null byte in path"
		}
	}
	return ""
}

func badHeader(h http.Header, max int) string {
	for name, values := range h {
		for _, v := range values {
			if len(v) > max {
				return "header value too large: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection detected: " + name
			}
		}
	}
	return ""
}

func badQuery(req *http.Request, logger zerolog.Logger) string {
	for key, values := range req.URL.Query() {
		if hasNUL(key) || scriptProbe.MatchString(key) {
			return "invalid query parameter name"
		}
		for _, v := range values {
			if hasNUL(v) {
				return "null byte in query parameter"
			}
			if scriptProbe.MatchString(v) {
				return "script injection detected in query parameter"
			}
			if sqlProbe.MatchString(v) {
				logger.Warn().Str("param", key).Str("path", req.URL.Path).
					Msg("potential SQL injection pattern detected in query parameter")
			}
		}
	}
	return ""
}

func hasNUL(s string) bool {
	return strings.ContainsRune(s, 0) || strings.Contains(strings.ToLower(s), "%00")
}

// SanitizeString drops NUL and control characters other than newline, CR and
// tab, then trims surrounding whitespace. Message bodies, descriptions and
// diagnoses go through it before storage.
func SanitizeString(input string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input))
}
