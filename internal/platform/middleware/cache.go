package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/labstack/echo/v4"
)

// CacheConfig controls the ETag middleware.
type CacheConfig struct {
	MaxAge int      // Cache-Control max-age in seconds
	Vary   []string // request headers the response depends on
}

// DefaultCacheConfig suits the clinic and medication catalogues. They sit
// behind the session check, so only the browser may cache them.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxAge: 300, Vary: []string{"Cookie"}}
}

type captureWriter struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *captureWriter) WriteHeader(code int)        { w.status = code }
func (w *captureWriter) Write(b []byte) (int, error) { return w.body.Write(b) }

// ETag holds back successful GET and HEAD responses, tags them with a hash
// of the body and answers a matching If-None-Match with 304. Failed
// responses keep the global no-store policy.
func ETag(cfg CacheConfig) echo.MiddlewareFunc {
	cacheControl := fmt.Sprintf("private, max-age=%d", cfg.MaxAge)
	vary := strings.Join(cfg.Vary, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}

			res := c.Response()
			underlying := res.Writer
			capture := &captureWriter{ResponseWriter: underlying, status: http.StatusOK}
			res.Writer = capture
			err := next(c)
			res.Writer = underlying
			if err != nil {
				return err
			}

			if capture.status < 400 {
				tag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(capture.body.Bytes()))
				h := res.Header()
				h.Set("ETag", tag)
				h.Set("Cache-Control", cacheControl)
				if vary != "" {
					h.Set("Vary", vary)
				}
				if etagMatch(req.Header.Get("If-None-Match"), tag) {
					underlying.WriteHeader(http.StatusNotModified)
					return nil
				}
			}

			underlying.WriteHeader(capture.status)
			_, err = underlying.Write(capture.body.Bytes())
			return err
		}
	}
}

// etagMatch applies the weak comparison of If-None-Match, which may list
// several tags or be "*".
func etagMatch(ifNoneMatch, tag string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	want := strings.TrimPrefix(tag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == want {
			return true
		}
	}
	return false
}
