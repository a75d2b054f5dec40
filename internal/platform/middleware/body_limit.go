package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// BodyLimit caps request bodies at maxBytes. It guards the signup and profile
// routes, whose multipart forms carry photos. A declared Content-Length over
// the cap is refused before the handler runs. A body that overflows while
// being read turns the response into a 413 whatever error the handler made
// of it, since form binding reports overflow as a generic bind failure.
func BodyLimit(maxBytes int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > maxBytes {
				return tooLarge(maxBytes)
			}

			body := &cappedBody{ReadCloser: http.MaxBytesReader(c.Response(), req.Body, maxBytes)}
			req.Body = body

			err := next(c)
			if body.overflowed && !c.Response().Committed {
				return tooLarge(maxBytes)
			}
			return err
		}
	}
}

type cappedBody struct {
	io.ReadCloser
	overflowed bool
}

func (b *cappedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		b.overflowed = true
	}
	return n, err
}

func tooLarge(limit int64) error {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit))
}
