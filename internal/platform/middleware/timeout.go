package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout returns middleware that sets a context deadline on each
// incoming request. If the deadline expires before the handler completes,
// the request context is cancelled and a 504 response is returned pointing
// callers at the async batch endpoint for long-running work.
//
// Handlers observe the cancellation through the request context, so no
// partial writes are committed after the timeout response is sent.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			// Run the handler in a goroutine so we can select on the context.
			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return deadlineExceededError(c)
				}
				// Client disconnect or other cancellation.
				return ctx.Err()
			}
		}
	}
}

// deadlineExceededError writes the stable 504 payload. The body always
// carries the same label and guidance so clients can match on it.
func deadlineExceededError(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusGatewayTimeout, map[string]interface{}{
		"success":    false,
		"request_id": GetRequestID(c),
		"error": map[string]interface{}{
			"code":    ErrDeadline,
			"message": "request exceeded the processing deadline; submit large workloads to POST /api/v1/mapping/batch/async",
		},
	})
}
