package middleware

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ayushbridge/ayushbridge/internal/platform/cache"
)

// cachedResponse is the stored shape of a cacheable response.
type cachedResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// bufferedResponseWriter captures the response body so the middleware can
// inspect and store it before flushing to the real writer.
type bufferedResponseWriter struct {
	writer     http.ResponseWriter
	buf        *bytes.Buffer
	statusCode int
}

func newBufferedResponseWriter(w http.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{
		writer:     w,
		buf:        &bytes.Buffer{},
		statusCode: http.StatusOK,
	}
}

// Header returns the underlying writer's header map so handler-set headers
// survive the buffering.
func (w *bufferedResponseWriter) Header() http.Header {
	return w.writer.Header()
}

// Write captures bytes into the buffer instead of sending them immediately.
func (w *bufferedResponseWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

// WriteHeader captures the status code without committing it.
func (w *bufferedResponseWriter) WriteHeader(code int) {
	w.statusCode = code
}

// Flush implements http.Flusher (no-op for the buffer).
func (w *bufferedResponseWriter) Flush() {}

// flushTo writes the buffered status and body to the underlying writer.
func (w *bufferedResponseWriter) flushTo() error {
	w.writer.WriteHeader(w.statusCode)
	if w.buf.Len() > 0 {
		_, err := w.writer.Write(w.buf.Bytes())
		return err
	}
	return nil
}

// responseCacheKey builds the cache key from the path and the sorted query
// string, so parameter order does not fragment the cache.
func responseCacheKey(c echo.Context) string {
	key := c.Request().URL.Path
	if q := c.QueryParams().Encode(); q != "" {
		key += "?" + q
	}
	return key
}

// ResponseCache returns middleware that caches successful GET responses in
// the given cache. Error responses (status >= 400) are never stored. Hits
// are marked with X-Cache: HIT, misses with X-Cache: MISS.
func ResponseCache(store *cache.Cache) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodGet {
				return next(c)
			}

			key := responseCacheKey(c)

			if v, ok := store.Get(key); ok {
				cached := v.(cachedResponse)
				h := c.Response().Header()
				h.Set("X-Cache", "HIT")
				if cached.ContentType != "" {
					h.Set(echo.HeaderContentType, cached.ContentType)
				}
				c.Response().WriteHeader(cached.Status)
				_, err := c.Response().Writer.Write(cached.Body)
				return err
			}

			res := c.Response()
			origWriter := res.Writer
			buf := newBufferedResponseWriter(origWriter)
			res.Writer = buf

			err := next(c)
			res.Writer = origWriter

			if err != nil {
				// The central error handler writes its own body.
				return err
			}

			if buf.statusCode < 400 {
				store.Set(key, cachedResponse{
					Status:      buf.statusCode,
					ContentType: res.Header().Get(echo.HeaderContentType),
					Body:        append([]byte(nil), buf.buf.Bytes()...),
				})
			}

			res.Header().Set("X-Cache", "MISS")
			return buf.flushTo()
		}
	}
}
