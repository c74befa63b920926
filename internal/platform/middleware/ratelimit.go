package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// LimitClass names a request family and its fixed-window budget. All classes
// share the limiter's bucket store but count independently per client.
type LimitClass struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Predefined limit classes. Health probes get a wide budget so orchestrators
// never trip the limiter; batch submission is the scarcest resource.
var (
	ClassStandard = LimitClass{Name: "standard", Limit: 100, Window: time.Minute}
	ClassMapping  = LimitClass{Name: "mapping", Limit: 20, Window: time.Minute}
	ClassBatch    = LimitClass{Name: "batch", Limit: 5, Window: time.Minute}
	ClassSearch   = LimitClass{Name: "search", Limit: 200, Window: time.Minute}
	ClassHealth   = LimitClass{Name: "health", Limit: 1000, Window: time.Minute}
)

// fixedWindow tracks one client's count within the current window.
type fixedWindow struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// classCounters accumulates per-class totals for the admin stats endpoint.
type classCounters struct {
	allowed  uint64
	rejected uint64
}

// Limiter is a fixed-window rate limiter keyed by (class, client IP).
// Counts reset at window boundaries rather than sliding.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*fixedWindow
	counters map[string]*classCounters
	enabled  bool
	now      func() time.Time
	onReject func(class string)
}

// NewLimiter creates a Limiter. When enabled is false the middleware passes
// every request through untouched.
func NewLimiter(enabled bool) *Limiter {
	return &Limiter{
		windows:  make(map[string]*fixedWindow),
		counters: make(map[string]*classCounters),
		enabled:  enabled,
		now:      time.Now,
	}
}

// OnReject registers a hook invoked with the class name whenever a request
// is rejected, for metrics wiring.
func (l *Limiter) OnReject(fn func(class string)) {
	l.onReject = fn
}

// take counts one request against the client's window. It returns whether
// the request is allowed, how many requests remain in the window, and when
// the window resets.
func (l *Limiter) take(key string, class LimitClass) (allowed bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.windowStart) >= class.Window {
		w = &fixedWindow{windowStart: now}
		l.windows[key] = w
	}
	w.lastSeen = now
	reset = w.windowStart.Add(class.Window)

	cc, ok := l.counters[class.Name]
	if !ok {
		cc = &classCounters{}
		l.counters[class.Name] = cc
	}

	if w.count >= class.Limit {
		cc.rejected++
		return false, 0, reset
	}
	w.count++
	cc.allowed++
	remaining = class.Limit - w.count
	return true, remaining, reset
}

// Middleware returns the rate limiting middleware for the given class.
// Every allowed response carries X-RateLimit-Limit, X-RateLimit-Remaining
// and X-RateLimit-Reset; rejections add Retry-After and return 429.
func (l *Limiter) Middleware(class LimitClass) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.enabled {
				return next(c)
			}

			key := class.Name + "|" + c.RealIP()
			allowed, remaining, reset := l.take(key, class)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(class.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				retryAfter := int(time.Until(reset).Seconds()) + 1
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				if l.onReject != nil {
					l.onReject(class.Name)
				}
				return NewError(http.StatusTooManyRequests, ErrRateLimited,
					"rate limit exceeded for "+class.Name+" requests")
			}

			return next(c)
		}
	}
}

// Sweep removes windows idle for longer than idleFor and returns how many
// were dropped.
func (l *Limiter) Sweep(idleFor time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.lastSeen) > idleFor {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs a background goroutine that drops idle client windows.
// It stops when the context is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval, idleFor time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep(idleFor)
			}
		}
	}()
}

// ClassStats reports one class's activity for the admin endpoint.
type ClassStats struct {
	Class    string `json:"class"`
	Limit    int    `json:"limit"`
	WindowMS int64  `json:"window_ms"`
	Allowed  uint64 `json:"allowed"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns per-class totals plus the number of tracked client windows.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	classes := []LimitClass{ClassStandard, ClassMapping, ClassBatch, ClassSearch, ClassHealth}
	out := make([]ClassStats, 0, len(classes))
	for _, cl := range classes {
		st := ClassStats{Class: cl.Name, Limit: cl.Limit, WindowMS: cl.Window.Milliseconds()}
		if cc, ok := l.counters[cl.Name]; ok {
			st.Allowed = cc.allowed
			st.Rejected = cc.rejected
		}
		out = append(out, st)
	}

	return map[string]interface{}{
		"enabled":        l.enabled,
		"active_clients": len(l.windows),
		"classes":        out,
	}
}
