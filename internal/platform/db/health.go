package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// ReadinessCheck is a named dependency probe run by the readiness handler.
// Returning an error marks the dependency (and the service) not ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// PoolCheck wraps a connection pool ping as a readiness check.
func PoolCheck(pool *pgxpool.Pool) ReadinessCheck {
	return ReadinessCheck{
		Name: "database",
		Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	}
}

// ReadinessHandler returns a handler that runs the given dependency checks.
// Any failure yields 503 with per-check detail so operators can see which
// collaborator is down.
func ReadinessHandler(checks ...ReadinessCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		ready := true
		detail := map[string]interface{}{}

		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				ready = false
				detail[check.Name] = map[string]interface{}{"status": "down", "error": err.Error()}
				continue
			}
			detail[check.Name] = map[string]interface{}{"status": "up"}
		}

		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		return c.JSON(status, map[string]interface{}{"status": state, "checks": detail})
	}
}
