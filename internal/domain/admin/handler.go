// Package admin exposes the operational endpoints: cache and rate limiter
// introspection, batch queue state, embedding coverage, and on-demand
// embedding generation.
package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ayushbridge/ayushbridge/internal/domain/batch"
	"github.com/ayushbridge/ayushbridge/internal/domain/terminology"
	"github.com/ayushbridge/ayushbridge/internal/platform/cache"
	"github.com/ayushbridge/ayushbridge/internal/platform/middleware"
)

// Handler serves the admin surface.
type Handler struct {
	caches      *cache.Registry
	limiter     *middleware.Limiter
	queue       *batch.Queue
	terminology *terminology.Service
}

// NewHandler creates the admin handler. queue may be nil when the async
// pipeline is disabled.
func NewHandler(caches *cache.Registry, limiter *middleware.Limiter,
	queue *batch.Queue, term *terminology.Service) *Handler {
	return &Handler{
		caches:      caches,
		limiter:     limiter,
		queue:       queue,
		terminology: term,
	}
}

// RegisterRoutes mounts the admin routes.
func (h *Handler) RegisterRoutes(admin *echo.Group) {
	admin.GET("/cache/stats", h.CacheStats)
	admin.POST("/cache/clear", h.CacheClear)
	admin.GET("/ratelimit/stats", h.RateLimitStats)
	admin.GET("/batch/stats", h.BatchStats)
	admin.GET("/embeddings/stats", h.EmbeddingStats)
	admin.POST("/embeddings/generate", h.GenerateEmbeddings)
}

// CacheStats handles GET /admin/cache/stats.
func (h *Handler) CacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"caches":  h.caches.StatsAll(),
	})
}

type cacheClearRequest struct {
	Cache string `json:"cache,omitempty"`
}

// CacheClear handles POST /admin/cache/clear. An empty or missing cache name
// clears every cache.
func (h *Handler) CacheClear(c echo.Context) error {
	var req cacheClearRequest
	if err := c.Bind(&req); err != nil {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"request body must be JSON")
	}

	cleared := "all"
	if req.Cache != "" {
		if !h.caches.Clear(req.Cache) {
			return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
				"unknown cache "+req.Cache)
		}
		cleared = req.Cache
	} else {
		h.caches.ClearAll()
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"cleared": cleared,
	})
}

// RateLimitStats handles GET /admin/ratelimit/stats.
func (h *Handler) RateLimitStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"limiter": h.limiter.Stats(),
	})
}

// BatchStats handles GET /admin/batch/stats.
func (h *Handler) BatchStats(c echo.Context) error {
	if h.queue == nil {
		return middleware.NewError(http.StatusServiceUnavailable, middleware.ErrUpstream,
			"batch queue not configured")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"queue":   h.queue.Stats(),
	})
}

// EmbeddingStats handles GET /admin/embeddings/stats with per-catalog
// coverage counts.
func (h *Handler) EmbeddingStats(c echo.Context) error {
	coverage, err := h.terminology.EmbeddingStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"coverage": coverage,
	})
}

type generateRequest struct {
	Catalog string `json:"catalog"`
	Limit   int    `json:"limit,omitempty"`
}

// GenerateEmbeddings handles POST /admin/embeddings/generate. It embeds up
// to limit codes missing vectors from the chosen catalog and reports how
// many were processed.
func (h *Handler) GenerateEmbeddings(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"request body must be JSON")
	}
	if req.Catalog != "source" && req.Catalog != "target" {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			`catalog must be "source" or "target"`)
	}

	result, err := h.terminology.GenerateEmbeddings(c.Request().Context(), req.Catalog, req.Limit)
	if err != nil {
		return middleware.NewError(http.StatusServiceUnavailable, middleware.ErrUpstream, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}
