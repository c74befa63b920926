// Package telemetry exposes Prometheus metrics for the terminology service:
// HTTP server metrics, translation pipeline stage timings, cache and rate
// limiter activity, and upstream model call outcomes. All metrics live on a
// private registry so tests can assert on a fresh instance.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the service records. Construct one per
// process with NewMetrics and share it across handlers.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	activeRequests prometheus.Gauge

	pipelineStageDuration *prometheus.HistogramVec
	mappingOutcomes       *prometheus.CounterVec

	cacheOps            *prometheus.CounterVec
	rateLimitRejections *prometheus.CounterVec

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec

	batchJobsActive prometheus.Gauge
	batchItems      *prometheus.CounterVec

	dbPoolAcquired prometheus.Gauge
	dbPoolIdle     prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all instruments registered on a
// fresh registry under the given namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds by method and route.",
			Buckets:   []float64{0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 25.0},
		}, []string{"method", "route"}),

		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Number of HTTP requests currently being served.",
		}),

		pipelineStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Translation pipeline stage duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.025, 0.100, 0.500, 1.0, 2.5, 5.0, 10.0, 15.0},
		}, []string{"stage"}),

		mappingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_requests_total",
			Help:      "Translation requests by final outcome.",
		}, []string{"outcome"}),

		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Cache hits and misses by cache name.",
		}, []string{"cache", "result"}),

		rateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter, by limit class.",
		}, []string{"class"}),

		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Calls to upstream model providers by provider and result.",
		}, []string{"provider", "result"}),

		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream model call duration in seconds by provider.",
			Buckets:   []float64{0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 15.0},
		}, []string{"provider"}),

		batchJobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_jobs_active",
			Help:      "Batch translation jobs currently running.",
		}),

		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_processed_total",
			Help:      "Batch job items processed by result.",
		}, []string{"result"}),

		dbPoolAcquired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_acquired_connections",
			Help:      "Database connections currently acquired from the pool.",
		}),

		dbPoolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_idle_connections",
			Help:      "Idle database connections in the pool.",
		}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.activeRequests,
		m.pipelineStageDuration,
		m.mappingOutcomes,
		m.cacheOps,
		m.rateLimitRejections,
		m.upstreamRequests,
		m.upstreamDuration,
		m.batchJobsActive,
		m.batchItems,
		m.dbPoolAcquired,
		m.dbPoolIdle,
	)

	return m
}

// Gatherer exposes the private registry for the exposition handler and for
// tests that want to inspect gathered metric families.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler returns an Echo handler serving the Prometheus text exposition
// format from this instance's registry.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// HTTPMiddleware records request count, duration and in-flight gauge for
// every request. Route labels use the Echo route pattern, not the raw path,
// to keep cardinality bounded.
func (m *Metrics) HTTPMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.activeRequests.Inc()
			start := time.Now()

			err := next(c)

			m.activeRequests.Dec()

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// ObservePipelineStage records the duration of one pipeline stage
// (normalize, embed, retrieve, adjudicate, persist).
func (m *Metrics) ObservePipelineStage(stage string, d time.Duration) {
	m.pipelineStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordMappingOutcome counts a finished translation by its route
// (cached, high_confidence, ai_validated, fallback, unmatched).
func (m *Metrics) RecordMappingOutcome(outcome string) {
	m.mappingOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCacheHit counts a hit on the named cache.
func (m *Metrics) RecordCacheHit(cache string) {
	m.cacheOps.WithLabelValues(cache, "hit").Inc()
}

// RecordCacheMiss counts a miss on the named cache.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.cacheOps.WithLabelValues(cache, "miss").Inc()
}

// RecordRateLimited counts a request rejected by the named limit class.
func (m *Metrics) RecordRateLimited(class string) {
	m.rateLimitRejections.WithLabelValues(class).Inc()
}

// RecordUpstream counts an upstream model call and its duration.
// Result is "ok", "error" or "timeout".
func (m *Metrics) RecordUpstream(provider, result string, d time.Duration) {
	m.upstreamRequests.WithLabelValues(provider, result).Inc()
	m.upstreamDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// BatchJobStarted increments the active batch job gauge.
func (m *Metrics) BatchJobStarted() {
	m.batchJobsActive.Inc()
}

// BatchJobFinished decrements the active batch job gauge.
func (m *Metrics) BatchJobFinished() {
	m.batchJobsActive.Dec()
}

// RecordBatchItem counts one processed batch item ("completed" or "failed").
func (m *Metrics) RecordBatchItem(result string) {
	m.batchItems.WithLabelValues(result).Inc()
}

// SetDBPoolStats updates the connection pool gauges. Callers refresh these
// on a fixed interval.
func (m *Metrics) SetDBPoolStats(acquired, idle int32) {
	m.dbPoolAcquired.Set(float64(acquired))
	m.dbPoolIdle.Set(float64(idle))
}
