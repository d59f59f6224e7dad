package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/superfetch/superfetch/internal/adapter/outbound/memory"
	"github.com/superfetch/superfetch/internal/domain/session"
	"github.com/superfetch/superfetch/internal/port/outbound"
	"github.com/superfetch/superfetch/internal/service"
)

// metricsNamespace prefixes every metric this adapter exports.
const metricsNamespace = "superfetch"

// MetricSources are the live components the gauge and counter bridges
// read. Nil fields skip their series.
type MetricSources struct {
	Sessions   session.Store
	Cache      outbound.ContentCache
	Limiter    *memory.MemoryRateLimiter
	Transforms *service.TransformService
	Stats      *service.StatsService
}

// Metrics holds the instruments recorded by the request middleware.
// Component-level series (sessions, cache, pool, fetch counters) are
// registered as bridges that read the owning component directly, so
// they need no recording calls.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer, src MetricSources) *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	if src.Sessions != nil {
		store := src.Sessions
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_sessions",
			Help:      "Number of live MCP sessions",
		}, func() float64 { return float64(store.Size()) })
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "initializing_sessions",
			Help:      "Sessions reserved but not yet initialized",
		}, func() float64 { return float64(store.InFlight()) })
	}

	if src.Cache != nil {
		contentCache := src.Cache
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cache_entries",
			Help:      "Live content cache entries",
		}, func() float64 { return float64(contentCache.Size()) })
	}

	if src.Limiter != nil {
		limiter := src.Limiter
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limit_keys",
			Help:      "Number of active rate limit windows",
		}, func() float64 { return float64(limiter.Size()) })
	}

	if src.Transforms != nil {
		pool := src.Transforms
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "transform_queue_depth",
			Help:      "Transforms waiting for a worker",
		}, func() float64 { return float64(pool.Stats().QueueDepth) })
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "transform_workers_busy",
			Help:      "Workers currently running a transform",
		}, func() float64 { return float64(pool.Stats().Busy) })
	}

	if src.Stats != nil {
		stats := src.Stats
		promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetches_total",
			Help:      "Successful page fetches",
		}, func() float64 { return float64(stats.GetStats().FetchesOK) })
		promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_errors_total",
			Help:      "Failed page fetches",
		}, func() float64 {
			var total int64
			for _, n := range stats.GetStats().FetchErrors {
				total += n
			}
			return float64(total)
		})
		promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_hits_total",
			Help:      "Content cache hits",
		}, func() float64 { return float64(stats.GetStats().CacheHits) })
		promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_misses_total",
			Help:      "Content cache misses",
		}, func() float64 { return float64(stats.GetStats().CacheMisses) })
		promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}, func() float64 { return float64(stats.GetStats().RateLimited) })
		promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_seconds_total",
			Help:      "Cumulative seconds spent fetching pages",
		}, func() float64 { return stats.GetStats().FetchSeconds })
		promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transforms_total",
			Help:      "Completed HTML to Markdown transforms",
		}, func() float64 { return float64(stats.GetStats().Transforms) })
		promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transform_seconds_total",
			Help:      "Cumulative seconds spent transforming",
		}, func() float64 { return stats.GetStats().TransformSecs })
	}

	return m
}
