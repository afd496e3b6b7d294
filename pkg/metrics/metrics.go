package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the limits core
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitAllowed  *prometheus.CounterVec
	RateLimitRejected *prometheus.CounterVec
	RateLimitFailOpen *prometheus.CounterVec

	// Quota metrics
	QuotaAllowed *prometheus.CounterVec
	QuotaDenied  *prometheus.CounterVec
	QuotaErrors  *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Storage metrics
	StorageErrors   *prometheus.CounterVec
	StorageDuration *prometheus.HistogramVec
}

// New creates a Metrics instance registered with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance with a custom registry
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "limitgate_http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		RateLimitAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_ratelimit_allowed_total",
				Help: "Requests allowed by the rate limiter",
			},
			[]string{"endpoint"},
		),
		RateLimitRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_ratelimit_rejected_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
		RateLimitFailOpen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_ratelimit_fail_open_total",
				Help: "Rate limit checks that failed open on storage errors",
			},
			[]string{"endpoint"},
		),

		QuotaAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_quota_allowed_total",
				Help: "Metered actions allowed by the quota enforcer",
			},
			[]string{"action"},
		),
		QuotaDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_quota_denied_total",
				Help: "Metered actions denied by the quota enforcer",
			},
			[]string{"action", "plan"},
		),
		QuotaErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_quota_errors_total",
				Help: "Quota checks that failed closed on storage errors",
			},
			[]string{"action"},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_cache_hits_total",
				Help: "Cache lookups served from the cache",
			},
			[]string{"operation"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_cache_misses_total",
				Help: "Cache lookups that required recomputation",
			},
			[]string{"operation"},
		),

		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_storage_errors_total",
				Help: "Errors from the persistent counter stores",
			},
			[]string{"store", "operation"},
		),
		StorageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "limitgate_storage_operation_duration_seconds",
				Help:    "Latency of persistent counter store operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"store", "operation"},
		),
	}
}
