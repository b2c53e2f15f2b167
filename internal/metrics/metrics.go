// Package metrics provides Prometheus metrics for the hiera registry.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the registry.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Lookup metrics
	LookupsTotal   *prometheus.CounterVec
	LookupDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	// Storage metrics
	StorageOperations *prometheus.CounterVec
	StorageLatency    *prometheus.HistogramVec
	StorageErrors     *prometheus.CounterVec

	// Watcher metrics
	WatcherEvents   *prometheus.CounterVec
	WatcherRestarts *prometheus.CounterVec

	// Projection metrics
	ProjectionSize *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiera_registry_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hiera_registry_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hiera_registry_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiera_registry_lookups_total",
			Help: "Total number of key lookups",
		},
		[]string{"merge", "outcome"},
	)

	m.LookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hiera_registry_lookup_duration_seconds",
			Help:    "Key lookup latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"merge"},
	)

	m.CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiera_registry_cache_hits_total",
			Help: "Total number of lookup cache hits",
		},
		[]string{"cache"},
	)

	m.CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiera_registry_cache_misses_total",
			Help: "Total number of lookup cache misses",
		},
		[]string{"cache"},
	)

	m.CacheInvalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiera_registry_cache_invalidations_total",
			Help: "Total number of lookup cache invalidations",
		},
		[]string{"scope"},
	)

	m.StorageOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiera_registry_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"backend", "operation"},
	)

	m.StorageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hiera_registry_storage_latency_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	m.StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiera_registry_storage_errors_total",
			Help: "Total number of storage errors",
		},
		[]string{"backend", "operation"},
	)

	m.WatcherEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiera_registry_watcher_events_total",
			Help: "Total number of change-stream events applied",
		},
		[]string{"collection", "op"},
	)

	m.WatcherRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiera_registry_watcher_restarts_total",
			Help: "Total number of change-stream watcher restarts",
		},
		[]string{"collection"},
	)

	m.ProjectionSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hiera_registry_projection_size",
			Help: "Number of entries in an in-memory projection",
		},
		[]string{"projection"},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.LookupsTotal,
		m.LookupDuration,
		m.CacheHits,
		m.CacheMisses,
		m.CacheInvalidations,
		m.StorageOperations,
		m.StorageLatency,
		m.StorageErrors,
		m.WatcherEvents,
		m.WatcherRestarts,
		m.ProjectionSize,
	)

	// Also register the default collectors (go runtime, process info)
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)

		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordLookup records a lookup attempt and its latency.
func (m *Metrics) RecordLookup(merge bool, outcome string, duration time.Duration) {
	label := strconv.FormatBool(merge)
	m.LookupsTotal.WithLabelValues(label, outcome).Inc()
	m.LookupDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordStorageOperation records one storage operation.
func (m *Metrics) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	m.StorageOperations.WithLabelValues(backend, operation).Inc()
	m.StorageLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		m.StorageErrors.WithLabelValues(backend, operation).Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes a URL path to reduce cardinality.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/lookup/"):
		return "/lookup/{key}"
	case strings.HasPrefix(path, "/keys/") && strings.Contains(path, "/data"):
		return "/keys/{key}/data"
	case strings.HasPrefix(path, "/keys/"):
		return "/keys/{key}"
	case strings.HasPrefix(path, "/key-models/"):
		return "/key-models/{id}"
	case strings.HasPrefix(path, "/levels/") && strings.Contains(path, "/data/"):
		return "/levels/{level}/data/{id}"
	case strings.HasPrefix(path, "/levels/"):
		return "/levels/{level}"
	case strings.HasPrefix(path, "/node-groups/"):
		return "/node-groups/{id}"
	}
	return path
}
