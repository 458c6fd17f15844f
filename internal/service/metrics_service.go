package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the console gateway.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheLookups    *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
	upstream        *prometheus.HistogramVec
	importRows      *prometheus.CounterVec
	exports         *prometheus.CounterVec
	sessions        prometheus.Gauge

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "page", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "page", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for shared cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for shared cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collection_cache_hit_ratio",
		Help: "Ratio of collection cache hits to total lookups",
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_cache_lookups_total",
		Help: "Collection cache lookups by tier and result",
	}, []string{"tier", "result"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_cache_invalidations_total",
		Help: "Collection keys marked stale",
	}, []string{"key"})

	upstream := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Duration of calls to the parks API",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_rows_total",
		Help: "Imported csv rows by outcome",
	}, []string{"resource", "outcome"})

	exports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exports_total",
		Help: "Generated exports by format",
	}, []string{"resource", "format"})

	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "page_sessions_active",
		Help: "Mounted list page sessions",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheLookups,
		invalidations, upstream, importRows, exports, sessions, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheLookups:    cacheLookups,
		invalidations:   invalidations,
		upstream:        upstream,
		importRows:      importRows,
		exports:         exports,
		sessions:        sessions,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics per route template and list page.
func (m *MetricsService) ObserveHTTPRequest(method, path, page string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, page, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, page, labelStatus).Inc()
}

// RecordCacheOperation records a shared tier lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	m.RecordCollectionLookup("redis", hit)
}

// RecordCollectionLookup counts a lookup against the given tier and updates the hit ratio.
func (m *MetricsService) RecordCollectionLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	m.cacheLookups.WithLabelValues(tier, result).Inc()

	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordInvalidation counts a stale mark for the collection key.
func (m *MetricsService) RecordInvalidation(key string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(key).Inc()
}

// ObserveUpstream records the latency of a parks API call.
func (m *MetricsService) ObserveUpstream(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = fmt.Sprintf("%d", status)
	}
	m.upstream.WithLabelValues(operation, label).Observe(duration.Seconds())
}

// RecordImportRows adds imported row outcomes.
func (m *MetricsService) RecordImportRows(resource string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues(resource, "created").Add(float64(succeeded))
	m.importRows.WithLabelValues(resource, "failed").Add(float64(failed))
}

// RecordExport counts a generated export.
func (m *MetricsService) RecordExport(resource, format string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(resource, format).Inc()
}

// SetActiveSessions publishes the mounted session count.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// CacheStats returns the aggregate hit and miss counts.
func (m *MetricsService) CacheStats() (hits, misses uint64) {
	if m == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&m.cacheHitCount), atomic.LoadUint64(&m.cacheMissCount)
}
