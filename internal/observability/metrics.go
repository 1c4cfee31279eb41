package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache lookup results.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheExpired = "expired"
	CacheForced  = "forced"
	CacheBypass  = "bypass"
)

// Metrics contains all Prometheus metrics for the Unpaywall client.
// Metrics are organized by subsystem: cache, source, lookup, pdf and http.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// CacheLookups counts cache reads, labeled by result (hit, miss, expired, forced, bypass).
	CacheLookups *prometheus.CounterVec

	// CacheEntries tracks the number of entries held by the cache.
	CacheEntries prometheus.Gauge

	// CachePersists counts whole-cache writes to the store, labeled by store kind.
	CachePersists *prometheus.CounterVec

	// CachePersistFailures counts failed whole-cache writes, labeled by store kind.
	CachePersistFailures *prometheus.CounterVec

	// CacheEvictions counts entries removed by delete, reset or prune.
	CacheEvictions prometheus.Counter

	// SourceRequestsTotal counts requests to a response source, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed requests, labeled by source, endpoint and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes request duration in seconds, labeled by source and endpoint.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts 429 answers, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// RecordsProcessed counts identifiers processed by batch lookups.
	RecordsProcessed prometheus.Counter

	// RecordsSkipped counts identifiers that produced no row.
	RecordsSkipped prometheus.Counter

	// RowsEmitted counts table rows produced, labeled by format.
	RowsEmitted *prometheus.CounterVec

	// PDFDownloads counts PDF downloads, labeled by status (success, failed).
	PDFDownloads *prometheus.CounterVec

	// PDFBytes counts bytes of PDF content downloaded.
	PDFBytes prometheus.Counter

	// HTTPRequestsTotal counts API requests served, labeled by method, route and status.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration observes API request duration in seconds, labeled by method and route.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// The namespace is used as a prefix for all metric names. A nil reg
// falls back to the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Cache
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by result",
		}, []string{"result"}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of responses held by the cache",
		}),
		CachePersists: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "persists_total",
			Help:      "Total number of whole-cache writes to the store",
		}, []string{"store"}),
		CachePersistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "persist_failures_total",
			Help:      "Total number of failed whole-cache writes",
		}, []string{"store"}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries removed from the cache",
		}),

		// Sources
		SourceRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "requests_total",
			Help:      "Total number of requests to response sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "requests_failed_total",
			Help:      "Total number of failed requests to response sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "request_duration_seconds",
			Help:      "Duration of requests to response sources in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "rate_limited_total",
			Help:      "Total number of rate-limited answers",
		}, []string{"source"}),

		// Lookups
		RecordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "records_processed_total",
			Help:      "Total number of identifiers processed by batch lookups",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "records_skipped_total",
			Help:      "Total number of identifiers that produced no row",
		}),
		RowsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "rows_emitted_total",
			Help:      "Total number of table rows produced",
		}, []string{"format"}),

		// PDF
		PDFDownloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pdf",
			Name:      "downloads_total",
			Help:      "Total number of PDF downloads by status",
		}, []string{"status"}),
		PDFBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pdf",
			Name:      "bytes_total",
			Help:      "Total number of PDF bytes downloaded",
		}),

		// HTTP
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests served",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordCacheLookup records a cache read with the given result.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// SetCacheEntries records the current number of cached responses.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// RecordCachePersist records a whole-cache write.
func (m *Metrics) RecordCachePersist(store string, err error) {
	if m == nil {
		return
	}
	m.CachePersists.WithLabelValues(store).Inc()
	if err != nil {
		m.CachePersistFailures.WithLabelValues(store).Inc()
	}
}

// RecordCacheEvictions records entries removed from the cache.
func (m *Metrics) RecordCacheEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictions.Add(float64(n))
}

// RecordSourceRequest records a completed request to a response source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a response source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate-limited answer.
func (m *Metrics) RecordSourceRateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordRecordProcessed records one processed identifier and the rows it produced.
func (m *Metrics) RecordRecordProcessed(format string, rows int) {
	if m == nil {
		return
	}
	m.RecordsProcessed.Inc()
	if rows == 0 {
		m.RecordsSkipped.Inc()
		return
	}
	m.RowsEmitted.WithLabelValues(format).Add(float64(rows))
}

// RecordPDFDownload records a PDF download outcome and its size.
func (m *Metrics) RecordPDFDownload(bytes int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PDFDownloads.WithLabelValues("failed").Inc()
		return
	}
	m.PDFDownloads.WithLabelValues("success").Inc()
	m.PDFBytes.Add(float64(bytes))
}

// RecordHTTPRequest records a served API request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
