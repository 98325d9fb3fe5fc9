package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the attribution service.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// Report metrics
	ReportRequests *prometheus.CounterVec
	ReportDuration *prometheus.HistogramVec

	// Source metrics
	SourceFetchDuration *prometheus.HistogramVec
	SourceFetchErrors   *prometheus.CounterVec
	DegradedJoins       *prometheus.CounterVec
	DegradedFilters     *prometheus.CounterVec
	MalformedNumerics   *prometheus.CounterVec
	ReferenceCache      *prometheus.CounterVec

	// Order workflow metrics
	StatusUpdates *prometheus.CounterVec

	// System metrics
	DBConnections *prometheus.GaugeVec
	RateLimitHits *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all metrics on reg. A nil reg uses a
// fresh registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ReportRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_requests_total",
				Help:      "Total number of attribution report requests",
			},
			[]string{"status"},
		),
		ReportDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_duration_seconds",
				Help:      "Attribution report build latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		SourceFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "Data source fetch latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		SourceFetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetch_errors_total",
				Help:      "Total number of failed data source fetches",
			},
			[]string{"source"},
		),
		DegradedJoins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "secondary_join_degraded_total",
				Help:      "Reports built without a reference join because its source failed",
			},
			[]string{"source"},
		),
		DegradedFilters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_filter_total",
				Help:      "Reports whose filter could not be evaluated because its join was missing",
			},
			[]string{"filter"},
		),
		MalformedNumerics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_numeric_fields_total",
				Help:      "Numeric fields that could not be parsed and were counted as zero",
			},
			[]string{"entity", "field"},
		),
		ReferenceCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reference_cache_total",
				Help:      "Reference cache lookups by result",
			},
			[]string{"entity", "result"},
		),
		StatusUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_status_updates_total",
				Help:      "Order status update attempts",
			},
			[]string{"status", "result"},
		),
		DBConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool state",
			},
			[]string{"state"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limited requests",
			},
			[]string{"endpoint"},
		),
		gatherer: reg,
	}

	return m
}

// Handler returns the Prometheus metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordReport records a finished report request.
func (m *Metrics) RecordReport(status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ReportRequests.WithLabelValues(status).Inc()
	m.ReportDuration.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordSourceFetch records a data source fetch and its outcome.
func (m *Metrics) RecordSourceFetch(source string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.SourceFetchDuration.WithLabelValues(source).Observe(latency.Seconds())
	if err != nil {
		m.SourceFetchErrors.WithLabelValues(source).Inc()
	}
}

// RecordDegradedJoin records a report built without a reference join.
func (m *Metrics) RecordDegradedJoin(source string) {
	if m == nil {
		return
	}
	m.DegradedJoins.WithLabelValues(source).Inc()
}

// RecordDegradedFilter records a filter applied without the join it needs.
func (m *Metrics) RecordDegradedFilter(filter string) {
	if m == nil {
		return
	}
	m.DegradedFilters.WithLabelValues(filter).Inc()
}

// RecordMalformedNumeric records a numeric field that failed to parse.
func (m *Metrics) RecordMalformedNumeric(entity, field string) {
	if m == nil {
		return
	}
	m.MalformedNumerics.WithLabelValues(entity, field).Inc()
}

// RecordCacheLookup records a reference cache hit, miss or error.
func (m *Metrics) RecordCacheLookup(entity, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReferenceCache.WithLabelValues(entity, result).Add(float64(n))
}

// RecordStatusUpdate records an order status update attempt.
func (m *Metrics) RecordStatusUpdate(status, result string) {
	if m == nil {
		return
	}
	m.StatusUpdates.WithLabelValues(status, result).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	if m == nil {
		return
	}
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
