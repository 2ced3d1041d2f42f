// Package observability provides Prometheus metrics and in-process outcome
// statistics for the generation pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	requests          *prometheus.CounterVec
	attempts          prometheus.Histogram
	similarity        prometheus.Histogram
	piiFindings       *prometheus.CounterVec
	backendLatency    *prometheus.HistogramVec
	backendErrors     *prometheus.CounterVec
	reductions        *prometheus.CounterVec
	analyticsFailures prometheus.Counter
	cacheLookups      *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postgate_requests_total",
			Help: "Generation requests by terminal status.",
		}, []string{"status"}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "postgate_generation_attempts",
			Help:    "Generation attempts used per request that reached the attempt loop.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		similarity: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "postgate_similarity_ratio",
			Help:    "Highest similarity ratio of each candidate against history.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		piiFindings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postgate_pii_findings_total",
			Help: "PII findings that survived filtering, by entity type.",
		}, []string{"entity_type"}),
		backendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postgate_backend_request_duration_seconds",
			Help:    "Backend round-trip latency by purpose.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"purpose"}),
		backendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postgate_backend_errors_total",
			Help: "Failed backend calls by purpose and error code.",
		}, []string{"purpose", "code"}),
		reductions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postgate_content_reductions_total",
			Help: "Content reduction decisions by strategy.",
		}, []string{"strategy"}),
		analyticsFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "postgate_analytics_append_failures_total",
			Help: "Analytics appends that failed and were dropped.",
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postgate_summary_cache_lookups_total",
			Help: "Summary cache lookups by result.",
		}, []string{"result"}),
	}
}

// ObserveRequest counts a finished request.
func (m *Metrics) ObserveRequest(status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status).Inc()
}

// ObserveAttempts records how many attempts a request used.
func (m *Metrics) ObserveAttempts(n int) {
	if m == nil {
		return
	}
	m.attempts.Observe(float64(n))
}

// ObserveSimilarity records a candidate's best ratio against history.
func (m *Metrics) ObserveSimilarity(ratio float64) {
	if m == nil {
		return
	}
	m.similarity.Observe(ratio)
}

// ObservePIIFinding counts one finding.
func (m *Metrics) ObservePIIFinding(entityType string) {
	if m == nil {
		return
	}
	m.piiFindings.WithLabelValues(entityType).Inc()
}

// ObserveBackendCall records latency and, when code is non-empty, a failure.
func (m *Metrics) ObserveBackendCall(purpose string, elapsed time.Duration, code string) {
	if m == nil {
		return
	}
	m.backendLatency.WithLabelValues(purpose).Observe(elapsed.Seconds())
	if code != "" {
		m.backendErrors.WithLabelValues(purpose, code).Inc()
	}
}

// ObserveReduction counts a reduction strategy.
func (m *Metrics) ObserveReduction(strategy string) {
	if m == nil {
		return
	}
	m.reductions.WithLabelValues(strategy).Inc()
}

// ObserveAnalyticsFailure counts a dropped analytics append.
func (m *Metrics) ObserveAnalyticsFailure() {
	if m == nil {
		return
	}
	m.analyticsFailures.Inc()
}

// ObserveCacheLookup counts a summary cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
