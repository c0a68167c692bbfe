// Package metrics provides Prometheus metrics for the inspection engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

// Metrics holds every collector exported by the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	classifierCalls    *prometheus.CounterVec
	classifierDuration *prometheus.HistogramVec
	breakerState       prometheus.Gauge
	findingsClassified *prometheus.CounterVec
	fallbackUsed       *prometheus.CounterVec
	invalidLabels      *prometheus.CounterVec
	batchDuration      prometheus.Histogram
	auditEntries       *prometheus.CounterVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	httpRequests       *prometheus.CounterVec
}

// New creates the engine metrics and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, eris.Wrap(err, "metrics: register")
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.classifierCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inspection_classifier_calls_total",
		Help: "Classifier calls by finding type and outcome.",
	}, []string{"finding_type", "outcome"})

	m.classifierDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inspection_classifier_duration_seconds",
		Help:    "Duration of classifier calls including retries.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"finding_type"})

	m.breakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inspection_classifier_breaker_state",
		Help: "Classifier circuit breaker state (0 closed, 1 open, 2 half-open).",
	})

	m.findingsClassified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inspection_findings_classified_total",
		Help: "Findings that reached a terminal status.",
	}, []string{"finding_type", "status"})

	m.fallbackUsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inspection_keyword_fallback_total",
		Help: "Classifications produced by the keyword fallback.",
	}, []string{"finding_type"})

	m.invalidLabels = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inspection_invalid_labels_total",
		Help: "Classifier labels dropped because they are outside the taxonomy.",
	}, []string{"finding_type"})

	m.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inspection_batch_duration_seconds",
		Help:    "Duration of batch classification runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	m.auditEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inspection_error_log_entries_total",
		Help: "Entries written to the error log by type.",
	}, []string{"error_type"})

	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspection_cache_hits_total",
		Help: "Report cache hits.",
	})

	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspection_cache_misses_total",
		Help: "Report cache misses.",
	})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inspection_http_requests_total",
		Help: "HTTP requests served by route and status code.",
	}, []string{"route", "code"})
}

// ObserveClassifierCall records one classifier call and its outcome.
func (m *Metrics) ObserveClassifierCall(findingType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.classifierCalls.WithLabelValues(findingType, outcome).Inc()
	m.classifierDuration.WithLabelValues(findingType).Observe(d.Seconds())
}

// SetBreakerState records the classifier circuit state.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

// IncFindingsClassified counts a finding reaching status.
func (m *Metrics) IncFindingsClassified(findingType, status string) {
	if m == nil {
		return
	}
	m.findingsClassified.WithLabelValues(findingType, status).Inc()
}

// IncFallback counts a keyword fallback classification.
func (m *Metrics) IncFallback(findingType string) {
	if m == nil {
		return
	}
	m.fallbackUsed.WithLabelValues(findingType).Inc()
}

// IncInvalidLabel counts a dropped classifier label.
func (m *Metrics) IncInvalidLabel(findingType string) {
	if m == nil {
		return
	}
	m.invalidLabels.WithLabelValues(findingType).Inc()
}

// ObserveBatch records the duration of a batch run.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

// IncErrorLog counts an error log entry.
func (m *Metrics) IncErrorLog(errorType string) {
	if m == nil {
		return
	}
	m.auditEntries.WithLabelValues(errorType).Inc()
}

// IncCacheHit increases the cache hit counter by one.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// IncCacheMiss increases the cache miss counter by one.
func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// IncHTTPRequest counts a served HTTP request.
func (m *Metrics) IncHTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.classifierCalls.Describe(ch)
	m.classifierDuration.Describe(ch)
	ch <- m.breakerState.Desc()
	m.findingsClassified.Describe(ch)
	m.fallbackUsed.Describe(ch)
	m.invalidLabels.Describe(ch)
	ch <- m.batchDuration.Desc()
	m.auditEntries.Describe(ch)
	ch <- m.cacheHits.Desc()
	ch <- m.cacheMisses.Desc()
	m.httpRequests.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.classifierCalls.Collect(ch)
	m.classifierDuration.Collect(ch)
	ch <- m.breakerState
	m.findingsClassified.Collect(ch)
	m.fallbackUsed.Collect(ch)
	m.invalidLabels.Collect(ch)
	ch <- m.batchDuration
	m.auditEntries.Collect(ch)
	ch <- m.cacheHits
	ch <- m.cacheMisses
	m.httpRequests.Collect(ch)
}
