package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestNew_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)

	_, err = New(registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: register")
}

func TestObserveClassifierCall(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveClassifierCall("text", "success", 120*time.Millisecond)
	m.ObserveClassifierCall("text", "success", 80*time.Millisecond)
	m.ObserveClassifierCall("image", "asset_unavailable", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.classifierCalls.WithLabelValues("text", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classifierCalls.WithLabelValues("image", "asset_unavailable")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.classifierDuration))
}

func TestCounters(t *testing.T) {
	m := newTestMetrics(t)

	m.IncFindingsClassified("image", "failed")
	m.IncFallback("text")
	m.IncFallback("text")
	m.IncInvalidLabel("image")
	m.IncErrorLog("finding_not_found")
	m.IncCacheHit()
	m.IncCacheMiss()
	m.IncCacheMiss()
	m.IncHTTPRequest("/properties", "200")
	m.SetBreakerState(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.findingsClassified.WithLabelValues("image", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbackUsed.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invalidLabels.WithLabelValues("image")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditEntries.WithLabelValues("finding_not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/properties", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState))
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveClassifierCall("text", "success", time.Second)
		m.SetBreakerState(2)
		m.IncFindingsClassified("text", "processed")
		m.IncFallback("text")
		m.IncInvalidLabel("text")
		m.ObserveBatch(time.Second)
		m.IncErrorLog("classification_error")
		m.IncCacheHit()
		m.IncCacheMiss()
		m.IncHTTPRequest("/health", "200")
	})
}
