package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestMetrics_PipelineHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PageFetched("backfill", 199)
	m.PageFetched("backfill", 200)
	m.StaleDropped("sample")
	m.Sampled("applied")
	m.Sampled("applied")
	m.BarAppended()
	m.SelectionReset()

	assert.Equal(t, 2.0, counterValue(t, reg, "coinchart_pages_fetched_total", map[string]string{"kind": "backfill"}))
	assert.Equal(t, 399.0, counterValue(t, reg, "coinchart_bars_fetched_total", map[string]string{"kind": "backfill"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "coinchart_stale_responses_total", map[string]string{"kind": "sample"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "coinchart_live_samples_total", map[string]string{"outcome": "applied"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "coinchart_selection_resets_total", nil))
}

func TestMetrics_UpstreamCacheBreaker(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveUpstream("price", 20*time.Millisecond, nil)
	m.ObserveUpstream("price", 20*time.Millisecond, errors.New("x"))
	m.CacheLookup("page", true)
	m.CacheLookup("page", false)
	m.BreakerChanged(1)
	m.BreakerChanged(2)

	assert.Equal(t, 1.0, counterValue(t, reg, "coinchart_upstream_errors_total", map[string]string{"endpoint": "price"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "coinchart_cache_lookups_total", map[string]string{"cache": "page", "result": "hit"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "coinchart_upstream_circuit_breaker_trips_total", nil))
	assert.Equal(t, 2.0, counterValue(t, reg, "coinchart_upstream_circuit_breaker_state", nil))
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)

	h.SetSQLiteOK(true)
	h.SetRedisEnabled(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	h.AddSessions(2)
	h.AddSessions(-1)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Contains(t, rec.Body.String(), `"sessions":1`)
}
