package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *PrometheusMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.HTTPHandler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestPrometheusMetricsExportsChecks(t *testing.T) {
	m := NewPrometheusMetrics("authz_test_checks")
	m.RecordCheck("allow", 10*time.Microsecond)
	m.RecordCheck("deny", 20*time.Microsecond)

	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `authz_test_checks_checks_total{effect="allow"} 1`))
	assert.True(t, strings.Contains(body, `authz_test_checks_checks_total{effect="deny"} 1`))
}

func TestPrometheusMetricsCacheAndHealth(t *testing.T) {
	m := NewPrometheusMetrics("authz_test_cache")
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.SetHealthy(false)

	body := scrape(t, m)
	assert.Contains(t, body, "authz_test_cache_cache_hits_total 2")
	assert.Contains(t, body, "authz_test_cache_cache_misses_total 1")
	assert.Contains(t, body, "authz_test_cache_healthy 0")
}

func TestPrometheusMetricsReload(t *testing.T) {
	m := NewPrometheusMetrics("authz_test_reload")
	m.RecordReload("success", time.Millisecond)
	m.RecordReload("failure", time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `authz_test_reload_reload_total{outcome="failure"} 1`)
	assert.Contains(t, body, `authz_test_reload_reload_total{outcome="success"} 1`)
}
