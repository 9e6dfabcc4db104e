package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsInterfaceImplementations(t *testing.T) {
	impls := []Metrics{
		NewPrometheusMetrics("authz_test_iface"),
		NewNoOpMetrics(),
	}
	for _, m := range impls {
		m.RecordCheck("allow", 100*time.Microsecond)
		m.RecordCheck("deny", 50*time.Microsecond)
		m.RecordCacheHit()
		m.RecordCacheMiss()
		m.RecordAuthError("cel_eval")
		m.IncActiveRequests()
		m.DecActiveRequests()
		m.RecordReload("success", 5*time.Millisecond)
		m.SetHealthy(false)
		m.SetHealthy(true)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/metrics", nil)
		m.HTTPHandler().ServeHTTP(rec, req)
		assert.Equal(t, 200, rec.Code)
	}
}

func TestNoOpMetricsHandlerBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	NewNoOpMetrics().HTTPHandler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "disabled")
}
