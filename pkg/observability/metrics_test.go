package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_AuthzDecisions(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordAuthzDecision("rfis", "insert", true)
	m.RecordAuthzDecision("rfis", "insert", false)
	m.RecordAuthzDecision("rfis", "insert", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("rfis", "insert", "allow")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("rfis", "insert", "deny")))
}

func TestMetrics_Recompute(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordRecompute("estimate_totals", 5*time.Millisecond, nil)
	m.RecordRecompute("estimate_totals", time.Millisecond, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecomputeTotal.WithLabelValues("estimate_totals", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecomputeTotal.WithLabelValues("estimate_totals", "error")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAuthzDecision("x", "read", true)
		m.RecordEnrollment("created")
		m.RecordSweep("escalation", nil)
	})
}

func TestMetrics_HandlerAndMiddleware(t *testing.T) {
	m := NewMetrics(nil)

	h := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/projects", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/projects", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "keystone_http_requests_total"))
}
