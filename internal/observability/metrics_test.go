package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsAreIndependentPerInstance(t *testing.T) {
	a := NewMetrics("test")
	b := NewMetrics("test")

	a.ThinkRequests.WithLabelValues("ok").Inc()
	a.MarkDegraded("context")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ThinkRequests.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ThinkRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Degraded.WithLabelValues("context")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage("extract", time.Now())
	m.MarkDegraded("extract")
	m.CountJob("profile", "ok")
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics("pa")
	m.ObserveStage("save", time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pa_stage_duration_seconds")
}
