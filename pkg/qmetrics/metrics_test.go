package qmetrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveTask(t *testing.T) {
	m := NewIsolated()
	m.ObserveTask("run_job", "success", 2*time.Second)
	m.ObserveTask("run_job", "success", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksProcessed.WithLabelValues("run_job", "success")))
}

func TestMetrics_ReuseRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg, reg)
	b := New(reg, reg)

	a.KillFailures.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(b.KillFailures))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewIsolated()
	m.ObserveJob("sync", "Success", time.Second)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `qremote_jobs_finished_total{status="Success"} 1`), body)
	assert.True(t, strings.Contains(body, `qremote_http_requests_total{code="204",method="get"} 1`), body)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTask("x", "y", time.Second)
	m.ObserveJob("x", "y", time.Second)
}
