package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dicom-ingest/internal/handler/health"
	"github.com/jwalitptl/dicom-ingest/internal/handler/prometheus"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
	"github.com/jwalitptl/dicom-ingest/pkg/metrics"
)

func newOps(t *testing.T, checks map[string]health.Check) (*Router, *metrics.Metrics) {
	t.Helper()
	reg := promclient.NewRegistry()
	m := metrics.New("test", reg)
	r := NewRouter(health.NewHandler(checks), prometheus.New("test", reg), logger.Nop())
	r.Setup()
	return r, m
}

func get(r *Router, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.Engine().ServeHTTP(w, req)
	return w
}

func TestLiveness(t *testing.T) {
	r, _ := newOps(t, nil)
	w := get(r, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestReadinessReportsFailedChecks(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	r, _ := newOps(t, map[string]health.Check{"database": ok, "queue": down})
	w := get(r, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status string            `json:"status"`
		Reason map[string]string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DOWN", body.Status)
	assert.Equal(t, map[string]string{"queue": "connection refused"}, body.Reason)

	r, _ = newOps(t, map[string]health.Check{"database": ok})
	assert.Equal(t, http.StatusOK, get(r, "/health/ready").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, m := newOps(t, nil)
	m.JobsConsumed.WithLabelValues("success").Inc()
	get(r, "/health/live")

	w := get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_jobs_consumed_total{result="success"} 1`)
	assert.Contains(t, w.Body.String(), `test_ops_requests_total{method="GET",path="/health/live",status="200"} 1`)
}
