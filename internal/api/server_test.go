package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/metrics"
)

func newTestServer() *Server {
	return New(config.Default().Server, "test", zap.NewNop())
}

func TestHealth(t *testing.T) {
	s := newTestServer()
	s.AddCheck("store", func(context.Context) error { return nil })

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Contains(t, body, "uptime")
	assert.Equal(t, map[string]any{"store": "ok"}, body["checks"])
}

func TestHealth_FailingCheck(t *testing.T) {
	s := newTestServer()
	s.AddCheck("store", func(context.Context) error { return errors.New("closed") })

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
}

func TestPrometheusEndpoint(t *testing.T) {
	s := newTestServer()
	metrics.RecordDose("taken")

	resp, err := s.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "medtrack_dose_transitions_total"))
}

func TestMetricsJSON(t *testing.T) {
	s := newTestServer()
	metrics.RecordDose("skipped")

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.GreaterOrEqual(t, snap.DosesSkipped, int64(1))
}

func TestNoDataRoutes(t *testing.T) {
	s := newTestServer()

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/medicines", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestAddr(t *testing.T) {
	s := newTestServer()
	assert.Equal(t, "127.0.0.1:9464", s.Addr())
}
