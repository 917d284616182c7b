package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexscan/internal/config"
	"mexscan/internal/exporter"
	"mexscan/internal/infrastructure"
	"mexscan/internal/pipeline"
)

func newTestServer(t *testing.T) (*Server, exporter.RunLayout) {
	t.Helper()
	layout, err := exporter.EnsureRunLayout(t.TempDir(), "r1")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tel, err := infrastructure.InitTelemetry(config.ObsConfig{}, "test", logger)
	require.NoError(t, err)

	return NewServer(":0", layout, "0.1.0", tel, logger), layout
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp := get(t, server.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("X-Trace-ID"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "0.1.0", payload["version"])
}

func TestStateEndpoint(t *testing.T) {
	server, layout := newTestServer(t)

	resp := get(t, server.Handler(), "/api/run")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	state := pipeline.NewRunState("r1")
	record := state.Record(pipeline.DefaultStages(false)[0])
	record.Status = pipeline.StatusSucceeded
	require.NoError(t, state.Save(layout.StatePath))

	resp = get(t, server.Handler(), "/api/run")
	assert.Equal(t, http.StatusOK, resp.Code)

	var got pipeline.RunState
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, "r1", got.RunID)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, pipeline.StatusSucceeded, got.Stages[0].Status)
}

func TestMetaEndpoint(t *testing.T) {
	server, layout := newTestServer(t)

	require.NoError(t, exporter.WriteRunMeta(layout.RunMetaPath, exporter.RunMeta{
		RunID:  "r1",
		Status: "running",
	}))

	resp := get(t, server.Handler(), "/api/meta")
	assert.Equal(t, http.StatusOK, resp.Code)

	var meta exporter.RunMeta
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &meta))
	assert.Equal(t, "r1", meta.RunID)
	assert.Equal(t, "running", meta.Status)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	server, _ := newTestServer(t)

	resp := get(t, server.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "target_info")
}

func TestTraceMiddlewarePropagatesCallerID(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Trace-ID", "caller-trace")
	server.Handler().ServeHTTP(recorder, req)

	assert.Equal(t, "caller-trace", recorder.Header().Get("X-Trace-ID"))
}
