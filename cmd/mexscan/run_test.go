package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexscan/internal/exporter"
	"mexscan/internal/mexc"
	"mexscan/internal/pipeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRunIDSortsByTime(t *testing.T) {
	early := newRunID(time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC))
	late := newRunID(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))

	assert.Less(t, early, late)
	assert.Regexp(t, `^20260829_090000_[0-9a-f-]{8}$`, early)
}

func TestSplitStages(t *testing.T) {
	assert.Nil(t, splitStages(""))
	assert.Equal(t, []string{"universe", "spread"}, splitStages("universe, spread"))
	assert.Equal(t, []string{"depth"}, splitStages(",depth,"))
}

func TestGuardExistingMetaRejectsOtherArtifactVersion(t *testing.T) {
	layout, err := exporter.EnsureRunLayout(t.TempDir(), "r1")
	require.NoError(t, err)

	// No meta yet: resuming a fresh directory is fine.
	assert.Equal(t, pipeline.ExitOK, guardExistingMeta(layout, discardLogger()))

	require.NoError(t, exporter.WriteRunMeta(layout.RunMetaPath, exporter.RunMeta{
		RunID:       "r1",
		SpecVersion: pipeline.SpecVersion,
	}))
	assert.Equal(t, pipeline.ExitOK, guardExistingMeta(layout, discardLogger()))

	require.NoError(t, exporter.WriteRunMeta(layout.RunMetaPath, exporter.RunMeta{
		RunID:       "r1",
		SpecVersion: "9.9",
	}))
	assert.Equal(t, pipeline.ExitValidation, guardExistingMeta(layout, discardLogger()))
}

func TestFlushAPIHealthClassifiesThrottling(t *testing.T) {
	layout, err := exporter.EnsureRunLayout(t.TempDir(), "r1")
	require.NoError(t, err)

	metrics := mexc.NewMetrics(prometheus.NewRegistry())
	metrics.RecordRequest("/api/v3/ticker/24hr", "200")
	metrics.RecordRequest("/api/v3/ticker/24hr", "429")
	metrics.RecordRequest("/api/v3/depth", "503")
	metrics.RecordRetry("/api/v3/ticker/24hr", "rate_limited")

	health := flushAPIHealth(layout, metrics, false, discardLogger())
	assert.Equal(t, "degraded", health)

	data, err := os.ReadFile(layout.MetricsPath)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))

	assert.EqualValues(t, 3, exporter.MetricInt(payload, "requests_total"))
	assert.EqualValues(t, 1, exporter.MetricInt(payload, "http_429_total"))
	assert.EqualValues(t, 0, exporter.MetricInt(payload, "http_403_total"))
	assert.EqualValues(t, 1, exporter.MetricInt(payload, "http_5xx_total"))
	assert.EqualValues(t, 1, exporter.MetricInt(payload, "retries_total"))
	assert.Equal(t, 1.0, payload["run_degraded"])
}

func TestFlushAPIHealthCleanRun(t *testing.T) {
	layout, err := exporter.EnsureRunLayout(t.TempDir(), "r1")
	require.NoError(t, err)

	metrics := mexc.NewMetrics(prometheus.NewRegistry())
	metrics.RecordRequest("/api/v3/exchangeInfo", "200")

	health := flushAPIHealth(layout, metrics, false, discardLogger())
	assert.Equal(t, "ok", health)

	data, err := os.ReadFile(layout.MetricsPath)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, 0.0, payload["run_degraded"])
}

func TestFlushAPIHealthDegradedByTimeout(t *testing.T) {
	layout, err := exporter.EnsureRunLayout(t.TempDir(), "r1")
	require.NoError(t, err)

	metrics := mexc.NewMetrics(prometheus.NewRegistry())
	health := flushAPIHealth(layout, metrics, true, discardLogger())
	assert.Equal(t, "degraded", health)
}

func TestRunDispatch(t *testing.T) {
	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"bogus"}))
	assert.Equal(t, 0, run([]string{"help"}))
}
