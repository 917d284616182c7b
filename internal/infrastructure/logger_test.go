package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexscan/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("verbose"))
}

func TestNewLoggerEmitsJSONWithTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.ObsConfig{LogLevel: "info", LogJSON: true}, &buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	logger.InfoContext(ctx, "stage starting", "stage", "universe")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "stage starting", line["msg"])
	assert.Equal(t, "universe", line["stage"])
	assert.Equal(t, "trace-123", line["trace_id"])
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.ObsConfig{LogLevel: "error", LogJSON: true}, &buf)

	logger.Info("ignored")
	assert.Zero(t, buf.Len())

	logger.Error("kept")
	assert.Positive(t, buf.Len())
}

func TestEnsureTraceIDIsStable(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	id := TraceID(ctx)
	require.NotEmpty(t, id)

	// A second call must not replace an existing ID.
	assert.Equal(t, id, TraceID(EnsureTraceID(ctx)))
}
