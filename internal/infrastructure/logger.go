// Package infrastructure wires the ambient concerns of a scan run:
// structured logging with trace propagation and OpenTelemetry
// tracing/metrics providers.
package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"mexscan/internal/config"
)

// NewLogger builds the run logger from the observability config. JSON
// output is the default; text is for interactive use.
func NewLogger(cfg config.ObsConfig, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(cfg.LogLevel)}

	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(&traceHandler{Handler: handler})
}

// ParseLogLevel maps a config string to a slog level, defaulting to
// info for anything unrecognized.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// traceHandler injects the context trace ID into every record so log
// lines from one run or request correlate without threading the ID by
// hand.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID := TraceID(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}
