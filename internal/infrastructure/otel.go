package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"mexscan/internal/config"
)

const (
	ServiceName = "mexscan"
	meterName   = "mexscan"
)

// Telemetry bundles the OpenTelemetry providers and the Prometheus
// registry backing the ops /metrics endpoint. The mexc client counters
// register into the same registry so one scrape covers everything.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Registry       *prometheus.Registry
	MetricsHandler http.Handler

	Scan *ScanMetrics

	logger *slog.Logger
}

// InitTelemetry builds tracing and metrics per the observability
// config. Tracing goes to stdout when enabled; metrics always feed the
// Prometheus registry since the ops server decides whether to expose
// them.
func InitTelemetry(cfg config.ObsConfig, version string, logger *slog.Logger) (*Telemetry, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tel := &Telemetry{
		Registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	tel.MetricsHandler = promhttp.HandlerFor(tel.Registry, promhttp.HandlerOpts{})

	if cfg.TraceStdout {
		exporter, err := stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		tel.TracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tel.TracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	tel.Tracer = otel.Tracer(meterName, trace.WithInstrumentationVersion(version))

	exporter, err := otelprom.New(otelprom.WithRegisterer(tel.Registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	tel.MeterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	tel.Meter = tel.MeterProvider.Meter(meterName, metric.WithInstrumentationVersion(version))

	scan, err := newScanMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("create scan metrics: %w", err)
	}
	tel.Scan = scan

	logger.Info("telemetry initialized",
		"trace_stdout", cfg.TraceStdout, "service_version", version)
	return tel, nil
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var firstErr error
	if t.TracerProvider != nil {
		if err := t.TracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if t.MeterProvider != nil {
		if err := t.MeterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ScanMetrics are the run-level instruments recorded by the command
// around pipeline execution.
type ScanMetrics struct {
	stageDuration metric.Float64Histogram
	stagesTotal   metric.Int64Counter
	runsTotal     metric.Int64Counter
}

func newScanMetrics(meter metric.Meter) (*ScanMetrics, error) {
	stageDuration, err := meter.Float64Histogram(
		"mexscan_stage_duration_seconds",
		metric.WithDescription("Wall time of each pipeline stage."),
	)
	if err != nil {
		return nil, err
	}
	stagesTotal, err := meter.Int64Counter(
		"mexscan_stages_total",
		metric.WithDescription("Pipeline stages finished, by stage and status."),
	)
	if err != nil {
		return nil, err
	}
	runsTotal, err := meter.Int64Counter(
		"mexscan_runs_total",
		metric.WithDescription("Scan runs finished, by status."),
	)
	if err != nil {
		return nil, err
	}
	return &ScanMetrics{
		stageDuration: stageDuration,
		stagesTotal:   stagesTotal,
		runsTotal:     runsTotal,
	}, nil
}

// RecordStage records one finished stage.
func (m *ScanMetrics) RecordStage(ctx context.Context, stage, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	)
	m.stageDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.stagesTotal.Add(ctx, 1, attrs)
}

// RecordRun records one finished run.
func (m *ScanMetrics) RecordRun(ctx context.Context, status string) {
	m.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
