package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"mexscan/internal/config"
	"mexscan/internal/exporter"
	"mexscan/internal/infrastructure"
	"mexscan/internal/mexc"
	"mexscan/internal/pipeline"
	transporthttp "mexscan/internal/transport/http"
)

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config (defaults apply when omitted)")
	outputDir := fs.String("output", "runs", "directory holding run_<id> folders")
	runID := fs.String("run-id", "", "reuse an existing run ID (resume) instead of generating one")
	stagesFlag := fs.String("stages", "", "comma-separated stage subset, e.g. universe,spread")
	fromStage := fs.String("from", "", "first stage of a contiguous range")
	toStage := fs.String("to", "", "last stage of a contiguous range")
	resume := fs.Bool("resume", true, "skip stages whose outputs already validate")
	force := fs.Bool("force", false, "re-run stages even when outputs validate")
	failFast := fs.Bool("fail-fast", true, "stop at the first stage failure")
	dryRun := fs.Bool("dry-run", false, "validate the plan and stage inputs without running anything")
	logLevel := fs.String("log-level", "", "override the configured log level")
	if err := fs.Parse(args); err != nil {
		return pipeline.ExitConfig
	}

	cfg, configHash, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return pipeline.ExitConfig
	}
	if *logLevel != "" {
		cfg.Obs.LogLevel = *logLevel
	}

	id := *runID
	if id == "" {
		id = newRunID(time.Now().UTC())
	}

	logger := infrastructure.NewLogger(cfg.Obs, os.Stdout).With("run_id", id)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = infrastructure.WithTraceID(ctx, id)

	tel, err := infrastructure.InitTelemetry(cfg.Obs, pipeline.ScannerVersion, logger)
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		return pipeline.ExitConfig
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics := mexc.NewMetrics(tel.Registry)
	client := mexc.NewClient(mexc.Options{
		BaseURL:     cfg.Mexc.BaseURL,
		Timeout:     cfg.Mexc.Timeout.D(),
		MaxRPS:      cfg.Mexc.MaxRPS,
		MaxRetries:  cfg.Mexc.MaxRetries,
		BackoffBase: cfg.Mexc.BackoffBase.D(),
		BackoffMax:  cfg.Mexc.BackoffMax.D(),
		UserAgent:   cfg.Mexc.UserAgent,
		Logger:      logger,
		Metrics:     metrics,
	})

	layout := exporter.NewRunLayout(*outputDir, id)
	if !*dryRun {
		layout, err = exporter.EnsureRunLayout(*outputDir, id)
		if err != nil {
			logger.Error("run layout", "error", err)
			return pipeline.ExitConfig
		}
	}

	if code := guardExistingMeta(layout, logger); code != pipeline.ExitOK {
		return code
	}

	startedAt := time.Now().UTC()
	meta := exporter.RunMeta{
		RunID:          id,
		StartedAt:      startedAt.Format(time.RFC3339),
		GitCommit:      gitCommit(),
		ConfigHash:     configHash,
		Status:         "running",
		ScannerVersion: pipeline.ScannerVersion,
		SpecVersion:    pipeline.SpecVersion,
	}
	if !*dryRun {
		if err := exporter.WriteRunMeta(layout.RunMetaPath, meta); err != nil {
			logger.Error("write run meta", "error", err)
			return pipeline.ExitConfig
		}
	}

	opsDone := startOpsServer(ctx, cfg, layout, tel, logger)

	runner := &pipeline.Runner{
		Config: &cfg,
		Logger: logger,
		Client: client,
		Layout: layout,
		RunID:  id,
		Tracer: tel.Tracer,
	}
	opts := pipeline.RunOptions{
		Plan: pipeline.PlanRequest{
			Stages: splitStages(*stagesFlag),
			From:   *fromStage,
			To:     *toStage,
		},
		Resume: *resume,
		Force:  *force,
		DryRun: *dryRun,
	}
	if isFlagSet(fs, "fail-fast") {
		v := *failFast
		opts.FailFast = &v
	}

	outcome, runErr := runner.Run(ctx, opts)

	health := "ok"
	if !*dryRun {
		health = flushAPIHealth(layout, metrics, outcome.Degraded, logger)
		recordStageMetrics(ctx, layout, tel)
	}

	status := "success"
	switch {
	case runErr != nil:
		status = "failed"
		meta.Error = runErr.Error()
	case outcome.Degraded:
		status = "degraded"
	}
	meta.Status = status
	meta.RunHealth = health
	if !*dryRun {
		if err := exporter.WriteRunMeta(layout.RunMetaPath, meta); err != nil {
			logger.Error("write run meta", "error", err)
		}
	}
	tel.Scan.RecordRun(ctx, status)

	stop()
	if opsDone != nil {
		<-opsDone
	}

	if runErr != nil {
		logger.Error("run finished", "status", status, "error", runErr,
			"elapsed", time.Since(startedAt).Round(time.Millisecond).String())
	} else {
		logger.Info("run finished", "status", status, "run_health", health,
			"elapsed", time.Since(startedAt).Round(time.Millisecond).String())
	}
	return pipeline.ExitCodeFor(runErr)
}

func loadConfig(path string) (config.Config, string, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, config.Loaded{}.Hash(), nil
	}
	loaded, err := config.Load(path)
	if err != nil {
		return config.Config{}, "", err
	}
	return loaded.Config, loaded.Hash(), nil
}

// guardExistingMeta rejects resuming into a run directory written by
// an incompatible artifact layout.
func guardExistingMeta(layout exporter.RunLayout, logger *slog.Logger) int {
	existing, err := exporter.ReadRunMeta(layout.RunMetaPath)
	if err != nil {
		return pipeline.ExitOK
	}
	if existing.SpecVersion != "" && existing.SpecVersion != pipeline.SpecVersion {
		logger.Error("run directory was written with a different artifact version",
			"found", existing.SpecVersion, "want", pipeline.SpecVersion)
		return pipeline.ExitValidation
	}
	return pipeline.ExitOK
}

// newRunID is sortable by start time with a short random suffix to
// avoid collisions between runs started in the same second.
func newRunID(now time.Time) string {
	return fmt.Sprintf("%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func splitStages(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	stages := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			stages = append(stages, p)
		}
	}
	return stages
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func startOpsServer(ctx context.Context, cfg config.Config, layout exporter.RunLayout, tel *infrastructure.Telemetry, logger *slog.Logger) <-chan struct{} {
	if !cfg.Obs.OpsServer {
		return nil
	}
	addr := cfg.Obs.OpsAddr
	if addr == "" {
		addr = ":8080"
	}
	server := transporthttp.NewServer(addr, layout, pipeline.ScannerVersion, tel, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Run(ctx); err != nil {
			logger.Error("ops server", "error", err)
		}
	}()
	return done
}

// flushAPIHealth folds the client's request counters into metrics.json
// so the report stage can surface throttling pressure, and returns the
// run health classification.
func flushAPIHealth(layout exporter.RunLayout, metrics *mexc.Metrics, degraded bool, logger *slog.Logger) string {
	snap := metrics.Snapshot()

	var rate429, waf403, server5xx int64
	for class, n := range snap.RequestsByClass {
		switch {
		case class == "429":
			rate429 += n
		case class == "403":
			waf403 += n
		case strings.HasPrefix(class, "5"):
			server5xx += n
		}
	}

	health := "ok"
	if degraded || rate429 > 0 || waf403 > 0 {
		health = "degraded"
	}
	degradedGauge := 0.0
	if health == "degraded" {
		degradedGauge = 1.0
	}

	err := exporter.UpdateMetrics(layout.MetricsPath,
		map[string]int64{
			"requests_total": snap.RequestsTotal,
			"retries_total":  snap.RetriesTotal,
			"http_429_total": rate429,
			"http_403_total": waf403,
			"http_5xx_total": server5xx,
		},
		map[string]float64{
			"backoff_seconds_total": snap.BackoffSeconds,
			"run_degraded":          degradedGauge,
		})
	if err != nil {
		logger.Warn("flush api health", "error", err)
	}
	return health
}

// recordStageMetrics replays the persisted stage records into the
// OpenTelemetry instruments so a scrape after the run sees durations
// even for stages finished before the ops server came up.
func recordStageMetrics(ctx context.Context, layout exporter.RunLayout, tel *infrastructure.Telemetry) {
	state, err := pipeline.LoadState(layout.StatePath)
	if err != nil || state == nil {
		return
	}
	for _, rec := range state.Stages {
		if rec.StartedAt == "" || rec.FinishedAt == "" {
			continue
		}
		started, err1 := time.Parse(time.RFC3339, rec.StartedAt)
		finished, err2 := time.Parse(time.RFC3339, rec.FinishedAt)
		if err1 != nil || err2 != nil {
			continue
		}
		tel.Scan.RecordStage(ctx, rec.Name, rec.Status, finished.Sub(started))
	}
}
