package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mexscan/internal/config"
	"mexscan/internal/exporter"
	"mexscan/internal/mexc"
)

// RunOptions control one pipeline invocation.
type RunOptions struct {
	Plan   PlanRequest
	Resume bool
	Force  bool
	DryRun bool
	// FailFast overrides the config value when set.
	FailFast *bool
}

// Runner executes a stage plan over a run directory, persisting
// progress to pipeline_state.json after every transition.
type Runner struct {
	Config *config.Config
	Logger *slog.Logger
	Client *mexc.Client
	Layout exporter.RunLayout
	RunID  string
	// Tracer emits one span per executed stage plus an enclosing run
	// span. Optional; nil falls back to a no-op tracer.
	Tracer trace.Tracer
}

// Outcome is the terminal result of a run. Degraded marks a run that
// completed under the warn timeout policy with partial sampling data.
type Outcome struct {
	Degraded bool
}

// Run executes the planned stages. The returned error is always a
// classified *Error; use ExitCodeFor to map it to a process exit code.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (Outcome, error) {
	var outcome Outcome

	plan, err := BuildPlan(DefaultStages(r.Config.Sampling.Spread.RawGzip), opts.Plan)
	if err != nil {
		return outcome, err
	}

	tracer := r.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("mexscan")
	}
	ctx, runSpan := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("run_id", r.RunID)))
	defer runSpan.End()

	r.Logger.Info("pipeline plan resolved", "plan", describePlan(plan),
		"resume", opts.Resume, "force", opts.Force, "dry_run", opts.DryRun)

	state, err := r.loadOrCreateState(opts)
	if err != nil {
		return outcome, err
	}

	failFast := r.Config.Pipeline.FailFast
	if opts.FailFast != nil {
		failFast = *opts.FailFast
	}

	start := time.Now()
	var runDeadline time.Time
	if total := r.Config.Pipeline.TotalTimeout.D(); total > 0 {
		runDeadline = start.Add(total)
	}

	var firstErr *Error
	for _, stage := range plan {
		record := state.Record(stage)

		if r.shouldSkip(stage, record, opts) {
			r.Logger.Info("stage skipped: outputs already valid", "stage", stage.Name)
			record.Status = StatusSkipped
			if err := state.Save(r.Layout.StatePath); err != nil {
				return outcome, NewStageError(stage.Name, err)
			}
			continue
		}

		sc := r.stageContext(stage, runDeadline, opts)

		if errs := stage.ValidateInputs(sc); len(errs) > 0 {
			verr := NewValidationError(stage.Name, "inputs invalid: "+strings.Join(errs, "; "))
			r.recordFailure(state, record, verr)
			if firstErr == nil {
				firstErr = verr
			}
			if failFast {
				return outcome, firstErr
			}
			continue
		}

		if opts.DryRun {
			r.Logger.Info("dry run: stage inputs valid", "stage", stage.Name)
			continue
		}

		record.Status = StatusRunning
		record.StartedAt = time.Now().UTC().Format(time.RFC3339)
		record.Error = nil
		if err := state.Save(r.Layout.StatePath); err != nil {
			return outcome, NewStageError(stage.Name, err)
		}

		stageCtx := ctx
		cancel := func() {}
		if !sc.Deadline.IsZero() {
			// Hard context cutoff sits one grace period past the soft
			// deadline the samplers honor themselves.
			stageCtx, cancel = context.WithDeadline(ctx, sc.Deadline.Add(r.Config.Pipeline.Grace.D()))
		}
		r.Logger.Info("stage starting", "stage", stage.Name)
		stageCtx, span := tracer.Start(stageCtx, "pipeline.stage."+stage.Name,
			trace.WithAttributes(attribute.String("stage", stage.Name)))
		metrics, runErr := stage.Run(stageCtx, sc)
		if runErr != nil {
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
		}
		span.End()
		cancel()

		record.FinishedAt = time.Now().UTC().Format(time.RFC3339)
		record.Metrics = metrics

		timedOut := metricsBool(metrics, "timed_out") || errors.Is(runErr, context.DeadlineExceeded)

		if runErr != nil && !timedOut {
			serr := NewStageError(stage.Name, runErr)
			r.recordFailure(state, record, serr)
			if firstErr == nil {
				firstErr = serr
			}
			if failFast {
				return outcome, firstErr
			}
			continue
		}

		if timedOut {
			terr := r.settleTimeout(stage, record, sc, &outcome)
			if terr != nil {
				r.recordFailure(state, record, terr)
				if firstErr == nil {
					firstErr = terr
				}
				if failFast {
					return outcome, firstErr
				}
				continue
			}
		} else {
			if errs := stage.ValidateOutputs(sc); len(errs) > 0 {
				verr := NewValidationError(stage.Name, "outputs invalid: "+strings.Join(errs, "; "))
				r.recordFailure(state, record, verr)
				if firstErr == nil {
					firstErr = verr
				}
				if failFast {
					return outcome, firstErr
				}
				continue
			}
			record.Status = StatusSucceeded
		}

		if err := state.Save(r.Layout.StatePath); err != nil {
			return outcome, NewStageError(stage.Name, err)
		}
		r.Logger.Info("stage finished", "stage", stage.Name, "status", record.Status)
	}

	if firstErr != nil {
		return outcome, firstErr
	}
	return outcome, nil
}

// settleTimeout applies the timeout policy. Under "warn" a timed-out
// sampling stage whose outputs validate and which collected at least
// the minimum tick count becomes a partial success: status "timeout",
// run degraded. Everything else is a stage_timeout failure.
func (r *Runner) settleTimeout(stage Stage, record *StageRecord, sc *StageContext, outcome *Outcome) *Error {
	if r.Config.Pipeline.TimeoutPolicy == "fail" {
		return NewTimeoutError(stage.Name, "stage deadline exceeded")
	}

	if errs := stage.ValidateOutputs(sc); len(errs) > 0 {
		return NewTimeoutError(stage.Name,
			"stage deadline exceeded and outputs invalid: "+strings.Join(errs, "; "))
	}
	if ticks, ok := metricsInt(record.Metrics, "ticks_success"); ok && ticks < r.Config.Pipeline.MinTicks {
		return NewTimeoutError(stage.Name, "stage deadline exceeded before minimum tick count")
	}

	r.Logger.Warn("stage timed out with usable partial outputs", "stage", stage.Name)
	record.Status = StatusTimeout
	outcome.Degraded = true
	return nil
}

func (r *Runner) loadOrCreateState(opts RunOptions) (*RunState, error) {
	if opts.Resume {
		state, err := LoadState(r.Layout.StatePath)
		if err != nil {
			return nil, NewValidationError("", err.Error())
		}
		if state != nil {
			if state.RunID != r.RunID {
				return nil, NewValidationError("",
					"pipeline state belongs to run "+state.RunID+", not "+r.RunID)
			}
			return state, nil
		}
	}
	return NewRunState(r.RunID), nil
}

// shouldSkip decides resume: a stage is skipped only when resuming
// without force, it previously completed, its outputs still validate,
// and it did not previously hit its deadline. A timed-out stage always
// re-runs so partial windows get a full second chance.
func (r *Runner) shouldSkip(stage Stage, record *StageRecord, opts RunOptions) bool {
	if !opts.Resume || opts.Force || opts.DryRun {
		return false
	}
	switch record.Status {
	case StatusSucceeded, StatusSkipped:
	default:
		return false
	}
	if record.TimedOut() {
		return false
	}
	sc := r.stageContext(stage, time.Time{}, opts)
	return len(stage.ValidateOutputs(sc)) == 0
}

func (r *Runner) stageContext(stage Stage, runDeadline time.Time, opts RunOptions) *StageContext {
	sc := &StageContext{
		RunDir:      r.Layout.RunDir,
		Config:      r.Config,
		Logger:      r.Logger.With("stage", stage.Name),
		Client:      r.Client,
		MetricsPath: r.Layout.MetricsPath,
		Strict:      !opts.DryRun,
	}

	var deadline time.Time
	if timeout := r.Config.StageTimeout(stage.Name); timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if !runDeadline.IsZero() && (deadline.IsZero() || runDeadline.Before(deadline)) {
		deadline = runDeadline
	}
	sc.Deadline = deadline
	return sc
}

func (r *Runner) recordFailure(state *RunState, record *StageRecord, err *Error) {
	record.Status = StatusFailed
	if record.FinishedAt == "" {
		record.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	}
	record.Error = &StageError{Type: string(err.Type), Message: err.Message}
	if saveErr := state.Save(r.Layout.StatePath); saveErr != nil {
		r.Logger.Error("failed to persist pipeline state", "error", saveErr)
	}
	r.Logger.Error("stage failed", "stage", record.Name, "error_type", err.Type, "error", err.Message)
}

func metricsBool(m StageMetrics, key string) bool {
	if m == nil {
		return false
	}
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func metricsInt(m StageMetrics, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
