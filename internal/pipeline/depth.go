package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mexscan/internal/config"
	"mexscan/internal/exporter"
	"mexscan/internal/mexc"
	"mexscan/internal/scoring"
	"mexscan/internal/stats"
)

// DepthResult summarizes one depth sampling window.
type DepthResult struct {
	TargetTicks   int
	TicksSuccess  int
	TicksFail     int
	RequestsTotal int
	FailTotal     int
	SymbolsPass   int
	TimedOut      bool
	Elapsed       time.Duration
	Symbols       []scoring.DepthSymbolMetrics
}

// Metrics renders the result for pipeline_state.json.
func (r DepthResult) Metrics() StageMetrics {
	return StageMetrics{
		"target_ticks":             r.TargetTicks,
		"ticks_total":              r.TicksSuccess + r.TicksFail,
		"ticks_success":            r.TicksSuccess,
		"ticks_fail":               r.TicksFail,
		"depth_requests_total":     r.RequestsTotal,
		"depth_fail_total":         r.FailTotal,
		"depth_symbols_pass_total": r.SymbolsPass,
		"timed_out":                r.TimedOut,
		"elapsed_s":                r.Elapsed.Seconds(),
	}
}

// SelectDepthCandidates picks which scored symbols get depth-checked:
// spread passers by score descending, falling back to the best scored
// symbols when nothing passed. The second return is the passer count.
func SelectDepthCandidates(rows []exporter.SummaryRow, limit int) ([]string, int) {
	passers := make([]exporter.SummaryRow, 0, len(rows))
	for _, row := range rows {
		if row.PassSpread {
			passers = append(passers, row)
		}
	}
	passTotal := len(passers)

	pool := passers
	if len(pool) == 0 {
		pool = append(pool, rows...)
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].Score != pool[j].Score {
			return pool[i].Score > pool[j].Score
		}
		return pool[i].Symbol < pool[j].Symbol
	})
	if limit > 0 && len(pool) > limit {
		pool = pool[:limit]
	}

	symbols := make([]string, len(pool))
	for i, row := range pool {
		symbols[i] = row.Symbol
	}
	return symbols, passTotal
}

// depthSymbolState accumulates one symbol's snapshots across ticks.
type depthSymbolState struct {
	counts    scoring.DepthCounts
	snapshots []stats.SnapshotMetrics
}

// RunDepthCheck samples order books for the candidate symbols over the
// configured window. When the universe is large relative to the
// request budget (len(symbols)/max_rps > interval) the sampler runs in
// effective snapshot mode: ticks take as long as they take and the
// target tick count shrinks accordingly, so uptime stays honest.
func RunDepthCheck(
	ctx context.Context,
	client *mexc.Client,
	symbols []string,
	cfg *config.Config,
	deadline time.Time,
	logger *slog.Logger,
) (DepthResult, error) {
	var result DepthResult
	if len(symbols) == 0 {
		return result, fmt.Errorf("no depth candidates provided")
	}

	sampling := cfg.Sampling.Depth
	interval := sampling.Interval.D()
	duration := sampling.Duration.D()

	naiveTicks := int(math.Ceil(duration.Seconds() / interval.Seconds()))
	if naiveTicks < 1 {
		naiveTicks = 1
	}
	result.TargetTicks = naiveTicks
	tickDuration := float64(len(symbols)) / cfg.Mexc.MaxRPS
	if tickDuration > interval.Seconds() {
		effective := int(duration.Seconds() / tickDuration)
		if effective < 1 {
			effective = 1
		}
		logger.Info("effective snapshot mode",
			"symbols", len(symbols),
			"max_rps", cfg.Mexc.MaxRPS,
			"naive_target_ticks", naiveTicks,
			"effective_target_ticks", effective)
		result.TargetTicks = effective
	}

	states := make(map[string]*depthSymbolState, len(symbols))
	for _, symbol := range symbols {
		states[symbol] = &depthSymbolState{}
	}

	depthParams := stats.DepthParams{
		TopN:           cfg.Depth.TopNLevels,
		BandBps:        cfg.Depth.BandBps,
		StressNotional: cfg.Depth.StressNotionalUSDT,
	}

	var mu sync.Mutex
	start := time.Now()

ticks:
	for tick := 0; tick < result.TargetTicks; tick++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			result.TimedOut = true
			logger.Warn("stage deadline reached during depth sampling",
				"tick_idx", tick, "elapsed_s", time.Since(start).Seconds())
			break
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(sampling.Workers)
		tickSuccessful := false

		for _, symbol := range symbols {
			if !deadline.IsZero() && time.Now().After(deadline) {
				result.TimedOut = true
				break
			}
			symbol := symbol
			group.Go(func() error {
				snapshot, err := client.Depth(groupCtx, symbol, sampling.Limit)

				mu.Lock()
				defer mu.Unlock()
				result.RequestsTotal++
				state := states[symbol]

				if err != nil {
					result.FailTotal++
					if mexc.IsFatal(err) {
						state.counts.SymbolUnavailable++
						logger.Warn("depth snapshot unavailable", "symbol", symbol, "error", err, "tick_idx", tick)
						return nil
					}
					if groupCtx.Err() != nil {
						return groupCtx.Err()
					}
					logger.Warn("depth snapshot failed", "symbol", symbol, "error", err, "tick_idx", tick)
					return nil
				}

				metrics, err := stats.ComputeSnapshotMetrics(snapshot.Bids, snapshot.Asks, depthParams)
				if err != nil {
					result.FailTotal++
					state.counts.SampleCount++
					if errors.Is(err, stats.ErrEmptyBook) {
						state.counts.EmptyBook++
					} else {
						state.counts.InvalidBook++
					}
					logger.Warn("depth snapshot invalid", "symbol", symbol, "error", err, "tick_idx", tick)
					return nil
				}

				state.counts.SampleCount++
				state.counts.ValidSamples++
				state.snapshots = append(state.snapshots, metrics)
				tickSuccessful = true
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return result, err
		}
		if result.TimedOut {
			break ticks
		}

		if tickSuccessful {
			result.TicksSuccess++
		} else {
			result.TicksFail++
		}

		next := start.Add(time.Duration(tick+1) * interval)
		if err := sleepUntil(ctx, next); err != nil {
			return result, err
		}
	}

	result.Elapsed = time.Since(start)

	scoreParams := scoring.DepthParams{
		BestLevelMinNotional: cfg.Thresholds.Depth.BestLevelMinNotional,
		UnwindSlippageMaxBps: cfg.Thresholds.Depth.UnwindSlippageMaxBps,
		Band10MinNotional:    cfg.Thresholds.Depth.Band10MinNotional,
		TopNMinNotional:      cfg.Thresholds.Depth.TopNMinNotional,
	}

	result.Symbols = make([]scoring.DepthSymbolMetrics, 0, len(symbols))
	for _, symbol := range symbols {
		state := states[symbol]
		aggregate := stats.AggregateDepthMetrics(state.snapshots, cfg.Depth.BandBps)
		evaluation := scoring.EvaluateDepth(aggregate, state.counts, scoreParams)
		uptime := 0.0
		if result.TargetTicks > 0 {
			uptime = float64(state.counts.ValidSamples) / float64(result.TargetTicks)
		}
		if evaluation.Pass {
			result.SymbolsPass++
		}
		result.Symbols = append(result.Symbols, scoring.DepthSymbolMetrics{
			Symbol:     symbol,
			Counts:     state.counts,
			Aggregate:  aggregate,
			Uptime:     uptime,
			Evaluation: evaluation,
		})
	}

	logger.Info("depth check finished",
		"symbols", len(symbols),
		"pass", result.SymbolsPass,
		"requests_total", result.RequestsTotal,
		"fail_total", result.FailTotal,
		"timed_out", result.TimedOut)

	return result, nil
}
