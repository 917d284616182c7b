package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"mexscan/internal/config"
	"mexscan/internal/exporter"
	"mexscan/internal/mexc"
	"mexscan/internal/stats"
)

// SpreadResult summarizes one spread sampling window.
type SpreadResult struct {
	TargetTicks   int
	TicksSuccess  int
	TicksFail     int
	InvalidQuotes int
	MissingQuotes int
	Uptime        float64
	TimedOut      bool
	Elapsed       time.Duration
}

// Metrics renders the result for pipeline_state.json.
func (r SpreadResult) Metrics() StageMetrics {
	return StageMetrics{
		"target_ticks":   r.TargetTicks,
		"ticks_total":    r.TicksSuccess + r.TicksFail,
		"ticks_success":  r.TicksSuccess,
		"ticks_fail":     r.TicksFail,
		"invalid_quotes": r.InvalidQuotes,
		"missing_quotes": r.MissingQuotes,
		"uptime":         r.Uptime,
		"timed_out":      r.TimedOut,
		"elapsed_s":      r.Elapsed.Seconds(),
	}
}

// RunSpreadSampling polls the bulk book ticker endpoint once per
// interval, appending every quote for universe symbols to the raw
// JSONL stream. Tick deadlines are absolute (start + (i+1)*interval)
// so one slow tick does not shift the rest of the schedule. A failed
// tick is counted and the schedule moves on; reaching the stage
// deadline stops sampling with TimedOut set rather than failing.
func RunSpreadSampling(
	ctx context.Context,
	client *mexc.Client,
	symbols []string,
	cfg config.SpreadSamplingConfig,
	runDir string,
	deadline time.Time,
	logger *slog.Logger,
) (SpreadResult, error) {
	var result SpreadResult
	if cfg.Interval.D() <= 0 || cfg.Duration.D() <= 0 {
		return result, fmt.Errorf("spread sampling duration and interval must be positive")
	}

	universe := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		universe[symbol] = true
	}

	result.TargetTicks = int(math.Ceil(cfg.Duration.D().Seconds() / cfg.Interval.D().Seconds()))
	if result.TargetTicks < 1 {
		result.TargetTicks = 1
	}

	writer, err := exporter.NewRawWriter(runDir, cfg.RawGzip)
	if err != nil {
		return result, err
	}
	defer writer.Close()

	start := time.Now()
	for tick := 0; tick < result.TargetTicks; tick++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			result.TimedOut = true
			logger.Warn("stage deadline reached during spread sampling",
				"tick_idx", tick, "elapsed_s", time.Since(start).Seconds())
			break
		}

		tickTS := time.Now().UTC().Format(time.RFC3339)
		reqStart := time.Now()
		books, err := client.BookTickers(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.TicksFail++
			logger.Warn("bulk book ticker failed", "tick_idx", tick, "error", err)
		} else {
			result.TicksSuccess++
			seen := 0
			for _, book := range books {
				if !universe[book.Symbol] {
					continue
				}
				if _, ok := stats.SpreadBps(parseQuote(book.BidPrice), parseQuote(book.AskPrice)); !ok {
					result.InvalidQuotes++
					continue
				}
				seen++
				if err := writer.Write(exporter.RawRecord{
					TS:     tickTS,
					Symbol: book.Symbol,
					Bid:    book.BidPrice,
					Ask:    book.AskPrice,
				}); err != nil {
					return result, err
				}
			}
			result.MissingQuotes += len(universe) - seen
			logger.Info("spread tick collected",
				"tick_idx", tick, "symbols_seen", seen,
				"latency_ms", time.Since(reqStart).Milliseconds())
			if err := writer.Flush(); err != nil {
				return result, err
			}
		}

		next := start.Add(time.Duration(tick+1) * cfg.Interval.D())
		if err := sleepUntil(ctx, next); err != nil {
			return result, err
		}
	}

	result.Elapsed = time.Since(start)
	result.Uptime = float64(result.TicksSuccess) / float64(result.TargetTicks)

	logger.Info("spread sampling finished",
		"uptime", result.Uptime,
		"invalid_quotes", result.InvalidQuotes,
		"missing_quotes", result.MissingQuotes,
		"ticks_success", result.TicksSuccess,
		"ticks_fail", result.TicksFail,
		"timed_out", result.TimedOut)

	if err := writer.Close(); err != nil {
		return result, err
	}
	return result, nil
}

// parseQuote converts a decimal price string; unparseable input maps
// to zero, which SpreadBps counts as an invalid quote.
func parseQuote(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}

// sleepUntil waits until the absolute deadline or context end.
func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LoadSpreadSamples reads the raw stream back into per-symbol sample
// slices, restricted to universe symbols. Corrupt lines are skipped.
func LoadSpreadSamples(runDir string, gzipEnabled bool, symbols []string) (map[string][]stats.SpreadSample, error) {
	universe := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		universe[symbol] = true
	}

	path := fmt.Sprintf("%s/%s", runDir, exporter.RawBookTickerName(gzipEnabled))
	samples := make(map[string][]stats.SpreadSample, len(symbols))
	_, err := exporter.ReadRawRecords(path, func(record exporter.RawRecord) {
		if !universe[record.Symbol] {
			return
		}
		samples[record.Symbol] = append(samples[record.Symbol], stats.SpreadSample{
			Symbol: record.Symbol,
			Bid:    parseQuote(record.Bid),
			Ask:    parseQuote(record.Ask),
		})
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}
