package pipeline

import (
	"context"
	"fmt"

	"mexscan/internal/exporter"
	"mexscan/internal/report"
	"mexscan/internal/scoring"
	"mexscan/internal/stats"
)

// DefaultStages builds the closed five-stage set wired to the run
// directory artifacts. rawGzip decides the spread artifact name, so it
// is bound here once instead of re-read by every validator.
func DefaultStages(rawGzip bool) []Stage {
	rawName := exporter.RawBookTickerName(rawGzip)

	return []Stage{
		{
			Name:            StageUniverse,
			Inputs:          nil,
			Outputs:         []string{"universe.json", "universe_rejects.csv"},
			Run:             runUniverseStage,
			ValidateInputs:  func(sc *StageContext) []string { return nil },
			ValidateOutputs: validateUniverseOutputs,
		},
		{
			Name:            StageSpread,
			Inputs:          []string{"universe.json"},
			Outputs:         []string{rawName},
			Run:             runSpreadStage,
			ValidateInputs:  validateUniverseOutputs,
			ValidateOutputs: validateSpreadOutputs,
		},
		{
			Name:    StageScore,
			Inputs:  []string{"universe.json", rawName},
			Outputs: []string{"summary.csv", "summary.json"},
			Run:     runScoreStage,
			ValidateInputs: func(sc *StageContext) []string {
				return append(validateUniverseOutputs(sc), validateSpreadOutputs(sc)...)
			},
			ValidateOutputs: validateScoreOutputs,
		},
		{
			Name:            StageDepth,
			Inputs:          []string{"summary.csv"},
			Outputs:         []string{"depth_metrics.csv", "summary_enriched.csv"},
			Run:             runDepthStage,
			ValidateInputs:  validateScoreOutputs,
			ValidateOutputs: validateDepthOutputs,
		},
		{
			Name:            StageReport,
			Inputs:          []string{"summary.csv", "run_meta.json"},
			Outputs:         []string{"report.md", "shortlist.csv"},
			Run:             runReportStage,
			ValidateInputs:  validateReportInputs,
			ValidateOutputs: validateReportOutputs,
		},
	}
}

func validateUniverseOutputs(sc *StageContext) []string {
	var errs []string
	if res := exporter.ValidateUniverse(sc.RunDir, sc.Strict); !res.Valid {
		errs = append(errs, res.Error)
	}
	if !exporter.FileExists(sc.RunDir, "universe_rejects.csv") {
		errs = append(errs, "missing file: universe_rejects.csv")
	}
	return errs
}

func validateSpreadOutputs(sc *StageContext) []string {
	if res := exporter.ValidateRawStream(sc.RunDir, sc.Config.Sampling.Spread.RawGzip, sc.Strict); !res.Valid {
		return []string{res.Error}
	}
	return nil
}

func validateScoreOutputs(sc *StageContext) []string {
	var errs []string
	if res := exporter.ValidateSummaryCSV(sc.RunDir, sc.Strict); !res.Valid {
		errs = append(errs, res.Error)
	}
	if !exporter.FileExists(sc.RunDir, "summary.json") {
		errs = append(errs, "missing file: summary.json")
	}
	return errs
}

func validateDepthOutputs(sc *StageContext) []string {
	var errs []string
	if res := exporter.ValidateDepthMetrics(sc.RunDir, sc.Config.Depth.BandBps, sc.Strict); !res.Valid {
		errs = append(errs, res.Error)
	}
	if !exporter.FileExists(sc.RunDir, "summary_enriched.csv") {
		errs = append(errs, "missing file: summary_enriched.csv")
	}
	return errs
}

func validateReportInputs(sc *StageContext) []string {
	var errs []string
	if res := exporter.ValidateSummaryCSV(sc.RunDir, sc.Strict); !res.Valid {
		errs = append(errs, res.Error)
	}
	if !exporter.FileExists(sc.RunDir, "run_meta.json") {
		errs = append(errs, "missing file: run_meta.json")
	}
	return errs
}

func validateReportOutputs(sc *StageContext) []string {
	var errs []string
	if res := exporter.ValidateReportMD(sc.RunDir, sc.Strict); !res.Valid {
		errs = append(errs, res.Error)
	}
	if !exporter.FileExists(sc.RunDir, "shortlist.csv") {
		errs = append(errs, "missing file: shortlist.csv")
	}
	return errs
}

func runUniverseStage(ctx context.Context, sc *StageContext) (StageMetrics, error) {
	result, err := BuildUniverse(ctx, sc.Client, sc.Config.Universe, sc.Logger)
	if err != nil {
		return nil, err
	}
	if err := exporter.WriteUniverse(sc.RunDir, result); err != nil {
		return nil, err
	}
	if err := exporter.UpdateMetrics(sc.MetricsPath, map[string]int64{
		"universe_symbols_total": int64(result.Stats.Total),
	}, map[string]float64{
		"universe_symbols_kept": float64(result.Stats.Kept),
	}); err != nil {
		return nil, err
	}
	return StageMetrics{
		"symbols_total":    result.Stats.Total,
		"symbols_kept":     result.Stats.Kept,
		"symbols_rejected": result.Stats.Rejected,
	}, nil
}

func runSpreadStage(ctx context.Context, sc *StageContext) (StageMetrics, error) {
	symbols, err := exporter.ReadUniverseSymbols(sc.RunDir)
	if err != nil {
		return nil, err
	}
	result, err := RunSpreadSampling(ctx, sc.Client, symbols, sc.Config.Sampling.Spread, sc.RunDir, sc.Deadline, sc.Logger)
	if err != nil {
		return nil, err
	}
	if err := exporter.UpdateMetrics(sc.MetricsPath, map[string]int64{
		"spread_ticks_total":   int64(result.TicksSuccess + result.TicksFail),
		"spread_invalid_total": int64(result.InvalidQuotes),
	}, map[string]float64{
		"spread_uptime": result.Uptime,
	}); err != nil {
		return nil, err
	}
	return result.Metrics(), nil
}

func runScoreStage(ctx context.Context, sc *StageContext) (StageMetrics, error) {
	symbols, err := exporter.ReadUniverseSymbols(sc.RunDir)
	if err != nil {
		return nil, err
	}
	samples, err := LoadSpreadSamples(sc.RunDir, sc.Config.Sampling.Spread.RawGzip, symbols)
	if err != nil {
		return nil, err
	}

	tickers, err := sc.Client.Ticker24h(ctx)
	if err != nil {
		return nil, err
	}
	books, err := sc.Client.BookTickers(ctx)
	if err != nil {
		return nil, err
	}
	tickerStats := BuildTicker24hStats(tickers, books, symbols, Ticker24hOptions{
		UseQuoteVolumeEstimate: sc.Config.Universe.UseQuoteVolumeEstimate,
		RequireTradeCount:      sc.Config.Universe.RequireTradeCount,
	}, sc.Logger)

	params := scoring.SpreadParams{
		MakerFeeBps:  sc.Config.Fees.MakerBps,
		TakerFeeBps:  sc.Config.Fees.TakerBps,
		BufferBps:    sc.Config.Thresholds.BufferBps,
		UptimeMin:    sc.Config.Thresholds.UptimeMin,
		MedianMinBps: sc.Config.Thresholds.Spread.MedianMinBps,
		MedianMaxBps: sc.Config.Thresholds.Spread.MedianMaxBps,
		P90MinBps:    sc.Config.Thresholds.Spread.P90MinBps,
		P90MaxBps:    sc.Config.Thresholds.Spread.P90MaxBps,
		EdgeMinBps:   sc.Config.Thresholds.EdgeMinBps,
	}

	results := make([]scoring.Result, 0, len(symbols))
	for _, symbol := range symbols {
		spreadStats := emptySpreadStats(symbol)
		if series := samples[symbol]; len(series) > 0 {
			computed, err := stats.ComputeSpreadStats(series)
			if err != nil {
				return nil, fmt.Errorf("compute spread stats for %s: %w", symbol, err)
			}
			spreadStats = computed
		}
		enrichSpreadStats(&spreadStats, tickerStats[symbol])
		results = append(results, scoring.ScoreSymbol(spreadStats, params))
	}

	if err := exporter.WriteSummary(sc.RunDir, results); err != nil {
		return nil, err
	}

	metrics := StageMetrics{"symbols_scored": len(results)}
	for key, value := range scoring.SummaryMetrics(results) {
		metrics[key] = value
	}
	if err := exporter.UpdateMetrics(sc.MetricsPath, map[string]int64{
		"symbols_scored_total": int64(len(results)),
	}, nil); err != nil {
		return nil, err
	}
	return metrics, nil
}

func runDepthStage(ctx context.Context, sc *StageContext) (StageMetrics, error) {
	rows, err := exporter.ReadSummary(fmt.Sprintf("%s/summary.csv", sc.RunDir))
	if err != nil {
		return nil, err
	}
	candidates, passTotal := SelectDepthCandidates(rows, sc.Config.Sampling.Depth.CandidatesLimit)
	sc.Logger.Info("depth candidates selected",
		"candidates_total", len(rows),
		"pass_spread_total", passTotal,
		"selected", len(candidates),
		"limit", sc.Config.Sampling.Depth.CandidatesLimit)

	result, err := RunDepthCheck(ctx, sc.Client, candidates, sc.Config, sc.Deadline, sc.Logger)
	if err != nil {
		return nil, err
	}

	if err := exporter.WriteDepthMetrics(sc.RunDir, result.Symbols, sc.Config.Depth.BandBps); err != nil {
		return nil, err
	}

	// The enriched summary needs scoring.Result values; summary.json
	// holds them in ranked order.
	scored, err := exporter.ReadSummaryJSON(sc.RunDir)
	if err != nil {
		return nil, err
	}
	if err := exporter.WriteSummaryEnriched(sc.RunDir, scored, result.Symbols, sc.Config.Depth.BandBps); err != nil {
		return nil, err
	}
	if err := exporter.WriteSummaryWorkbook(sc.RunDir, scored, result.Symbols, sc.Config.Depth.BandBps); err != nil {
		return nil, err
	}

	if err := exporter.UpdateMetrics(sc.MetricsPath, map[string]int64{
		"depth_requests_total": int64(result.RequestsTotal),
		"depth_fail_total":     int64(result.FailTotal),
	}, nil); err != nil {
		return nil, err
	}
	return result.Metrics(), nil
}

func runReportStage(ctx context.Context, sc *StageContext) (StageMetrics, error) {
	if err := report.Generate(sc.RunDir, sc.Config, sc.Logger); err != nil {
		return nil, err
	}
	return StageMetrics{}, nil
}

func emptySpreadStats(symbol string) stats.SpreadStats {
	return stats.SpreadStats{Symbol: symbol, InsufficientSamples: true}
}

// enrichSpreadStats folds the 24h view into the spread statistics so
// summary rows carry volume context next to the spread percentiles.
func enrichSpreadStats(s *stats.SpreadStats, ticker Ticker24hStats) {
	s.QuoteVolume24h = ticker.QuoteVolumeEffective
	s.QuoteVolume24hRaw = ticker.QuoteVolumeRaw
	s.Volume24hRaw = ticker.VolumeRaw
	s.MidPrice = ticker.MidPrice
	s.QuoteVolume24hEstimated = ticker.QuoteVolumeEstimate
	s.QuoteVolume24hEffective = ticker.QuoteVolumeEffective
	s.Trades24h = ticker.TradeCount
	s.Missing24hStats = ticker.Missing
	s.Missing24hReason = ticker.MissingReason
}
