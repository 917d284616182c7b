package scoring

import "mexscan/internal/stats"

// Depth fail reason codes.
const (
	ReasonEmptyBook              = "empty_book"
	ReasonInvalidBookLevels      = "invalid_book_levels"
	ReasonSymbolUnavailable      = "symbol_unavailable"
	ReasonNoValidSamples         = "no_valid_samples"
	ReasonMissingBestBidNotional = "missing_best_bid_notional"
	ReasonMissingBestAskNotional = "missing_best_ask_notional"
	ReasonMissingUnwindSlippage  = "missing_unwind_slippage"
	ReasonBestBidNotionalLow     = "best_bid_notional_low"
	ReasonBestAskNotionalLow     = "best_ask_notional_low"
	ReasonUnwindSlippageHigh     = "unwind_slippage_high"
	ReasonMissingBandNotional    = "missing_band_10bps_notional"
	ReasonBandNotionalLow        = "band_10bps_notional_low"
	ReasonMissingTopNNotional    = "missing_topn_notional"
	ReasonTopNNotionalLow        = "topn_notional_low"
)

// DepthParams holds the depth pass/fail thresholds. The band and top-N
// checks are optional and only applied when the corresponding minimum
// is set.
type DepthParams struct {
	BestLevelMinNotional float64
	UnwindSlippageMaxBps float64
	Band10MinNotional    *float64
	TopNMinNotional      *float64
}

// DepthCounts carries the sampling outcome counts for one symbol.
type DepthCounts struct {
	SampleCount       int
	ValidSamples      int
	EmptyBook         int
	InvalidBook       int
	SymbolUnavailable int
}

// DepthEvaluation is the depth pass/fail verdict for one symbol.
// BandPass and TopNPass are nil when the optional check is disabled.
// Uptime over the snapshot schedule is informational only and never
// contributes a fail reason: the snapshot count is deliberately small.
type DepthEvaluation struct {
	BestBidPass  bool
	BestAskPass  bool
	SlippagePass bool
	BandPass     *bool
	TopNPass     *bool
	Pass         bool
	FailReasons  []string
}

// DepthSymbolMetrics bundles everything known about one symbol after
// depth sampling: outcome counts, aggregated notionals and the verdict.
// Uptime is valid snapshots over scheduled snapshots.
type DepthSymbolMetrics struct {
	Symbol     string               `json:"symbol"`
	Counts     DepthCounts          `json:"counts"`
	Aggregate  stats.DepthAggregate `json:"aggregate"`
	Uptime     float64              `json:"uptime"`
	Evaluation DepthEvaluation      `json:"evaluation"`
}

// EvaluateDepth applies the depth criteria to a symbol's aggregated
// snapshot metrics. Structurally absent aggregates fail with explicit
// missing_* reasons so thin data is never mistaken for passing data.
func EvaluateDepth(agg stats.DepthAggregate, counts DepthCounts, params DepthParams) DepthEvaluation {
	reasons := make([]string, 0, 4)
	if counts.EmptyBook > 0 {
		reasons = append(reasons, ReasonEmptyBook)
	}
	if counts.InvalidBook > 0 {
		reasons = append(reasons, ReasonInvalidBookLevels)
	}
	if counts.SymbolUnavailable > 0 {
		reasons = append(reasons, ReasonSymbolUnavailable)
	}
	if counts.ValidSamples == 0 {
		reasons = append(reasons, ReasonNoValidSamples)
	}

	eval := DepthEvaluation{}

	switch {
	case agg.BestBidNotionalMedian == nil:
		reasons = append(reasons, ReasonMissingBestBidNotional)
	case *agg.BestBidNotionalMedian >= params.BestLevelMinNotional:
		eval.BestBidPass = true
	default:
		reasons = append(reasons, ReasonBestBidNotionalLow)
	}

	switch {
	case agg.BestAskNotionalMedian == nil:
		reasons = append(reasons, ReasonMissingBestAskNotional)
	case *agg.BestAskNotionalMedian >= params.BestLevelMinNotional:
		eval.BestAskPass = true
	default:
		reasons = append(reasons, ReasonBestAskNotionalLow)
	}

	switch {
	case agg.UnwindSlippageP90Bps == nil:
		reasons = append(reasons, ReasonMissingUnwindSlippage)
	case *agg.UnwindSlippageP90Bps <= params.UnwindSlippageMaxBps:
		eval.SlippagePass = true
	default:
		reasons = append(reasons, ReasonUnwindSlippageHigh)
	}

	if params.Band10MinNotional != nil {
		pass := false
		if band, ok := agg.BandBidNotionalMedian[10]; ok {
			pass = band >= *params.Band10MinNotional
			if !pass {
				reasons = append(reasons, ReasonBandNotionalLow)
			}
		} else {
			reasons = append(reasons, ReasonMissingBandNotional)
		}
		eval.BandPass = &pass
	}

	if params.TopNMinNotional != nil {
		pass := false
		if agg.TopNBidNotionalMedian != nil && agg.TopNAskNotionalMedian != nil {
			worst := *agg.TopNBidNotionalMedian
			if *agg.TopNAskNotionalMedian < worst {
				worst = *agg.TopNAskNotionalMedian
			}
			pass = worst >= *params.TopNMinNotional
			if !pass {
				reasons = append(reasons, ReasonTopNNotionalLow)
			}
		} else {
			reasons = append(reasons, ReasonMissingTopNNotional)
		}
		eval.TopNPass = &pass
	}

	eval.Pass = len(reasons) == 0
	eval.FailReasons = reasons
	return eval
}
