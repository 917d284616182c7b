// Package scoring turns per-symbol statistics plus fee and threshold
// configuration into edge metrics, pass/fail decisions, and a
// deterministic ranking.
package scoring

import (
	"sort"

	"mexscan/internal/stats"
)

// Spread fail reason codes.
const (
	ReasonInsufficientSamples = "insufficient_samples"
	ReasonInvalidQuotes       = "invalid_quotes"
	ReasonLowUptime           = "low_uptime"
	ReasonSpreadMedianLow     = "spread_median_low"
	ReasonSpreadMedianHigh    = "spread_median_high"
	ReasonSpreadP90Low        = "spread_p90_low"
	ReasonSpreadP90High       = "spread_p90_high"
	ReasonEdgeMMLow           = "edge_mm_low"
)

// SpreadParams holds the fee and threshold inputs of spread scoring.
// Fees are in basis points; the median and p90 corridors bound the
// acceptable spread distribution from both sides.
type SpreadParams struct {
	MakerFeeBps  float64
	TakerFeeBps  float64
	BufferBps    float64
	UptimeMin    float64
	MedianMinBps float64
	MedianMaxBps float64
	P90MinBps    float64
	P90MaxBps    float64
	EdgeMinBps   float64
}

// Result is the immutable scoring outcome for one symbol. Edge fields
// are nil when the underlying percentile was not computable.
type Result struct {
	Symbol       string            `json:"symbol"`
	SpreadStats  stats.SpreadStats `json:"spread_stats"`
	EdgeMMBps    *float64          `json:"edge_mm_bps"`
	EdgeMMP25Bps *float64          `json:"edge_mm_p25_bps"`
	EdgeMTBps    *float64          `json:"edge_mt_bps"`
	NetEdgeBps   *float64          `json:"net_edge_bps"`
	PassSpread   bool              `json:"pass_spread"`
	Score        float64           `json:"score"`
	FailReasons  []string          `json:"fail_reasons"`
}

// ScoreSymbol evaluates one symbol's spread statistics. Every violated
// criterion contributes exactly one reason code; a passing symbol has
// an empty reason set. The informational missing_24h_stats flag never
// fails a symbol: null auxiliary API fields are legitimate.
func ScoreSymbol(s stats.SpreadStats, params SpreadParams) Result {
	symbol := s.Symbol
	if symbol == "" {
		symbol = "UNKNOWN"
	}
	reasons := make([]string, 0, 4)

	if s.InsufficientSamples {
		reasons = append(reasons, ReasonInsufficientSamples)
	}
	if s.InvalidQuotes > 0 {
		reasons = append(reasons, ReasonInvalidQuotes)
	}
	if s.Uptime < params.UptimeMin {
		reasons = append(reasons, ReasonLowUptime)
	}

	corridorOK := false
	if s.SpreadMedianBps == nil || s.SpreadP90Bps == nil {
		if !s.InsufficientSamples {
			reasons = append(reasons, ReasonInsufficientSamples)
		}
	} else {
		median, p90 := *s.SpreadMedianBps, *s.SpreadP90Bps
		corridorOK = true
		if median < params.MedianMinBps {
			reasons = append(reasons, ReasonSpreadMedianLow)
			corridorOK = false
		}
		if median > params.MedianMaxBps {
			reasons = append(reasons, ReasonSpreadMedianHigh)
			corridorOK = false
		}
		if p90 < params.P90MinBps {
			reasons = append(reasons, ReasonSpreadP90Low)
			corridorOK = false
		}
		if p90 > params.P90MaxBps {
			reasons = append(reasons, ReasonSpreadP90High)
			corridorOK = false
		}
	}

	edgeMM := edgeFrom(s.SpreadMedianBps, 2*params.MakerFeeBps, params.BufferBps)
	edgeMMP25 := edgeFrom(s.SpreadP25Bps, 2*params.MakerFeeBps, params.BufferBps)
	edgeMT := edgeFrom(s.SpreadMedianBps, params.MakerFeeBps+params.TakerFeeBps, params.BufferBps)

	edgeOK := edgeMM != nil && *edgeMM >= params.EdgeMinBps
	if edgeMM != nil && !edgeOK {
		reasons = append(reasons, ReasonEdgeMMLow)
	}

	var volatilityPenalty float64
	if s.SpreadP90Bps != nil && s.SpreadP10Bps != nil {
		if gap := *s.SpreadP90Bps - *s.SpreadP10Bps; gap > 0 {
			volatilityPenalty = gap
		}
	}
	var baseEdge float64
	if edgeMM != nil && *edgeMM > 0 {
		baseEdge = *edgeMM
	}
	score := baseEdge + s.Uptime*100 - volatilityPenalty

	pass := corridorOK &&
		edgeOK &&
		!s.InsufficientSamples &&
		s.InvalidQuotes == 0 &&
		s.Uptime >= params.UptimeMin

	return Result{
		Symbol:       symbol,
		SpreadStats:  s,
		EdgeMMBps:    edgeMM,
		EdgeMMP25Bps: edgeMMP25,
		EdgeMTBps:    edgeMT,
		NetEdgeBps:   edgeMM,
		PassSpread:   pass,
		Score:        score,
		FailReasons:  reasons,
	}
}

func edgeFrom(spreadBps *float64, fees, buffer float64) *float64 {
	if spreadBps == nil {
		return nil
	}
	edge := *spreadBps - fees - buffer
	return &edge
}

// Rank sorts results by score descending with symbol ascending as the
// tie breaker, giving a fully reproducible ordering.
func Rank(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Symbol < results[j].Symbol
	})
}

// SelectCandidates picks up to limit symbols for depth sampling,
// highest score first. Symbols passing spread are preferred; when none
// pass the best failing symbols are sampled anyway so the depth stage
// still yields data. The second return is the pass-spread count before
// the limit was applied.
func SelectCandidates(results []Result, limit int) ([]string, int) {
	if len(results) == 0 {
		return nil, 0
	}
	passing := make([]Result, 0, len(results))
	for _, r := range results {
		if r.PassSpread {
			passing = append(passing, r)
		}
	}
	pool := passing
	if len(pool) == 0 {
		pool = append([]Result(nil), results...)
	} else {
		pool = append([]Result(nil), pool...)
	}
	Rank(pool)
	if limit > 0 && len(pool) > limit {
		pool = pool[:limit]
	}
	symbols := make([]string, len(pool))
	for i, r := range pool {
		symbols[i] = r.Symbol
	}
	return symbols, len(passing)
}

// SummaryMetrics aggregates scoring results for the pipeline state.
func SummaryMetrics(results []Result) map[string]int {
	var pass, fail, insufficient int
	for _, r := range results {
		if r.PassSpread {
			pass++
		} else {
			fail++
		}
		if r.SpreadStats.InsufficientSamples {
			insufficient++
		}
	}
	return map[string]int{
		"symbols_pass_spread":          pass,
		"symbols_fail_spread":          fail,
		"symbols_insufficient_samples": insufficient,
	}
}
