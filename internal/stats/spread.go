// Package stats reduces closed sample series into per-symbol spread and
// depth statistics. All reductions operate on the full series at once
// and are invariant to sample arrival order.
package stats

import (
	"errors"
	"math"
	"sort"
)

// MinSampleCount is the number of valid samples below which percentile
// statistics are reported as unreliable.
const MinSampleCount = 3

var ErrNoSamples = errors.New("stats: no samples provided")

// SpreadSample is one top-of-book observation.
type SpreadSample struct {
	Symbol string
	Bid    float64
	Ask    float64
}

// SpreadStats summarizes a symbol's spread series. Percentile fields
// are nil when no valid sample exists. The 24h fields are populated by
// ticker enrichment, not by ComputeSpreadStats.
type SpreadStats struct {
	Symbol              string   `json:"symbol"`
	SampleCount         int      `json:"sample_count"`
	ValidSamples        int      `json:"valid_samples"`
	InvalidQuotes       int      `json:"invalid_quotes"`
	SpreadMedianBps     *float64 `json:"spread_median_bps"`
	SpreadP10Bps        *float64 `json:"spread_p10_bps"`
	SpreadP25Bps        *float64 `json:"spread_p25_bps"`
	SpreadP90Bps        *float64 `json:"spread_p90_bps"`
	Uptime              float64  `json:"uptime"`
	InsufficientSamples bool     `json:"insufficient_samples"`

	QuoteVolume24h          *float64 `json:"quote_volume_24h,omitempty"`
	QuoteVolume24hRaw       *float64 `json:"quote_volume_24h_raw,omitempty"`
	Volume24hRaw            *float64 `json:"volume_24h_raw,omitempty"`
	MidPrice                *float64 `json:"mid_price,omitempty"`
	QuoteVolume24hEstimated *float64 `json:"quote_volume_24h_est,omitempty"`
	QuoteVolume24hEffective *float64 `json:"quote_volume_24h_effective,omitempty"`
	Trades24h               *int64   `json:"trades_24h,omitempty"`
	Missing24hStats         bool     `json:"missing_24h_stats,omitempty"`
	Missing24hReason        string   `json:"missing_24h_reason,omitempty"`
}

// SpreadBps converts a quote to a spread in basis points, normalized by
// the mid price so spreads are comparable across price levels. The
// second return is false for invalid quotes (non-positive bid, ask, or
// mid).
func SpreadBps(bid, ask float64) (float64, bool) {
	if bid <= 0 || ask <= 0 {
		return 0, false
	}
	mid := (bid + ask) / 2
	if mid <= 0 {
		return 0, false
	}
	return (ask - bid) / mid * 10_000, true
}

// Percentile computes the p-th percentile (p in [0,1]) of sorted by
// linear interpolation at position p*(n-1).
func Percentile(sorted []float64, p float64) (float64, error) {
	if len(sorted) == 0 {
		return 0, errors.New("stats: percentile requires at least one value")
	}
	if p < 0 || p > 1 {
		return 0, errors.New("stats: percentile must be between 0 and 1")
	}
	if len(sorted) == 1 {
		return sorted[0], nil
	}
	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower], nil
	}
	weight := pos - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight, nil
}

// ComputeSpreadStats reduces a symbol's full sample series. Invalid
// quotes are counted and excluded from percentiles but still included
// in the totals that drive uptime.
func ComputeSpreadStats(samples []SpreadSample) (SpreadStats, error) {
	if len(samples) == 0 {
		return SpreadStats{}, ErrNoSamples
	}

	var symbol string
	for _, sample := range samples {
		if sample.Symbol != "" {
			symbol = sample.Symbol
			break
		}
	}

	spreads := make([]float64, 0, len(samples))
	invalid := 0
	for _, sample := range samples {
		bps, ok := SpreadBps(sample.Bid, sample.Ask)
		if !ok {
			invalid++
			continue
		}
		spreads = append(spreads, bps)
	}

	result := SpreadStats{
		Symbol:              symbol,
		SampleCount:         len(samples),
		ValidSamples:        len(spreads),
		InvalidQuotes:       invalid,
		Uptime:              float64(len(spreads)) / float64(len(samples)),
		InsufficientSamples: len(spreads) < MinSampleCount,
	}
	if len(spreads) == 0 {
		return result, nil
	}

	sort.Float64s(spreads)
	result.SpreadMedianBps = percentileOf(spreads, 0.50)
	result.SpreadP10Bps = percentileOf(spreads, 0.10)
	result.SpreadP25Bps = percentileOf(spreads, 0.25)
	result.SpreadP90Bps = percentileOf(spreads, 0.90)
	return result, nil
}

// percentileOf is Percentile for pre-validated input.
func percentileOf(sorted []float64, p float64) *float64 {
	v, err := Percentile(sorted, p)
	if err != nil {
		return nil
	}
	return &v
}
