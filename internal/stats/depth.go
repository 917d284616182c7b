package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var ErrEmptyBook = errors.New("stats: empty book")

// Level is one parsed order book level.
type Level struct {
	Price float64
	Qty   float64
}

// DepthParams configures snapshot metric computation.
type DepthParams struct {
	TopN           int
	BandBps        []int
	StressNotional float64
}

// SnapshotMetrics holds the liquidity metrics of a single order book
// snapshot. UnwindSlippageBps is nil when the book is too thin to fill
// the stress notional on both sides.
type SnapshotMetrics struct {
	BestBidNotional   float64
	BestAskNotional   float64
	TopNBidNotional   float64
	TopNAskNotional   float64
	BandBidNotional   map[int]float64
	UnwindSlippageBps *float64
}

// DepthAggregate summarizes the snapshots collected for one symbol.
// Medians cover all snapshots; the slippage percentile excludes
// snapshots where the stress fill could not complete.
type DepthAggregate struct {
	BestBidNotionalMedian *float64
	BestAskNotionalMedian *float64
	TopNBidNotionalMedian *float64
	TopNAskNotionalMedian *float64
	BandBidNotionalMedian map[int]float64
	UnwindSlippageP90Bps  *float64
}

// ParseLevels converts raw [price, quantity] string pairs into typed
// levels, rejecting malformed or non-positive entries.
func ParseLevels(raw [][]string) ([]Level, error) {
	levels := make([]Level, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("stats: level %d must have price and quantity", i)
		}
		price, err := strconv.ParseFloat(entry[0], 64)
		if err != nil {
			return nil, fmt.Errorf("stats: level %d price: %w", i, err)
		}
		qty, err := strconv.ParseFloat(entry[1], 64)
		if err != nil {
			return nil, fmt.Errorf("stats: level %d quantity: %w", i, err)
		}
		if price <= 0 || qty <= 0 {
			return nil, fmt.Errorf("stats: level %d price/qty must be positive", i)
		}
		levels = append(levels, Level{Price: price, Qty: qty})
	}
	return levels, nil
}

// ComputeSnapshotMetrics reduces one order book snapshot. Bids must be
// sorted price-descending and asks ascending, as the API delivers them.
func ComputeSnapshotMetrics(bidsRaw, asksRaw [][]string, params DepthParams) (SnapshotMetrics, error) {
	bids, err := ParseLevels(bidsRaw)
	if err != nil {
		return SnapshotMetrics{}, err
	}
	asks, err := ParseLevels(asksRaw)
	if err != nil {
		return SnapshotMetrics{}, err
	}
	if len(bids) == 0 || len(asks) == 0 {
		return SnapshotMetrics{}, ErrEmptyBook
	}
	if params.TopN <= 0 {
		return SnapshotMetrics{}, errors.New("stats: top_n must be positive")
	}
	if params.StressNotional <= 0 {
		return SnapshotMetrics{}, errors.New("stats: stress_notional must be positive")
	}

	mid := (bids[0].Price + asks[0].Price) / 2
	if mid <= 0 {
		return SnapshotMetrics{}, errors.New("stats: mid price must be positive")
	}

	metrics := SnapshotMetrics{
		BestBidNotional: bids[0].Price * bids[0].Qty,
		BestAskNotional: asks[0].Price * asks[0].Qty,
		TopNBidNotional: sumNotional(bids, params.TopN),
		TopNAskNotional: sumNotional(asks, params.TopN),
		BandBidNotional: make(map[int]float64, len(params.BandBps)),
	}

	for _, band := range params.BandBps {
		if band <= 0 {
			return SnapshotMetrics{}, errors.New("stats: band_bps values must be positive")
		}
		threshold := mid * (1 - float64(band)/10_000)
		var notional float64
		for _, level := range bids {
			if level.Price >= threshold {
				notional += level.Price * level.Qty
			}
		}
		metrics.BandBidNotional[band] = notional
	}

	metrics.UnwindSlippageBps = UnwindSlippageBps(bids, asks, mid, params.StressNotional)
	return metrics, nil
}

// UnwindSlippageBps simulates a forced exit of stressNotional quote
// value: a sell walking the bids and a buy walking the asks, each
// priced at the fill's VWAP. The reported figure is the worse of the
// two sides; nil means at least one side could not absorb the full
// notional, which is itself the worst case.
func UnwindSlippageBps(bids, asks []Level, mid, stressNotional float64) *float64 {
	sell, sellOK := walkSlippage(bids, mid, stressNotional)
	buy, buyOK := walkSlippage(asks, mid, stressNotional)
	if !sellOK || !buyOK {
		return nil
	}
	worst := math.Max(sell, buy)
	return &worst
}

// walkSlippage fills stressNotional against the given side and returns
// |mid - vwap| / mid in bps. ok is false when the side runs out of
// liquidity before the fill completes.
func walkSlippage(levels []Level, mid, stressNotional float64) (float64, bool) {
	var totalQuote, totalBase float64
	remaining := stressNotional
	for _, level := range levels {
		levelNotional := level.Price * level.Qty
		if levelNotional >= remaining {
			totalQuote += remaining
			totalBase += remaining / level.Price
			remaining = 0
			break
		}
		totalQuote += levelNotional
		totalBase += level.Qty
		remaining -= levelNotional
	}
	if remaining > 0 || totalBase <= 0 {
		return 0, false
	}
	vwap := totalQuote / totalBase
	return math.Abs(mid-vwap) / mid * 10_000, true
}

// AggregateDepthMetrics folds per-snapshot metrics into medians plus a
// p90 slippage, the worst-case liquidity-risk figure.
func AggregateDepthMetrics(snapshots []SnapshotMetrics, bandBps []int) DepthAggregate {
	aggregate := DepthAggregate{BandBidNotionalMedian: make(map[int]float64, len(bandBps))}
	if len(snapshots) == 0 {
		return aggregate
	}

	bestBid := make([]float64, 0, len(snapshots))
	bestAsk := make([]float64, 0, len(snapshots))
	topNBid := make([]float64, 0, len(snapshots))
	topNAsk := make([]float64, 0, len(snapshots))
	slippage := make([]float64, 0, len(snapshots))
	for _, snap := range snapshots {
		bestBid = append(bestBid, snap.BestBidNotional)
		bestAsk = append(bestAsk, snap.BestAskNotional)
		topNBid = append(topNBid, snap.TopNBidNotional)
		topNAsk = append(topNAsk, snap.TopNAskNotional)
		if snap.UnwindSlippageBps != nil {
			slippage = append(slippage, *snap.UnwindSlippageBps)
		}
	}

	aggregate.BestBidNotionalMedian = medianOf(bestBid)
	aggregate.BestAskNotionalMedian = medianOf(bestAsk)
	aggregate.TopNBidNotionalMedian = medianOf(topNBid)
	aggregate.TopNAskNotionalMedian = medianOf(topNAsk)
	for _, band := range bandBps {
		values := make([]float64, 0, len(snapshots))
		for _, snap := range snapshots {
			values = append(values, snap.BandBidNotional[band])
		}
		if m := medianOf(values); m != nil {
			aggregate.BandBidNotionalMedian[band] = *m
		}
	}
	if len(slippage) > 0 {
		sort.Float64s(slippage)
		aggregate.UnwindSlippageP90Bps = percentileOf(slippage, 0.90)
	}
	return aggregate
}

func medianOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentileOf(sorted, 0.50)
}

func sumNotional(levels []Level, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	var total float64
	for _, level := range levels[:n] {
		total += level.Price * level.Qty
	}
	return total
}
