package exporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mexscan/internal/scoring"
)

// DepthMetricsColumns returns the depth_metrics.csv header for the
// configured band set; band columns sit between the notional medians
// and the slippage percentile.
func DepthMetricsColumns(bandBps []int) []string {
	head := []string{
		"symbol",
		"sample_count",
		"valid_samples",
		"empty_book_count",
		"invalid_book_count",
		"symbol_unavailable_count",
		"best_bid_notional_median",
		"best_ask_notional_median",
		"topn_bid_notional_median",
		"topn_ask_notional_median",
	}
	tail := []string{
		"unwind_slippage_p90_bps",
		"uptime",
		"best_bid_notional_pass",
		"best_ask_notional_pass",
		"unwind_slippage_pass",
		"band_10bps_notional_pass",
		"topn_notional_pass",
		"pass_depth",
		"depth_fail_reasons",
	}
	columns := make([]string, 0, len(head)+len(bandBps)+len(tail))
	columns = append(columns, head...)
	for _, band := range bandBps {
		columns = append(columns, bandColumn(band))
	}
	return append(columns, tail...)
}

func bandColumn(band int) string {
	return fmt.Sprintf("band_bid_notional_median_%dbps", band)
}

// WriteDepthMetrics writes depth_metrics.csv sorted by symbol.
func WriteDepthMetrics(runDir string, results []scoring.DepthSymbolMetrics, bandBps []int) error {
	ordered := make([]scoring.DepthSymbolMetrics, len(results))
	copy(ordered, results)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Symbol < ordered[j].Symbol })

	path := filepath.Join(runDir, "depth_metrics.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create depth metrics: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(DepthMetricsColumns(bandBps)); err != nil {
		return fmt.Errorf("write depth header: %w", err)
	}
	for _, result := range ordered {
		row := []string{
			result.Symbol,
			fmt.Sprintf("%d", result.Counts.SampleCount),
			fmt.Sprintf("%d", result.Counts.ValidSamples),
			fmt.Sprintf("%d", result.Counts.EmptyBook),
			fmt.Sprintf("%d", result.Counts.InvalidBook),
			fmt.Sprintf("%d", result.Counts.SymbolUnavailable),
			formatOptFloat(result.Aggregate.BestBidNotionalMedian),
			formatOptFloat(result.Aggregate.BestAskNotionalMedian),
			formatOptFloat(result.Aggregate.TopNBidNotionalMedian),
			formatOptFloat(result.Aggregate.TopNAskNotionalMedian),
		}
		for _, band := range bandBps {
			if v, ok := result.Aggregate.BandBidNotionalMedian[band]; ok {
				row = append(row, formatFloat(v))
			} else {
				row = append(row, "")
			}
		}
		row = append(row,
			formatOptFloat(result.Aggregate.UnwindSlippageP90Bps),
			formatFloat(result.Uptime),
			formatBool(result.Evaluation.BestBidPass),
			formatBool(result.Evaluation.BestAskPass),
			formatBool(result.Evaluation.SlippagePass),
			formatOptBool(result.Evaluation.BandPass),
			formatOptBool(result.Evaluation.TopNPass),
			formatBool(result.Evaluation.Pass),
			strings.Join(result.Evaluation.FailReasons, ";"),
		)
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write depth row %s: %w", result.Symbol, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteSummaryEnriched joins the spread summary with depth verdicts
// into summary_enriched.csv, ordered like summary.csv.
func WriteSummaryEnriched(runDir string, summary []scoring.Result, depth []scoring.DepthSymbolMetrics, bandBps []int) error {
	depthBySymbol := make(map[string]scoring.DepthSymbolMetrics, len(depth))
	for _, item := range depth {
		depthBySymbol[item.Symbol] = item
	}

	ordered := make([]scoring.Result, len(summary))
	copy(ordered, summary)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].Symbol < ordered[j].Symbol
	})

	columns := []string{
		"symbol",
		"score",
		"pass_spread",
		"pass_depth",
		"pass_total",
		"best_bid_notional_median",
		"best_ask_notional_median",
		"topn_bid_notional_median",
		"topn_ask_notional_median",
		"unwind_slippage_p90_bps",
	}
	for _, band := range bandBps {
		columns = append(columns, bandColumn(band))
	}
	columns = append(columns, "depth_fail_reasons")

	path := filepath.Join(runDir, "summary_enriched.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary enriched: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write enriched header: %w", err)
	}
	for _, result := range ordered {
		item, checked := depthBySymbol[result.Symbol]
		passDepth := checked && item.Evaluation.Pass
		row := []string{
			result.Symbol,
			formatFloat(result.Score),
			formatBool(result.PassSpread),
			formatBool(passDepth),
			formatBool(result.PassSpread && passDepth),
		}
		if checked {
			row = append(row,
				formatOptFloat(item.Aggregate.BestBidNotionalMedian),
				formatOptFloat(item.Aggregate.BestAskNotionalMedian),
				formatOptFloat(item.Aggregate.TopNBidNotionalMedian),
				formatOptFloat(item.Aggregate.TopNAskNotionalMedian),
				formatOptFloat(item.Aggregate.UnwindSlippageP90Bps),
			)
			for _, band := range bandBps {
				if v, ok := item.Aggregate.BandBidNotionalMedian[band]; ok {
					row = append(row, formatFloat(v))
				} else {
					row = append(row, "")
				}
			}
			row = append(row, strings.Join(item.Evaluation.FailReasons, ";"))
		} else {
			for i := 0; i < 5+len(bandBps); i++ {
				row = append(row, "")
			}
			row = append(row, "no_depth_data")
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write enriched row %s: %w", result.Symbol, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// DepthRow is one parsed depth_metrics.csv line.
type DepthRow struct {
	Symbol                string
	PassDepth             bool
	Uptime                *float64
	BestBidNotionalMedian *float64
	BestAskNotionalMedian *float64
	UnwindSlippageP90Bps  *float64
	FailReasons           []string
}

// ReadDepthMetrics parses depth_metrics.csv for report generation.
func ReadDepthMetrics(path string) ([]DepthRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open depth metrics: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse depth metrics: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("depth metrics has no header")
	}

	col := map[string]int{}
	for i, name := range records[0] {
		col[name] = i
	}
	cell := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	rows := make([]DepthRow, 0, len(records)-1)
	for _, record := range records[1:] {
		rows = append(rows, DepthRow{
			Symbol:                cell(record, "symbol"),
			PassDepth:             parseBool(cell(record, "pass_depth")),
			Uptime:                parseOptFloat(cell(record, "uptime")),
			BestBidNotionalMedian: parseOptFloat(cell(record, "best_bid_notional_median")),
			BestAskNotionalMedian: parseOptFloat(cell(record, "best_ask_notional_median")),
			UnwindSlippageP90Bps:  parseOptFloat(cell(record, "unwind_slippage_p90_bps")),
			FailReasons:           splitReasons(cell(record, "depth_fail_reasons")),
		})
	}
	return rows, nil
}
