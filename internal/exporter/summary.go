package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mexscan/internal/scoring"
)

// SummaryColumns is the summary.csv header, in order.
var SummaryColumns = []string{
	"symbol",
	"spread_median_bps",
	"spread_p25_bps",
	"spread_p10_bps",
	"spread_p90_bps",
	"uptime",
	"quote_volume_24h",
	"quote_volume_24h_raw",
	"volume_24h_raw",
	"mid_price",
	"quote_volume_24h_est",
	"quote_volume_24h_effective",
	"used_quote_volume_estimate",
	"trades_24h",
	"trade_count_missing",
	"edge_mm_bps",
	"edge_mm_p25_bps",
	"edge_mt_bps",
	"net_edge_bps",
	"pass_spread",
	"score",
	"fail_reasons",
}

// WriteSummary writes summary.csv and summary.json, rows ordered by
// score descending with symbol as the tie breaker.
func WriteSummary(runDir string, results []scoring.Result) error {
	ordered := make([]scoring.Result, len(results))
	copy(ordered, results)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].Symbol < ordered[j].Symbol
	})

	csvPath := filepath.Join(runDir, "summary.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("create summary csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(SummaryColumns); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for _, result := range ordered {
		if err := writer.Write(summaryRow(result)); err != nil {
			return fmt.Errorf("write summary row %s: %w", result.Symbol, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush summary csv: %w", err)
	}

	return writeJSONAtomic(filepath.Join(runDir, "summary.json"), ordered)
}

func summaryRow(result scoring.Result) []string {
	s := result.SpreadStats
	usedEstimate := s.QuoteVolume24hEstimated != nil && s.QuoteVolume24hRaw == nil
	return []string{
		result.Symbol,
		formatOptFloat(s.SpreadMedianBps),
		formatOptFloat(s.SpreadP25Bps),
		formatOptFloat(s.SpreadP10Bps),
		formatOptFloat(s.SpreadP90Bps),
		formatFloat(s.Uptime),
		formatOptFloat(s.QuoteVolume24h),
		formatOptFloat(s.QuoteVolume24hRaw),
		formatOptFloat(s.Volume24hRaw),
		formatOptFloat(s.MidPrice),
		formatOptFloat(s.QuoteVolume24hEstimated),
		formatOptFloat(s.QuoteVolume24hEffective),
		formatBool(usedEstimate),
		formatOptInt(s.Trades24h),
		formatBool(s.Trades24h == nil),
		formatOptFloat(result.EdgeMMBps),
		formatOptFloat(result.EdgeMMP25Bps),
		formatOptFloat(result.EdgeMTBps),
		formatOptFloat(result.NetEdgeBps),
		formatBool(result.PassSpread),
		formatFloat(result.Score),
		strings.Join(result.FailReasons, ";"),
	}
}

// ReadSummaryJSON loads the ranked scoring results from summary.json.
func ReadSummaryJSON(runDir string) ([]scoring.Result, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "summary.json"))
	if err != nil {
		return nil, fmt.Errorf("read summary json: %w", err)
	}
	var results []scoring.Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("parse summary json: %w", err)
	}
	return results, nil
}

// SummaryRow is one parsed summary.csv line; optional columns are nil
// when the cell was empty.
type SummaryRow struct {
	Symbol                  string
	SpreadMedianBps         *float64
	SpreadP25Bps            *float64
	SpreadP10Bps            *float64
	SpreadP90Bps            *float64
	Uptime                  *float64
	QuoteVolume24hEffective *float64
	Trades24h               *int64
	EdgeMMBps               *float64
	EdgeMMP25Bps            *float64
	EdgeMTBps               *float64
	PassSpread              bool
	Score                   float64
	FailReasons             []string
}

// ReadSummary parses summary.csv back into rows, preserving order.
func ReadSummary(path string) ([]SummaryRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open summary csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse summary csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("summary csv has no header")
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

	rows := make([]SummaryRow, 0, len(records)-1)
	for _, record := range records[1:] {
		score := parseOptFloat(cell(record, "score"))
		row := SummaryRow{
			Symbol:                  cell(record, "symbol"),
			SpreadMedianBps:         parseOptFloat(cell(record, "spread_median_bps")),
			SpreadP25Bps:            parseOptFloat(cell(record, "spread_p25_bps")),
			SpreadP10Bps:            parseOptFloat(cell(record, "spread_p10_bps")),
			SpreadP90Bps:            parseOptFloat(cell(record, "spread_p90_bps")),
			Uptime:                  parseOptFloat(cell(record, "uptime")),
			QuoteVolume24hEffective: parseOptFloat(cell(record, "quote_volume_24h_effective")),
			Trades24h:               parseOptInt(cell(record, "trades_24h")),
			EdgeMMBps:               parseOptFloat(cell(record, "edge_mm_bps")),
			EdgeMMP25Bps:            parseOptFloat(cell(record, "edge_mm_p25_bps")),
			EdgeMTBps:               parseOptFloat(cell(record, "edge_mt_bps")),
			PassSpread:              parseBool(cell(record, "pass_spread")),
			FailReasons:             splitReasons(cell(record, "fail_reasons")),
		}
		if score != nil {
			row.Score = *score
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func splitReasons(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ";")
	reasons := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			reasons = append(reasons, part)
		}
	}
	return reasons
}
