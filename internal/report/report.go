// Package report renders the human-readable run report (report.md)
// and the machine-readable shortlist (shortlist.csv) from the run
// directory artifacts.
package report

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mexscan/internal/config"
	"mexscan/internal/exporter"
)

// candidate is one symbol's joined spread and depth view used by both
// the top table and the shortlist.
type candidate struct {
	Symbol           string
	Score            float64
	PassSpread       bool
	PassDepth        *bool
	PassTotal        bool
	SpreadMedianBps  *float64
	SpreadP90Bps     *float64
	EdgeMMBps        *float64
	EdgeMMP25Bps     *float64
	BestBidNotional  *float64
	BestAskNotional  *float64
	UnwindSlipP90Bps *float64
	FailReasons      []string
}

// Generate reads summary.csv, run_meta.json and the optional depth
// artifacts from runDir and writes report.md plus shortlist.csv.
func Generate(runDir string, cfg *config.Config, logger *slog.Logger) error {
	summaryPath := filepath.Join(runDir, "summary.csv")
	summaryRows, err := exporter.ReadSummary(summaryPath)
	if err != nil {
		return fmt.Errorf("load summary: %w", err)
	}
	meta, err := exporter.ReadRunMeta(filepath.Join(runDir, "run_meta.json"))
	if err != nil {
		return fmt.Errorf("load run meta: %w", err)
	}

	var depthRows []exporter.DepthRow
	if exporter.FileExists(runDir, "depth_metrics.csv") {
		depthRows, err = exporter.ReadDepthMetrics(filepath.Join(runDir, "depth_metrics.csv"))
		if err != nil {
			return fmt.Errorf("load depth metrics: %w", err)
		}
	}

	metrics, err := exporter.ReadMetrics(filepath.Join(runDir, "metrics.json"))
	if err != nil {
		return fmt.Errorf("load metrics: %w", err)
	}

	candidates := buildCandidates(summaryRows, depthRows, cfg.Thresholds.EdgeMinBps)

	content := render(meta, cfg, summaryRows, depthRows, candidates, metrics)
	reportPath := filepath.Join(runDir, "report.md")
	if err := os.WriteFile(reportPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if err := writeShortlist(runDir, candidates, cfg.Report.TopN); err != nil {
		return err
	}

	if err := exporter.UpdateMetrics(filepath.Join(runDir, "metrics.json"),
		map[string]int64{"report_generated_total": 1}, nil); err != nil {
		return err
	}

	logger.Info("report generated", "path", reportPath, "candidates", len(candidates))
	return nil
}

func buildCandidates(summary []exporter.SummaryRow, depth []exporter.DepthRow, edgeMinBps float64) []candidate {
	depthBySymbol := make(map[string]exporter.DepthRow, len(depth))
	depthChecked := len(depth) > 0
	for _, row := range depth {
		depthBySymbol[row.Symbol] = row
	}

	candidates := make([]candidate, 0, len(summary))
	for _, row := range summary {
		c := candidate{
			Symbol:          row.Symbol,
			Score:           row.Score,
			PassSpread:      row.PassSpread,
			SpreadMedianBps: row.SpreadMedianBps,
			SpreadP90Bps:    row.SpreadP90Bps,
			EdgeMMBps:       row.EdgeMMBps,
			EdgeMMP25Bps:    row.EdgeMMP25Bps,
			FailReasons:     append([]string(nil), row.FailReasons...),
		}
		if d, ok := depthBySymbol[row.Symbol]; ok {
			pass := d.PassDepth
			c.PassDepth = &pass
			c.PassTotal = row.PassSpread && pass
			c.BestBidNotional = d.BestBidNotionalMedian
			c.BestAskNotional = d.BestAskNotionalMedian
			c.UnwindSlipP90Bps = d.UnwindSlippageP90Bps
			c.FailReasons = append(c.FailReasons, d.FailReasons...)
		} else if depthChecked {
			// Symbol never reached depth sampling: cannot pass overall.
			c.PassTotal = false
		} else {
			// Depth stage skipped entirely; fall back to the edge gate.
			edge := 0.0
			if row.EdgeMMBps != nil {
				edge = *row.EdgeMMBps
			}
			c.PassTotal = row.PassSpread && edge >= edgeMinBps
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].PassTotal != candidates[j].PassTotal {
			return candidates[i].PassTotal
		}
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
	return candidates
}

// ShortlistColumns is the shortlist.csv header.
var ShortlistColumns = []string{
	"symbol",
	"score",
	"pass_spread",
	"pass_depth",
	"pass_total",
	"spread_median_bps",
	"spread_p90_bps",
	"edge_mm_bps",
	"edge_mm_p25_bps",
	"best_bid_notional_median",
	"best_ask_notional_median",
	"unwind_slippage_p90_bps",
	"fail_reasons",
}

func writeShortlist(runDir string, candidates []candidate, topN int) error {
	path := filepath.Join(runDir, "shortlist.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create shortlist: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(ShortlistColumns); err != nil {
		return fmt.Errorf("write shortlist header: %w", err)
	}

	limit := topN
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	for _, c := range candidates[:limit] {
		passDepth := ""
		if c.PassDepth != nil {
			passDepth = formatBool(*c.PassDepth)
		}
		row := []string{
			c.Symbol,
			fmt.Sprintf("%.2f", c.Score),
			formatBool(c.PassSpread),
			passDepth,
			formatBool(c.PassTotal),
			optCell(c.SpreadMedianBps),
			optCell(c.SpreadP90Bps),
			optCell(c.EdgeMMBps),
			optCell(c.EdgeMMP25Bps),
			optCell(c.BestBidNotional),
			optCell(c.BestAskNotional),
			optCell(c.UnwindSlipP90Bps),
			strings.Join(c.FailReasons, ";"),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write shortlist row %s: %w", c.Symbol, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func render(
	meta exporter.RunMeta,
	cfg *config.Config,
	summary []exporter.SummaryRow,
	depth []exporter.DepthRow,
	candidates []candidate,
	metrics map[string]any,
) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("# MEXC Spread Feasibility Report")
	line("")

	line("## 1. Run Meta")
	line("")
	line("- **Run ID**: `%s`", meta.RunID)
	line("- **Started at**: %s", meta.StartedAt)
	line("- **Report generated at**: %s", time.Now().UTC().Format(time.RFC3339))
	line("- **Scanner version**: %s", meta.ScannerVersion)
	line("- **Config hash**: `%s`", meta.ConfigHash)
	line("")

	line("## 2. Parameters")
	line("")
	line("### Spread Sampling")
	line("- duration: %s", cfg.Sampling.Spread.Duration)
	line("- interval: %s", cfg.Sampling.Spread.Interval)
	line("")
	line("### Depth Sampling")
	line("- duration: %s", cfg.Sampling.Depth.Duration)
	line("- interval: %s", cfg.Sampling.Depth.Interval)
	line("- limit: %d", cfg.Sampling.Depth.Limit)
	line("- candidates_limit: %d", cfg.Sampling.Depth.CandidatesLimit)
	line("")
	line("### Spread Thresholds")
	line("- median_min_bps: %g", cfg.Thresholds.Spread.MedianMinBps)
	line("- median_max_bps: %g", cfg.Thresholds.Spread.MedianMaxBps)
	line("- p90_min_bps: %g", cfg.Thresholds.Spread.P90MinBps)
	line("- p90_max_bps: %g", cfg.Thresholds.Spread.P90MaxBps)
	line("- uptime_min: %g", cfg.Thresholds.UptimeMin)
	line("")
	line("### Depth Thresholds")
	line("- best_level_min_notional: %g", cfg.Thresholds.Depth.BestLevelMinNotional)
	line("- unwind_slippage_max_bps: %g", cfg.Thresholds.Depth.UnwindSlippageMaxBps)
	line("")
	line("### Fees & Buffer")
	line("- maker_bps: %g", cfg.Fees.MakerBps)
	line("- taker_bps: %g", cfg.Fees.TakerBps)
	line("- buffer_bps: %g", cfg.Thresholds.BufferBps)
	line("- Formula: edge_mm_bps = spread_median_bps - 2*maker_bps - buffer_bps")
	line("")

	passSpread := 0
	for _, row := range summary {
		if row.PassSpread {
			passSpread++
		}
	}
	line("## 3. Universe Stats")
	line("")
	line("- **Symbols scanned**: %d", len(summary))
	line("- **PASS_SPREAD**: %d", passSpread)
	line("- **FAIL_SPREAD**: %d", len(summary)-passSpread)
	line("")

	renderSpreadQuantiles(&b, summary)

	renderDepthSection(&b, depth, candidates)

	renderTopTable(&b, candidates, cfg.Report.TopN)

	renderFailBreakdown(&b, summary, depth)

	line("## 8. Notes")
	line("")
	line("- Depth uptime is informational only and never a pass/fail criterion;")
	line("  snapshot sampling may run in effective snapshot mode when the universe")
	line("  is large relative to the request budget.")
	line("")
	line("### API Health Summary")
	line("")
	line("- **HTTP 429 (rate limit)**: %d", exporter.MetricInt(metrics, "http_429_total"))
	line("- **HTTP 403 (WAF)**: %d", exporter.MetricInt(metrics, "http_403_total"))
	line("- **HTTP 5xx (server errors)**: %d", exporter.MetricInt(metrics, "http_5xx_total"))
	line("")
	line("---")
	line("*End of report*")

	return b.String()
}

func renderSpreadQuantiles(b *strings.Builder, summary []exporter.SummaryRow) {
	var medians, p90s []float64
	for _, row := range summary {
		if !row.PassSpread {
			continue
		}
		if row.SpreadMedianBps != nil {
			medians = append(medians, *row.SpreadMedianBps)
		}
		if row.SpreadP90Bps != nil {
			p90s = append(p90s, *row.SpreadP90Bps)
		}
	}

	fmt.Fprintf(b, "## 4. Spread Stats (passing symbols only)\n\n")
	fmt.Fprintf(b, "| Quantile | spread_median_bps | spread_p90_bps |\n| --- | --- | --- |\n")
	for _, p := range []float64{0.1, 0.25, 0.5, 0.75, 0.9} {
		fmt.Fprintf(b, "| p%d | %s | %s |\n",
			int(p*100), formatQuantile(medians, p), formatQuantile(p90s, p))
	}
	fmt.Fprintf(b, "\n")
}

func renderDepthSection(b *strings.Builder, depth []exporter.DepthRow, candidates []candidate) {
	fmt.Fprintf(b, "## 5. Depth Results\n\n")
	if len(depth) == 0 {
		fmt.Fprintf(b, "*Depth stage not executed.*\n\n")
		return
	}

	passDepth := 0
	var uptimes []float64
	for _, row := range depth {
		if row.PassDepth {
			passDepth++
		}
		if row.Uptime != nil {
			uptimes = append(uptimes, *row.Uptime)
		}
	}
	passTotal := 0
	for _, c := range candidates {
		if c.PassTotal {
			passTotal++
		}
	}

	fmt.Fprintf(b, "- **Candidates checked**: %d\n", len(depth))
	fmt.Fprintf(b, "- **PASS_DEPTH**: %d/%d\n", passDepth, len(depth))
	fmt.Fprintf(b, "- **PASS_TOTAL**: %d\n", passTotal)
	fmt.Fprintf(b, "- **Depth uptime P50 (informational)**: %s\n", formatQuantile(uptimes, 0.5))
	fmt.Fprintf(b, "\n")
}

func renderTopTable(b *strings.Builder, candidates []candidate, topN int) {
	fmt.Fprintf(b, "## 6. Top %d Candidates\n\n", topN)
	if len(candidates) == 0 {
		fmt.Fprintf(b, "*No candidates available.*\n\n")
		return
	}

	limit := topN
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	fmt.Fprintf(b, "| Symbol | Score | Spread Med | Spread P90 | Edge MM | Edge P25 | Bid Liq | Ask Liq | Slip P90 | PASS | Fail Reasons |\n")
	fmt.Fprintf(b, "| --- | --- | --- | --- | --- | --- | --- | --- | --- | --- | --- |\n")
	for _, c := range candidates[:limit] {
		reasons := "-"
		if len(c.FailReasons) > 0 {
			shown := c.FailReasons
			if len(shown) > 3 {
				shown = shown[:3]
			}
			reasons = strings.Join(shown, "; ")
			if len(c.FailReasons) > 3 {
				reasons += "..."
			}
		}
		pass := "no"
		if c.PassTotal {
			pass = "yes"
		}
		fmt.Fprintf(b, "| %s | %.1f | %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
			c.Symbol, c.Score,
			formatOpt(c.SpreadMedianBps), formatOpt(c.SpreadP90Bps),
			formatOpt(c.EdgeMMBps), formatOpt(c.EdgeMMP25Bps),
			formatOpt(c.BestBidNotional), formatOpt(c.BestAskNotional),
			formatOpt(c.UnwindSlipP90Bps), pass, reasons)
	}
	fmt.Fprintf(b, "\n")
}

func renderFailBreakdown(b *strings.Builder, summary []exporter.SummaryRow, depth []exporter.DepthRow) {
	fmt.Fprintf(b, "## 7. Fail Reason Breakdown\n\n### Spread Stage\n\n")
	writeReasonTable(b, countReasons(func(yield func(string)) {
		for _, row := range summary {
			for _, reason := range row.FailReasons {
				yield(reason)
			}
		}
	}), "*No spread failures recorded.*")

	fmt.Fprintf(b, "### Depth Stage\n\n")
	writeReasonTable(b, countReasons(func(yield func(string)) {
		for _, row := range depth {
			for _, reason := range row.FailReasons {
				yield(reason)
			}
		}
	}), "*No depth failures recorded (or depth stage not executed).*")
}

func countReasons(each func(func(string))) map[string]int {
	counts := map[string]int{}
	each(func(reason string) { counts[reason]++ })
	return counts
}

func writeReasonTable(b *strings.Builder, counts map[string]int, emptyNote string) {
	if len(counts) == 0 {
		fmt.Fprintf(b, "%s\n\n", emptyNote)
		return
	}
	type entry struct {
		reason string
		count  int
	}
	entries := make([]entry, 0, len(counts))
	for reason, count := range counts {
		entries = append(entries, entry{reason, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].reason < entries[j].reason
	})

	fmt.Fprintf(b, "| Reason | Count |\n| --- | --- |\n")
	for _, e := range entries {
		fmt.Fprintf(b, "| %s | %d |\n", e.reason, e.count)
	}
	fmt.Fprintf(b, "\n")
}

func formatQuantile(values []float64, p float64) string {
	if len(values) == 0 {
		return "n/a"
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	pos := p * float64(len(sorted)-1)
	lower := int(pos)
	upper := lower
	if upper+1 < len(sorted) {
		upper = lower + 1
	}
	frac := pos - float64(lower)
	return fmt.Sprintf("%.2f", sorted[lower]+(sorted[upper]-sorted[lower])*frac)
}

func formatOpt(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

func optCell(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%g", *v)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
