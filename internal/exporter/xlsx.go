package exporter

import (
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"mexscan/internal/scoring"
)

// WriteSummaryWorkbook writes summary.xlsx with a Summary sheet and,
// when depth results exist, a Depth sheet. The workbook mirrors the
// CSV artifacts for people who review runs in a spreadsheet.
func WriteSummaryWorkbook(runDir string, summary []scoring.Result, depth []scoring.DepthSymbolMetrics, bandBps []int) error {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	if err := writeSheetRow(f, summarySheet, 1, SummaryColumns); err != nil {
		return err
	}
	for i, result := range summary {
		if err := writeSheetRow(f, summarySheet, i+2, summaryRow(result)); err != nil {
			return err
		}
	}

	if len(depth) > 0 {
		const depthSheet = "Depth"
		if _, err := f.NewSheet(depthSheet); err != nil {
			return fmt.Errorf("create depth sheet: %w", err)
		}
		depthHeader := []string{
			"symbol",
			"sample_count",
			"valid_samples",
			"best_bid_notional_median",
			"best_ask_notional_median",
			"unwind_slippage_p90_bps",
			"pass_depth",
		}
		if err := writeSheetRow(f, depthSheet, 1, depthHeader); err != nil {
			return err
		}
		for i, item := range depth {
			row := []string{
				item.Symbol,
				fmt.Sprintf("%d", item.Counts.SampleCount),
				fmt.Sprintf("%d", item.Counts.ValidSamples),
				formatOptFloat(item.Aggregate.BestBidNotionalMedian),
				formatOptFloat(item.Aggregate.BestAskNotionalMedian),
				formatOptFloat(item.Aggregate.UnwindSlippageP90Bps),
				formatBool(item.Evaluation.Pass),
			}
			if err := writeSheetRow(f, depthSheet, i+2, row); err != nil {
				return err
			}
		}
	}

	path := filepath.Join(runDir, "summary.xlsx")
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeSheetRow(f *excelize.File, sheet string, row int, values []string) error {
	for i, value := range values {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("column name %d: %w", i+1, err)
		}
		if err := f.SetCellValue(sheet, fmt.Sprintf("%s%d", col, row), value); err != nil {
			return fmt.Errorf("set cell %s%d: %w", col, row, err)
		}
	}
	return nil
}
