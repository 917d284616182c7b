package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidationResult reports whether an artifact is usable and, when it
// is not, the first problem found.
type ValidationResult struct {
	Valid bool
	Error string
}

func valid() ValidationResult { return ValidationResult{Valid: true} }

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Error: fmt.Sprintf(format, args...)}
}

// csvHasColumns checks that a CSV file exists, has a header containing
// every required column, and (in strict mode) at least one data row.
func csvHasColumns(path string, columns []string, requireRows bool) ValidationResult {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return invalid("missing file: %s", filepath.Base(path))
	}
	if err != nil {
		return invalid("open %s: %v", filepath.Base(path), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return invalid("missing CSV header: %s", filepath.Base(path))
	}

	present := make(map[string]bool, len(header))
	for _, name := range header {
		present[name] = true
	}
	var missing []string
	for _, name := range columns {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return invalid("missing columns in %s: %s", filepath.Base(path), strings.Join(missing, ", "))
	}

	if requireRows {
		if _, err := reader.Read(); err != nil {
			return invalid("CSV has no rows: %s", filepath.Base(path))
		}
	}
	return valid()
}

// ValidateUniverse checks universe.json structure; strict mode also
// requires a non-empty symbol list.
func ValidateUniverse(runDir string, strict bool) ValidationResult {
	path := filepath.Join(runDir, "universe.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return invalid("missing file: universe.json")
	}
	if err != nil {
		return invalid("read universe.json: %v", err)
	}
	var payload struct {
		Symbols *[]string `json:"symbols"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return invalid("invalid JSON in universe.json: %v", err)
	}
	if payload.Symbols == nil {
		return invalid("universe symbols must be a list: universe.json")
	}
	if strict && len(*payload.Symbols) == 0 {
		return invalid("universe symbols empty: universe.json")
	}
	return valid()
}

// ValidateSummaryCSV checks summary.csv columns; strict mode requires
// at least one scored symbol.
func ValidateSummaryCSV(runDir string, strict bool) ValidationResult {
	return csvHasColumns(filepath.Join(runDir, "summary.csv"), SummaryColumns, strict)
}

// ValidateDepthMetrics checks depth_metrics.csv for the configured
// band set.
func ValidateDepthMetrics(runDir string, bandBps []int, strict bool) ValidationResult {
	return csvHasColumns(filepath.Join(runDir, "depth_metrics.csv"), DepthMetricsColumns(bandBps), strict)
}

// ValidateRawStream checks the raw book ticker artifact exists and, in
// strict mode, is non-empty.
func ValidateRawStream(runDir string, gzipEnabled, strict bool) ValidationResult {
	name := RawBookTickerName(gzipEnabled)
	info, err := os.Stat(filepath.Join(runDir, name))
	if os.IsNotExist(err) {
		return invalid("missing file: %s", name)
	}
	if err != nil {
		return invalid("stat %s: %v", name, err)
	}
	if strict && info.Size() == 0 {
		return invalid("%s is empty", name)
	}
	return valid()
}

// ValidateReportMD checks report.md exists and, in strict mode, has
// content.
func ValidateReportMD(runDir string, strict bool) ValidationResult {
	path := filepath.Join(runDir, "report.md")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return invalid("missing file: report.md")
	}
	if err != nil {
		return invalid("read report.md: %v", err)
	}
	if strict && len(strings.TrimSpace(string(data))) == 0 {
		return invalid("report is empty: report.md")
	}
	return valid()
}

// FileExists reports whether an artifact is present in the run dir.
func FileExists(runDir, name string) bool {
	_, err := os.Stat(filepath.Join(runDir, name))
	return err == nil
}
