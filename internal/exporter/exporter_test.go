package exporter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexscan/internal/scoring"
	"mexscan/internal/stats"
)

func fptr(v float64) *float64 { return &v }

func TestEnsureRunLayoutSeedsMetricsOnce(t *testing.T) {
	dir := t.TempDir()

	layout, err := EnsureRunLayout(dir, "abc123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run_abc123"), layout.RunDir)

	payload, err := ReadMetrics(layout.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, payload, "created_at")

	require.NoError(t, UpdateMetrics(layout.MetricsPath, map[string]int64{"requests_total": 7}, nil))

	// Reopening for resume must not reset counters.
	_, err = EnsureRunLayout(dir, "abc123")
	require.NoError(t, err)
	payload, err = ReadMetrics(layout.MetricsPath)
	require.NoError(t, err)
	assert.Equal(t, int64(7), MetricInt(payload, "requests_total"))
}

func TestUpdateMetricsIncrementsAndGauges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")

	require.NoError(t, UpdateMetrics(path, map[string]int64{"ticks_total": 3}, nil))
	require.NoError(t, UpdateMetrics(path, map[string]int64{"ticks_total": 2}, map[string]float64{"uptime": 0.95}))

	payload, err := ReadMetrics(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), MetricInt(payload, "ticks_total"))
	assert.Equal(t, 0.95, payload["uptime"])
}

func TestWriteRunMetaRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_meta.json")
	meta := RunMeta{
		RunID:          "r1",
		StartedAt:      "2026-08-29T10:00:00Z",
		ConfigHash:     "deadbeef",
		Status:         "running",
		ScannerVersion: "0.1.0",
		SpecVersion:    "0.1",
	}
	require.NoError(t, WriteRunMeta(path, meta))

	got, err := ReadRunMeta(path)
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestWriteUniverseAndReadBack(t *testing.T) {
	dir := t.TempDir()
	result := UniverseResult{
		Symbols: []string{"AAAUSDT", "BBBUSDT"},
		Stats:   UniverseStats{Total: 4, Kept: 2, Rejected: 2},
		SourceFlags: map[string]bool{
			"default_symbols": true,
		},
		Rejects: []UniverseReject{
			{Symbol: "CCCUSDT", Reason: "status_not_allowed"},
			{Symbol: "DDDUSDT", Reason: "blacklisted"},
		},
	}
	require.NoError(t, WriteUniverse(dir, result))

	symbols, err := ReadUniverseSymbols(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAUSDT", "BBBUSDT"}, symbols)

	rejects, err := os.ReadFile(filepath.Join(dir, "universe_rejects.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(rejects), "CCCUSDT,status_not_allowed")

	assert.True(t, ValidateUniverse(dir, true).Valid)
}

func TestValidateUniverseStrictRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteUniverse(dir, UniverseResult{Symbols: []string{}}))

	assert.True(t, ValidateUniverse(dir, false).Valid)
	res := ValidateUniverse(dir, true)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "empty")
}

func TestRawWriterGzipRoundTrip(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewRawWriter(dir, true)
	require.NoError(t, err)
	require.NoError(t, writer.Write(RawRecord{TS: "2026-08-29T10:00:00Z", Symbol: "AAAUSDT", Bid: "1.0", Ask: "1.1"}))
	require.NoError(t, writer.Close())

	// Reopen in append mode, as a resumed stage would.
	writer, err = NewRawWriter(dir, true)
	require.NoError(t, err)
	require.NoError(t, writer.Write(RawRecord{TS: "2026-08-29T10:00:10Z", Symbol: "BBBUSDT", Bid: "2.0", Ask: "2.2"}))
	require.NoError(t, writer.Close())

	var symbols []string
	skipped, err := ReadRawRecords(filepath.Join(dir, "raw_bookticker.jsonl.gz"), func(r RawRecord) {
		symbols = append(symbols, r.Symbol)
	})
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, []string{"AAAUSDT", "BBBUSDT"}, symbols)
}

func TestReadRawRecordsSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw_bookticker.jsonl")
	content := `{"ts":"t1","symbol":"AAAUSDT","bid":"1","ask":"2"}
not json
{"ts":"t2","symbol":"BBBUSDT","bid":"3","ask":"4"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	var count int
	skipped, err := ReadRawRecords(path, func(RawRecord) { count++ })
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, skipped)
}

func sampleResult(symbol string, score float64, pass bool) scoring.Result {
	return scoring.Result{
		Symbol: symbol,
		SpreadStats: stats.SpreadStats{
			Symbol:          symbol,
			SampleCount:     10,
			ValidSamples:    10,
			SpreadMedianBps: fptr(12.5),
			SpreadP10Bps:    fptr(10),
			SpreadP25Bps:    fptr(11),
			SpreadP90Bps:    fptr(15),
			Uptime:          1,
		},
		EdgeMMBps:   fptr(10.5),
		PassSpread:  pass,
		Score:       score,
		FailReasons: []string{},
	}
}

func TestWriteSummaryOrdersByScoreThenSymbol(t *testing.T) {
	dir := t.TempDir()
	results := []scoring.Result{
		sampleResult("BBBUSDT", 50, true),
		sampleResult("AAAUSDT", 90, true),
		sampleResult("CCCUSDT", 90, false),
	}
	require.NoError(t, WriteSummary(dir, results))

	rows, err := ReadSummary(filepath.Join(dir, "summary.csv"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "AAAUSDT", rows[0].Symbol)
	assert.Equal(t, "CCCUSDT", rows[1].Symbol)
	assert.Equal(t, "BBBUSDT", rows[2].Symbol)

	require.NotNil(t, rows[0].SpreadMedianBps)
	assert.Equal(t, 12.5, *rows[0].SpreadMedianBps)
	assert.Equal(t, 90.0, rows[0].Score)
	assert.True(t, rows[0].PassSpread)

	assert.True(t, ValidateSummaryCSV(dir, true).Valid)
	assert.True(t, FileExists(dir, "summary.json"))
}

func TestWriteSummaryEmptyOptionalCells(t *testing.T) {
	dir := t.TempDir()
	result := scoring.Result{
		Symbol: "AAAUSDT",
		SpreadStats: stats.SpreadStats{
			Symbol:              "AAAUSDT",
			SampleCount:         2,
			InsufficientSamples: true,
		},
		FailReasons: []string{"insufficient_samples"},
	}
	require.NoError(t, WriteSummary(dir, []scoring.Result{result}))

	rows, err := ReadSummary(filepath.Join(dir, "summary.csv"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].SpreadMedianBps)
	assert.Nil(t, rows[0].EdgeMMBps)
	assert.Nil(t, rows[0].Trades24h)
	assert.Equal(t, []string{"insufficient_samples"}, rows[0].FailReasons)
}

func sampleDepth(symbol string, pass bool) scoring.DepthSymbolMetrics {
	bandPass := pass
	return scoring.DepthSymbolMetrics{
		Symbol: symbol,
		Counts: scoring.DepthCounts{SampleCount: 5, ValidSamples: 5},
		Aggregate: stats.DepthAggregate{
			BestBidNotionalMedian: fptr(500),
			BestAskNotionalMedian: fptr(450),
			TopNBidNotionalMedian: fptr(2500),
			TopNAskNotionalMedian: fptr(2400),
			BandBidNotionalMedian: map[int]float64{10: 900, 25: 1400},
			UnwindSlippageP90Bps:  fptr(40),
		},
		Uptime: 1,
		Evaluation: scoring.DepthEvaluation{
			BestBidPass:  pass,
			BestAskPass:  pass,
			SlippagePass: pass,
			BandPass:     &bandPass,
			Pass:         pass,
		},
	}
}

func TestWriteDepthMetricsAndValidate(t *testing.T) {
	dir := t.TempDir()
	bands := []int{10, 25}
	results := []scoring.DepthSymbolMetrics{sampleDepth("BBBUSDT", false), sampleDepth("AAAUSDT", true)}
	require.NoError(t, WriteDepthMetrics(dir, results, bands))

	rows, err := ReadDepthMetrics(filepath.Join(dir, "depth_metrics.csv"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAAUSDT", rows[0].Symbol)
	assert.True(t, rows[0].PassDepth)
	assert.False(t, rows[1].PassDepth)

	assert.True(t, ValidateDepthMetrics(dir, bands, true).Valid)
	res := ValidateDepthMetrics(dir, []int{10, 25, 50}, true)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "band_bid_notional_median_50bps")
}

func TestWriteSummaryEnrichedJoinsDepth(t *testing.T) {
	dir := t.TempDir()
	bands := []int{10}
	summary := []scoring.Result{
		sampleResult("AAAUSDT", 90, true),
		sampleResult("ZZZUSDT", 80, true),
	}
	depth := []scoring.DepthSymbolMetrics{sampleDepth("AAAUSDT", true)}
	require.NoError(t, WriteSummaryEnriched(dir, summary, depth, bands))

	data, err := os.ReadFile(filepath.Join(dir, "summary_enriched.csv"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "AAAUSDT,90,true,true,true")
	assert.Contains(t, content, "no_depth_data")
}

func TestValidateRawStream(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, ValidateRawStream(dir, false, false).Valid)

	path := filepath.Join(dir, "raw_bookticker.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.True(t, ValidateRawStream(dir, false, false).Valid)
	assert.False(t, ValidateRawStream(dir, false, true).Valid)

	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	assert.True(t, ValidateRawStream(dir, false, true).Valid)
}

func TestWriteSummaryWorkbook(t *testing.T) {
	dir := t.TempDir()
	summary := []scoring.Result{sampleResult("AAAUSDT", 90, true)}
	depth := []scoring.DepthSymbolMetrics{sampleDepth("AAAUSDT", true)}
	require.NoError(t, WriteSummaryWorkbook(dir, summary, depth, []int{10}))
	assert.True(t, FileExists(dir, "summary.xlsx"))
}
