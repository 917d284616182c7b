package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexscan/internal/config"
	"mexscan/internal/exporter"
	"mexscan/internal/mexc"
)

func TestSelectDepthCandidatesPrefersSpreadPassers(t *testing.T) {
	rows := []exporter.SummaryRow{
		{Symbol: "CCCUSDT", Score: 50, PassSpread: true},
		{Symbol: "AAAUSDT", Score: 90, PassSpread: true},
		{Symbol: "BBBUSDT", Score: 90, PassSpread: true},
		{Symbol: "ZZZUSDT", Score: 120, PassSpread: false},
	}

	symbols, passTotal := SelectDepthCandidates(rows, 2)
	assert.Equal(t, 3, passTotal)
	// Score descending, symbol ascending on ties, cut at the limit.
	assert.Equal(t, []string{"AAAUSDT", "BBBUSDT"}, symbols)
}

func TestSelectDepthCandidatesFallsBackWhenNonePass(t *testing.T) {
	rows := []exporter.SummaryRow{
		{Symbol: "AAAUSDT", Score: 10},
		{Symbol: "BBBUSDT", Score: 40},
	}

	symbols, passTotal := SelectDepthCandidates(rows, 10)
	assert.Zero(t, passTotal)
	assert.Equal(t, []string{"BBBUSDT", "AAAUSDT"}, symbols)
}

func TestSelectDepthCandidatesEmptyInput(t *testing.T) {
	symbols, passTotal := SelectDepthCandidates(nil, 5)
	assert.Zero(t, passTotal)
	assert.Empty(t, symbols)
}

func depthTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Sampling.Depth.Duration = config.Duration(20 * time.Millisecond)
	cfg.Sampling.Depth.Interval = config.Duration(20 * time.Millisecond)
	cfg.Sampling.Depth.Workers = 2
	return &cfg
}

func TestRunDepthCheckCountsPerSymbol(t *testing.T) {
	fixture := &apiFixture{
		depth: map[string]mexc.DepthSnapshot{
			"AAAUSDT": {
				Bids: [][]string{{"100", "50"}, {"99.9", "50"}},
				Asks: [][]string{{"100.1", "50"}, {"100.2", "50"}},
			},
			"EMPTYUSDT": {},
		},
	}
	client := newFixtureClient(t, fixture)

	symbols := []string{"AAAUSDT", "EMPTYUSDT", "GONEUSDT"}
	result, err := RunDepthCheck(context.Background(), client, symbols,
		depthTestConfig(), time.Time{}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, result.TargetTicks)
	assert.Equal(t, 1, result.TicksSuccess)
	assert.Equal(t, 3, result.RequestsTotal)
	assert.Equal(t, 2, result.FailTotal)

	bySymbol := make(map[string]int, len(result.Symbols))
	for i, entry := range result.Symbols {
		bySymbol[entry.Symbol] = i
	}
	require.Len(t, bySymbol, 3)

	good := result.Symbols[bySymbol["AAAUSDT"]]
	assert.Equal(t, 1, good.Counts.SampleCount)
	assert.Equal(t, 1, good.Counts.ValidSamples)
	assert.Equal(t, 1.0, good.Uptime)

	empty := result.Symbols[bySymbol["EMPTYUSDT"]]
	assert.Equal(t, 1, empty.Counts.SampleCount)
	assert.Equal(t, 0, empty.Counts.ValidSamples)
	assert.Equal(t, 1, empty.Counts.EmptyBook)

	// A 4xx on the depth endpoint marks the symbol unavailable without
	// inflating its sample count.
	gone := result.Symbols[bySymbol["GONEUSDT"]]
	assert.Equal(t, 0, gone.Counts.SampleCount)
	assert.Equal(t, 1, gone.Counts.SymbolUnavailable)
	assert.Equal(t, 0.0, gone.Uptime)
}

func TestRunDepthCheckRequiresCandidates(t *testing.T) {
	client := newFixtureClient(t, &apiFixture{})
	_, err := RunDepthCheck(context.Background(), client, nil,
		depthTestConfig(), time.Time{}, testLogger())
	require.Error(t, err)
}

func TestRunDepthCheckStopsAtDeadline(t *testing.T) {
	fixture := &apiFixture{}
	client := newFixtureClient(t, fixture)

	result, err := RunDepthCheck(context.Background(), client, []string{"AAAUSDT"},
		depthTestConfig(), time.Now().Add(-time.Second), testLogger())
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Zero(t, fixture.Calls())
}
