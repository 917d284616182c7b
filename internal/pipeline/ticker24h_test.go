package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexscan/internal/mexc"
)

func TestBuildTicker24hStatsPrefersRawQuoteVolume(t *testing.T) {
	stats := BuildTicker24hStats(
		[]mexc.Ticker24h{ticker("BTCUSDT", fptr(1_000_000), fptr(50), iptr(9000))},
		[]mexc.BookTicker{{Symbol: "BTCUSDT", BidPrice: "100", AskPrice: "102"}},
		[]string{"BTCUSDT"},
		Ticker24hOptions{UseQuoteVolumeEstimate: true},
		testLogger(),
	)

	entry := stats["BTCUSDT"]
	require.NotNil(t, entry.QuoteVolumeEffective)
	assert.Equal(t, 1_000_000.0, *entry.QuoteVolumeEffective)
	assert.False(t, entry.UsedEstimate)
	assert.Nil(t, entry.QuoteVolumeEstimate)
	assert.False(t, entry.Missing)
	require.NotNil(t, entry.MidPrice)
	assert.Equal(t, 101.0, *entry.MidPrice)
}

func TestBuildTicker24hStatsEstimatesFromVolumeAndMid(t *testing.T) {
	stats := BuildTicker24hStats(
		[]mexc.Ticker24h{ticker("AAAUSDT", nil, fptr(200), nil)},
		[]mexc.BookTicker{{Symbol: "AAAUSDT", BidPrice: "2", AskPrice: "2.2"}},
		[]string{"AAAUSDT"},
		Ticker24hOptions{UseQuoteVolumeEstimate: true},
		testLogger(),
	)

	entry := stats["AAAUSDT"]
	assert.True(t, entry.UsedEstimate)
	require.NotNil(t, entry.QuoteVolumeEffective)
	assert.InDelta(t, 200*2.1, *entry.QuoteVolumeEffective, 1e-9)
	assert.False(t, entry.Missing)
}

func TestBuildTicker24hStatsEstimateDisabled(t *testing.T) {
	stats := BuildTicker24hStats(
		[]mexc.Ticker24h{ticker("AAAUSDT", nil, fptr(200), nil)},
		[]mexc.BookTicker{{Symbol: "AAAUSDT", BidPrice: "2", AskPrice: "2.2"}},
		[]string{"AAAUSDT"},
		Ticker24hOptions{},
		testLogger(),
	)

	entry := stats["AAAUSDT"]
	assert.True(t, entry.Missing)
	assert.Equal(t, "no_volume_and_no_mid", entry.MissingReason)
	assert.Nil(t, entry.QuoteVolumeEffective)
}

func TestBuildTicker24hStatsMissingReasons(t *testing.T) {
	tickers := []mexc.Ticker24h{
		ticker("NONEUSDT", nil, nil, nil),
		{Symbol: "BADUSDT", QuoteVolume: mexc.OptionalFloat{ParseError: true}},
		ticker("NOMIDUSDT", nil, fptr(10), nil),
	}
	stats := BuildTicker24hStats(tickers, nil,
		[]string{"GONEUSDT", "NONEUSDT", "BADUSDT", "NOMIDUSDT"},
		Ticker24hOptions{UseQuoteVolumeEstimate: true},
		testLogger(),
	)

	assert.Equal(t, "no_row", stats["GONEUSDT"].MissingReason)
	assert.Equal(t, "no_any_fields", stats["NONEUSDT"].MissingReason)
	assert.Equal(t, "parse_error", stats["BADUSDT"].MissingReason)
	assert.Equal(t, "no_volume_and_no_mid", stats["NOMIDUSDT"].MissingReason)
	for _, symbol := range []string{"GONEUSDT", "NONEUSDT", "BADUSDT", "NOMIDUSDT"} {
		assert.True(t, stats[symbol].Missing, symbol)
	}
}

func TestBuildTicker24hStatsRequireTradeCount(t *testing.T) {
	stats := BuildTicker24hStats(
		[]mexc.Ticker24h{ticker("AAAUSDT", fptr(500_000), nil, nil)},
		nil,
		[]string{"AAAUSDT"},
		Ticker24hOptions{RequireTradeCount: true},
		testLogger(),
	)

	entry := stats["AAAUSDT"]
	assert.True(t, entry.Missing)
	assert.Equal(t, "missing_trade_count", entry.MissingReason)
	// The volume itself is still usable context.
	require.NotNil(t, entry.QuoteVolumeEffective)
	assert.Equal(t, 500_000.0, *entry.QuoteVolumeEffective)
}
