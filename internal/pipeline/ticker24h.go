package pipeline

import (
	"log/slog"
	"strconv"

	"mexscan/internal/mexc"
)

// Ticker24hStats is the per-symbol 24h view used by the universe
// filters and the summary enrichment. A missing or unparseable row is
// flagged, never fabricated.
type Ticker24hStats struct {
	Symbol               string
	QuoteVolumeRaw       *float64
	VolumeRaw            *float64
	MidPrice             *float64
	QuoteVolumeEstimate  *float64
	QuoteVolumeEffective *float64
	TradeCount           *int64
	Missing              bool
	MissingReason        string
	UsedEstimate         bool
}

// Ticker24hOptions mirrors the universe config knobs that influence
// enrichment.
type Ticker24hOptions struct {
	UseQuoteVolumeEstimate bool
	RequireTradeCount      bool
}

// BuildTicker24hStats joins the /ticker/24hr payload with top-of-book
// mids for the given symbols. Null auxiliary fields are legitimate:
// they mark the symbol missing_24h_stats but are never request errors.
func BuildTicker24hStats(
	tickers []mexc.Ticker24h,
	books []mexc.BookTicker,
	symbols []string,
	opts Ticker24hOptions,
	logger *slog.Logger,
) map[string]Ticker24hStats {
	type parsedRow struct {
		quoteVolume *float64
		volume      *float64
		tradeCount  *int64
		parseError  bool
	}

	parseErrors := 0
	rows := make(map[string]parsedRow, len(tickers))
	for _, ticker := range tickers {
		if ticker.Symbol == "" {
			parseErrors++
			continue
		}
		row := parsedRow{
			quoteVolume: ticker.QuoteVolume.Ptr(),
			volume:      ticker.Volume.Ptr(),
			tradeCount:  ticker.Count.Ptr(),
		}
		row.parseError = ticker.QuoteVolume.ParseError || ticker.Volume.ParseError
		if opts.RequireTradeCount && ticker.Count.ParseError {
			row.parseError = true
		}
		if row.parseError {
			parseErrors++
		}
		rows[ticker.Symbol] = row
	}

	mids := make(map[string]float64, len(books))
	for _, book := range books {
		if book.Symbol == "" {
			continue
		}
		if mid, ok := midPrice(book); ok {
			mids[book.Symbol] = mid
		}
	}

	logger.Info("ticker 24h payload parsed",
		"total_rows", len(tickers), "parse_errors", parseErrors)

	if symbols == nil {
		symbols = make([]string, 0, len(rows))
		for symbol := range rows {
			symbols = append(symbols, symbol)
		}
	}

	stats := make(map[string]Ticker24hStats, len(symbols))
	for _, symbol := range symbols {
		entry := Ticker24hStats{Symbol: symbol}
		if mid, ok := mids[symbol]; ok {
			m := mid
			entry.MidPrice = &m
		}

		row, ok := rows[symbol]
		if !ok {
			entry.Missing = true
			entry.MissingReason = "no_row"
			stats[symbol] = entry
			continue
		}
		entry.QuoteVolumeRaw = row.quoteVolume
		entry.VolumeRaw = row.volume
		entry.TradeCount = row.tradeCount

		if row.parseError {
			entry.Missing = true
			entry.MissingReason = "parse_error"
			stats[symbol] = entry
			continue
		}

		entry.QuoteVolumeEffective = row.quoteVolume
		if entry.QuoteVolumeEffective == nil && opts.UseQuoteVolumeEstimate &&
			row.volume != nil && entry.MidPrice != nil {
			est := *row.volume * *entry.MidPrice
			entry.QuoteVolumeEstimate = &est
			entry.QuoteVolumeEffective = &est
			entry.UsedEstimate = true
		}

		switch {
		case row.quoteVolume == nil && row.volume == nil:
			entry.Missing = true
			entry.MissingReason = "no_any_fields"
		case row.quoteVolume == nil && entry.QuoteVolumeEffective == nil:
			entry.Missing = true
			entry.MissingReason = "no_volume_and_no_mid"
		}
		if opts.RequireTradeCount && row.tradeCount == nil {
			entry.Missing = true
			if entry.MissingReason == "" {
				entry.MissingReason = "missing_trade_count"
			}
		}

		stats[symbol] = entry
	}
	return stats
}

// midPrice derives (bid+ask)/2 from a book ticker's decimal strings.
func midPrice(book mexc.BookTicker) (float64, bool) {
	bid, err := strconv.ParseFloat(book.BidPrice, 64)
	if err != nil || bid <= 0 {
		return 0, false
	}
	ask, err := strconv.ParseFloat(book.AskPrice, 64)
	if err != nil || ask <= 0 {
		return 0, false
	}
	mid := (bid + ask) / 2
	if mid <= 0 {
		return 0, false
	}
	return mid, true
}
