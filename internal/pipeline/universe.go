package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"mexscan/internal/config"
	"mexscan/internal/exporter"
	"mexscan/internal/mexc"
)

// BuildUniverse applies the filter funnel to exchangeInfo: quote
// asset, exchange status, defaultSymbols membership, blacklist,
// 24h-stats presence, and volume/trade-count minimums. Whitelisted
// symbols bypass the 24h volume filters but not the structural ones.
func BuildUniverse(ctx context.Context, client *mexc.Client, cfg config.UniverseConfig, logger *slog.Logger) (exporter.UniverseResult, error) {
	var result exporter.UniverseResult

	info, err := client.ExchangeInfo(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch exchange info: %w", err)
	}

	blacklist := make([]*regexp.Regexp, 0, len(cfg.BlacklistPatterns))
	for _, pattern := range cfg.BlacklistPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return result, fmt.Errorf("invalid blacklist pattern %q: %w", pattern, err)
		}
		blacklist = append(blacklist, re)
	}

	allowedStatus := make(map[string]bool, len(cfg.StatusAllow))
	for _, status := range cfg.StatusAllow {
		allowedStatus[status] = true
	}

	candidates := make([]string, 0, len(info.Symbols))
	statusRejected := make(map[string]bool)
	for _, entry := range info.Symbols {
		if entry.QuoteAsset != cfg.QuoteAsset || entry.Symbol == "" {
			continue
		}
		candidates = append(candidates, entry.Symbol)
		if entry.Status != "" && len(allowedStatus) > 0 && !allowedStatus[entry.Status] {
			statusRejected[entry.Symbol] = true
		}
	}
	sort.Strings(candidates)

	var defaultSet map[string]bool
	if cfg.UseDefaultSymbols {
		defaults, err := client.DefaultSymbols(ctx)
		if err != nil {
			return result, fmt.Errorf("fetch default symbols: %w", err)
		}
		if len(defaults) == 0 {
			return result, fmt.Errorf("defaultSymbols empty or unavailable; cannot build universe")
		}
		defaultSet = make(map[string]bool, len(defaults))
		for _, symbol := range defaults {
			defaultSet[symbol] = true
		}
	}

	var rejects []exporter.UniverseReject
	reject := func(symbol, reason string) {
		rejects = append(rejects, exporter.UniverseReject{Symbol: symbol, Reason: reason})
	}

	tradable := make([]string, 0, len(candidates))
	for _, symbol := range candidates {
		switch {
		case statusRejected[symbol]:
			reject(symbol, "exchange_status_not_allowed")
		case defaultSet != nil && !defaultSet[symbol]:
			reject(symbol, "not_in_default_symbols")
		default:
			tradable = append(tradable, symbol)
		}
	}

	tickers, err := client.Ticker24h(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch ticker 24h: %w", err)
	}
	books, err := client.BookTickers(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch book tickers: %w", err)
	}
	tickerStats := BuildTicker24hStats(tickers, books, tradable, Ticker24hOptions{
		UseQuoteVolumeEstimate: cfg.UseQuoteVolumeEstimate,
		RequireTradeCount:      cfg.RequireTradeCount,
	}, logger)

	whitelist := make(map[string]bool, len(cfg.Whitelist))
	for _, symbol := range cfg.Whitelist {
		whitelist[symbol] = true
	}

	var kept []string
	for _, symbol := range tradable {
		if matchesAny(blacklist, symbol) {
			reject(symbol, "blacklisted")
			continue
		}

		ticker, ok := tickerStats[symbol]
		if !ok || ticker.Missing {
			reject(symbol, "missing_24h_stats")
			continue
		}

		if whitelist[symbol] {
			logger.Info("whitelist symbol bypassed 24h filters", "symbol", symbol)
			kept = append(kept, symbol)
			continue
		}

		if ticker.QuoteVolumeEffective == nil {
			reject(symbol, "missing_24h_stats")
			continue
		}
		if cfg.RequireTradeCount && ticker.TradeCount == nil {
			reject(symbol, "missing_trade_count")
			continue
		}
		if *ticker.QuoteVolumeEffective < cfg.MinQuoteVolume24h {
			reject(symbol, "min_quote_volume_24h")
			continue
		}
		if ticker.TradeCount != nil && *ticker.TradeCount < cfg.MinTrades24h {
			reject(symbol, "min_trades_24h")
			continue
		}

		kept = append(kept, symbol)
	}

	stats := exporter.UniverseStats{Total: len(candidates), Kept: len(kept), Rejected: len(rejects)}
	logger.Info("universe reject summary",
		"total", stats.Total, "kept", stats.Kept, "rejected", stats.Rejected,
		"top_reject_reasons", topRejectReasons(rejects, 5))

	if len(kept) == 0 {
		return result, fmt.Errorf("universe filtered to 0 symbols; relax thresholds")
	}

	return exporter.UniverseResult{
		Symbols: kept,
		Stats:   stats,
		SourceFlags: map[string]bool{
			"default_symbols":       cfg.UseDefaultSymbols,
			"quote_volume_estimate": cfg.UseQuoteVolumeEstimate,
		},
		Rejects: rejects,
	}, nil
}

func matchesAny(patterns []*regexp.Regexp, symbol string) bool {
	for _, re := range patterns {
		if re.MatchString(symbol) {
			return true
		}
	}
	return false
}

// topRejectReasons returns the most frequent reject reasons for log
// output, ties broken alphabetically.
func topRejectReasons(rejects []exporter.UniverseReject, limit int) []string {
	counts := map[string]int{}
	for _, reject := range rejects {
		counts[reject.Reason]++
	}
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if counts[reasons[i]] != counts[reasons[j]] {
			return counts[reasons[i]] > counts[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})
	if len(reasons) > limit {
		reasons = reasons[:limit]
	}
	summary := make([]string, len(reasons))
	for i, reason := range reasons {
		summary[i] = fmt.Sprintf("%s:%d", reason, counts[reason])
	}
	return summary
}
