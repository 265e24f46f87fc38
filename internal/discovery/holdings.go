package discovery

import (
	"strings"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
)

// ExpandHoldingsToPairs turns every asset with a non-zero balance into the symbols it would
// trade as against each quote asset. Quote assets themselves are not expanded against their own
// symbol (USDC never becomes USDCUSDC).
func ExpandHoldingsToPairs(balances map[string]float64, quoteAssets []string) map[string]struct{} {
	pairs := make(map[string]struct{})
	for asset, qty := range balances {
		if qty <= 0 {
			continue
		}
		for _, quote := range quoteAssets {
			if strings.EqualFold(asset, quote) {
				continue
			}
			pairs[strings.ToUpper(asset+quote)] = struct{}{}
		}
	}
	return pairs
}

// OpenOrderSymbols collects the symbols that currently have a resting order.
func OpenOrderSymbols(orders []ports.OpenOrder) map[string]struct{} {
	out := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		out[o.Symbol] = struct{}{}
	}
	return out
}

// MarketBreadth is the share of tickers with a positive 24h change and the trend label it
// implies: Positive when at least half of the market is green.
func MarketBreadth(tickers []domain.Ticker24h) (float64, domain.TrendDirection) {
	if len(tickers) == 0 {
		return 0, domain.TrendNegative
	}
	green := 0
	for _, t := range tickers {
		if t.PriceChangePercent > 0 {
			green++
		}
	}
	ratio := float64(green) / float64(len(tickers))
	if ratio >= 0.5 {
		return ratio, domain.TrendPositive
	}
	return ratio, domain.TrendNegative
}

// FilterTickers keeps tickers with enough 24h quote volume that are neither excluded by
// configuration nor already invested.
func FilterTickers(tickers []domain.Ticker24h, minQuoteVolume float64, excluded ...map[string]struct{}) []domain.Ticker24h {
	out := make([]domain.Ticker24h, 0, len(tickers))
next:
	for _, t := range tickers {
		if t.QuoteVolume < minQuoteVolume {
			continue
		}
		for _, set := range excluded {
			if _, skip := set[t.Symbol]; skip {
				continue next
			}
		}
		out = append(out, t)
	}
	return out
}

func toSet(symbols []string) map[string]struct{} {
	out := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}
