package discovery

import (
	"ratchetBot/internal/domain"
	"ratchetBot/internal/strategy/indicators"
)

const (
	// MinOverallGrowthPct is the window move required for admission (sign follows the trend).
	MinOverallGrowthPct = 10.0
	// MinStrongCandlePct is the body size each of the last two candles needs for a long signal.
	MinStrongCandlePct = 0.5
)

// EvaluateWindow decides whether a candle window shows the momentum the trend asks for.
// Candles must be oldest first. Only the trailing lookback candles are considered.
// It returns nil, false for short or malformed windows and for windows that fail admission.
// The returned signal carries growth and fluctuation figures; the caller fills symbol, budget
// and diagnostics.
func EvaluateWindow(klines []*domain.Kline, lookback, recentWindow int, trend domain.TrendDirection) (*domain.Signal, bool) {
	if lookback < 2 || len(klines) < lookback {
		return nil, false
	}
	window := klines[len(klines)-lookback:]
	for _, k := range window {
		if !k.Valid() {
			return nil, false
		}
	}

	n := len(window)
	first, prev, last := window[0], window[n-2], window[n-1]

	overall := growthPct(first.Open, last.Close)
	trendUp := last.Close > prev.Close

	if recentWindow <= 0 || recentWindow > n {
		recentWindow = n
	}
	recentGrowth := growthPct(window[n-recentWindow].Open, last.Close)

	var admitted bool
	switch trend {
	case domain.TrendNegative:
		admitted = overall <= -MinOverallGrowthPct && !trendUp && recentGrowth < 0
	default:
		admitted = overall >= MinOverallGrowthPct && trendUp && recentGrowth > 0 &&
			strongGreen(prev) && strongGreen(last)
	}
	if !admitted {
		return nil, false
	}

	fluct := indicators.AverageFluctuation(window)
	return &domain.Signal{
		Trend:             trend,
		LastPrice:         last.Close,
		OverallGrowthPct:  overall,
		RecentGrowthPct:   recentGrowth,
		AvgFluctuationAbs: fluct.Abs,
		AvgFluctuationPct: fluct.Pct,
	}, true
}

func growthPct(from, to float64) float64 {
	return (to - from) / from * 100
}

// strongGreen: closed above the open by at least MinStrongCandlePct.
func strongGreen(k *domain.Kline) bool {
	return k.Close > k.Open && growthPct(k.Open, k.Close) >= MinStrongCandlePct
}
