// Package indicators computes candle-window statistics used to describe discovery signals.
package indicators

import "ratchetBot/internal/domain"

// Indicator computes a single value from a candle window.
type Indicator interface {
	// Calculate computes the indicator value for the given candles, oldest first.
	Calculate(klines []*domain.Kline) (float64, error)

	// RequiredDataPoints returns the minimum number of klines needed for calculation.
	RequiredDataPoints() int

	// Name returns the name of the indicator.
	Name() string
}

// IndicatorConfig holds common configuration for indicators.
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators.
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of klines needed for calculation.
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}
