package indicators

import (
	"fmt"

	"ratchetBot/internal/domain"
)

// DefaultRSIPeriod is the classic Wilder period.
const DefaultRSIPeriod = 14

// RSI is the Relative Strength Index over closing prices.
type RSI struct {
	BaseIndicator
}

// NewRSI creates an RSI with the given period; non-positive periods use DefaultRSIPeriod.
func NewRSI(period int) *RSI {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	return &RSI{BaseIndicator: BaseIndicator{Config: IndicatorConfig{Period: period}}}
}

// Name returns the name of the indicator.
func (r *RSI) Name() string {
	return "RSI"
}

// RequiredDataPoints is one more than the period, since RSI works on close-to-close changes.
func (r *RSI) RequiredDataPoints() int {
	return r.Config.Period + 1
}

// Calculate computes RSI with Wilder's smoothing. A window with no movement reads 50.
func (r *RSI) Calculate(klines []*domain.Kline) (float64, error) {
	period := r.Config.Period
	if len(klines) < r.RequiredDataPoints() {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(klines), period)
	}

	var gain, loss float64
	p := float64(period)
	for i := 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		up, down := 0.0, 0.0
		if change > 0 {
			up = change
		} else {
			down = -change
		}
		if i <= period {
			gain += up / p
			loss += down / p
			continue
		}
		gain = (gain*(p-1) + up) / p
		loss = (loss*(p-1) + down) / p
	}

	switch {
	case loss == 0 && gain == 0:
		return 50, nil
	case loss == 0:
		return 100, nil
	}
	rsi := 100 - 100/(1+gain/loss)
	return min(max(rsi, 0), 100), nil
}
