package backtesting

import (
	"fmt"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ratchet"
	"ratchetBot/internal/strategy/analytics"
)

// BacktestConfig holds configuration for a ratchet backtest.
type BacktestConfig struct {
	Symbol          string
	StopLossPercent float64
	Trend           domain.TrendDirection
	InitialFunds    float64 // Quote capital the multiplier is applied to; 0 means 1
}

// BacktestResult holds the results of a ratchet backtest.
type BacktestResult struct {
	Symbol          string
	StopLossPercent float64
	Trend           domain.TrendDirection
	FinalMultiplier float64
	FinalBalance    float64
	Trades          []domain.RealizedTrade
	Metrics         *analytics.PerformanceMetrics
}

// Simulate replays the ratchet over a fixed candle series with immediate re-entry after every
// stop-out. Each trade enters at the open of its first candle; the stop trails the running
// extreme and the exit is filled exactly at the stop level. A trade still open after the last
// candle is marked at that candle's close with a nil exit index.
//
// Simulate performs no I/O and returns identical output for identical input.
func Simulate(candles []*domain.Kline, stopLossPct float64, dir domain.TrendDirection) (float64, []domain.RealizedTrade) {
	rule := ratchet.RuleFor(dir)
	final := 1.0
	trades := make([]domain.RealizedTrade, 0)
	n := len(candles)

	i := 0
	for i < n {
		entry := candles[i].Open
		trail := ratchet.NewTrail(rule, entry, stopLossPct, 0)
		qty := final / entry
		closed := false

		for j := i; j < n; j++ {
			c := candles[j]
			trail.Observe(c.High, c.Low)
			if !trail.Breached(c.High, c.Low) {
				continue
			}
			exit := trail.Stop
			mult := exit / entry
			final *= mult
			exitIdx := j
			trades = append(trades, domain.RealizedTrade{
				Symbol:     c.Symbol,
				EntryPrice: entry,
				ExitPrice:  exit,
				Quantity:   qty,
				Multiplier: mult,
				EntryIndex: i,
				ExitIndex:  &exitIdx,
			})
			i = j + 1
			closed = true
			break
		}

		if !closed {
			last := candles[n-1]
			mult := last.Close / entry
			final *= mult
			trades = append(trades, domain.RealizedTrade{
				Symbol:     last.Symbol,
				EntryPrice: entry,
				ExitPrice:  last.Close,
				Quantity:   qty,
				Multiplier: mult,
				EntryIndex: i,
			})
			break
		}
	}

	return final, trades
}

// Backtest validates the input, runs Simulate and attaches performance metrics.
func Backtest(klines []*domain.Kline, config BacktestConfig) (*BacktestResult, error) {
	if len(klines) == 0 {
		return nil, fmt.Errorf("no klines to backtest")
	}
	if config.StopLossPercent <= 0 || config.StopLossPercent >= 100 {
		return nil, fmt.Errorf("stop loss percent must be between 0 and 100 (exclusive), got %v", config.StopLossPercent)
	}
	for i, k := range klines {
		if !k.Valid() {
			return nil, fmt.Errorf("kline %d has non-positive or non-finite prices", i)
		}
	}

	funds := config.InitialFunds
	if funds <= 0 {
		funds = 1
	}

	final, trades := Simulate(klines, config.StopLossPercent, config.Trend)
	return &BacktestResult{
		Symbol:          config.Symbol,
		StopLossPercent: config.StopLossPercent,
		Trend:           config.Trend,
		FinalMultiplier: final,
		FinalBalance:    funds * final,
		Trades:          trades,
		Metrics:         analytics.AnalyzePerformance(trades, funds),
	}, nil
}
