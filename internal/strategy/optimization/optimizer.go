package optimization

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/strategy/analytics"
	"ratchetBot/internal/strategy/backtesting"
)

// ParameterRange generates evenly spaced stop-loss percentages.
type ParameterRange struct {
	Min  float64
	Max  float64
	Step float64
}

// Values expands the range, inclusive of Max within half a step.
func (r ParameterRange) Values() []float64 {
	if r.Step <= 0 || r.Max < r.Min {
		return nil
	}
	var out []float64
	for i := 0; ; i++ {
		v := r.Min + float64(i)*r.Step
		if v > r.Max+r.Step/2 {
			break
		}
		out = append(out, v)
	}
	return out
}

// OptimizationResult holds the outcome of one stop-loss value.
type OptimizationResult struct {
	StopLossPercent float64
	Result          *backtesting.BacktestResult
	Score           float64
}

// OptimizerConfig holds configuration for the optimizer.
type OptimizerConfig struct {
	StopLossPercents []float64
	Trend            domain.TrendDirection
	Symbol           string
	InitialFunds     float64
	MaxParallel      int // 0 means one goroutine per value
	ScoreFunction    func(*analytics.PerformanceMetrics) float64
}

// Optimizer sweeps stop-loss percentages over one candle series.
type Optimizer struct {
	config OptimizerConfig
}

// NewOptimizer creates a new optimizer instance.
func NewOptimizer(config OptimizerConfig) *Optimizer {
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	return &Optimizer{config: config}
}

// Optimize simulates every configured stop-loss value in parallel and returns the results
// ordered best first. Each run is independent, so the sweep only fails on invalid input.
func (o *Optimizer) Optimize(ctx context.Context, klines []*domain.Kline) ([]OptimizationResult, error) {
	if len(o.config.StopLossPercents) == 0 {
		return nil, fmt.Errorf("no stop loss values to optimize")
	}

	results := make([]OptimizationResult, len(o.config.StopLossPercents))
	g, ctx := errgroup.WithContext(ctx)
	if o.config.MaxParallel > 0 {
		g.SetLimit(o.config.MaxParallel)
	}

	for i, pct := range o.config.StopLossPercents {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := backtesting.Backtest(klines, backtesting.BacktestConfig{
				Symbol:          o.config.Symbol,
				StopLossPercent: pct,
				Trend:           o.config.Trend,
				InitialFunds:    o.config.InitialFunds,
			})
			if err != nil {
				return fmt.Errorf("stop loss %.2f%%: %w", pct, err)
			}
			results[i] = OptimizationResult{
				StopLossPercent: pct,
				Result:          res,
				Score:           o.config.ScoreFunction(res.Metrics),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortResultsByScore(results)
	return results, nil
}

// sortResultsByScore orders results by score descending, breaking ties on the smaller stop.
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].StopLossPercent < results[j].StopLossPercent
	})
}

// DefaultScoreFunction ranks by final multiplier, using win rate as a small tie breaker.
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	if metrics == nil {
		return 0
	}
	return metrics.FinalMultiplier + metrics.WinRate*1e-6
}
