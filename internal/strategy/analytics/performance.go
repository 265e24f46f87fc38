package analytics

import (
	"math"

	"ratchetBot/internal/domain"
)

// PerformanceMetrics summarizes a sequence of realized trades whose returns compound.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int
	ClosedTrades       int // Trades that exited on a stop
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	FinalMultiplier    float64
	FinalBalance       float64
	TotalProfit        float64 // FinalBalance - initial balance
	ReturnOnInvestment float64
	MaxDrawdown        float64 // Largest peak-to-trough fall of the equity curve, as a fraction
	AverageWinPct      float64
	AverageLossPct     float64
	BestTradePct       float64
	WorstTradePct      float64

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	ProfitFactor         float64 // Gross gain over gross loss, in quote terms
	Expectancy           float64 // Expected return per trade in percent
	RecoveryFactor       float64
	EquityCurve          []EquityPoint
}

// EquityPoint represents a point on the equity curve.
type EquityPoint struct {
	TradeIndex int
	Value      float64
	Drawdown   float64
}

// AnalyzePerformance compounds initialBalance through the trades in order and derives the metrics.
func AnalyzePerformance(trades []domain.RealizedTrade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalMultiplier: 1,
		FinalBalance:    initialBalance,
		EquityCurve:     make([]EquityPoint, 0, len(trades)),
	}
	if len(trades) == 0 {
		return metrics
	}

	balance := initialBalance
	peak := initialBalance
	var grossGain, grossLoss float64
	var sumWinPct, sumLossPct float64
	var wins, losses int
	metrics.BestTradePct = math.Inf(-1)
	metrics.WorstTradePct = math.Inf(1)

	for i, tr := range trades {
		metrics.TotalTrades++
		if tr.Closed() {
			metrics.ClosedTrades++
		}

		pct := tr.ReturnPct()
		pnl := balance * (tr.Multiplier - 1)
		balance += pnl
		metrics.FinalMultiplier *= tr.Multiplier

		if pct > 0 {
			metrics.WinningTrades++
			grossGain += pnl
			sumWinPct += pct
			wins++
			losses = 0
		} else {
			metrics.LosingTrades++
			grossLoss -= pnl
			sumLossPct += pct
			losses++
			wins = 0
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, wins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, losses)
		metrics.BestTradePct = math.Max(metrics.BestTradePct, pct)
		metrics.WorstTradePct = math.Min(metrics.WorstTradePct, pct)

		if balance > peak {
			peak = balance
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - balance) / peak
		}
		metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, dd)
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{TradeIndex: i, Value: balance, Drawdown: dd})
	}

	metrics.FinalBalance = balance
	metrics.TotalProfit = balance - initialBalance
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = metrics.TotalProfit / initialBalance
	}
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWinPct = sumWinPct / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLossPct = sumLossPct / float64(metrics.LosingTrades)
	}
	if grossLoss > 0 {
		metrics.ProfitFactor = grossGain / grossLoss
	}
	metrics.Expectancy = metrics.WinRate*metrics.AverageWinPct + (1-metrics.WinRate)*metrics.AverageLossPct
	if metrics.MaxDrawdown > 0 && initialBalance > 0 {
		metrics.RecoveryFactor = metrics.TotalProfit / (initialBalance * metrics.MaxDrawdown)
	}

	return metrics
}
