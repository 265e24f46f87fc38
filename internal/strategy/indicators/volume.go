package indicators

import "ratchetBot/internal/domain"

// AverageVolume is the mean base volume over the window; 0 for an empty window.
func AverageVolume(klines []*domain.Kline) float64 {
	if len(klines) == 0 {
		return 0
	}
	var sum float64
	for _, k := range klines {
		sum += k.Volume
	}
	return sum / float64(len(klines))
}

// Fluctuation is the typical intra-candle range of a window.
type Fluctuation struct {
	Abs float64 // mean(high-low)
	Pct float64 // mean((high-low)/low*100)
}

// AverageFluctuation averages candle ranges over the window. Candles with a non-positive high
// or low are left out, and the divisor never drops below one.
func AverageFluctuation(klines []*domain.Kline) Fluctuation {
	var sumAbs, sumPct float64
	n := 0
	for _, k := range klines {
		if k == nil || k.High <= 0 || k.Low <= 0 {
			continue
		}
		diff := k.High - k.Low
		sumAbs += diff
		sumPct += diff / k.Low * 100
		n++
	}
	d := float64(max(n, 1))
	return Fluctuation{Abs: sumAbs / d, Pct: sumPct / d}
}
