package domain

import (
	"math"
	"time"
)

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "1m", "1h")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume (base asset)
}

// Valid reports whether all four prices are finite and positive.
func (k *Kline) Valid() bool {
	if k == nil {
		return false
	}
	for _, v := range [...]float64{k.Open, k.High, k.Low, k.Close} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Ticker24h is the rolling 24-hour summary for one symbol.
type Ticker24h struct {
	Symbol             string
	PriceChangePercent float64
	QuoteVolume        float64
	LastPrice          float64
}
