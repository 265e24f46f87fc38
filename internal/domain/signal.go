package domain

// Signal is an ephemeral recommendation to enter a position.
type Signal struct {
	Symbol            string
	Trend             TrendDirection
	QuoteAsset        string  // Quote asset the symbol was matched under (e.g. "USDC")
	Budget            float64 // Quote amount to commit on entry
	LastPrice         float64 // Close of the newest candle in the window
	OverallGrowthPct  float64 // Growth from the first open to the last close of the window
	RecentGrowthPct   float64 // Growth over the trailing recent window
	AvgFluctuationAbs float64 // Mean of high-low over the window
	AvgFluctuationPct float64 // Mean of (high-low)/low*100 over the window

	// Diagnostics only, never part of admission.
	RSI       float64
	AvgVolume float64
}

// BaseAsset strips the quote asset suffix from the symbol.
func (s Signal) BaseAsset() string {
	if len(s.QuoteAsset) > 0 && len(s.Symbol) > len(s.QuoteAsset) {
		return s.Symbol[:len(s.Symbol)-len(s.QuoteAsset)]
	}
	return s.Symbol
}
