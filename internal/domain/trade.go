package domain

// RealizedTrade is one closed round trip produced by the simulator or derived from the ledger.
type RealizedTrade struct {
	Symbol     string
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Multiplier float64 // ExitPrice / EntryPrice
	EntryIndex int
	ExitIndex  *int // nil when the trade was still open at the end of the window
}

// Closed reports whether the trade exited on a stop inside the window.
func (t RealizedTrade) Closed() bool {
	return t.ExitIndex != nil
}

// ReturnPct is the trade's return in percent.
func (t RealizedTrade) ReturnPct() float64 {
	return (t.Multiplier - 1) * 100
}
