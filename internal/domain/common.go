package domain

import "strings"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that unwinds an order of this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TrendDirection selects which side of a move the bot trades.
type TrendDirection int

const (
	// TrendPositive enters on upward momentum and protects with a rising stop.
	TrendPositive TrendDirection = iota
	// TrendNegative enters on downward momentum and protects with a falling stop.
	TrendNegative
)

// String returns the label used in logs, config and the ledger.
func (t TrendDirection) String() string {
	switch t {
	case TrendPositive:
		return "Positive"
	case TrendNegative:
		return "Negative"
	default:
		return "Unknown"
	}
}

// EntrySide is the order side that opens a position in this direction.
func (t TrendDirection) EntrySide() OrderSide {
	if t == TrendNegative {
		return Sell
	}
	return Buy
}

// ExitSide is the order side of the protective stop.
func (t TrendDirection) ExitSide() OrderSide {
	return t.EntrySide().Opposite()
}

// ParseTrendDirection converts "positive"/"negative" (any case, also "long"/"short") to a TrendDirection.
func ParseTrendDirection(s string) (TrendDirection, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "pos", "long", "up":
		return TrendPositive, true
	case "negative", "neg", "short", "down":
		return TrendNegative, true
	default:
		return TrendPositive, false
	}
}

// ProtectionMode says who maintains the trailing behaviour of a protective order.
type ProtectionMode string

const (
	// ProtectionNative is an exchange-maintained trailing order placed once at entry.
	ProtectionNative ProtectionMode = "NATIVE"
	// ProtectionSynthetic is a stop-limit order cancelled and re-placed by the controller.
	ProtectionSynthetic ProtectionMode = "SYNTHETIC"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss  CloseReason = "STOP_FILLED"
	CloseReasonExternal  CloseReason = "EXTERNAL"
	CloseReasonEmergency CloseReason = "EMERGENCY"
	CloseReasonWindowEnd CloseReason = "WINDOW_END"
)
