package domain

import "time"

// TrackedPosition is an open position under ratchet protection.
type TrackedPosition struct {
	ID                int64          `db:"id"`
	Symbol            string         `db:"symbol"`
	Trend             TrendDirection `db:"trend"`
	EntryPrice        float64        `db:"entry_price"` // Fixed at entry
	Quantity          float64        `db:"quantity"`
	CurrentStopPrice  float64        `db:"current_stop_price"`
	ProtectionMode    ProtectionMode `db:"protection_mode"`
	ProtectiveOrderID int64          `db:"protective_order_id"` // 0 when no order is known to be live
	Unprotected       bool           `db:"unprotected"`
	QuoteAsset        string         `db:"quote_asset"`
	OpenedAt          time.Time      `db:"opened_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// IsNative reports whether the exchange maintains the trailing stop.
func (p *TrackedPosition) IsNative() bool {
	return p.ProtectionMode == ProtectionNative
}

// Notional returns quantity times the given price.
func (p *TrackedPosition) Notional(price float64) float64 {
	return p.Quantity * price
}
