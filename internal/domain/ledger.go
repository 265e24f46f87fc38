package domain

import "time"

// LedgerAction identifies the lifecycle event a ledger entry records.
type LedgerAction string

const (
	ActionBuy     LedgerAction = "BUY"
	ActionStopSet LedgerAction = "STOP_SET"
	ActionSell    LedgerAction = "SELL"
)

// LedgerEntry is one append-only audit line.
type LedgerEntry struct {
	ID            int64        `db:"id"`
	Timestamp     time.Time    `db:"timestamp"`
	Symbol        string       `db:"symbol"`
	Action        LedgerAction `db:"action"`
	Price         float64      `db:"price"`
	Quantity      float64      `db:"qty"`
	QuoteAmount   float64      `db:"quote_amount"`
	StopLossPrice float64      `db:"stop_loss_price"`
	Reason        string       `db:"reason"`
	TrendLabel    string       `db:"trend_label"`
}
