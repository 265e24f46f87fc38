package domain

// SymbolFilters holds the exchange-imposed quantization and minimum-order rules for one symbol.
type SymbolFilters struct {
	Symbol            string  `json:"symbol"`
	BaseAsset         string  `json:"base_asset"`
	QuoteAsset        string  `json:"quote_asset"`
	TickSize          float64 `json:"tick_size"`
	StepSize          float64 `json:"step_size"`
	MinQty            float64 `json:"min_qty"`
	MinPrice          float64 `json:"min_price"`
	MinNotional       float64 `json:"min_notional"`
	TrailingSupported bool    `json:"trailing_supported"` // Exchange accepts trailing-delta stops for the symbol
}
