package ports

import (
	"context"
	"time"

	"ratchetBot/internal/domain"
)

// OrderStatus values the core distinguishes.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusExpired         = "EXPIRED"
	OrderStatusRejected        = "REJECTED"
)

// OrderResponse represents the essential details returned after placing or querying an order.
type OrderResponse struct {
	OrderID       int64     // Exchange's order ID
	Symbol        string    // Symbol for the order
	ClientOrderID string    // User-defined order ID
	Price         float64   // Limit price (0 for market orders)
	StopPrice     float64   // Trigger price for stop orders
	AvgPrice      float64   // Average filled price
	OrigQuantity  float64   // Original quantity requested
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED, CANCELED)
	Type          string    // Order type (e.g., MARKET, STOP_LOSS_LIMIT)
	Side          string    // Order side (BUY, SELL)
	Timestamp     time.Time // Time the order response was generated
}

// IsFilled reports whether the order fully executed.
func (o *OrderResponse) IsFilled() bool {
	return o != nil && o.Status == OrderStatusFilled
}

// OpenOrder is one resting order as listed by the exchange.
type OpenOrder struct {
	OrderID   int64
	Symbol    string
	Type      string
	Side      string
	Price     float64
	OrigQty   float64
	StopPrice float64
}

// StopLimitRequest describes a stop-limit protective order.
type StopLimitRequest struct {
	Symbol     string
	Side       domain.OrderSide
	Quantity   string
	StopPrice  string
	LimitPrice string
}

// TrailingStopRequest describes an exchange-maintained trailing stop.
type TrailingStopRequest struct {
	Symbol          string
	Side            domain.OrderSide
	Quantity        string
	CallbackRatePct float64 // Trail distance in percent of price
	ActivationPrice string  // Optional; empty activates immediately
}

// MarketDataProvider supplies the read-only market snapshots discovery and the controller need.
type MarketDataProvider interface {
	// Get24hTickers returns the 24-hour rolling summary of every listed symbol.
	Get24hTickers(ctx context.Context) ([]domain.Ticker24h, error)

	// GetKlines retrieves the latest klines for the given symbol, oldest first.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)

	// GetKlinesRange retrieves klines between start and end, paging as needed.
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)

	// GetTickerPrice retrieves the last traded price for a given symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetSymbolFilters retrieves tick/step sizes, minimums and trailing capability for a symbol.
	GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error)
}

// AccountProvider exposes balances and open orders of the trading account.
type AccountProvider interface {
	// GetBalances returns asset -> free quantity for every asset with a non-zero balance.
	GetBalances(ctx context.Context) (map[string]float64, error)

	// GetAccountBalance retrieves the free balance for a specific asset (e.g., "USDC").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)

	// GetOpenOrders lists resting orders; an empty symbol lists all symbols.
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	// GetOrder retrieves the current state of an order.
	GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)
}

// OrderExecutor places and cancels orders.
type OrderExecutor interface {
	// PlaceMarketOrder places a market order for the given base quantity.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*OrderResponse, error)

	// PlaceStopLimitOrder places a stop-limit order.
	PlaceStopLimitOrder(ctx context.Context, req StopLimitRequest) (*OrderResponse, error)

	// PlaceTrailingStopOrder places an exchange-maintained trailing stop.
	PlaceTrailingStopOrder(ctx context.Context, req TrailingStopRequest) (*OrderResponse, error)

	// CancelOrder cancels an existing open order by its ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)
}

// ExchangeClient defines the interface for interacting with a spot exchange.
// This abstraction allows decoupling the core bot logic from specific exchange implementations.
type ExchangeClient interface {
	MarketDataProvider
	AccountProvider
	OrderExecutor

	// SetServerTime synchronizes the client's time with the server's time.
	SetServerTime(ctx context.Context) error

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}
