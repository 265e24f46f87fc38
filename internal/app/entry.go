package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
	"ratchetBot/internal/ratchet"
	"ratchetBot/internal/stoploss"
)

// Ledger reasons for entries written by the executor.
const (
	ReasonSignal = "signal"
)

// ErrAlreadyTracked is returned when a signal names a symbol that is already protected.
var ErrAlreadyTracked = errors.New("symbol already has a tracked position")

// EntryExchange is the part of the exchange the entry path needs.
type EntryExchange interface {
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	GetAccountBalance(ctx context.Context, asset string) (float64, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.OrderResponse, error)
}

// EntrySettings are the reloadable knobs of the entry path.
type EntrySettings struct {
	AllowShortEntries bool
	SettleDelay       time.Duration // Wait between the market fill and the balance read
}

// EntryConfig wires an EntryExecutor.
type EntryConfig struct {
	Exchange    EntryExchange
	Filters     stoploss.FilterSource
	Controller  *stoploss.Controller
	Ledger      ports.LedgerRepository
	Logger      ports.Logger
	Settings    EntrySettings
	CallTimeout time.Duration
	TrendLabel  func() string                               // Optional
	Sleep       func(ctx context.Context, d time.Duration) // Optional, for tests
	Now         func() time.Time                            // Optional
}

// EntryExecutor turns a signal into a protected position.
type EntryExecutor struct {
	exchange    EntryExchange
	filters     stoploss.FilterSource
	controller  *stoploss.Controller
	ledger      ports.LedgerRepository
	logger      ports.Logger
	callTimeout time.Duration
	trendLabel  func() string
	sleep       func(ctx context.Context, d time.Duration)
	now         func() time.Time

	mu       sync.RWMutex
	settings EntrySettings
}

// NewEntryExecutor creates an entry executor.
func NewEntryExecutor(cfg EntryConfig) (*EntryExecutor, error) {
	if cfg.Exchange == nil || cfg.Filters == nil || cfg.Controller == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("missing required dependencies for entry executor")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for entry executor")
	}
	e := &EntryExecutor{
		exchange:    cfg.Exchange,
		filters:     cfg.Filters,
		controller:  cfg.Controller,
		ledger:      cfg.Ledger,
		logger:      cfg.Logger,
		callTimeout: cfg.CallTimeout,
		trendLabel:  cfg.TrendLabel,
		sleep:       cfg.Sleep,
		now:         cfg.Now,
		settings:    cfg.Settings,
	}
	if e.callTimeout <= 0 {
		e.callTimeout = 10 * time.Second
	}
	if e.trendLabel == nil {
		e.trendLabel = func() string { return "" }
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e, nil
}

// Configure swaps the entry settings for subsequent entries.
func (e *EntryExecutor) Configure(s EntrySettings) {
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
}

func (e *EntryExecutor) currentSettings() EntrySettings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// Enter opens a position for the signal and puts it under protection. A position is only
// tracked once its protective order is confirmed; if no protective order can be established
// the entry is closed again at market.
func (e *EntryExecutor) Enter(ctx context.Context, sig domain.Signal) error {
	op := "Enter"
	settings := e.currentSettings()
	rm := e.controller.Risk()
	book := e.controller.Book()

	if sig.Trend == domain.TrendNegative && !settings.AllowShortEntries {
		return fmt.Errorf("%s failed: %w: short-bias entries are disabled", op, ports.ErrInvalidRequest)
	}

	unlock := e.controller.LockSymbol(sig.Symbol)
	defer unlock()

	if book.Has(sig.Symbol) {
		return fmt.Errorf("%s failed: %w: %s", op, ErrAlreadyTracked, sig.Symbol)
	}
	if err := rm.CanOpen(book.Len()); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	// 1. Fresh filters and sizing
	filters, err := e.filterCall(ctx, sig.Symbol)
	if err != nil {
		return fmt.Errorf("%s failed: fetching filters for %s: %w", op, sig.Symbol, err)
	}
	price := sig.LastPrice
	if p, err := e.price(ctx, sig.Symbol); err == nil {
		price = p
	} else {
		e.logger.Warn(ctx, op+": Using signal price, ticker unavailable", map[string]interface{}{"symbol": sig.Symbol, "error": err.Error()})
	}
	qty, err := rm.SizeEntry(sig.Budget, price, filters)
	if err != nil {
		return fmt.Errorf("%s failed: sizing %s: %w", op, sig.Symbol, err)
	}
	quantityStr := ratchet.FormatToStep(qty, filters.StepSize)

	// 2. Market entry
	side := sig.Trend.EntrySide()
	e.logger.Info(ctx, op+": Placing market entry order", map[string]interface{}{
		"symbol":   sig.Symbol,
		"side":     side,
		"quantity": quantityStr,
		"price":    price,
		"budget":   sig.Budget,
	})
	order, err := e.marketOrder(ctx, sig.Symbol, side, quantityStr)
	if err != nil {
		return fmt.Errorf("%s failed: market entry for %s: %w", op, sig.Symbol, err)
	}
	fillPrice := price
	if order != nil && order.AvgPrice > 0 {
		fillPrice = order.AvgPrice
	}
	if order != nil && order.ExecutedQty > 0 {
		qty = order.ExecutedQty
	}

	// 3. Settle, then take the free balance as the authoritative size
	e.sleep(ctx, settings.SettleDelay)
	qty = e.settledQuantity(ctx, sig, qty, filters)

	// 4. Protection
	protective, mode, stop, err := e.controller.PlaceProtection(ctx, sig.Symbol, sig.Trend, qty, fillPrice, filters)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to place protective order, checking open orders", map[string]interface{}{"symbol": sig.Symbol})
		adopted := e.recover(ctx, sig.Symbol, sig.Trend)
		if adopted == nil {
			closeErr := e.emergencyClose(ctx, sig, qty, fillPrice, filters)
			if closeErr != nil {
				e.logger.Error(ctx, closeErr, op+": EMERGENCY CLOSE FAILED", map[string]interface{}{"symbol": sig.Symbol})
			}
			return fmt.Errorf("%s failed: %w: %w (emergency close attempted)", op, ports.ErrUnprotected, err)
		}
		protective = &ports.OrderResponse{OrderID: adopted.OrderID, Symbol: sig.Symbol, StopPrice: adopted.StopPrice}
		if adopted.StopPrice > 0 {
			stop = adopted.StopPrice
		}
		if mode == "" {
			mode = domain.ProtectionSynthetic
		}
	}

	// 5. Audit and track
	e.appendLedger(ctx, &domain.LedgerEntry{
		Timestamp:     e.now(),
		Symbol:        sig.Symbol,
		Action:        domain.ActionBuy,
		Price:         fillPrice,
		Quantity:      qty,
		QuoteAmount:   qty * fillPrice,
		StopLossPrice: stop,
		Reason:        ReasonSignal + "/" + sig.Trend.String(),
		TrendLabel:    e.trendLabel(),
	})

	now := e.now()
	pos := domain.TrackedPosition{
		Symbol:            sig.Symbol,
		Trend:             sig.Trend,
		EntryPrice:        fillPrice,
		Quantity:          qty,
		CurrentStopPrice:  stop,
		ProtectionMode:    mode,
		ProtectiveOrderID: protective.OrderID,
		QuoteAsset:        sig.QuoteAsset,
		OpenedAt:          now,
		UpdatedAt:         now,
	}
	if err := e.controller.Track(ctx, pos, fillPrice); err != nil {
		return fmt.Errorf("%s failed: tracking %s: %w", op, sig.Symbol, err)
	}
	e.logger.Info(ctx, op+": Position opened and protected", map[string]interface{}{
		"symbol":     sig.Symbol,
		"entryPrice": fillPrice,
		"quantity":   qty,
		"stopPrice":  stop,
		"mode":       mode,
		"orderID":    protective.OrderID,
	})
	return nil
}

// settledQuantity reads the free base balance after a long entry. Short-bias entries keep the
// executed quantity since the balance of the base asset is what was sold.
func (e *EntryExecutor) settledQuantity(ctx context.Context, sig domain.Signal, qty float64, filters *domain.SymbolFilters) float64 {
	op := "settledQuantity"
	if sig.Trend != domain.TrendPositive {
		return ratchet.RoundToStep(qty, filters.StepSize)
	}
	base := filters.BaseAsset
	if base == "" {
		base = sig.BaseAsset()
	}
	cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	free, err := e.exchange.GetAccountBalance(cctx, base)
	if err != nil {
		e.logger.Warn(ctx, op+": Balance read failed, using executed quantity", map[string]interface{}{"symbol": sig.Symbol, "error": err.Error()})
		return ratchet.RoundToStep(qty, filters.StepSize)
	}
	settled := ratchet.RoundToStep(free, filters.StepSize)
	if settled <= 0 {
		return ratchet.RoundToStep(qty, filters.StepSize)
	}
	return settled
}

// recover looks for a protective order that rests on the exchange even though placement
// reported a failure.
func (e *EntryExecutor) recover(ctx context.Context, symbol string, trend domain.TrendDirection) *ports.OpenOrder {
	op := "recover"
	cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	orders, err := e.exchange.GetOpenOrders(cctx, symbol)
	if err != nil {
		e.logger.Error(ctx, err, op+": Recovery read failed", map[string]interface{}{"symbol": symbol})
		return nil
	}
	found := stoploss.FindProtectiveOrder(orders, trend.ExitSide())
	if found != nil {
		e.logger.Warn(ctx, op+": Adopting protective order found on exchange", map[string]interface{}{
			"symbol":    symbol,
			"orderID":   found.OrderID,
			"stopPrice": found.StopPrice,
		})
	}
	return found
}

// emergencyClose unwinds an entry that could not be protected and records both legs.
func (e *EntryExecutor) emergencyClose(ctx context.Context, sig domain.Signal, qty, entryPrice float64, filters *domain.SymbolFilters) error {
	op := "emergencyClose"
	e.logger.Warn(ctx, op+": Attempting to close position immediately", map[string]interface{}{
		"symbol":     sig.Symbol,
		"entryPrice": entryPrice,
		"quantity":   qty,
	})
	order, err := e.marketOrder(ctx, sig.Symbol, sig.Trend.ExitSide(), ratchet.FormatToStep(qty, filters.StepSize))
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	exit := entryPrice
	if order != nil && order.AvgPrice > 0 {
		exit = order.AvgPrice
	}
	label := e.trendLabel()
	e.appendLedger(ctx, &domain.LedgerEntry{
		Timestamp:   e.now(),
		Symbol:      sig.Symbol,
		Action:      domain.ActionBuy,
		Price:       entryPrice,
		Quantity:    qty,
		QuoteAmount: qty * entryPrice,
		Reason:      ReasonSignal + "/" + sig.Trend.String(),
		TrendLabel:  label,
	})
	e.appendLedger(ctx, &domain.LedgerEntry{
		Timestamp:   e.now(),
		Symbol:      sig.Symbol,
		Action:      domain.ActionSell,
		Price:       exit,
		Quantity:    qty,
		QuoteAmount: qty * exit,
		Reason:      string(domain.CloseReasonEmergency),
		TrendLabel:  label,
	})
	e.logger.Info(ctx, op+": Emergency close order placed", map[string]interface{}{"symbol": sig.Symbol, "exitPrice": exit})
	return nil
}

func (e *EntryExecutor) filterCall(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.filters.Fresh(cctx, symbol)
}

func (e *EntryExecutor) price(ctx context.Context, symbol string) (float64, error) {
	cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	p, err := e.exchange.GetTickerPrice(cctx, symbol)
	if err != nil {
		return 0, err
	}
	if p <= 0 {
		return 0, fmt.Errorf("%w: price %f for %s", ports.ErrMalformedData, p, symbol)
	}
	return p, nil
}

func (e *EntryExecutor) marketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.OrderResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.exchange.PlaceMarketOrder(cctx, symbol, side, quantity)
}

func (e *EntryExecutor) appendLedger(ctx context.Context, entry *domain.LedgerEntry) {
	if _, err := e.ledger.Append(ctx, entry); err != nil {
		e.logger.Error(ctx, err, "appendLedger: Failed to write ledger entry", map[string]interface{}{
			"symbol": entry.Symbol,
			"action": entry.Action,
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
