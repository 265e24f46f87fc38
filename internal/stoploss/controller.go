// Package stoploss keeps every open position under a stop that only ever tightens.
// Positions on symbols with exchange trailing support are protected once by a native trailing
// order; all others get a stop-limit order that the controller cancels and re-places as the
// market moves in their favour.
package stoploss

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
	"ratchetBot/internal/ratchet"
	"ratchetBot/internal/risk"
)

const (
	defaultCallTimeout = 10 * time.Second
	defaultConcurrency = 4
)

// Ledger reasons written with STOP_SET and SELL entries.
const (
	ReasonInitial   = "initial"
	ReasonRatchet   = "ratchet"
	ReasonReprotect = "reprotect"
	ReasonAdopted   = "adopted"
	ReasonPromoted  = "promoted"
)

// Exchange is the part of the exchange client the controller drives.
type Exchange interface {
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.OrderResponse, error)
	PlaceStopLimitOrder(ctx context.Context, req ports.StopLimitRequest) (*ports.OrderResponse, error)
	PlaceTrailingStopOrder(ctx context.Context, req ports.TrailingStopRequest) (*ports.OrderResponse, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error)
}

// FilterSource supplies symbol filters. Fresh must bypass any cache.
type FilterSource interface {
	Get(ctx context.Context, symbol string) (*domain.SymbolFilters, error)
	Fresh(ctx context.Context, symbol string) (*domain.SymbolFilters, error)
	Invalidate(ctx context.Context, symbol string)
}

// Config wires a Controller.
type Config struct {
	Exchange    Exchange
	Filters     FilterSource
	Risk        *risk.RiskManager
	Book        *Book
	Ledger      ports.LedgerRepository
	Positions   ports.PositionRepository // Optional
	Metrics     ports.Metrics            // Optional
	Logger      ports.Logger
	CallTimeout time.Duration
	Concurrency int              // Symbols processed in parallel per tick
	TrendLabel  func() string    // Market trend label for ledger entries; optional
	Now         func() time.Time // Optional
}

// Controller runs the stop-loss ratchet.
type Controller struct {
	exchange    Exchange
	filters     FilterSource
	book        *Book
	ledger      ports.LedgerRepository
	positions   ports.PositionRepository
	metrics     ports.Metrics
	logger      ports.Logger
	callTimeout time.Duration
	concurrency int
	trendLabel  func() string
	now         func() time.Time

	riskMu sync.RWMutex
	risk   *risk.RiskManager

	symbolLocks sync.Map // symbol -> *sync.Mutex
}

// New creates a controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Exchange == nil || cfg.Filters == nil || cfg.Risk == nil || cfg.Book == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("missing required dependencies for stop-loss controller")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for stop-loss controller")
	}
	c := &Controller{
		exchange:    cfg.Exchange,
		filters:     cfg.Filters,
		book:        cfg.Book,
		ledger:      cfg.Ledger,
		positions:   cfg.Positions,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		callTimeout: cfg.CallTimeout,
		concurrency: cfg.Concurrency,
		trendLabel:  cfg.TrendLabel,
		now:         cfg.Now,
		risk:        cfg.Risk,
	}
	if c.metrics == nil {
		c.metrics = ports.NopMetrics{}
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	if c.trendLabel == nil {
		c.trendLabel = func() string { return "" }
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c, nil
}

// UpdateRisk swaps the stop distance and order rules used from the next symbol onwards.
func (c *Controller) UpdateRisk(rm *risk.RiskManager) {
	if rm == nil {
		return
	}
	c.riskMu.Lock()
	c.risk = rm
	c.riskMu.Unlock()
}

// Risk returns the risk manager currently in force.
func (c *Controller) Risk() *risk.RiskManager {
	return c.riskManager()
}

func (c *Controller) riskManager() *risk.RiskManager {
	c.riskMu.RLock()
	defer c.riskMu.RUnlock()
	return c.risk
}

// Book returns the tracked-position book.
func (c *Controller) Book() *Book {
	return c.book
}

// LockSymbol serialises work on one symbol across the entry path and ticks.
func (c *Controller) LockSymbol(symbol string) func() {
	v, _ := c.symbolLocks.LoadOrStore(symbol, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Restore loads persisted positions into the book. Positions already tracked are kept.
func (c *Controller) Restore(ctx context.Context) (int, error) {
	op := "Restore"
	if c.positions == nil {
		return 0, nil
	}
	saved, err := c.positions.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", op, err)
	}
	n := 0
	for _, p := range saved {
		if err := c.book.Add(*p); err != nil {
			c.logger.Warn(ctx, op+": Skipping duplicate position", map[string]interface{}{"symbol": p.Symbol})
			continue
		}
		n++
		c.logger.Info(ctx, op+": Restored tracked position", map[string]interface{}{
			"symbol":      p.Symbol,
			"mode":        p.ProtectionMode,
			"stopPrice":   p.CurrentStopPrice,
			"orderID":     p.ProtectiveOrderID,
			"unprotected": p.Unprotected,
		})
	}
	c.updateGauges()
	return n, nil
}

// Track adds a freshly protected position to the book, persists it and records the initial stop.
func (c *Controller) Track(ctx context.Context, pos domain.TrackedPosition, price float64) error {
	if err := c.book.Add(pos); err != nil {
		return err
	}
	c.persist(ctx, pos)
	c.recordStop(ctx, pos, price, ReasonInitial)
	c.metrics.PositionOpened(pos.ProtectionMode)
	c.updateGauges()
	return nil
}

// Tick runs one pass over every tracked position and returns the book afterwards.
// Symbols are processed in parallel; a failure on one symbol never affects another.
func (c *Controller) Tick(ctx context.Context) []domain.TrackedPosition {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, pos := range c.book.Snapshot() {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			unlock := c.LockSymbol(pos.Symbol)
			defer unlock()
			// Re-read under the symbol lock; the entry path may have changed it.
			current, ok := c.book.Get(pos.Symbol)
			if !ok {
				return nil
			}
			c.process(gctx, current)
			return nil
		})
	}
	_ = g.Wait()
	c.updateGauges()
	return c.book.Snapshot()
}

func (c *Controller) process(ctx context.Context, pos domain.TrackedPosition) {
	op := "process"

	if pos.ProtectiveOrderID != 0 {
		alive, closed, err := c.checkProtectiveOrder(ctx, pos)
		if err != nil {
			c.metrics.StopUpdateSkipped("order_status")
			c.logger.Warn(ctx, op+": Could not verify protective order, skipping symbol", map[string]interface{}{
				"symbol":  pos.Symbol,
				"orderID": pos.ProtectiveOrderID,
				"error":   err.Error(),
			})
			return
		}
		if closed != nil {
			c.retire(ctx, pos, exitPrice(closed, pos), domain.CloseReasonStopLoss)
			return
		}
		if !alive {
			updated, ok := c.book.Commit(pos.Symbol, pos.ProtectiveOrderID, func(p *domain.TrackedPosition) {
				p.ProtectiveOrderID = 0
				p.Unprotected = true
				p.UpdatedAt = c.now()
			})
			if !ok {
				return
			}
			c.logger.Warn(ctx, op+": Protective order is gone, position unprotected", map[string]interface{}{
				"symbol":  pos.Symbol,
				"orderID": pos.ProtectiveOrderID,
			})
			c.persist(ctx, updated)
			pos = updated
		}
	}

	if pos.Unprotected || pos.ProtectiveOrderID == 0 {
		c.reprotect(ctx, pos)
		return
	}
	if pos.IsNative() {
		return
	}
	c.ratchet(ctx, pos)
}

// checkProtectiveOrder looks for the recorded order among the symbol's open orders and falls back
// to its status. closed is set when the order has filled.
func (c *Controller) checkProtectiveOrder(ctx context.Context, pos domain.TrackedPosition) (alive bool, closed *ports.OrderResponse, err error) {
	orders, err := c.openOrders(ctx, pos.Symbol)
	if err != nil {
		return false, nil, err
	}
	for _, o := range orders {
		if o.OrderID == pos.ProtectiveOrderID {
			return true, nil, nil
		}
	}

	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	status, err := c.exchange.GetOrder(cctx, pos.Symbol, pos.ProtectiveOrderID)
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if status == nil {
		return false, nil, nil
	}
	switch {
	case status.IsFilled():
		return false, status, nil
	case status.Status == ports.OrderStatusNew || status.Status == ports.OrderStatusPartiallyFilled:
		return true, nil, nil
	default:
		return false, nil, nil
	}
}

// ratchet moves a synthetic stop when the current price yields a strictly tighter level.
func (c *Controller) ratchet(ctx context.Context, pos domain.TrackedPosition) {
	op := "ratchet"
	rm := c.riskManager()
	pct := rm.Config().StopLossPercent
	rule := ratchet.RuleFor(pos.Trend)

	price, err := c.price(ctx, pos.Symbol)
	if err != nil {
		c.metrics.StopUpdateSkipped("price")
		c.logger.Warn(ctx, op+": Failed to fetch price, skipping symbol", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
		return
	}
	cached, err := c.filterCall(ctx, pos.Symbol, c.filters.Get)
	if err != nil {
		c.metrics.StopUpdateSkipped("filters")
		c.logger.Warn(ctx, op+": Failed to fetch filters, skipping symbol", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
		return
	}

	if cached.TrailingSupported {
		if cand := rule.Candidate(price, pct, cached.TickSize); !rule.Tighter(pos.CurrentStopPrice, cand) {
			c.promote(ctx, pos, price)
			return
		}
	}

	stop, moved := rule.Advance(pos.CurrentStopPrice, price, pct, cached.TickSize)
	if !moved {
		c.metrics.StopUpdateSkipped("not_tighter")
		c.logger.Debug(ctx, op+": Candidate stop not tighter, keeping order", map[string]interface{}{
			"symbol":      pos.Symbol,
			"price":       price,
			"currentStop": pos.CurrentStopPrice,
		})
		return
	}

	fresh, err := c.filterCall(ctx, pos.Symbol, c.filters.Fresh)
	if err != nil {
		c.metrics.StopUpdateSkipped("filters")
		c.logger.Warn(ctx, op+": Failed to refresh filters, skipping symbol", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
		return
	}
	if fresh.TickSize != cached.TickSize {
		if stop, moved = rule.Advance(pos.CurrentStopPrice, price, pct, fresh.TickSize); !moved {
			c.metrics.StopUpdateSkipped("not_tighter")
			return
		}
	}

	qty := quantize(pos.Quantity, fresh.StepSize)
	if err := rm.ValidateStopLimit(qty, stop, pos.Trend, fresh); err != nil {
		c.metrics.StopUpdateSkipped("constraint")
		c.logger.Warn(ctx, op+": Replacement stop violates symbol filters, keeping current order", map[string]interface{}{
			"symbol": pos.Symbol,
			"stop":   stop,
			"qty":    qty,
			"error":  err.Error(),
		})
		return
	}

	c.logger.Info(ctx, op+": Tightening stop", map[string]interface{}{
		"symbol":  pos.Symbol,
		"price":   price,
		"oldStop": pos.CurrentStopPrice,
		"newStop": stop,
	})

	if err := c.cancel(ctx, pos); err != nil {
		c.metrics.StopUpdateSkipped("cancel")
		c.logger.Error(ctx, err, op+": Failed to cancel protective order, state unchanged", map[string]interface{}{
			"symbol":  pos.Symbol,
			"orderID": pos.ProtectiveOrderID,
		})
		return
	}

	order, err := c.placeStopLimit(ctx, pos.Symbol, pos.Trend, qty, stop, fresh)
	if err != nil {
		c.logger.Error(ctx, err, op+": Failed to place replacement stop after cancel", map[string]interface{}{"symbol": pos.Symbol})
		c.recover(ctx, pos, price)
		return
	}
	c.commitProtection(ctx, pos, order.OrderID, stop, domain.ProtectionSynthetic, price, ReasonRatchet)
}

// promote swaps a synthetic stop for a native trailing order once the symbol supports it.
func (c *Controller) promote(ctx context.Context, pos domain.TrackedPosition, price float64) {
	op := "promote"
	fresh, err := c.filterCall(ctx, pos.Symbol, c.filters.Fresh)
	if err != nil || !fresh.TrailingSupported {
		return
	}
	rm := c.riskManager()
	pct := rm.Config().StopLossPercent
	qty := quantize(pos.Quantity, fresh.StepSize)
	stop, _ := ratchet.RuleFor(pos.Trend).Advance(pos.CurrentStopPrice, price, pct, fresh.TickSize)
	if err := rm.ValidateOrder(qty, stop, fresh); err != nil {
		c.logger.Warn(ctx, op+": Trailing order violates symbol filters, staying synthetic", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
		return
	}

	c.logger.Info(ctx, op+": Symbol supports trailing stops, handing stop to the exchange", map[string]interface{}{
		"symbol":      pos.Symbol,
		"currentStop": pos.CurrentStopPrice,
	})
	if err := c.cancel(ctx, pos); err != nil {
		c.logger.Error(ctx, err, op+": Failed to cancel synthetic stop, staying synthetic", map[string]interface{}{"symbol": pos.Symbol})
		return
	}
	order, err := c.placeTrailing(ctx, pos.Symbol, pos.Trend, qty, pct, fresh)
	if err != nil {
		c.logger.Error(ctx, err, op+": Failed to place trailing order after cancel", map[string]interface{}{"symbol": pos.Symbol})
		c.recover(ctx, pos, price)
		return
	}
	c.commitProtection(ctx, pos, order.OrderID, stop, domain.ProtectionNative, price, ReasonPromoted)
}

// reprotect places a protective order for a position that has none. A stop that the market has
// already crossed is not re-placed; the position is closed at market instead.
func (c *Controller) reprotect(ctx context.Context, pos domain.TrackedPosition) {
	op := "reprotect"
	rm := c.riskManager()
	pct := rm.Config().StopLossPercent
	rule := ratchet.RuleFor(pos.Trend)

	price, err := c.price(ctx, pos.Symbol)
	if err != nil {
		c.logger.Warn(ctx, op+": Failed to fetch price for unprotected position", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
		return
	}
	fresh, err := c.filterCall(ctx, pos.Symbol, c.filters.Fresh)
	if err != nil {
		c.logger.Warn(ctx, op+": Failed to fetch filters for unprotected position", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
		return
	}

	qty := quantize(pos.Quantity, fresh.StepSize)
	if pos.CurrentStopPrice > 0 && rule.Breached(pos.CurrentStopPrice, price, price) {
		c.logger.Warn(ctx, op+": Price already beyond stop, closing at market", map[string]interface{}{
			"symbol": pos.Symbol,
			"price":  price,
			"stop":   pos.CurrentStopPrice,
		})
		c.closeAtMarket(ctx, pos, qty, price, fresh)
		return
	}

	stop, _ := rule.Advance(pos.CurrentStopPrice, price, pct, fresh.TickSize)
	if err := validateProtection(rm, qty, stop, pos.Trend, fresh); err != nil {
		c.metrics.StopUpdateSkipped("constraint")
		c.logger.Error(ctx, err, op+": Cannot protect position within symbol filters", map[string]interface{}{"symbol": pos.Symbol, "qty": qty, "stop": stop})
		return
	}

	var order *ports.OrderResponse
	mode := domain.ProtectionSynthetic
	if fresh.TrailingSupported {
		mode = domain.ProtectionNative
		order, err = c.placeTrailing(ctx, pos.Symbol, pos.Trend, qty, pct, fresh)
	} else {
		order, err = c.placeStopLimit(ctx, pos.Symbol, pos.Trend, qty, stop, fresh)
	}
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientFunds) {
			c.logger.Warn(ctx, op+": Balance no longer covers the position, treating it as closed elsewhere", map[string]interface{}{"symbol": pos.Symbol})
			c.retire(ctx, pos, price, domain.CloseReasonExternal)
			return
		}
		c.logger.Error(ctx, err, op+": Failed to place protective order", map[string]interface{}{"symbol": pos.Symbol, "mode": mode})
		c.recover(ctx, pos, price)
		return
	}
	c.commitProtection(ctx, pos, order.OrderID, stop, mode, price, ReasonReprotect)
}

// recover runs after a placement failure that may have left no protective order. An order found
// on the exit side is adopted; otherwise the position is flagged unprotected.
func (c *Controller) recover(ctx context.Context, pos domain.TrackedPosition, price float64) {
	op := "recover"
	orders, err := c.openOrders(ctx, pos.Symbol)
	if err == nil {
		if found := FindProtectiveOrder(orders, pos.Trend.ExitSide()); found != nil {
			stop := pos.CurrentStopPrice
			if found.StopPrice > 0 && ratchet.RuleFor(pos.Trend).Tighter(found.StopPrice, stop) {
				stop = found.StopPrice
			}
			c.logger.Warn(ctx, op+": Adopting protective order found on the exchange", map[string]interface{}{"symbol": pos.Symbol, "orderID": found.OrderID})
			c.commitProtection(ctx, pos, found.OrderID, stop, pos.ProtectionMode, price, ReasonAdopted)
			return
		}
	} else {
		c.logger.Warn(ctx, op+": Recovery read failed", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
	}

	updated, ok := c.book.Commit(pos.Symbol, pos.ProtectiveOrderID, func(p *domain.TrackedPosition) {
		p.ProtectiveOrderID = 0
		p.Unprotected = true
		p.UpdatedAt = c.now()
	})
	if !ok {
		return
	}
	c.persist(ctx, updated)
	c.updateGauges()
	c.logger.Error(ctx, ports.ErrUnprotected, op+": Position left without protection, retrying next tick", map[string]interface{}{"symbol": pos.Symbol})
}

// commitProtection records a confirmed protective order. If the position changed underneath,
// the new order is orphaned and cancelled.
func (c *Controller) commitProtection(ctx context.Context, pos domain.TrackedPosition, orderID int64, stop float64, mode domain.ProtectionMode, price float64, reason string) {
	op := "commitProtection"
	updated, ok := c.book.Commit(pos.Symbol, pos.ProtectiveOrderID, func(p *domain.TrackedPosition) {
		p.ProtectiveOrderID = orderID
		p.CurrentStopPrice = stop
		p.ProtectionMode = mode
		p.Unprotected = false
		p.UpdatedAt = c.now()
	})
	if !ok {
		c.logger.Warn(ctx, op+": Position changed during update, cancelling new order", map[string]interface{}{"symbol": pos.Symbol, "orderID": orderID})
		if err := c.cancelOrderWarn(ctx, pos.Symbol, orderID); err != nil {
			c.logger.Error(ctx, err, op+": Failed to cancel orphaned order", map[string]interface{}{"symbol": pos.Symbol, "orderID": orderID})
		}
		return
	}
	c.persist(ctx, updated)
	c.recordStop(ctx, updated, price, reason)
	c.metrics.StopUpdated(mode)
	c.logger.Info(ctx, op+": Protective order in place", map[string]interface{}{
		"symbol":  updated.Symbol,
		"orderID": orderID,
		"stop":    stop,
		"mode":    mode,
		"reason":  reason,
	})
}

// closeAtMarket exits a position whose stop was crossed while it had no protective order.
func (c *Controller) closeAtMarket(ctx context.Context, pos domain.TrackedPosition, qty, price float64, filters *domain.SymbolFilters) {
	op := "closeAtMarket"
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	order, err := c.exchange.PlaceMarketOrder(cctx, pos.Symbol, pos.Trend.ExitSide(), ratchet.FormatToStep(qty, filters.StepSize))
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientFunds) {
			c.retire(ctx, pos, price, domain.CloseReasonExternal)
			return
		}
		c.logger.Error(ctx, err, op+": Failed to close unprotected position", map[string]interface{}{"symbol": pos.Symbol})
		return
	}
	exit := price
	if order != nil && order.AvgPrice > 0 {
		exit = order.AvgPrice
	}
	c.retire(ctx, pos, exit, domain.CloseReasonEmergency)
}

// retire removes a closed position and writes the SELL line.
func (c *Controller) retire(ctx context.Context, pos domain.TrackedPosition, exit float64, reason domain.CloseReason) {
	op := "retire"
	removed, ok := c.book.RemoveIf(pos.Symbol, pos.ProtectiveOrderID)
	if !ok {
		return
	}
	if c.positions != nil {
		if err := c.positions.Delete(ctx, removed.Symbol); err != nil {
			c.logger.Error(ctx, err, op+": Failed to delete tracked position", map[string]interface{}{"symbol": removed.Symbol})
		}
	}
	c.appendLedger(ctx, &domain.LedgerEntry{
		Timestamp:     c.now(),
		Symbol:        removed.Symbol,
		Action:        domain.ActionSell,
		Price:         exit,
		Quantity:      removed.Quantity,
		QuoteAmount:   removed.Notional(exit),
		StopLossPrice: removed.CurrentStopPrice,
		Reason:        string(reason),
		TrendLabel:    c.trendLabel(),
	})
	c.metrics.PositionClosed(removed.ProtectionMode, reason)
	c.updateGauges()
	c.logger.Info(ctx, op+": Position closed", map[string]interface{}{
		"symbol":     removed.Symbol,
		"entryPrice": removed.EntryPrice,
		"exitPrice":  exit,
		"reason":     reason,
	})
}

// PlaceProtection places the first protective order for a new position and reports which mode
// was used. The stop is the level a stop-limit is placed at, or the level a native trailing
// order starts from.
func (c *Controller) PlaceProtection(ctx context.Context, symbol string, trend domain.TrendDirection, qty, price float64, filters *domain.SymbolFilters) (*ports.OrderResponse, domain.ProtectionMode, float64, error) {
	rm := c.riskManager()
	pct := rm.Config().StopLossPercent
	stop := rm.GetStopLoss(price, trend, filters.TickSize)
	if err := validateProtection(rm, qty, stop, trend, filters); err != nil {
		return nil, "", 0, err
	}
	if filters.TrailingSupported {
		order, err := c.placeTrailing(ctx, symbol, trend, qty, pct, filters)
		return order, domain.ProtectionNative, stop, err
	}
	order, err := c.placeStopLimit(ctx, symbol, trend, qty, stop, filters)
	return order, domain.ProtectionSynthetic, stop, err
}

// validateProtection checks the order that will actually be placed: a native trailing order
// has only its stop, a stop-limit also has its limit price.
func validateProtection(rm *risk.RiskManager, qty, stop float64, trend domain.TrendDirection, filters *domain.SymbolFilters) error {
	if filters.TrailingSupported {
		return rm.ValidateOrder(qty, stop, filters)
	}
	return rm.ValidateStopLimit(qty, stop, trend, filters)
}

func (c *Controller) placeStopLimit(ctx context.Context, symbol string, trend domain.TrendDirection, qty, stop float64, filters *domain.SymbolFilters) (*ports.OrderResponse, error) {
	limit := c.riskManager().GetLimitPrice(stop, trend, filters.TickSize)
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	order, err := c.exchange.PlaceStopLimitOrder(cctx, ports.StopLimitRequest{
		Symbol:     symbol,
		Side:       trend.ExitSide(),
		Quantity:   ratchet.FormatToStep(qty, filters.StepSize),
		StopPrice:  ratchet.FormatToStep(stop, filters.TickSize),
		LimitPrice: ratchet.FormatToStep(limit, filters.TickSize),
	})
	if err != nil {
		c.dropRejectedFilters(ctx, symbol, err)
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: empty stop-limit response", ports.ErrOrderPlacementFailed)
	}
	return order, nil
}

func (c *Controller) placeTrailing(ctx context.Context, symbol string, trend domain.TrendDirection, qty, pct float64, filters *domain.SymbolFilters) (*ports.OrderResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	order, err := c.exchange.PlaceTrailingStopOrder(cctx, ports.TrailingStopRequest{
		Symbol:          symbol,
		Side:            trend.ExitSide(),
		Quantity:        ratchet.FormatToStep(qty, filters.StepSize),
		CallbackRatePct: pct,
	})
	if err != nil {
		c.dropRejectedFilters(ctx, symbol, err)
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: empty trailing stop response", ports.ErrOrderPlacementFailed)
	}
	return order, nil
}

// dropRejectedFilters evicts cached filters after the exchange rejected an order's parameters,
// so the next lookup reads the symbol's current tick and step.
func (c *Controller) dropRejectedFilters(ctx context.Context, symbol string, err error) {
	if errors.Is(err, ports.ErrInvalidRequest) {
		c.filters.Invalidate(ctx, symbol)
	}
}

// cancel removes the recorded protective order. An order that no longer exists counts as a
// failure so that the next tick's exit detection decides what happened to it.
func (c *Controller) cancel(ctx context.Context, pos domain.TrackedPosition) error {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	_, err := c.exchange.CancelOrder(cctx, pos.Symbol, pos.ProtectiveOrderID)
	return err
}

// cancelOrderWarn cancels an order, treating an already-gone order as success.
func (c *Controller) cancelOrderWarn(ctx context.Context, symbol string, orderID int64) error {
	op := "cancelOrderWarn"
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if _, err := c.exchange.CancelOrder(cctx, symbol, orderID); err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			c.logger.Warn(ctx, op+": Order not found, likely already filled or cancelled", map[string]interface{}{"symbol": symbol, "orderID": orderID})
			return nil
		}
		return err
	}
	return nil
}

func (c *Controller) openOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.exchange.GetOpenOrders(cctx, symbol)
}

func (c *Controller) price(ctx context.Context, symbol string) (float64, error) {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	p, err := c.exchange.GetTickerPrice(cctx, symbol)
	if err != nil {
		return 0, err
	}
	if p <= 0 {
		return 0, fmt.Errorf("%w: price %f for %s", ports.ErrMalformedData, p, symbol)
	}
	return p, nil
}

func (c *Controller) filterCall(ctx context.Context, symbol string, fn func(context.Context, string) (*domain.SymbolFilters, error)) (*domain.SymbolFilters, error) {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return fn(cctx, symbol)
}

func (c *Controller) persist(ctx context.Context, pos domain.TrackedPosition) {
	if c.positions == nil {
		return
	}
	if err := c.positions.Save(ctx, &pos); err != nil {
		c.logger.Error(ctx, err, "persist: Failed to save tracked position", map[string]interface{}{"symbol": pos.Symbol})
	}
}

func (c *Controller) recordStop(ctx context.Context, pos domain.TrackedPosition, price float64, reason string) {
	c.appendLedger(ctx, &domain.LedgerEntry{
		Timestamp:     c.now(),
		Symbol:        pos.Symbol,
		Action:        domain.ActionStopSet,
		Price:         price,
		Quantity:      pos.Quantity,
		QuoteAmount:   pos.Notional(price),
		StopLossPrice: pos.CurrentStopPrice,
		Reason:        reason + "/" + strings.ToLower(string(pos.ProtectionMode)),
		TrendLabel:    c.trendLabel(),
	})
}

func (c *Controller) appendLedger(ctx context.Context, entry *domain.LedgerEntry) {
	if _, err := c.ledger.Append(ctx, entry); err != nil {
		c.logger.Error(ctx, err, "appendLedger: Failed to write ledger entry", map[string]interface{}{
			"symbol": entry.Symbol,
			"action": entry.Action,
		})
	}
}

func (c *Controller) updateGauges() {
	c.metrics.SetTrackedPositions(c.book.Len())
	c.metrics.SetUnprotectedPositions(c.book.Unprotected())
}

// FindProtectiveOrder picks the newest stop order on the exit side, or nil.
func FindProtectiveOrder(orders []ports.OpenOrder, exitSide domain.OrderSide) *ports.OpenOrder {
	var found *ports.OpenOrder
	for i := range orders {
		o := &orders[i]
		if !strings.EqualFold(o.Side, string(exitSide)) || !strings.Contains(strings.ToUpper(o.Type), "STOP") {
			continue
		}
		if found == nil || o.OrderID > found.OrderID {
			found = o
		}
	}
	return found
}

func quantize(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return ratchet.RoundToStep(qty, step)
}

func exitPrice(order *ports.OrderResponse, pos domain.TrackedPosition) float64 {
	switch {
	case order.AvgPrice > 0:
		return order.AvgPrice
	case order.Price > 0:
		return order.Price
	case order.StopPrice > 0:
		return order.StopPrice
	default:
		return pos.CurrentStopPrice
	}
}
