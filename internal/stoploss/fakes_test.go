package stoploss

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
)

type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// fakeExchange keeps resting orders per symbol so cancel/place sequences behave like the real thing.
type fakeExchange struct {
	mu sync.Mutex

	prices        map[string]float64
	priceErr      error
	open          map[string][]ports.OpenOrder
	statuses      map[int64]*ports.OrderResponse
	nextID        int64
	openOrdersErr error
	cancelErr     error
	placeErr      error
	placeThenFail bool // the order rests on the exchange even though the call failed
	trailingErr   error
	marketErr     error

	cancels    []int64
	stopLimits []ports.StopLimitRequest
	trailings  []ports.TrailingStopRequest
	markets    []string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		prices:   map[string]float64{},
		open:     map[string][]ports.OpenOrder{},
		statuses: map[int64]*ports.OrderResponse{},
		nextID:   1000,
	}
}

// rest registers a resting protective order and returns its id.
func (f *fakeExchange) rest(symbol string, side domain.OrderSide, orderType string, stop float64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restLocked(symbol, side, orderType, stop)
}

func (f *fakeExchange) restLocked(symbol string, side domain.OrderSide, orderType string, stop float64) int64 {
	f.nextID++
	f.open[symbol] = append(f.open[symbol], ports.OpenOrder{
		OrderID:   f.nextID,
		Symbol:    symbol,
		Type:      orderType,
		Side:      string(side),
		StopPrice: stop,
	})
	return f.nextID
}

func (f *fakeExchange) placements() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopLimits) + len(f.trailings)
}

func (f *fakeExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.prices[symbol], nil
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openOrdersErr != nil {
		return nil, f.openOrdersErr
	}
	return append([]ports.OpenOrder(nil), f.open[symbol]...), nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.statuses[orderID]; ok {
		return st, nil
	}
	return nil, ports.ErrOrderNotFound
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = append(f.markets, string(side)+":"+quantity)
	if f.marketErr != nil {
		return nil, f.marketErr
	}
	f.nextID++
	return &ports.OrderResponse{OrderID: f.nextID, Symbol: symbol, Status: ports.OrderStatusFilled, AvgPrice: f.prices[symbol]}, nil
}

func (f *fakeExchange) PlaceStopLimitOrder(ctx context.Context, req ports.StopLimitRequest) (*ports.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLimits = append(f.stopLimits, req)
	stop, _ := strconv.ParseFloat(req.StopPrice, 64)
	if f.placeErr != nil {
		if f.placeThenFail {
			f.restLocked(req.Symbol, req.Side, "STOP_LOSS_LIMIT", stop)
		}
		return nil, f.placeErr
	}
	id := f.restLocked(req.Symbol, req.Side, "STOP_LOSS_LIMIT", stop)
	return &ports.OrderResponse{OrderID: id, Symbol: req.Symbol, Status: ports.OrderStatusNew, StopPrice: stop}, nil
}

func (f *fakeExchange) PlaceTrailingStopOrder(ctx context.Context, req ports.TrailingStopRequest) (*ports.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trailings = append(f.trailings, req)
	if f.trailingErr != nil {
		return nil, f.trailingErr
	}
	id := f.restLocked(req.Symbol, req.Side, "STOP_LOSS", 0)
	return &ports.OrderResponse{OrderID: id, Symbol: req.Symbol, Status: ports.OrderStatusNew}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, orderID)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	orders := f.open[symbol]
	for i, o := range orders {
		if o.OrderID == orderID {
			f.open[symbol] = append(orders[:i:i], orders[i+1:]...)
			return &ports.OrderResponse{OrderID: orderID, Symbol: symbol, Status: ports.OrderStatusCanceled}, nil
		}
	}
	return nil, ports.ErrOrderNotFound
}

type fakeFilters struct {
	mu      sync.Mutex
	filters map[string]*domain.SymbolFilters
	gets    int
	freshes int
	dropped []string
}

func (f *fakeFilters) Get(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return f.lookup(symbol)
}

func (f *fakeFilters) Fresh(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freshes++
	return f.lookup(symbol)
}

func (f *fakeFilters) Invalidate(ctx context.Context, symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, symbol)
}

func (f *fakeFilters) lookup(symbol string) (*domain.SymbolFilters, error) {
	fl, ok := f.filters[symbol]
	if !ok {
		return nil, ports.ErrSymbolNotFound
	}
	cp := *fl
	return &cp, nil
}

type memoryLedger struct {
	mu      sync.Mutex
	entries []*domain.LedgerEntry
}

func (l *memoryLedger) Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := *entry
	e.ID = int64(len(l.entries) + 1)
	l.entries = append(l.entries, &e)
	return e.ID, nil
}

func (l *memoryLedger) ListSince(ctx context.Context, since time.Time) ([]*domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.LedgerEntry
	for _, e := range l.entries {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memoryLedger) ListBySymbol(ctx context.Context, symbol string) ([]*domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.LedgerEntry
	for _, e := range l.entries {
		if e.Symbol == symbol {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memoryLedger) actions() []domain.LedgerAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.LedgerAction, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Action
	}
	return out
}

type memoryPositions struct {
	mu      sync.Mutex
	saved   map[string]domain.TrackedPosition
	deleted []string
}

func newMemoryPositions() *memoryPositions {
	return &memoryPositions{saved: map[string]domain.TrackedPosition{}}
}

func (r *memoryPositions) Save(ctx context.Context, pos *domain.TrackedPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[pos.Symbol] = *pos
	return nil
}

func (r *memoryPositions) Delete(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.saved, symbol)
	r.deleted = append(r.deleted, symbol)
	return nil
}

func (r *memoryPositions) FindBySymbol(ctx context.Context, symbol string) (*domain.TrackedPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.saved[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memoryPositions) FindAll(ctx context.Context) ([]*domain.TrackedPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.TrackedPosition, 0, len(r.saved))
	for _, p := range r.saved {
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
