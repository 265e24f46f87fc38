package app

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"ratchetBot/internal/discovery"
	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
	"ratchetBot/internal/risk"
)

// Mock implementations
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

func (m *mockLogger) infos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.infoMsgs...)
}

// mockLedger records appends through testify/mock.
type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	args := m.Called(ctx, entry)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockLedger) ListSince(ctx context.Context, since time.Time) ([]*domain.LedgerEntry, error) {
	args := m.Called(ctx, since)
	return args.Get(0).([]*domain.LedgerEntry), args.Error(1)
}

func (m *mockLedger) ListBySymbol(ctx context.Context, symbol string) ([]*domain.LedgerEntry, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).([]*domain.LedgerEntry), args.Error(1)
}

// appended returns the entries passed to Append, in call order.
func (m *mockLedger) appended() []*domain.LedgerEntry {
	var out []*domain.LedgerEntry
	for _, c := range m.Calls {
		if c.Method == "Append" {
			out = append(out, c.Arguments.Get(1).(*domain.LedgerEntry))
		}
	}
	return out
}

// fakeExchange is a stateful spot exchange: resting orders are listed per symbol and market
// orders fill at the configured price.
type fakeExchange struct {
	mu sync.Mutex

	prices        map[string]float64
	balances      map[string]float64
	open          map[string][]ports.OpenOrder
	nextID        int64
	serverTimeErr error
	priceErr      error
	marketErr     error
	stopLimitErr  error
	trailingErr   error
	placeThenFail bool // the stop rests on the exchange even though the call failed

	markets    []string
	stopLimits []ports.StopLimitRequest
	trailings  []ports.TrailingStopRequest
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		prices:   map[string]float64{},
		balances: map[string]float64{},
		open:     map[string][]ports.OpenOrder{},
		nextID:   500,
	}
}

func (f *fakeExchange) restLocked(symbol string, side domain.OrderSide, orderType string, stop float64) int64 {
	f.nextID++
	f.open[symbol] = append(f.open[symbol], ports.OpenOrder{OrderID: f.nextID, Symbol: symbol, Type: orderType, Side: string(side), StopPrice: stop})
	return f.nextID
}

func (f *fakeExchange) SetServerTime(ctx context.Context) error { return f.serverTimeErr }
func (f *fakeExchange) Ping(ctx context.Context) error { return nil }

func (f *fakeExchange) Get24hTickers(ctx context.Context) ([]domain.Ticker24h, error) {
	return nil, nil
}

func (f *fakeExchange) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	return nil, nil
}

func (f *fakeExchange) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	return nil, nil
}

func (f *fakeExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.prices[symbol], nil
}

func (f *fakeExchange) GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	return nil, ports.ErrSymbolNotFound
}

func (f *fakeExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out, nil
}

func (f *fakeExchange) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[asset], nil
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.OpenOrder(nil), f.open[symbol]...), nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	return nil, ports.ErrOrderNotFound
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = append(f.markets, string(side)+":"+quantity)
	if f.marketErr != nil {
		return nil, f.marketErr
	}
	qty, _ := strconv.ParseFloat(quantity, 64)
	f.nextID++
	return &ports.OrderResponse{
		OrderID:     f.nextID,
		Symbol:      symbol,
		Status:      ports.OrderStatusFilled,
		Side:        string(side),
		AvgPrice:    f.prices[symbol],
		ExecutedQty: qty,
	}, nil
}

func (f *fakeExchange) PlaceStopLimitOrder(ctx context.Context, req ports.StopLimitRequest) (*ports.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLimits = append(f.stopLimits, req)
	stop, _ := strconv.ParseFloat(req.StopPrice, 64)
	if f.stopLimitErr != nil {
		if f.placeThenFail {
			f.restLocked(req.Symbol, req.Side, "STOP_LOSS_LIMIT", stop)
		}
		return nil, f.stopLimitErr
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
	orders := f.open[symbol]
	for i, o := range orders {
		if o.OrderID == orderID {
			f.open[symbol] = append(orders[:i:i], orders[i+1:]...)
			return &ports.OrderResponse{OrderID: orderID, Symbol: symbol, Status: ports.OrderStatusCanceled}, nil
		}
	}
	return nil, ports.ErrOrderNotFound
}

func (f *fakeExchange) marketOrders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.markets...)
}

type fakeFilters struct {
	filters map[string]*domain.SymbolFilters
}

func (f *fakeFilters) Get(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	return f.Fresh(ctx, symbol)
}

func (f *fakeFilters) Invalidate(ctx context.Context, symbol string) {}

func (f *fakeFilters) Fresh(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	fl, ok := f.filters[symbol]
	if !ok {
		return nil, ports.ErrSymbolNotFound
	}
	cp := *fl
	return &cp, nil
}

// stubDiscovery returns a fixed scan result.
type stubDiscovery struct {
	mu         sync.Mutex
	result     *discovery.ScanResult
	err        error
	scans      int
	trends     []domain.TrendDirection
	configured []discovery.Config
}

func (s *stubDiscovery) DiscoverSignals(ctx context.Context, trend domain.TrendDirection) (*discovery.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	s.trends = append(s.trends, trend)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubDiscovery) Configure(cfg discovery.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = append(s.configured, cfg)
	return nil
}

func (s *stubDiscovery) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans, len(s.configured)
}

type stubRatchet struct {
	mu         sync.Mutex
	restored   int
	restoreErr error
	ticks      int
	risk       *risk.RiskManager
}

func (s *stubRatchet) Restore(ctx context.Context) (int, error) {
	return s.restored, s.restoreErr
}

func (s *stubRatchet) Tick(ctx context.Context) []domain.TrackedPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	return nil
}

func (s *stubRatchet) UpdateRisk(rm *risk.RiskManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risk = rm
}

func (s *stubRatchet) tickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// stubEntrant fails entries per symbol with a configured error.
type stubEntrant struct {
	mu       sync.Mutex
	errs     map[string]error
	entered  []string
	settings []EntrySettings
}

func (s *stubEntrant) Enter(ctx context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entered = append(s.entered, sig.Symbol)
	return s.errs[sig.Symbol]
}

func (s *stubEntrant) Configure(settings EntrySettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = append(s.settings, settings)
}
