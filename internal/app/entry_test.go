package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
	"ratchetBot/internal/risk"
	"ratchetBot/internal/stoploss"
)

const sym = "SOLUSDC"

type entryHarness struct {
	ex     *fakeExchange
	ledger *mockLedger
	logger *mockLogger
	ctrl   *stoploss.Controller
	entry  *EntryExecutor
	slept  []time.Duration
}

func newEntryHarness(t *testing.T, trailing bool, maxOpen int) *entryHarness {
	t.Helper()
	rm, err := risk.NewRiskManager(risk.RiskConfig{MaxOpenPositions: maxOpen, StopLossPercent: 5, LimitOffsetPercent: 0.5})
	require.NoError(t, err)

	h := &entryHarness{
		ex:     newFakeExchange(),
		ledger: &mockLedger{},
		logger: &mockLogger{},
	}
	h.ex.prices[sym] = 100
	h.ex.balances["SOL"] = 0.998
	h.ledger.On("Append", mock.Anything, mock.Anything).Return(int64(1), nil)

	filters := &fakeFilters{filters: map[string]*domain.SymbolFilters{
		sym: {Symbol: sym, BaseAsset: "SOL", QuoteAsset: "USDC", TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinPrice: 0.01, MinNotional: 5, TrailingSupported: trailing},
	}}
	h.ctrl, err = stoploss.New(stoploss.Config{
		Exchange:    h.ex,
		Filters:     filters,
		Risk:        rm,
		Book:        stoploss.NewBook(),
		Ledger:      h.ledger,
		Logger:      h.logger,
		CallTimeout: time.Second,
		TrendLabel:  func() string { return "Positive" },
	})
	require.NoError(t, err)

	h.entry, err = NewEntryExecutor(EntryConfig{
		Exchange:    h.ex,
		Filters:     filters,
		Controller:  h.ctrl,
		Ledger:      h.ledger,
		Logger:      h.logger,
		Settings:    EntrySettings{SettleDelay: 2 * time.Second},
		CallTimeout: time.Second,
		TrendLabel:  func() string { return "Positive" },
		Sleep:       func(ctx context.Context, d time.Duration) { h.slept = append(h.slept, d) },
	})
	require.NoError(t, err)
	return h
}

func longSignal() domain.Signal {
	return domain.Signal{Symbol: sym, Trend: domain.TrendPositive, QuoteAsset: "USDC", Budget: 100, LastPrice: 99}
}

func actions(entries []*domain.LedgerEntry) []domain.LedgerAction {
	out := make([]domain.LedgerAction, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func TestNewEntryExecutor_RequiresDependencies(t *testing.T) {
	_, err := NewEntryExecutor(EntryConfig{Logger: &mockLogger{}})
	assert.Error(t, err)

	h := newEntryHarness(t, false, 5)
	_, err = NewEntryExecutor(EntryConfig{Exchange: h.ex, Filters: &fakeFilters{}, Controller: h.ctrl, Ledger: h.ledger})
	assert.EqualError(t, err, "logger is required for entry executor")
}

func TestEnter_SyntheticProtection(t *testing.T) {
	h := newEntryHarness(t, false, 5)

	require.NoError(t, h.entry.Enter(context.Background(), longSignal()))

	assert.Equal(t, []string{"BUY:1.000"}, h.ex.marketOrders())
	assert.Equal(t, []time.Duration{2 * time.Second}, h.slept)
	require.Len(t, h.ex.stopLimits, 1)
	assert.Equal(t, "0.998", h.ex.stopLimits[0].Quantity)
	assert.Equal(t, "95.00", h.ex.stopLimits[0].StopPrice)
	assert.Equal(t, domain.Sell, h.ex.stopLimits[0].Side)

	pos, ok := h.ctrl.Book().Get(sym)
	require.True(t, ok)
	assert.Equal(t, domain.ProtectionSynthetic, pos.ProtectionMode)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Equal(t, 0.998, pos.Quantity)
	assert.Equal(t, 95.0, pos.CurrentStopPrice)
	assert.Equal(t, h.ex.open[sym][0].OrderID, pos.ProtectiveOrderID)
	assert.Equal(t, "USDC", pos.QuoteAsset)

	entries := h.ledger.appended()
	assert.Equal(t, []domain.LedgerAction{domain.ActionBuy, domain.ActionStopSet}, actions(entries))
	assert.Equal(t, "Positive", entries[0].TrendLabel)
	assert.Equal(t, 95.0, entries[0].StopLossPrice)
}

func TestEnter_NativeProtection(t *testing.T) {
	h := newEntryHarness(t, true, 5)

	require.NoError(t, h.entry.Enter(context.Background(), longSignal()))

	assert.Empty(t, h.ex.stopLimits)
	require.Len(t, h.ex.trailings, 1)
	assert.Equal(t, 5.0, h.ex.trailings[0].CallbackRatePct)
	assert.Equal(t, "0.998", h.ex.trailings[0].Quantity)

	pos, ok := h.ctrl.Book().Get(sym)
	require.True(t, ok)
	assert.Equal(t, domain.ProtectionNative, pos.ProtectionMode)
	assert.Equal(t, 95.0, pos.CurrentStopPrice)
}

func TestEnter_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		maxOpen int
		setup   func(t *testing.T, h *entryHarness)
		signal  func() domain.Signal
		wantErr error
	}{
		{
			name:    "open-trade limit",
			maxOpen: 1,
			setup: func(t *testing.T, h *entryHarness) {
				require.NoError(t, h.ctrl.Book().Add(domain.TrackedPosition{Symbol: "ETHUSDC"}))
			},
			signal:  longSignal,
			wantErr: ports.ErrMaxOpenPositions,
		},
		{
			name:    "already tracked",
			maxOpen: 5,
			setup: func(t *testing.T, h *entryHarness) {
				require.NoError(t, h.ctrl.Book().Add(domain.TrackedPosition{Symbol: sym}))
			},
			signal:  longSignal,
			wantErr: ErrAlreadyTracked,
		},
		{
			name:    "short-bias entries disabled",
			maxOpen: 5,
			signal: func() domain.Signal {
				s := longSignal()
				s.Trend = domain.TrendNegative
				return s
			},
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name:    "budget below min notional",
			maxOpen: 5,
			signal: func() domain.Signal {
				s := longSignal()
				s.Budget = 1
				return s
			},
			wantErr: ports.ErrConstraintViolation,
		},
		{
			name:    "unknown symbol",
			maxOpen: 5,
			signal: func() domain.Signal {
				s := longSignal()
				s.Symbol = "XYZUSDC"
				return s
			},
			wantErr: ports.ErrSymbolNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newEntryHarness(t, false, tt.maxOpen)
			if tt.setup != nil {
				tt.setup(t, h)
			}
			err := h.entry.Enter(context.Background(), tt.signal())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, h.ex.marketOrders())
			assert.Empty(t, h.ledger.appended())
		})
	}
}

func TestEnter_ProtectionFailureClosesAtMarket(t *testing.T) {
	h := newEntryHarness(t, false, 5)
	h.ex.stopLimitErr = ports.ErrOrderPlacementFailed

	err := h.entry.Enter(context.Background(), longSignal())
	assert.ErrorIs(t, err, ports.ErrUnprotected)
	assert.ErrorIs(t, err, ports.ErrOrderPlacementFailed)

	assert.Equal(t, []string{"BUY:1.000", "SELL:0.998"}, h.ex.marketOrders())
	assert.Equal(t, 0, h.ctrl.Book().Len())

	entries := h.ledger.appended()
	assert.Equal(t, []domain.LedgerAction{domain.ActionBuy, domain.ActionSell}, actions(entries))
	assert.Equal(t, string(domain.CloseReasonEmergency), entries[1].Reason)
}

func TestEnter_ProtectionFailureAdoptsRestingStop(t *testing.T) {
	h := newEntryHarness(t, false, 5)
	h.ex.stopLimitErr = ports.ErrTimeout
	h.ex.placeThenFail = true

	require.NoError(t, h.entry.Enter(context.Background(), longSignal()))

	assert.Equal(t, []string{"BUY:1.000"}, h.ex.marketOrders())
	pos, ok := h.ctrl.Book().Get(sym)
	require.True(t, ok)
	assert.Equal(t, h.ex.open[sym][0].OrderID, pos.ProtectiveOrderID)
	assert.Equal(t, 95.0, pos.CurrentStopPrice)
	assert.Contains(t, h.logger.warnMsgs, "recover: Adopting protective order found on exchange")
}

func TestEnter_MarketFailureLeavesNothingBehind(t *testing.T) {
	h := newEntryHarness(t, false, 5)
	h.ex.marketErr = ports.ErrInsufficientFunds

	err := h.entry.Enter(context.Background(), longSignal())
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.Empty(t, h.ex.stopLimits)
	assert.Equal(t, 0, h.ctrl.Book().Len())
	assert.Empty(t, h.ledger.appended())
}

func TestEnter_ShortBias(t *testing.T) {
	h := newEntryHarness(t, false, 5)
	h.entry.Configure(EntrySettings{AllowShortEntries: true})
	sig := longSignal()
	sig.Trend = domain.TrendNegative

	require.NoError(t, h.entry.Enter(context.Background(), sig))

	assert.Equal(t, []string{"SELL:1.000"}, h.ex.marketOrders())
	assert.Equal(t, []time.Duration{0}, h.slept)
	require.Len(t, h.ex.stopLimits, 1)
	assert.Equal(t, domain.Buy, h.ex.stopLimits[0].Side)
	assert.Equal(t, "1.000", h.ex.stopLimits[0].Quantity)

	pos, ok := h.ctrl.Book().Get(sym)
	require.True(t, ok)
	assert.InDelta(t, 105.0, pos.CurrentStopPrice, 0.011)
	assert.Equal(t, domain.TrendNegative, pos.Trend)
}

func TestEnter_FallsBackToSignalPrice(t *testing.T) {
	h := newEntryHarness(t, false, 5)
	h.ex.priceErr = ports.ErrConnectionFailed
	h.ex.prices[sym] = 0 // market fill reports no average price either

	require.NoError(t, h.entry.Enter(context.Background(), longSignal()))

	pos, ok := h.ctrl.Book().Get(sym)
	require.True(t, ok)
	assert.Equal(t, 99.0, pos.EntryPrice)
	assert.Equal(t, "1.010", h.ex.marketOrders()[0][len("BUY:"):])
}
