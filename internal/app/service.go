// Package app runs the live bot: a discovery loop that opens positions and a ratchet loop
// that keeps them protected.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ratchetBot/config"
	"ratchetBot/internal/discovery"
	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
	"ratchetBot/internal/risk"
)

// SignalSource produces entry signals.
type SignalSource interface {
	DiscoverSignals(ctx context.Context, trend domain.TrendDirection) (*discovery.ScanResult, error)
	Configure(cfg discovery.Config) error
}

// Ratchet keeps tracked positions protected.
type Ratchet interface {
	Restore(ctx context.Context) (int, error)
	Tick(ctx context.Context) []domain.TrackedPosition
	UpdateRisk(rm *risk.RiskManager)
}

// Entrant opens positions from signals.
type Entrant interface {
	Enter(ctx context.Context, sig domain.Signal) error
	Configure(s EntrySettings)
}

// MarketTrend holds the label of the latest market breadth reading.
type MarketTrend struct {
	v atomic.Value // string
}

// Set records the trend seen by the latest scan.
func (m *MarketTrend) Set(t domain.TrendDirection) {
	m.v.Store(t.String())
}

// Label returns the latest trend label, or "" before the first scan.
func (m *MarketTrend) Label() string {
	s, _ := m.v.Load().(string)
	return s
}

// ServiceConfig wires a TradingService.
type ServiceConfig struct {
	Config    *config.Config
	Exchange  ports.ExchangeClient
	Discovery SignalSource
	Ratchet   Ratchet
	Entries   Entrant
	Trend     *MarketTrend          // Optional
	Reloads   <-chan *config.Config // Optional
	Logger    ports.Logger
	Now       func() time.Time // Optional
}

// TradingService orchestrates the trading bot's operations.
type TradingService struct {
	exchange  ports.ExchangeClient
	discovery SignalSource
	ratchet   Ratchet
	entries   Entrant
	trend     *MarketTrend
	reloads   <-chan *config.Config
	logger    ports.Logger
	now       func() time.Time

	mu  sync.RWMutex
	cfg *config.Config
}

// NewTradingService creates a new application service instance.
func NewTradingService(cfg ServiceConfig) (*TradingService, error) {
	if cfg.Config == nil || cfg.Exchange == nil || cfg.Discovery == nil || cfg.Ratchet == nil || cfg.Entries == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for TradingService")
	}
	if cfg.Config.LoopInterval <= 0 || cfg.Config.OrderUpdateInterval <= 0 {
		return nil, fmt.Errorf("loop intervals must be positive")
	}
	s := &TradingService{
		exchange:  cfg.Exchange,
		discovery: cfg.Discovery,
		ratchet:   cfg.Ratchet,
		entries:   cfg.Entries,
		trend:     cfg.Trend,
		reloads:   cfg.Reloads,
		logger:    cfg.Logger,
		now:       cfg.Now,
		cfg:       cfg.Config,
	}
	if s.trend == nil {
		s.trend = &MarketTrend{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// DiscoveryConfig derives the scan parameters from a configuration snapshot.
func DiscoveryConfig(cfg *config.Config) discovery.Config {
	return discovery.Config{
		QuoteAssets:     cfg.QuoteAssets,
		Budgets:         cfg.TransactionAmounts,
		LookbackPeriod:  cfg.LookbackPeriod,
		RecentWindow:    cfg.RecentWindow,
		Interval:        cfg.KlineInterval,
		MinQuoteVolume:  cfg.MinVolumeUSD,
		ExcludedSymbols: cfg.ExcludedSymbols,
		Concurrency:     cfg.ScanConcurrency,
		CallTimeout:     cfg.CallTimeout,
	}
}

// RiskConfig derives the risk parameters from a configuration snapshot.
func RiskConfig(cfg *config.Config) risk.RiskConfig {
	return risk.RiskConfig{
		MaxOpenPositions:   cfg.MaxOpenTrades,
		StopLossPercent:    cfg.StopLossPercent,
		LimitOffsetPercent: cfg.LimitOffsetPercent,
	}
}

// Settings derives the entry settings from a configuration snapshot.
func Settings(cfg *config.Config) EntrySettings {
	return EntrySettings{
		AllowShortEntries: cfg.AllowShortEntries,
		SettleDelay:       cfg.SettleDelay,
	}
}

// Config returns the configuration snapshot in force.
func (s *TradingService) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Start synchronises time, restores tracked positions and runs both loops until a shutdown
// signal arrives or ctx is cancelled. Passes already in flight are allowed to finish.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.exchange.SetServerTime(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to synchronize server time")
		return fmt.Errorf("failed to set server time: %w", err)
	}
	s.logger.Info(ctx, "Server time synchronized")

	restored, err := s.ratchet.Restore(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to restore tracked positions")
		return fmt.Errorf("failed to restore tracked positions: %w", err)
	}
	s.logger.Info(ctx, "Initial state synchronized", map[string]interface{}{"restoredPositions": restored})

	return s.Run(ctx)
}

// Run drives the loops until ctx is done.
func (s *TradingService) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(gctx, "discovery", func() time.Duration { return s.Config().LoopInterval }, s.DiscoveryPass)
		return nil
	})
	g.Go(func() error {
		s.loop(gctx, "ratchet", func() time.Duration { return s.Config().OrderUpdateInterval }, s.RatchetPass)
		return nil
	})
	if s.reloads != nil {
		g.Go(func() error {
			s.watchReloads(gctx)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info(ctx, "Trading Service stopped")
	return err
}

// loop runs pass immediately and then once per interval. A pass never sees ctx cancellation;
// stop is only checked between passes.
func (s *TradingService) loop(ctx context.Context, name string, interval func() time.Duration, pass func(context.Context)) {
	for {
		pass(context.WithoutCancel(ctx))
		t := time.NewTimer(interval())
		select {
		case <-ctx.Done():
			t.Stop()
			s.logger.Info(ctx, "Loop stopped", map[string]interface{}{"loop": name})
			return
		case <-t.C:
		}
	}
}

// DiscoveryPass scans for signals and enters each one until the open-trade limit is hit.
func (s *TradingService) DiscoveryPass(ctx context.Context) {
	op := "DiscoveryPass"
	cfg := s.Config()
	now := s.now()
	if cfg.IsExcludedDay(now) {
		s.logger.Info(ctx, op+": Skipping scan on excluded weekday", map[string]interface{}{"weekday": now.Weekday().String()})
		return
	}

	res, err := s.discovery.DiscoverSignals(ctx, cfg.TrendDirection)
	if err != nil {
		s.logger.Error(ctx, err, op+": Scan failed")
		return
	}
	s.trend.Set(res.MarketTrend)
	s.logger.Info(ctx, op+": Scan completed", map[string]interface{}{
		"signals":     len(res.Signals),
		"scanned":     res.Scanned,
		"marketTrend": res.MarketTrend.String(),
		"greenRatio":  res.GreenRatio,
	})

	for _, sig := range res.Signals {
		err := s.entries.Enter(ctx, sig)
		switch {
		case err == nil:
		case errors.Is(err, ports.ErrMaxOpenPositions):
			s.logger.Info(ctx, op+": Open-trade limit reached, remaining signals dropped", map[string]interface{}{"symbol": sig.Symbol})
			return
		case errors.Is(err, ErrAlreadyTracked):
			s.logger.Debug(ctx, op+": Symbol already tracked", map[string]interface{}{"symbol": sig.Symbol})
		default:
			s.logger.Error(ctx, err, op+": Entry failed", map[string]interface{}{"symbol": sig.Symbol})
		}
	}
}

// RatchetPass runs one controller tick.
func (s *TradingService) RatchetPass(ctx context.Context) {
	book := s.ratchet.Tick(ctx)
	s.logger.Debug(ctx, "RatchetPass: Tick completed", map[string]interface{}{"tracked": len(book)})
}

func (s *TradingService) watchReloads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-s.reloads:
			if !ok {
				return
			}
			if err := s.ApplyConfig(ctx, cfg); err != nil {
				s.logger.Error(ctx, err, "ApplyConfig: Reloaded configuration rejected")
			}
		}
	}
}

// ApplyConfig hands a new snapshot to every component. Components pick it up at their next
// pass. Nothing is changed when any part of the snapshot is rejected.
func (s *TradingService) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	op := "ApplyConfig"
	if cfg == nil {
		return fmt.Errorf("%s failed: %w: nil configuration", op, ports.ErrConfigurationError)
	}
	if cfg.LoopInterval <= 0 || cfg.OrderUpdateInterval <= 0 {
		return fmt.Errorf("%s failed: %w: loop intervals must be positive", op, ports.ErrConfigurationError)
	}
	rm, err := risk.NewRiskManager(RiskConfig(cfg))
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConfigurationError, err)
	}
	if err := s.discovery.Configure(DiscoveryConfig(cfg)); err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConfigurationError, err)
	}
	s.ratchet.UpdateRisk(rm)
	s.entries.Configure(Settings(cfg))

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.logger.Info(ctx, op+": Configuration applied", map[string]interface{}{
		"stopLossPct":   cfg.StopLossPercent,
		"maxOpenTrades": cfg.MaxOpenTrades,
		"trend":         cfg.TrendDirection.String(),
	})
	return nil
}
