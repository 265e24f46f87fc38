// Package discovery scans the market for symbols showing strong directional momentum.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
	"ratchetBot/internal/strategy/indicators"
)

const (
	defaultInterval          = "1h"
	defaultTransactionAmount = 10.0
	defaultConcurrency       = 4
	defaultCallTimeout       = 10 * time.Second
)

// Config holds the scan parameters.
type Config struct {
	QuoteAssets     []string  // e.g. ["USDC", "USDT"]
	Budgets         []float64 // Transaction size per quote asset, parallel to QuoteAssets
	LookbackPeriod  int       // Candles per window
	RecentWindow    int       // Trailing candles for the recent-growth check
	Interval        string    // Kline interval, default "1h"
	MinQuoteVolume  float64   // Minimum 24h quote volume
	ExcludedSymbols []string
	Concurrency     int           // Parallel kline fetches
	CallTimeout     time.Duration // Per network call
}

// Engine turns market snapshots into entry signals.
type Engine struct {
	market  ports.MarketDataProvider
	account ports.AccountProvider
	logger  ports.Logger
	metrics ports.Metrics

	mu  sync.RWMutex
	cfg Config
}

// ScanResult is the outcome of one discovery pass.
type ScanResult struct {
	Signals     []domain.Signal
	MarketTrend domain.TrendDirection // Positive when at least half of all tickers are green
	GreenRatio  float64
	Scanned     int // Candidates that passed the volume and exclusion filters
}

// NewEngine creates a discovery engine. metrics may be nil.
func NewEngine(cfg Config, market ports.MarketDataProvider, account ports.AccountProvider, logger ports.Logger, metrics ports.Metrics) (*Engine, error) {
	if market == nil || account == nil {
		return nil, fmt.Errorf("market data and account providers are required for discovery")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for discovery")
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{market: market, account: account, logger: logger, metrics: metrics, cfg: cfg}, nil
}

// Configure swaps the scan parameters. It takes effect at the next scan.
func (e *Engine) Configure(cfg Config) error {
	cfg, err := normalize(cfg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

// Config returns the parameters the next scan will use.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func normalize(cfg Config) (Config, error) {
	if len(cfg.QuoteAssets) == 0 {
		return cfg, fmt.Errorf("at least one quote asset is required")
	}
	if cfg.LookbackPeriod < 2 {
		return cfg, fmt.Errorf("lookback period must be at least 2, got %d", cfg.LookbackPeriod)
	}
	if cfg.RecentWindow <= 0 || cfg.RecentWindow > cfg.LookbackPeriod {
		return cfg, fmt.Errorf("recent window must be within 1..%d, got %d", cfg.LookbackPeriod, cfg.RecentWindow)
	}
	if cfg.Interval == "" {
		cfg.Interval = defaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	quotes := make([]string, len(cfg.QuoteAssets))
	for i, q := range cfg.QuoteAssets {
		quotes[i] = strings.ToUpper(strings.TrimSpace(q))
	}
	cfg.QuoteAssets = quotes
	return cfg, nil
}

// budgetFor returns the transaction size configured for the i-th quote asset.
func (c Config) budgetFor(i int) float64 {
	if i < len(c.Budgets) && c.Budgets[i] > 0 {
		return c.Budgets[i]
	}
	return defaultTransactionAmount
}

// DiscoverSignals runs one scan. Ticker, open-order and balance failures abort the scan with an
// empty result; per-symbol kline failures are logged and the symbol is skipped.
// Signals keep the order of the ticker listing within each quote asset.
func (e *Engine) DiscoverSignals(ctx context.Context, trend domain.TrendDirection) (*ScanResult, error) {
	op := "DiscoverSignals"
	cfg := e.Config()
	started := time.Now()
	result := &ScanResult{MarketTrend: domain.TrendNegative}

	tickers, err := call(ctx, cfg.CallTimeout, e.market.Get24hTickers)
	if err != nil {
		e.metrics.ScanFailed("tickers")
		e.logger.Error(ctx, err, op+": Failed to fetch 24h tickers, skipping scan")
		return result, fmt.Errorf("%s: fetch tickers: %w", op, err)
	}
	openOrders, err := call(ctx, cfg.CallTimeout, func(ctx context.Context) ([]ports.OpenOrder, error) {
		return e.account.GetOpenOrders(ctx, "")
	})
	if err != nil {
		e.metrics.ScanFailed("open_orders")
		e.logger.Error(ctx, err, op+": Failed to fetch open orders, skipping scan")
		return result, fmt.Errorf("%s: fetch open orders: %w", op, err)
	}
	balances, err := call(ctx, cfg.CallTimeout, e.account.GetBalances)
	if err != nil {
		e.metrics.ScanFailed("balances")
		e.logger.Error(ctx, err, op+": Failed to fetch balances, skipping scan")
		return result, fmt.Errorf("%s: fetch balances: %w", op, err)
	}

	result.GreenRatio, result.MarketTrend = MarketBreadth(tickers)

	candidates := FilterTickers(tickers, cfg.MinQuoteVolume,
		toSet(cfg.ExcludedSymbols),
		OpenOrderSymbols(openOrders),
		ExpandHoldingsToPairs(balances, cfg.QuoteAssets),
	)
	result.Scanned = len(candidates)

	e.logger.Info(ctx, op+": Market snapshot", map[string]interface{}{
		"tickers":     len(tickers),
		"candidates":  len(candidates),
		"openOrders":  len(openOrders),
		"greenRatio":  result.GreenRatio,
		"marketTrend": result.MarketTrend.String(),
		"trend":       trend.String(),
	})

	for i, quote := range cfg.QuoteAssets {
		budget := cfg.budgetFor(i)
		if free := balances[quote]; free < budget {
			e.metrics.SymbolSkipped("balance", "insufficient_"+quote)
			e.logger.Info(ctx, op+": Insufficient balance, skipping quote asset", map[string]interface{}{
				"quoteAsset": quote,
				"free":       free,
				"required":   budget,
			})
			continue
		}

		var symbols []string
		for _, t := range candidates {
			if len(t.Symbol) > len(quote) && strings.HasSuffix(t.Symbol, quote) {
				symbols = append(symbols, t.Symbol)
			}
		}

		signals, err := e.scanQuote(ctx, cfg, symbols, quote, budget, trend)
		if err != nil {
			return &ScanResult{MarketTrend: result.MarketTrend, GreenRatio: result.GreenRatio}, err
		}
		result.Signals = append(result.Signals, signals...)
	}

	e.metrics.ScanCompleted(trend, len(result.Signals), time.Since(started))
	e.logger.Info(ctx, op+": Scan completed", map[string]interface{}{
		"signals":  len(result.Signals),
		"duration": time.Since(started).String(),
	})
	return result, nil
}

// scanQuote evaluates the symbols quoted in one asset with bounded parallelism.
// Only context cancellation aborts it.
func (e *Engine) scanQuote(ctx context.Context, cfg Config, symbols []string, quote string, budget float64, trend domain.TrendDirection) ([]domain.Signal, error) {
	op := "scanQuote"
	found := make([]*domain.Signal, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i, symbol := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			klines, err := call(gctx, cfg.CallTimeout, func(ctx context.Context) ([]*domain.Kline, error) {
				return e.market.GetKlines(ctx, symbol, cfg.Interval, cfg.LookbackPeriod)
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.metrics.SymbolSkipped("klines", "fetch_error")
				e.logger.Warn(ctx, op+": Failed to fetch klines, skipping symbol", map[string]interface{}{
					"symbol": symbol,
					"error":  err.Error(),
				})
				return nil
			}

			sig, ok := EvaluateWindow(klines, cfg.LookbackPeriod, cfg.RecentWindow, trend)
			if !ok {
				return nil
			}
			sig.Symbol = symbol
			sig.QuoteAsset = quote
			sig.Budget = budget
			describe(sig, klines[len(klines)-cfg.LookbackPeriod:])
			found[i] = sig

			e.logger.Info(ctx, op+": Signal found", map[string]interface{}{
				"symbol":        symbol,
				"trend":         trend.String(),
				"overallGrowth": sig.OverallGrowthPct,
				"recentGrowth":  sig.RecentGrowthPct,
				"avgFluctAbs":   sig.AvgFluctuationAbs,
				"avgFluctPct":   sig.AvgFluctuationPct,
				"rsi":           sig.RSI,
				"avgVolume":     sig.AvgVolume,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.Signal, 0, len(found))
	for _, s := range found {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

// describe attaches diagnostics that play no part in admission.
func describe(sig *domain.Signal, window []*domain.Kline) {
	rsi := indicators.NewRSI(indicators.DefaultRSIPeriod)
	if len(window) >= rsi.RequiredDataPoints() {
		if v, err := rsi.Calculate(window); err == nil {
			sig.RSI = v
		}
	}
	sig.AvgVolume = indicators.AverageVolume(window)
}

// call runs fn under a per-call timeout.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
