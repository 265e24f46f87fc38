package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"ratchetBot/config"
	"ratchetBot/internal/adapters/binanceclient"
	"ratchetBot/internal/adapters/logger"
	"ratchetBot/internal/adapters/metrics"
	"ratchetBot/internal/adapters/rediscache"
	"ratchetBot/internal/adapters/sqlite"
	"ratchetBot/internal/app"
	"ratchetBot/internal/discovery"
	"ratchetBot/internal/filters"
	"ratchetBot/internal/ports"
	"ratchetBot/internal/risk"
	"ratchetBot/internal/stoploss"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "env_file": cfg.EnvFile})

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger.WithPrefix("binance"),
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 4. Initialize Repository (ledger and tracked positions)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 5. Symbol filters, optionally shared through Redis
	var filterCache ports.FilterCache
	if cfg.RedisAddr != "" {
		cache, err := rediscache.New(ctx, rediscache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Logger:   appLogger,
		})
		if err != nil {
			appLogger.Warn(ctx, "Redis unavailable, filters will be fetched from the exchange", map[string]interface{}{"addr": cfg.RedisAddr, "error": err.Error()})
		} else {
			defer cache.Close()
			filterCache = cache
		}
	}
	filterSource, err := filters.NewSource(filters.Config{
		Exchange: binanceClient,
		Cache:    filterCache,
		TTL:      cfg.FilterCacheTTL,
		Logger:   appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize filter source: %v", err)
	}

	// 6. Risk and metrics
	riskManager, err := risk.NewRiskManager(app.RiskConfig(cfg))
	if err != nil {
		log.Fatalf("FATAL: Invalid risk configuration: %v", err)
	}
	recorder := metrics.NewRecorder()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := recorder.Serve(ctx, cfg.MetricsAddr, appLogger); err != nil {
				appLogger.Error(ctx, err, "Metrics server stopped")
			}
		}()
	}

	// 7. Stop-loss controller, discovery engine and entry executor
	trend := &app.MarketTrend{}
	controller, err := stoploss.New(stoploss.Config{
		Exchange:    binanceClient,
		Filters:     filterSource,
		Risk:        riskManager,
		Book:        stoploss.NewBook(),
		Ledger:      repo,
		Positions:   repo,
		Metrics:     recorder,
		Logger:      appLogger.WithPrefix("ratchet"),
		CallTimeout: cfg.CallTimeout,
		Concurrency: cfg.RatchetConcurrency,
		TrendLabel:  trend.Label,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize stop-loss controller: %v", err)
	}
	engine, err := discovery.NewEngine(app.DiscoveryConfig(cfg), binanceClient, binanceClient, appLogger.WithPrefix("discovery"), recorder)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize discovery engine: %v", err)
	}
	entries, err := app.NewEntryExecutor(app.EntryConfig{
		Exchange:    binanceClient,
		Filters:     filterSource,
		Controller:  controller,
		Ledger:      repo,
		Logger:      appLogger.WithPrefix("entry"),
		Settings:    app.Settings(cfg),
		CallTimeout: cfg.CallTimeout,
		TrendLabel:  trend.Label,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize entry executor: %v", err)
	}

	// 8. Optional hot reload of the env file
	var reloads <-chan *config.Config
	if cfg.ConfigWatch {
		watcher, err := config.NewWatcher(config.WatcherConfig{Path: cfg.EnvFile, Logger: appLogger})
		if err != nil {
			appLogger.Warn(ctx, "Config watcher disabled", map[string]interface{}{"error": err.Error()})
		} else {
			reloads = watcher.Updates()
			go func() {
				if err := watcher.Run(ctx); err != nil {
					appLogger.Error(ctx, err, "Config watcher stopped")
				}
			}()
		}
	}

	// 9. Initialize Application Service
	tradingService, err := app.NewTradingService(app.ServiceConfig{
		Config:    cfg,
		Exchange:  binanceClient,
		Discovery: engine,
		Ratchet:   controller,
		Entries:   entries,
		Trend:     trend,
		Reloads:   reloads,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}

	// 10. Start the Service
	if err := tradingService.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
