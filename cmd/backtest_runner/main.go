package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ratchetBot/config"
	"ratchetBot/internal/adapters/binanceclient"
	"ratchetBot/internal/adapters/logger"
	"ratchetBot/internal/domain"
	"ratchetBot/internal/strategy/optimization"
	"ratchetBot/internal/utils"
)

var defaultStopLosses = []float64{3, 5, 10}

type options struct {
	symbol   string
	interval string
	limit    int
	trend    string
	stopLoss []float64
	csvFile  string
	outDir   string
	funds    float64
	parallel int
	testnet  bool
	logLevel string
	noTrades bool
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "backtest_runner",
		Short: "Replay the stop-loss ratchet over historical candles",
		Long: `backtest_runner simulates the trailing stop with immediate re-entry over a candle
series and ranks the given stop-loss percentages by final multiplier.

Candles come from the exchange (--symbol) or from a CSV written by fetch_klines (--csv).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.symbol, "symbol", "s", "", "Symbol to fetch, e.g. SOLUSDC")
	flags.StringVarP(&opts.interval, "interval", "i", "1h", "Kline interval")
	flags.IntVarP(&opts.limit, "limit", "l", 500, "Number of most recent klines to fetch")
	flags.StringVarP(&opts.trend, "trend", "t", "positive", "Trend direction: positive or negative")
	flags.Float64SliceVar(&opts.stopLoss, "stop-loss", nil, "Stop-loss percentages to sweep (default BT_STOP_LOSS_PERCENT or 3,5,10)")
	flags.StringVar(&opts.csvFile, "csv", "", "Read candles from this CSV instead of the exchange")
	flags.StringVarP(&opts.outDir, "out", "o", "data", "Directory for per-trade CSV files")
	flags.Float64Var(&opts.funds, "funds", 1000, "Initial quote balance")
	flags.IntVar(&opts.parallel, "parallel", 0, "Maximum simulations in parallel (0 = all)")
	flags.BoolVar(&opts.testnet, "testnet", false, "Fetch candles from the testnet")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level")
	flags.BoolVar(&opts.noTrades, "no-trades", false, "Do not write per-trade CSV files")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	appLogger := logger.NewStdLogger(logger.ParseLevel(opts.logLevel))

	trend, ok := domain.ParseTrendDirection(opts.trend)
	if !ok {
		return fmt.Errorf("unknown trend %q, expected positive or negative", opts.trend)
	}

	stopLosses := opts.stopLoss
	if len(stopLosses) == 0 {
		stopLosses = defaultStopLosses
		// The env file is optional here; API keys are not needed for public candles.
		if cfg, err := config.LoadConfig(); err == nil && len(cfg.BacktestStopLossPercents) > 0 {
			stopLosses = cfg.BacktestStopLossPercents
		}
	}

	klines, label, err := loadKlines(ctx, opts, appLogger)
	if err != nil {
		return err
	}
	appLogger.Info(ctx, "Loaded klines", map[string]interface{}{"source": label, "count": len(klines)})

	optimizer := optimization.NewOptimizer(optimization.OptimizerConfig{
		StopLossPercents: stopLosses,
		Trend:            trend,
		Symbol:           label,
		InitialFunds:     opts.funds,
		MaxParallel:      opts.parallel,
	})
	results, err := optimizer.Optimize(ctx, klines)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	fmt.Fprintf(out, "%s %s, %d candles, trend %s\n\n", label, opts.interval, len(klines), trend)
	if err := writeRanking(out, results); err != nil {
		return err
	}

	if opts.noTrades {
		return nil
	}
	for _, r := range results {
		name := fmt.Sprintf("%s_%s_sl%s_trades.csv", label, opts.interval, strings.ReplaceAll(fmt.Sprintf("%g", r.StopLossPercent), ".", "_"))
		path := filepath.Join(opts.outDir, name)
		if err := utils.WriteTradesToCSV(r.Result.Trades, klines, path); err != nil {
			appLogger.Error(ctx, err, "Error writing trades CSV", map[string]interface{}{"filename": path})
			continue
		}
		appLogger.Info(ctx, "Trades saved to", map[string]interface{}{"filename": path})
	}
	return nil
}

func loadKlines(ctx context.Context, opts *options, appLogger *logger.StdLogger) ([]*domain.Kline, string, error) {
	if opts.csvFile != "" {
		klines, err := utils.ReadKlinesFromCSV(opts.csvFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", opts.csvFile, err)
		}
		label := opts.symbol
		if label == "" && len(klines) > 0 {
			label = klines[0].Symbol
		}
		if label == "" {
			label = strings.TrimSuffix(filepath.Base(opts.csvFile), filepath.Ext(opts.csvFile))
		}
		return klines, label, nil
	}

	if opts.symbol == "" {
		return nil, "", fmt.Errorf("either --symbol or --csv is required")
	}
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     os.Getenv("BINANCE_API_KEY"),
		SecretKey:  os.Getenv("BINANCE_API_SECRET"),
		UseTestnet: opts.testnet,
		Logger:     appLogger,
	})
	if err != nil {
		return nil, "", err
	}
	symbol := strings.ToUpper(opts.symbol)
	klines, err := client.GetKlines(ctx, symbol, opts.interval, opts.limit)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}
	return klines, symbol, nil
}

// writeRanking prints one row per stop-loss value, best first.
func writeRanking(w io.Writer, results []optimization.OptimizationResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "RANK\tSTOP %\tFINAL x\tTRADES\tSTOPPED\tWIN %\tMAX DD %\tBALANCE\t")
	for i, r := range results {
		m := r.Result.Metrics
		fmt.Fprintf(tw, "%d\t%.2f\t%.4f\t%d\t%d\t%.1f\t%.2f\t%.2f\t\n",
			i+1,
			r.StopLossPercent,
			r.Result.FinalMultiplier,
			m.TotalTrades,
			m.ClosedTrades,
			m.WinRate*100,
			m.MaxDrawdown*100,
			r.Result.FinalBalance,
		)
	}
	return tw.Flush()
}
