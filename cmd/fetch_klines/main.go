package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ratchetBot/internal/adapters/binanceclient"
	"ratchetBot/internal/adapters/logger"
	"ratchetBot/internal/utils"
)

func main() {
	var (
		symbol   string
		interval string
		days     int
		outDir   string
		testnet  bool
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "fetch_klines",
		Short: "Download historical klines to CSV for offline backtests",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			appLogger := logger.NewStdLogger(logger.ParseLevel(logLevel))

			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			client, err := binanceclient.New(binanceclient.Config{
				APIKey:     os.Getenv("BINANCE_API_KEY"),
				SecretKey:  os.Getenv("BINANCE_API_SECRET"),
				UseTestnet: testnet,
				Logger:     appLogger,
			})
			if err != nil {
				return err
			}

			symbol = strings.ToUpper(symbol)
			end := time.Now().UTC()
			start := end.AddDate(0, 0, -days)

			fmt.Fprintf(cmd.OutOrStdout(), "Fetching klines for %s %s from %s to %s...\n", symbol, interval, start.Format(time.RFC3339), end.Format(time.RFC3339))
			klines, err := client.GetKlinesRange(ctx, symbol, interval, start, end)
			if err != nil {
				return fmt.Errorf("error fetching klines: %w", err)
			}
			appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(klines)})

			filename := filepath.Join(outDir, fmt.Sprintf("%s_%s_%s_to_%s.csv", symbol, interval, start.Format("20060102"), end.Format("20060102")))
			if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
				return fmt.Errorf("error writing CSV: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d klines to %s\n", len(klines), filename)
			return nil
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&symbol, "symbol", "s", "", "Symbol to fetch, e.g. SOLUSDC")
	flags.StringVarP(&interval, "interval", "i", "1h", "Kline interval")
	flags.IntVarP(&days, "days", "d", 90, "Number of days back from now")
	flags.StringVarP(&outDir, "out", "o", "data", "Output directory")
	flags.BoolVar(&testnet, "testnet", false, "Fetch from the testnet")
	flags.StringVar(&logLevel, "log-level", "info", "Log level")
	_ = rootCmd.MarkFlagRequired("symbol")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
