package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ratchetBot/internal/adapters/logger"
	"ratchetBot/internal/adapters/sqlite"
	"ratchetBot/internal/ports"
	"ratchetBot/internal/reporting"
)

type options struct {
	dbPath   string
	since    time.Duration
	symbol   string
	format   string
	logLevel string
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "analyze_ledger",
		Short: "Summarize realized profit from the position ledger",
		Long: `analyze_ledger pairs every BUY with its SELL in the ledger and reports profit per day,
ISO week, month and token. The exit price is the recorded SELL price, or the last stop when the
SELL has none.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appLogger := logger.NewStdLogger(logger.ParseLevel(opts.logLevel))
			repo, err := sqlite.NewRepository(sqlite.Config{DBPath: opts.dbPath, Logger: appLogger})
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer repo.Close()
			return run(cmd.Context(), repo, opts, cmd.OutOrStdout())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.dbPath, "db", envOr("DB_PATH", "./data/ratchet_bot.db"), "Path to the SQLite database")
	flags.DurationVar(&opts.since, "since", 0, "Only entries newer than this, e.g. 720h (0 = all)")
	flags.StringVarP(&opts.symbol, "symbol", "s", "", "Also list the closed trades of this symbol")
	flags.StringVarP(&opts.format, "format", "f", "table", "Output format: table or yaml")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, ledger ports.LedgerRepository, opts *options, out io.Writer) error {
	var since time.Time
	if opts.since > 0 {
		since = time.Now().UTC().Add(-opts.since)
	}
	entries, err := ledger.ListSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	report := reporting.Build(entries)

	switch strings.ToLower(opts.format) {
	case "yaml", "yml":
		return report.WriteYAML(out)
	case "table", "":
		if err := report.WriteTable(out); err != nil {
			return err
		}
		if opts.symbol != "" {
			symbol := strings.ToUpper(opts.symbol)
			fmt.Fprintf(out, "\nRealized trades for %s:\n", symbol)
			return reporting.WriteTrades(out, report.ForSymbol(symbol))
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q, expected table or yaml", opts.format)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
