package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratchetBot/internal/adapters/logger"
	"ratchetBot/internal/domain"
)

var configKeys = []string{
	"ENV_FILE", "BINANCE_API_KEY", "BINANCE_API_SECRET", "IS_TESTNET", "QUOTE_ASSETS", "TRANSACTION_AMOUNTS",
	"LOOKBACK_PERIOD", "LAST_HOURS_PERIOD", "KLINE_INTERVAL", "MIN_VOLUME_USD", "EXCLUDED_SYMBOLS",
	"EXCLUDED_WEEKDAYS", "SCAN_CONCURRENCY", "TREND_DIRECTION", "ALLOW_SHORT_ENTRIES", "STOP_LOSS_PERCENT",
	"LIMIT_OFFSET_PERCENT", "MAX_OPEN_TRADES", "RATCHET_CONCURRENCY", "SETTLE_DELAY_SECONDS",
	"LOOP_TIME_SECONDS", "ORDER_UPDATE_INTERVAL", "CALL_TIMEOUT_SECONDS", "BT_STOP_LOSS_PERCENT",
	"DB_PATH", "LOG_LEVEL", "METRICS_ADDR", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"FILTER_CACHE_TTL_SECONDS", "CONFIG_WATCH",
}

// clearEnv blanks every key for the duration of the test; t.Setenv restores the previous values,
// including values later written by godotenv.Overload.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func setKeys(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	setKeys(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsTestnet)
	assert.Equal(t, []string{"USDC"}, cfg.QuoteAssets)
	assert.Equal(t, []float64{100}, cfg.TransactionAmounts)
	assert.Equal(t, 48, cfg.LookbackPeriod)
	assert.Equal(t, 4, cfg.RecentWindow)
	assert.Equal(t, "1h", cfg.KlineInterval)
	assert.Equal(t, 1_000_000.0, cfg.MinVolumeUSD)
	assert.Equal(t, domain.TrendPositive, cfg.TrendDirection)
	assert.False(t, cfg.AllowShortEntries)
	assert.Equal(t, 5.0, cfg.StopLossPercent)
	assert.Equal(t, 0.5, cfg.LimitOffsetPercent)
	assert.Equal(t, 5, cfg.MaxOpenTrades)
	assert.Equal(t, time.Hour, cfg.LoopInterval)
	assert.Equal(t, 15*time.Minute, cfg.OrderUpdateInterval)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, 2*time.Second, cfg.SettleDelay)
	assert.Equal(t, []float64{3, 5, 10}, cfg.BacktestStopLossPercents)
	assert.Equal(t, "./data/ratchet_bot.db", cfg.DBPath)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, time.Minute, cfg.FilterCacheTTL)
	assert.True(t, cfg.ConfigWatch)
	assert.Empty(t, cfg.ExcludedWeekdays)
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	setKeys(t)
	t.Setenv("QUOTE_ASSETS", " usdc, usdt ")
	t.Setenv("TRANSACTION_AMOUNTS", "150,50")
	t.Setenv("TREND_DIRECTION", "Negative")
	t.Setenv("EXCLUDED_WEEKDAYS", "Sat,sunday")
	t.Setenv("EXCLUDED_SYMBOLS", "btcusdc, ethusdc")
	t.Setenv("STOP_LOSS_PERCENT", "3.5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"USDC", "USDT"}, cfg.QuoteAssets)
	assert.Equal(t, 150.0, cfg.BudgetFor("USDC"))
	assert.Equal(t, 50.0, cfg.BudgetFor("USDT"))
	assert.Zero(t, cfg.BudgetFor("BUSD"))
	assert.Equal(t, domain.TrendNegative, cfg.TrendDirection)
	assert.Equal(t, []time.Weekday{time.Saturday, time.Sunday}, cfg.ExcludedWeekdays)
	assert.Equal(t, []string{"BTCUSDC", "ETHUSDC"}, cfg.ExcludedSymbols)
	assert.Equal(t, 3.5, cfg.StopLossPercent)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)

	sat := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	assert.True(t, cfg.IsExcludedDay(sat))
	assert.False(t, cfg.IsExcludedDay(sat.AddDate(0, 0, 2)))
}

func TestLoadConfig_BroadcastAmount(t *testing.T) {
	clearEnv(t)
	setKeys(t)
	t.Setenv("QUOTE_ASSETS", "USDC,USDT,FDUSD")
	t.Setenv("TRANSACTION_AMOUNTS", "25")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []float64{25, 25, 25}, cfg.TransactionAmounts)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing keys", map[string]string{"BINANCE_API_KEY": "", "BINANCE_API_SECRET": ""}, "BINANCE_API_KEY must be set"},
		{"stop loss zero", map[string]string{"STOP_LOSS_PERCENT": "0"}, "STOP_LOSS_PERCENT"},
		{"stop loss not a number", map[string]string{"STOP_LOSS_PERCENT": "five"}, "invalid STOP_LOSS_PERCENT"},
		{"amount mismatch", map[string]string{"QUOTE_ASSETS": "USDC,USDT,FDUSD", "TRANSACTION_AMOUNTS": "1,2"}, "TRANSACTION_AMOUNTS"},
		{"negative amount", map[string]string{"TRANSACTION_AMOUNTS": "-5"}, "TRANSACTION_AMOUNTS"},
		{"recent beyond lookback", map[string]string{"LOOKBACK_PERIOD": "4", "LAST_HOURS_PERIOD": "6"}, "LAST_HOURS_PERIOD cannot exceed"},
		{"lookback too short", map[string]string{"LOOKBACK_PERIOD": "1"}, "LOOKBACK_PERIOD must be at least 2"},
		{"bad trend", map[string]string{"TREND_DIRECTION": "sideways"}, "TREND_DIRECTION"},
		{"bad weekday", map[string]string{"EXCLUDED_WEEKDAYS": "Caturday"}, "EXCLUDED_WEEKDAYS"},
		{"bad sweep", map[string]string{"BT_STOP_LOSS_PERCENT": "3,150"}, "BT_STOP_LOSS_PERCENT"},
		{"negative max trades", map[string]string{"MAX_OPEN_TRADES": "-1"}, "MAX_OPEN_TRADES"},
		{"zero loop", map[string]string{"LOOP_TIME_SECONDS": "0"}, "LOOP_TIME_SECONDS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setKeys(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_ReadsEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "vars.env")
	require.NoError(t, os.WriteFile(path, []byte("BINANCE_API_KEY=filekey\nBINANCE_API_SECRET=filesecret\nMAX_OPEN_TRADES=2\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	// Already-set variables win over the file.
	t.Setenv("MAX_OPEN_TRADES", "7")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "filekey", cfg.APIKey)
	assert.Equal(t, 7, cfg.MaxOpenTrades)
	assert.Equal(t, path, cfg.EnvFile)
}

func TestReload_OverridesEnvironment(t *testing.T) {
	clearEnv(t)
	setKeys(t)
	t.Setenv("STOP_LOSS_PERCENT", "5")
	path := filepath.Join(t.TempDir(), "vars.env")
	require.NoError(t, os.WriteFile(path, []byte("STOP_LOSS_PERCENT=8\n"), 0o600))

	cfg, err := Reload(path)
	require.NoError(t, err)
	assert.Equal(t, 8.0, cfg.StopLossPercent)

	_, err = Reload(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *recordingLogger) has(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func (l *recordingLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *recordingLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.add(msg)
}
func (l *recordingLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.add(msg)
}
func (l *recordingLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.add(msg)
}

func TestWatcher_PublishesValidReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vars.env")
	require.NoError(t, os.WriteFile(path, []byte("STOP_LOSS_PERCENT=5\n"), 0o600))

	log := &recordingLogger{}
	w, err := NewWatcher(WatcherConfig{Path: path, Debounce: 20 * time.Millisecond, Logger: log})
	require.NoError(t, err)

	w.load = func(p string) (*Config, error) {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if strings.Contains(string(data), "INVALID") {
			return nil, assert.AnError
		}
		return &Config{StopLossPercent: 8, EnvFile: p}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("STOP_LOSS_PERCENT=8\n"), 0o600))

	select {
	case cfg := <-w.Updates():
		assert.Equal(t, 8.0, cfg.StopLossPercent)
	case <-time.After(5 * time.Second):
		t.Fatal("no configuration update received")
	}

	require.NoError(t, os.WriteFile(path, []byte("INVALID\n"), 0o600))
	assert.Eventually(t, func() bool { return log.has("Ignoring invalid configuration") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_PublishKeepsLatest(t *testing.T) {
	w := &Watcher{updates: make(chan *Config, 1)}
	w.publish(&Config{StopLossPercent: 1})
	w.publish(&Config{StopLossPercent: 2})
	got := <-w.Updates()
	assert.Equal(t, 2.0, got.StopLossPercent)
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{Path: "vars.env"})
	assert.Error(t, err)
	_, err = NewWatcher(WatcherConfig{Logger: &recordingLogger{}})
	assert.Error(t, err)
}
