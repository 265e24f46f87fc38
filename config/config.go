package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ratchetBot/internal/adapters/logger"
	"ratchetBot/internal/domain"
)

// DefaultEnvFile is read when ENV_FILE is not set.
const DefaultEnvFile = "vars.env"

// Config holds all application configuration. A *Config is an immutable snapshot;
// reloads produce a new one.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Discovery
	QuoteAssets        []string  // e.g. USDC, USDT
	TransactionAmounts []float64 // Budget per quote asset, parallel to QuoteAssets
	LookbackPeriod     int       // Candles per evaluation window
	RecentWindow       int       // Trailing candles for recent growth
	KlineInterval      string
	MinVolumeUSD       float64
	ExcludedSymbols    []string
	ExcludedWeekdays   []time.Weekday
	ScanConcurrency    int

	// Protection and entries
	TrendDirection     domain.TrendDirection
	AllowShortEntries  bool
	StopLossPercent    float64 // Trail distance, e.g. 5 for 5%
	LimitOffsetPercent float64 // Stop-limit price offset beyond the trigger
	MaxOpenTrades      int     // 0 disables the limit
	RatchetConcurrency int
	SettleDelay        time.Duration

	// Loops
	LoopInterval        time.Duration // Discovery pass period
	OrderUpdateInterval time.Duration // Ratchet pass period
	CallTimeout         time.Duration // Per exchange call

	// Backtesting
	BacktestStopLossPercents []float64

	// Infrastructure
	DBPath         string
	LogLevel       logger.LogLevel
	MetricsAddr    string // Empty disables the metrics server
	RedisAddr      string // Empty disables the shared filter cache
	RedisPassword  string
	RedisDB        int
	FilterCacheTTL time.Duration
	ConfigWatch    bool
	EnvFile        string
}

// EnvFilePath returns ENV_FILE or the default env file name.
func EnvFilePath() string {
	return getEnv("ENV_FILE", DefaultEnvFile)
}

// LoadConfig loads configuration from the env file (ENV_FILE, vars.env, then .env) and the
// process environment. Variables already present in the environment win.
func LoadConfig() (*Config, error) {
	path := EnvFilePath()
	if err := godotenv.Load(path); err != nil {
		// Fall back to .env, then to pure env vars.
		_ = godotenv.Load()
	}
	return fromEnv(path)
}

// Reload re-reads path, overriding the process environment with its values.
func Reload(path string) (*Config, error) {
	if err := godotenv.Overload(path); err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return fromEnv(path)
}

func fromEnv(envFile string) (*Config, error) {
	cfg := &Config{EnvFile: envFile}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Discovery
	cfg.QuoteAssets = upperList(getEnv("QUOTE_ASSETS", "USDC"))
	if len(cfg.QuoteAssets) == 0 {
		errs = append(errs, "QUOTE_ASSETS must list at least one asset")
	}

	amounts, err := getEnvAsFloatList("TRANSACTION_AMOUNTS", "100")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRANSACTION_AMOUNTS: %v", err))
	} else {
		cfg.TransactionAmounts, err = broadcastAmounts(amounts, len(cfg.QuoteAssets))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid TRANSACTION_AMOUNTS: %v", err))
		}
	}

	cfg.LookbackPeriod, err = getEnvAsIntRequired("LOOKBACK_PERIOD", 48)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LOOKBACK_PERIOD: %v", err))
	} else if cfg.LookbackPeriod < 2 {
		errs = append(errs, "LOOKBACK_PERIOD must be at least 2")
	}

	cfg.RecentWindow, err = getEnvAsIntRequired("LAST_HOURS_PERIOD", 4)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LAST_HOURS_PERIOD: %v", err))
	} else if cfg.RecentWindow < 1 {
		errs = append(errs, "LAST_HOURS_PERIOD must be positive")
	} else if cfg.LookbackPeriod >= 2 && cfg.RecentWindow > cfg.LookbackPeriod {
		errs = append(errs, "LAST_HOURS_PERIOD cannot exceed LOOKBACK_PERIOD")
	}

	cfg.KlineInterval = getEnv("KLINE_INTERVAL", "1h")

	cfg.MinVolumeUSD, err = getEnvAsFloatRequired("MIN_VOLUME_USD", 1_000_000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_VOLUME_USD: %v", err))
	} else if cfg.MinVolumeUSD < 0 {
		errs = append(errs, "MIN_VOLUME_USD cannot be negative")
	}

	cfg.ExcludedSymbols = upperList(getEnv("EXCLUDED_SYMBOLS", ""))

	cfg.ExcludedWeekdays, err = parseWeekdays(getEnv("EXCLUDED_WEEKDAYS", ""))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXCLUDED_WEEKDAYS: %v", err))
	}

	cfg.ScanConcurrency = getEnvAsInt("SCAN_CONCURRENCY", 4)
	if cfg.ScanConcurrency < 1 {
		errs = append(errs, "SCAN_CONCURRENCY must be positive")
	}

	// Protection and entries
	trend, ok := domain.ParseTrendDirection(getEnv("TREND_DIRECTION", "positive"))
	if !ok {
		errs = append(errs, fmt.Sprintf("invalid TREND_DIRECTION %q (want positive or negative)", os.Getenv("TREND_DIRECTION")))
	}
	cfg.TrendDirection = trend
	cfg.AllowShortEntries = getEnvAsBool("ALLOW_SHORT_ENTRIES", false)

	cfg.StopLossPercent, err = getEnvAsFloatRequired("STOP_LOSS_PERCENT", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PERCENT: %v", err))
	} else if cfg.StopLossPercent <= 0 || cfg.StopLossPercent >= 100 {
		errs = append(errs, "STOP_LOSS_PERCENT must be between 0 and 100 (exclusive)")
	}

	cfg.LimitOffsetPercent, err = getEnvAsFloatRequired("LIMIT_OFFSET_PERCENT", 0.5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LIMIT_OFFSET_PERCENT: %v", err))
	} else if cfg.LimitOffsetPercent < 0 || cfg.LimitOffsetPercent >= 100 {
		errs = append(errs, "LIMIT_OFFSET_PERCENT must be in [0, 100)")
	}

	cfg.MaxOpenTrades, err = getEnvAsIntRequired("MAX_OPEN_TRADES", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_OPEN_TRADES: %v", err))
	} else if cfg.MaxOpenTrades < 0 {
		errs = append(errs, "MAX_OPEN_TRADES cannot be negative")
	}

	cfg.RatchetConcurrency = getEnvAsInt("RATCHET_CONCURRENCY", 4)
	if cfg.RatchetConcurrency < 1 {
		errs = append(errs, "RATCHET_CONCURRENCY must be positive")
	}

	settle := getEnvAsInt("SETTLE_DELAY_SECONDS", 2)
	if settle < 0 {
		errs = append(errs, "SETTLE_DELAY_SECONDS cannot be negative")
	}
	cfg.SettleDelay = time.Duration(settle) * time.Second

	// Loops
	loop := getEnvAsInt("LOOP_TIME_SECONDS", 3600)
	if loop <= 0 {
		errs = append(errs, "LOOP_TIME_SECONDS must be positive")
	}
	cfg.LoopInterval = time.Duration(loop) * time.Second

	update := getEnvAsInt("ORDER_UPDATE_INTERVAL", 900)
	if update <= 0 {
		errs = append(errs, "ORDER_UPDATE_INTERVAL must be positive")
	}
	cfg.OrderUpdateInterval = time.Duration(update) * time.Second

	callTimeout := getEnvAsInt("CALL_TIMEOUT_SECONDS", 10)
	if callTimeout <= 0 {
		errs = append(errs, "CALL_TIMEOUT_SECONDS must be positive")
	}
	cfg.CallTimeout = time.Duration(callTimeout) * time.Second

	// Backtesting
	cfg.BacktestStopLossPercents, err = getEnvAsFloatList("BT_STOP_LOSS_PERCENT", "3,5,10")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BT_STOP_LOSS_PERCENT: %v", err))
	}
	for _, p := range cfg.BacktestStopLossPercents {
		if p <= 0 || p >= 100 {
			errs = append(errs, "BT_STOP_LOSS_PERCENT values must be between 0 and 100 (exclusive)")
			break
		}
	}

	// Infrastructure
	cfg.DBPath = getEnv("DB_PATH", "./data/ratchet_bot.db")
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9100")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)

	ttl := getEnvAsInt("FILTER_CACHE_TTL_SECONDS", 60)
	if ttl <= 0 {
		errs = append(errs, "FILTER_CACHE_TTL_SECONDS must be positive")
	}
	cfg.FilterCacheTTL = time.Duration(ttl) * time.Second
	cfg.ConfigWatch = getEnvAsBool("CONFIG_WATCH", true)

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// BudgetFor returns the transaction amount configured for a quote asset.
func (c *Config) BudgetFor(quote string) float64 {
	for i, q := range c.QuoteAssets {
		if q == quote && i < len(c.TransactionAmounts) {
			return c.TransactionAmounts[i]
		}
	}
	return 0
}

// IsExcludedDay reports whether discovery should skip the weekday of t.
func (c *Config) IsExcludedDay(t time.Time) bool {
	for _, d := range c.ExcludedWeekdays {
		if t.Weekday() == d {
			return true
		}
	}
	return false
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatList(key, defaultValue string) ([]float64, error) {
	var out []float64
	for _, part := range splitList(getEnv(key, defaultValue)) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value '%s' for key %s: %w", part, key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func upperList(s string) []string {
	out := splitList(s)
	for i := range out {
		out[i] = strings.ToUpper(out[i])
	}
	return out
}

// broadcastAmounts pairs amounts with quote assets; a single amount applies to all of them.
func broadcastAmounts(amounts []float64, quotes int) ([]float64, error) {
	if len(amounts) == 0 {
		return nil, errors.New("at least one amount is required")
	}
	for _, a := range amounts {
		if a <= 0 {
			return nil, fmt.Errorf("amount %v must be positive", a)
		}
	}
	if len(amounts) == 1 && quotes > 1 {
		out := make([]float64, quotes)
		for i := range out {
			out[i] = amounts[0]
		}
		return out, nil
	}
	if len(amounts) != quotes {
		return nil, fmt.Errorf("got %d amounts for %d quote assets", len(amounts), quotes)
	}
	return amounts, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, part := range splitList(s) {
		d, ok := weekdayNames[strings.ToLower(part)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		out = append(out, d)
	}
	return out, nil
}
