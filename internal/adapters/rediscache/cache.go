package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
)

const defaultPrefix = "ratchetbot:filters:"

// FilterCache implements ports.FilterCache on top of Redis string keys with a TTL.
type FilterCache struct {
	client *redis.Client
	prefix string
	logger ports.Logger
}

// Config holds connection settings for the cache.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Logger   ports.Logger
}

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config) (*FilterCache, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for redis filter cache")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required: %w", ports.ErrConfigurationError)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w: %w", cfg.Addr, ports.ErrConnectionFailed, err)
	}
	cfg.Logger.Info(ctx, "Redis filter cache connected", map[string]interface{}{"addr": cfg.Addr, "db": cfg.DB})
	return NewWithClient(client, cfg.Prefix, cfg.Logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, logger ports.Logger) *FilterCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &FilterCache{client: client, prefix: prefix, logger: logger}
}

func (c *FilterCache) key(symbol string) string {
	return c.prefix + symbol
}

// GetFilters returns ports.ErrCacheMiss when the symbol is not cached or the entry is unreadable.
func (c *FilterCache) GetFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	data, err := c.client.Get(ctx, c.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ports.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", symbol, err)
	}

	var f domain.SymbolFilters
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn(ctx, "GetFilters: Dropping unreadable cache entry", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		_ = c.client.Del(ctx, c.key(symbol)).Err()
		return nil, ports.ErrCacheMiss
	}
	return &f, nil
}

// SetFilters stores the filters for ttl.
func (c *FilterCache) SetFilters(ctx context.Context, filters *domain.SymbolFilters, ttl time.Duration) error {
	if filters == nil || filters.Symbol == "" {
		return fmt.Errorf("cannot cache filters without symbol: %w", ports.ErrInvalidRequest)
	}
	data, err := json.Marshal(filters)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(filters.Symbol), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", filters.Symbol, err)
	}
	return nil
}

// DeleteFilters drops the cached filters of one symbol.
func (c *FilterCache) DeleteFilters(ctx context.Context, symbol string) error {
	if err := c.client.Del(ctx, c.key(symbol)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", symbol, err)
	}
	return nil
}

// Close releases the connection pool.
func (c *FilterCache) Close() error {
	return c.client.Close()
}
