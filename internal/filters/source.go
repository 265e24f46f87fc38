// Package filters serves symbol trading rules from the exchange, optionally through a short-lived cache.
package filters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
)

// Provider is the part of the exchange the source needs.
type Provider interface {
	GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error)
}

// Config wires a Source.
type Config struct {
	Exchange Provider
	Cache    ports.FilterCache // Optional
	TTL      time.Duration     // Cache lifetime; zero disables caching
	Logger   ports.Logger
}

// Source fetches symbol filters. Cache failures never fail a lookup; they fall through to the exchange.
type Source struct {
	exchange Provider
	cache    ports.FilterCache
	ttl      time.Duration
	logger   ports.Logger
}

// NewSource creates a filter source.
func NewSource(cfg Config) (*Source, error) {
	if cfg.Exchange == nil {
		return nil, fmt.Errorf("exchange is required for filter source")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for filter source")
	}
	return &Source{exchange: cfg.Exchange, cache: cfg.Cache, ttl: cfg.TTL, logger: cfg.Logger}, nil
}

// Get returns the filters for symbol, from the cache when a fresh entry exists.
func (s *Source) Get(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	op := "FilterSource.Get"
	if s.cached() {
		f, err := s.cache.GetFilters(ctx, symbol)
		if err == nil && f != nil {
			return f, nil
		}
		if err != nil && !errors.Is(err, ports.ErrCacheMiss) {
			s.logger.Warn(ctx, op+": Cache read failed, using exchange", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		}
	}
	return s.fetch(ctx, symbol)
}

// Fresh bypasses the cache and refreshes it. Used right before an order is placed.
func (s *Source) Fresh(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	return s.fetch(ctx, symbol)
}

// Invalidate drops any cached entry for symbol.
func (s *Source) Invalidate(ctx context.Context, symbol string) {
	if !s.cached() {
		return
	}
	if err := s.cache.DeleteFilters(ctx, symbol); err != nil {
		s.logger.Warn(ctx, "FilterSource.Invalidate: Cache delete failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}
}

func (s *Source) fetch(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	op := "FilterSource.fetch"
	f, err := s.exchange.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s failed for %s: %w", op, symbol, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%s failed for %s: %w", op, symbol, ports.ErrSymbolNotFound)
	}
	if s.cached() {
		if err := s.cache.SetFilters(ctx, f, s.ttl); err != nil {
			s.logger.Warn(ctx, op+": Cache write failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		}
	}
	return f, nil
}

func (s *Source) cached() bool {
	return s.cache != nil && s.ttl > 0
}
