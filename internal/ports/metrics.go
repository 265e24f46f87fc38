package ports

import (
	"context"
	"time"

	"ratchetBot/internal/domain"
)

// Metrics receives operational counters from the core.
type Metrics interface {
	ScanCompleted(trend domain.TrendDirection, signals int, elapsed time.Duration)
	ScanFailed(stage string)
	SymbolSkipped(stage, reason string)
	StopUpdated(mode domain.ProtectionMode)
	StopUpdateSkipped(reason string)
	PositionOpened(mode domain.ProtectionMode)
	PositionClosed(mode domain.ProtectionMode, reason domain.CloseReason)
	SetTrackedPositions(n int)
	SetUnprotectedPositions(n int)
}

// FilterCache stores symbol filters for a short time.
type FilterCache interface {
	// GetFilters returns ErrCacheMiss when nothing usable is cached.
	GetFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error)
	SetFilters(ctx context.Context, filters *domain.SymbolFilters, ttl time.Duration) error
	DeleteFilters(ctx context.Context, symbol string) error
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ScanCompleted(domain.TrendDirection, int, time.Duration) {}
func (NopMetrics) ScanFailed(string) {}
func (NopMetrics) SymbolSkipped(string, string) {}
func (NopMetrics) StopUpdated(domain.ProtectionMode) {}
func (NopMetrics) StopUpdateSkipped(string) {}
func (NopMetrics) PositionOpened(domain.ProtectionMode) {}
func (NopMetrics) PositionClosed(domain.ProtectionMode, domain.CloseReason) {}
func (NopMetrics) SetTrackedPositions(int) {}
func (NopMetrics) SetUnprotectedPositions(int) {}
