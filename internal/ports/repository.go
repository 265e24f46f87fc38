package ports

import (
	"context"
	"time"

	"ratchetBot/internal/domain"
)

// LedgerRepository is the append-only log of position lifecycle events.
type LedgerRepository interface {
	// Append stores one ledger entry and returns its assigned ID.
	Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error)
	// ListSince returns entries with a timestamp at or after since, oldest first.
	ListSince(ctx context.Context, since time.Time) ([]*domain.LedgerEntry, error)
	// ListBySymbol returns every entry for a symbol, oldest first.
	ListBySymbol(ctx context.Context, symbol string) ([]*domain.LedgerEntry, error)
}

// PositionRepository persists tracked positions so protection survives restarts.
type PositionRepository interface {
	// Save inserts or replaces the tracked position for its symbol.
	Save(ctx context.Context, pos *domain.TrackedPosition) error
	// Delete removes the tracked position for a symbol. Deleting a missing symbol is not an error.
	Delete(ctx context.Context, symbol string) error
	// FindBySymbol returns nil, nil if the symbol is not tracked.
	FindBySymbol(ctx context.Context, symbol string) (*domain.TrackedPosition, error)
	// FindAll returns every tracked position ordered by symbol.
	FindAll(ctx context.Context) ([]*domain.TrackedPosition, error)
}
