package stoploss

import (
	"fmt"
	"sort"
	"sync"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
)

// Book is the set of tracked positions, one per symbol. Callers get copies; changes go through
// Add, Commit and RemoveIf so that a stale view never overwrites a newer one.
type Book struct {
	mu        sync.Mutex
	positions map[string]*domain.TrackedPosition
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{positions: make(map[string]*domain.TrackedPosition)}
}

// Add starts tracking a position. A symbol can only be tracked once.
func (b *Book) Add(pos domain.TrackedPosition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.positions[pos.Symbol]; exists {
		return fmt.Errorf("%w: %s is already tracked", ports.ErrDuplicateEntry, pos.Symbol)
	}
	p := pos
	b.positions[pos.Symbol] = &p
	return nil
}

// Get returns a copy of the tracked position for symbol.
func (b *Book) Get(symbol string) (domain.TrackedPosition, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	if !ok {
		return domain.TrackedPosition{}, false
	}
	return *p, true
}

// Has reports whether symbol is tracked.
func (b *Book) Has(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[symbol]
	return ok
}

// Len returns the number of tracked positions.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// Unprotected counts positions without a live protective order.
func (b *Book) Unprotected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.positions {
		if p.Unprotected {
			n++
		}
	}
	return n
}

// Snapshot returns copies of all positions, unprotected ones first, then by symbol.
func (b *Book) Snapshot() []domain.TrackedPosition {
	b.mu.Lock()
	out := make([]domain.TrackedPosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Unprotected != out[j].Unprotected {
			return out[i].Unprotected
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Commit applies update to the tracked position only if it still exists and still holds
// expectedOrderID. It returns the updated copy.
func (b *Book) Commit(symbol string, expectedOrderID int64, update func(p *domain.TrackedPosition)) (domain.TrackedPosition, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	if !ok || p.ProtectiveOrderID != expectedOrderID {
		return domain.TrackedPosition{}, false
	}
	update(p)
	return *p, true
}

// RemoveIf stops tracking symbol if it still holds expectedOrderID.
func (b *Book) RemoveIf(symbol string, expectedOrderID int64) (domain.TrackedPosition, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	if !ok || p.ProtectiveOrderID != expectedOrderID {
		return domain.TrackedPosition{}, false
	}
	delete(b.positions, symbol)
	return *p, true
}
