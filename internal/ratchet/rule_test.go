package ratchet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratchetBot/internal/domain"
)

func TestRule_Candidate(t *testing.T) {
	long := RuleFor(domain.TrendPositive)
	short := RuleFor(domain.TrendNegative)

	assert.InDelta(t, 99.0, long.Candidate(110, 10, 0), 1e-9)
	assert.InDelta(t, 121.0, short.Candidate(110, 10, 0), 1e-9)

	// Long stops are floored to the tick, short-bias stops are ceiled.
	assert.Equal(t, 95.04, long.Candidate(100.05, 5, 0.01))
	assert.Equal(t, 105.06, short.Candidate(100.05, 5, 0.01))
}

func TestRule_Advance(t *testing.T) {
	tests := []struct {
		name      string
		dir       domain.TrendDirection
		current   float64
		price     float64
		wantStop  float64
		wantMoved bool
	}{
		{"long tightens", domain.TrendPositive, 95, 110, 104.5, true},
		{"long candidate below stop", domain.TrendPositive, 95, 98.9, 95, false},
		{"long equal is a no-op", domain.TrendPositive, 95, 100, 95, false},
		{"long without stop", domain.TrendPositive, 0, 100, 95, true},
		{"short tightens", domain.TrendNegative, 105, 90, 94.5, true},
		{"short candidate above stop", domain.TrendNegative, 105, 101, 105, false},
		{"short without stop", domain.TrendNegative, 0, 100, 105, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stop, moved := RuleFor(tt.dir).Advance(tt.current, tt.price, 5, 0.01)
			assert.Equal(t, tt.wantMoved, moved)
			assert.InDelta(t, tt.wantStop, stop, 1e-9)
		})
	}
}

func TestRule_AdvanceIsIdempotent(t *testing.T) {
	r := RuleFor(domain.TrendPositive)
	stop, moved := r.Advance(90, 120, 5, 0.01)
	require.True(t, moved)

	again, movedAgain := r.Advance(stop, 120, 5, 0.01)
	assert.False(t, movedAgain)
	assert.Equal(t, stop, again)
}

func TestRule_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, dir := range []domain.TrendDirection{domain.TrendPositive, domain.TrendNegative} {
		r := RuleFor(dir)
		stop := 0.0
		price := 100.0
		for i := 0; i < 2000; i++ {
			price *= 1 + (rng.Float64()-0.5)/10
			next, _ := r.Advance(stop, price, 3, 0.001)
			if stop > 0 {
				if dir == domain.TrendPositive {
					require.GreaterOrEqual(t, next, stop)
				} else {
					require.LessOrEqual(t, next, stop)
				}
			}
			stop = next
		}
	}
}

func TestRule_Breached(t *testing.T) {
	long := RuleFor(domain.TrendPositive)
	assert.True(t, long.Breached(99, 110, 99))
	assert.True(t, long.Breached(99, 110, 95))
	assert.False(t, long.Breached(99, 110, 99.01))

	short := RuleFor(domain.TrendNegative)
	assert.True(t, short.Breached(101, 101, 90))
	assert.False(t, short.Breached(101, 100.99, 90))
}

func TestTrail_Observe(t *testing.T) {
	tr := NewTrail(RuleFor(domain.TrendPositive), 100, 10, 0)
	assert.InDelta(t, 90.0, tr.Stop, 1e-9)

	stop, moved := tr.Observe(110, 95)
	assert.True(t, moved)
	assert.InDelta(t, 99.0, stop, 1e-9)
	assert.Equal(t, 110.0, tr.Extreme)
	assert.True(t, tr.Breached(110, 95))

	// A lower high keeps the extreme and the stop.
	stop, moved = tr.Observe(105, 100)
	assert.False(t, moved)
	assert.InDelta(t, 99.0, stop, 1e-9)
	assert.Equal(t, 110.0, tr.Extreme)

	short := NewTrail(RuleFor(domain.TrendNegative), 100, 10, 0)
	stop, moved = short.Observe(102, 80)
	assert.True(t, moved)
	assert.InDelta(t, 88.0, stop, 1e-9)
	assert.True(t, short.Breached(88.5, 70))
	assert.False(t, short.Breached(87.9, 70))
}
