// Package ratchet holds the trailing-stop rule shared by the live stop-loss controller and the
// backtest simulator. A stop is derived from the most favourable price seen so far and is only
// ever moved in the protective direction.
package ratchet

import (
	"math"

	"ratchetBot/internal/domain"
)

// Rule is the direction-specific part of the ratchet.
type Rule struct {
	Direction domain.TrendDirection

	extreme  func(current, high, low float64) float64
	breached func(stop, high, low float64) bool
	stop     func(extreme, pct float64) float64
	tighter  func(candidate, current float64) bool
	quantize func(stop, tick float64) float64
}

var rules = map[domain.TrendDirection]Rule{
	domain.TrendPositive: {
		Direction: domain.TrendPositive,
		extreme:   func(cur, high, _ float64) float64 { return math.Max(cur, high) },
		breached:  func(stop, _, low float64) bool { return low <= stop },
		stop:      func(ext, pct float64) float64 { return ext * (1 - pct/100) },
		tighter:   func(cand, cur float64) bool { return cand > cur },
		quantize:  RoundToStep,
	},
	domain.TrendNegative: {
		Direction: domain.TrendNegative,
		extreme:   func(cur, _, low float64) float64 { return math.Min(cur, low) },
		breached:  func(stop, high, _ float64) bool { return high >= stop },
		stop:      func(ext, pct float64) float64 { return ext * (1 + pct/100) },
		tighter:   func(cand, cur float64) bool { return cand < cur },
		quantize:  RoundUpToStep,
	},
}

// RuleFor returns the rule for a trend direction. Unknown directions fall back to the long rule.
func RuleFor(dir domain.TrendDirection) Rule {
	if r, ok := rules[dir]; ok {
		return r
	}
	return rules[domain.TrendPositive]
}

// StopFrom derives the raw stop level from an extreme price.
func (r Rule) StopFrom(extreme, pct float64) float64 {
	return r.stop(extreme, pct)
}

// Candidate is the stop for the given price snapped to the tick grid, away from the price.
// A zero tick leaves the level unquantized.
func (r Rule) Candidate(price, pct, tick float64) float64 {
	s := r.stop(price, pct)
	if tick > 0 {
		s = r.quantize(s, tick)
	}
	return s
}

// Tighter reports whether candidate is strictly more protective than current.
// A non-positive current stop means no stop is recorded yet.
func (r Rule) Tighter(candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	return r.tighter(candidate, current)
}

// Advance computes the candidate for an observed price and returns it when it tightens the
// current stop. Otherwise the current stop is returned unchanged with moved=false.
func (r Rule) Advance(currentStop, observed, pct, tick float64) (stop float64, moved bool) {
	cand := r.Candidate(observed, pct, tick)
	if r.Tighter(cand, currentStop) {
		return cand, true
	}
	return currentStop, false
}

// Extend folds a candle's range into the running extreme.
func (r Rule) Extend(extreme, high, low float64) float64 {
	return r.extreme(extreme, high, low)
}

// Breached reports whether a candle's range touches or crosses the stop.
func (r Rule) Breached(stop, high, low float64) bool {
	return r.breached(stop, high, low)
}

// Trail tracks one position's running extreme and stop.
type Trail struct {
	rule    Rule
	pct     float64
	tick    float64
	Extreme float64
	Stop    float64
}

// NewTrail starts a trail at the entry price.
func NewTrail(rule Rule, entry, pct, tick float64) *Trail {
	return &Trail{
		rule:    rule,
		pct:     pct,
		tick:    tick,
		Extreme: entry,
		Stop:    rule.Candidate(entry, pct, tick),
	}
}

// Observe folds a candle into the extreme and ratchets the stop. It returns the stop in force
// for the candle and whether it moved.
func (t *Trail) Observe(high, low float64) (float64, bool) {
	t.Extreme = t.rule.Extend(t.Extreme, high, low)
	var moved bool
	t.Stop, moved = t.rule.Advance(t.Stop, t.Extreme, t.pct, t.tick)
	return t.Stop, moved
}

// Breached reports whether the candle range touches the current stop.
func (t *Trail) Breached(high, low float64) bool {
	return t.rule.Breached(t.Stop, high, low)
}
