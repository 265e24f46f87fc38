package ratchet

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// RoundToStep floors x to the nearest multiple of step at or below x.
// A non-positive step returns 0 without dividing.
func RoundToStep(x, step float64) float64 {
	if step <= 0 || !finite(x) || !finite(step) {
		return 0
	}
	ds := decimal.NewFromFloat(step)
	f, _ := decimal.NewFromFloat(x).Div(ds).Floor().Mul(ds).Float64()
	return f
}

// RoundUpToStep ceils x to the nearest multiple of step at or above x.
// A non-positive step returns 0 without dividing.
func RoundUpToStep(x, step float64) float64 {
	if step <= 0 || !finite(x) || !finite(step) {
		return 0
	}
	ds := decimal.NewFromFloat(step)
	f, _ := decimal.NewFromFloat(x).Div(ds).Ceil().Mul(ds).Float64()
	return f
}

// StepDecimals returns the number of fractional digits of step ("0.001" -> 3, "1" -> 0).
func StepDecimals(step float64) int32 {
	if step <= 0 || !finite(step) {
		return 8
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// FormatToStep renders x with the precision implied by step, the way order endpoints expect it.
// When step is unknown the shortest exact representation is used.
func FormatToStep(x, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return decimal.NewFromFloat(x).StringFixed(StepDecimals(step))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
