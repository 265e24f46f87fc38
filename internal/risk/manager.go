// Package risk sizes entries and checks orders against exchange symbol filters.
package risk

import (
	"fmt"
	"math"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"
	"ratchetBot/internal/ratchet"
)

// RiskConfig holds configuration for risk management
type RiskConfig struct {
	MaxOpenPositions   int
	StopLossPercent    float64 // Trail distance, e.g. 5 for 5%
	LimitOffsetPercent float64 // Distance of a stop-limit's limit price beyond its trigger
}

// RiskManager implements risk management functionality
type RiskManager struct {
	config RiskConfig
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig) (*RiskManager, error) {
	if config.StopLossPercent <= 0 || config.StopLossPercent >= 100 {
		return nil, fmt.Errorf("stop loss percent must be between 0 and 100, got %f", config.StopLossPercent)
	}
	if config.LimitOffsetPercent < 0 || config.LimitOffsetPercent >= 100 {
		return nil, fmt.Errorf("limit offset percent must be between 0 and 100, got %f", config.LimitOffsetPercent)
	}
	return &RiskManager{config: config}, nil
}

// Config returns the configuration in force.
func (r *RiskManager) Config() RiskConfig {
	return r.config
}

// CanOpen checks the open-position ceiling. A non-positive maximum disables the check.
func (r *RiskManager) CanOpen(openPositions int) error {
	if r.config.MaxOpenPositions > 0 && openPositions >= r.config.MaxOpenPositions {
		return fmt.Errorf("%w: %d of %d positions open", ports.ErrMaxOpenPositions, openPositions, r.config.MaxOpenPositions)
	}
	return nil
}

// SizeEntry converts a quote budget into a base quantity on the step grid and checks it
// against the symbol's minimums at the given price.
func (r *RiskManager) SizeEntry(budget, price float64, filters *domain.SymbolFilters) (float64, error) {
	if budget <= 0 || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: budget %f at price %f", ports.ErrInvalidRequest, budget, price)
	}
	qty := budget / price
	if filters != nil && filters.StepSize > 0 {
		qty = ratchet.RoundToStep(qty, filters.StepSize)
	}
	if err := r.ValidateOrder(qty, price, filters); err != nil {
		return 0, err
	}
	return qty, nil
}

// ValidateOrder checks quantity against step size and minimum quantity, and price against
// minimum price and minimum notional.
func (r *RiskManager) ValidateOrder(qty, price float64, filters *domain.SymbolFilters) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity %f is not positive", ports.ErrConstraintViolation, qty)
	}
	if price <= 0 {
		return fmt.Errorf("%w: price %f is not positive", ports.ErrConstraintViolation, price)
	}
	if filters == nil {
		return nil
	}
	if filters.StepSize > 0 && ratchet.RoundToStep(qty, filters.StepSize) < qty*(1-1e-9) {
		return fmt.Errorf("%w: quantity %f is off the %f step grid", ports.ErrConstraintViolation, qty, filters.StepSize)
	}
	if qty < filters.MinQty {
		return fmt.Errorf("%w: quantity %f below minimum %f", ports.ErrConstraintViolation, qty, filters.MinQty)
	}
	if price < filters.MinPrice {
		return fmt.Errorf("%w: price %f below minimum %f", ports.ErrConstraintViolation, price, filters.MinPrice)
	}
	if notional := qty * price; notional < filters.MinNotional {
		return fmt.Errorf("%w: notional %f below minimum %f", ports.ErrConstraintViolation, notional, filters.MinNotional)
	}
	return nil
}

// ValidateStopLimit checks a stop-limit order at both its trigger and its limit price, since
// the exchange applies the price and notional filters to the limit.
func (r *RiskManager) ValidateStopLimit(qty, stop float64, trend domain.TrendDirection, filters *domain.SymbolFilters) error {
	if err := r.ValidateOrder(qty, stop, filters); err != nil {
		return err
	}
	tick := 0.0
	if filters != nil {
		tick = filters.TickSize
	}
	limit := r.GetLimitPrice(stop, trend, tick)
	if err := r.ValidateOrder(qty, limit, filters); err != nil {
		return fmt.Errorf("limit price %f: %w", limit, err)
	}
	return nil
}

// GetStopLoss calculates the initial stop for a position entered at entryPrice.
func (r *RiskManager) GetStopLoss(entryPrice float64, trend domain.TrendDirection, tick float64) float64 {
	return ratchet.RuleFor(trend).Candidate(entryPrice, r.config.StopLossPercent, tick)
}

// GetLimitPrice places a stop-limit's limit price beyond its trigger so the order still fills
// when price gaps through the stop: below it for a long, above it for a short-bias position.
func (r *RiskManager) GetLimitPrice(stopPrice float64, trend domain.TrendDirection, tick float64) float64 {
	if trend == domain.TrendNegative {
		limit := stopPrice * (1 + r.config.LimitOffsetPercent/100)
		if tick > 0 {
			return ratchet.RoundUpToStep(limit, tick)
		}
		return limit
	}
	limit := stopPrice * (1 - r.config.LimitOffsetPercent/100)
	if tick > 0 {
		return ratchet.RoundToStep(limit, tick)
	}
	return limit
}
