// Package sizing computes and validates candidate copy trades. Everything in
// this package is pure: no network, no storage, no clocks.
package sizing

import (
	"fmt"

	"github.com/cosminimum/polycopy/internal/domain"
)

// valueEpsilon absorbs float64 noise in dollar comparisons.
const valueEpsilon = 1e-9

// ComputeCandidateTrade maps an observed trade, the follower's resolved copy
// policy, their available balance, and (for sells) their held size into a
// candidate trade. A nil candidate with a non-empty reason means "no trade".
//
// Outcome identifiers and the observed price are carried through unchanged;
// only size and value are computed.
func ComputeCandidateTrade(
	ev domain.TradeEvent,
	policy domain.CopyPolicy,
	balance float64,
	heldSize float64,
) (*domain.CandidateTrade, string) {
	if ev.Price <= 0 {
		return nil, "observed trade has no price"
	}

	// Selling what is not held produces no trade, before any arithmetic.
	if ev.Side == domain.OrderSideSell && heldSize <= 0 {
		return nil, "no position held in this outcome"
	}

	var size float64
	switch policy.Mode {
	case domain.SizingPercentage:
		// Value is a percentage of the follower's balance, converted to
		// shares at the observed price.
		size = balance * (policy.Value / 100) / ev.Price
	case domain.SizingProportional:
		size = ev.Size * policy.Value
	case domain.SizingFixed:
		if ev.Side == domain.OrderSideBuy {
			size = policy.Value / ev.Price
		} else {
			size = policy.Value
		}
	default:
		return nil, fmt.Sprintf("unknown sizing mode %q", policy.Mode)
	}

	if size <= 0 {
		return nil, "computed size is zero"
	}

	// Never sell more than held.
	if ev.Side == domain.OrderSideSell && size > heldSize {
		size = heldSize
	}

	value := size * ev.Price

	if policy.MinValue != nil && value < *policy.MinValue-valueEpsilon {
		return nil, fmt.Sprintf("value $%.2f below policy minimum $%.2f", value, *policy.MinValue)
	}

	if policy.MaxValue != nil && value > *policy.MaxValue+valueEpsilon {
		// Clamp to the ceiling rather than rejecting. The sell clamp still
		// respects the position cap applied above (clamping only shrinks).
		value = *policy.MaxValue
		size = value / ev.Price
	}

	return &domain.CandidateTrade{
		UserID:      policy.UserID,
		ConditionID: ev.ConditionID,
		Outcome:     ev.Outcome,
		TokenID:     ev.TokenID,
		Side:        ev.Side,
		Price:       ev.Price,
		Size:        size,
		Value:       value,
	}, ""
}
