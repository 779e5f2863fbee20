package sizing

import (
	"github.com/cosminimum/polycopy/internal/domain"
)

// ValidateTrade applies hard per-trade limits to a candidate. It returns nil
// on acceptance or a CodedError (CodeValidation) naming the violated limit.
// The ceiling is per trade, not cumulative: repeated small trades in the same
// market are each evaluated on their own.
func ValidateTrade(cand domain.CandidateTrade, policy domain.CopyPolicy) error {
	if cand.Size <= 0 {
		return domain.NewCodedError(domain.CodeValidation, "trade size must be positive, got %f", cand.Size)
	}
	if cand.Price <= 0 {
		return domain.NewCodedError(domain.CodeValidation, "trade price must be positive, got %f", cand.Price)
	}
	if policy.MaxValue != nil && cand.Value > *policy.MaxValue+valueEpsilon {
		return domain.NewCodedError(domain.CodeValidation,
			"trade value $%.2f exceeds per-trade limit $%.2f", cand.Value, *policy.MaxValue)
	}
	return nil
}
