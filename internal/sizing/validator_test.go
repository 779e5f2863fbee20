package sizing

import (
	"strings"
	"testing"

	"github.com/cosminimum/polycopy/internal/domain"
)

func TestValidateTradeRejectsOverLimit(t *testing.T) {
	cand := domain.CandidateTrade{
		Side:  domain.OrderSideBuy,
		Price: 0.50,
		Size:  300,
		Value: 150,
	}
	policy := domain.CopyPolicy{MaxValue: ptr(100)}

	err := ValidateTrade(cand, policy)
	if err == nil {
		t.Fatal("expected rejection above per-trade limit")
	}
	if got := domain.CodeOf(err); got != domain.CodeValidation {
		t.Fatalf("expected %s, got %s", domain.CodeValidation, got)
	}
	if !strings.Contains(err.Error(), "100") {
		t.Fatalf("error should cite the limit, got %q", err.Error())
	}
}

func TestValidateTradeAcceptsWithinLimit(t *testing.T) {
	cand := domain.CandidateTrade{
		Side:  domain.OrderSideBuy,
		Price: 0.50,
		Size:  100,
		Value: 50,
	}
	policy := domain.CopyPolicy{MaxValue: ptr(100)}

	if err := ValidateTrade(cand, policy); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestValidateTradeRejectsNonPositive(t *testing.T) {
	policy := domain.CopyPolicy{}

	if err := ValidateTrade(domain.CandidateTrade{Size: 0, Price: 0.5}, policy); err == nil {
		t.Fatal("expected rejection for zero size")
	}
	if err := ValidateTrade(domain.CandidateTrade{Size: 10, Price: 0}, policy); err == nil {
		t.Fatal("expected rejection for zero price")
	}
}

func TestValidateTradeNoLimitConfigured(t *testing.T) {
	cand := domain.CandidateTrade{Size: 1000, Price: 0.9, Value: 900}
	if err := ValidateTrade(cand, domain.CopyPolicy{}); err != nil {
		t.Fatalf("no limit configured should accept any value: %v", err)
	}
}
