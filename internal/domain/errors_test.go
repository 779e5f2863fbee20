package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfWalksWrapChain(t *testing.T) {
	base := NewCodedError(CodeBalance, "insufficient funds")
	wrapped := fmt.Errorf("submit: %w", base)

	if got := CodeOf(wrapped); got != CodeBalance {
		t.Fatalf("expected %s, got %s", CodeBalance, got)
	}
}

func TestCodeOfDefaultsToVenue(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != CodeVenue {
		t.Fatalf("uncoded errors classify as venue failures, got %s", got)
	}
}

func TestWrapCodedPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapCoded(CodeVenue, cause, "order submission failed")

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause must survive errors.Is")
	}
	if CodeOf(err) != CodeVenue {
		t.Fatalf("expected %s, got %s", CodeVenue, CodeOf(err))
	}
}
