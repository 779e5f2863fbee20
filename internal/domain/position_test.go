package domain

import (
	"math"
	"testing"
	"time"
)

func approxEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestApplyBuyWeightedAverage(t *testing.T) {
	p := Position{Status: PositionStatusOpen}

	if err := p.ApplyBuy(100, 0.40); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if err := p.ApplyBuy(50, 0.70); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	// (100*0.40 + 50*0.70) / 150 = 0.50
	if !approxEq(p.EntryPrice, 0.50) {
		t.Fatalf("expected entry 0.50, got %f", p.EntryPrice)
	}
	if !approxEq(p.Size, 150) {
		t.Fatalf("expected size 150, got %f", p.Size)
	}
}

func TestApplyBuyOrderIndependent(t *testing.T) {
	a := Position{Status: PositionStatusOpen}
	b := Position{Status: PositionStatusOpen}

	_ = a.ApplyBuy(100, 0.40)
	_ = a.ApplyBuy(50, 0.70)

	_ = b.ApplyBuy(50, 0.70)
	_ = b.ApplyBuy(100, 0.40)

	if !approxEq(a.EntryPrice, b.EntryPrice) {
		t.Fatalf("entry price must be order independent: %f vs %f", a.EntryPrice, b.EntryPrice)
	}
}

func TestApplySellLeavesEntryUntouched(t *testing.T) {
	p := Position{Status: PositionStatusOpen}
	_ = p.ApplyBuy(100, 0.40)

	if err := p.ApplySell(40, 0.60, time.Now()); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !approxEq(p.EntryPrice, 0.40) {
		t.Fatalf("sell must not move the entry price, got %f", p.EntryPrice)
	}
	if !approxEq(p.Size, 60) {
		t.Fatalf("expected size 60, got %f", p.Size)
	}
	if p.Status != PositionStatusOpen {
		t.Fatalf("expected open, got %s", p.Status)
	}
}

func TestApplySellToZeroClosesPosition(t *testing.T) {
	p := Position{Status: PositionStatusOpen}
	_ = p.ApplyBuy(100, 0.40)

	now := time.Now()
	if err := p.ApplySell(100, 0.55, now); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if p.Status != PositionStatusClosed {
		t.Fatalf("expected closed, got %s", p.Status)
	}
	if p.Size != 0 {
		t.Fatalf("expected size 0, got %f", p.Size)
	}
	if p.ClosedAt == nil || !p.ClosedAt.Equal(now) {
		t.Fatalf("expected ClosedAt %v, got %v", now, p.ClosedAt)
	}
	if p.UnrealizedPnL != 0 {
		t.Fatalf("closed position must carry no unrealized PnL, got %f", p.UnrealizedPnL)
	}
}

func TestApplySellOversell(t *testing.T) {
	p := Position{Status: PositionStatusOpen}
	_ = p.ApplyBuy(10, 0.50)

	if err := p.ApplySell(11, 0.50, time.Now()); err == nil {
		t.Fatal("expected error selling more than held")
	}
}

func TestApplySellFromClosed(t *testing.T) {
	p := Position{Status: PositionStatusClosed}
	if err := p.ApplySell(1, 0.50, time.Now()); err == nil {
		t.Fatal("expected error selling from a closed position")
	}
}

func TestApplyBuyReopensClosedWithFreshBasis(t *testing.T) {
	p := Position{Status: PositionStatusOpen}
	_ = p.ApplyBuy(100, 0.40)
	_ = p.ApplySell(100, 0.60, time.Now())

	if err := p.ApplyBuy(20, 0.80); err != nil {
		t.Fatalf("reopen buy: %v", err)
	}
	if p.Status != PositionStatusOpen {
		t.Fatalf("expected reopened, got %s", p.Status)
	}
	if p.ClosedAt != nil {
		t.Fatal("reopened position should clear ClosedAt")
	}
	// Basis restarts; the old 0.40 entry must not bleed in.
	if !approxEq(p.EntryPrice, 0.80) {
		t.Fatalf("expected fresh basis 0.80, got %f", p.EntryPrice)
	}
	if !approxEq(p.Size, 20) {
		t.Fatalf("expected size 20, got %f", p.Size)
	}
}

func TestApplyBuyRejectsNonPositive(t *testing.T) {
	p := Position{Status: PositionStatusOpen}
	if err := p.ApplyBuy(0, 0.50); err == nil {
		t.Fatal("expected error for zero buy size")
	}
	if err := p.ApplyBuy(-5, 0.50); err == nil {
		t.Fatal("expected error for negative buy size")
	}
}
