package domain

import (
	"fmt"
	"time"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is a user's holding in one market outcome. The entry price is the
// size-weighted average cost basis of all buy fills; sells reduce size
// without touching it. Size reaching zero closes the position.
type Position struct {
	ID            string
	UserID        string
	ConditionID   string
	Outcome       string
	TokenID       string
	Side          OrderSide // inventory direction, BUY for long outcome shares
	Size          float64   // shares, >= 0 while open
	EntryPrice    float64   // weighted-average entry
	CurrentPrice  float64   // last-known price
	UnrealizedPnL float64
	Status        PositionStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
	UpdatedAt     time.Time
}

// ApplyBuy folds a buy fill into the position, recomputing the entry price as
// the size-weighted average of the existing basis and the new fill. Applying
// two buy fills in either order yields the same final average.
func (p *Position) ApplyBuy(size, price float64) error {
	if size <= 0 {
		return fmt.Errorf("position: buy size must be positive, got %f", size)
	}
	if p.Status == PositionStatusClosed {
		// A buy on a closed slot reopens it with a fresh basis.
		p.Status = PositionStatusOpen
		p.ClosedAt = nil
		p.Size = 0
		p.EntryPrice = 0
	}

	total := p.Size + size
	p.EntryPrice = (p.EntryPrice*p.Size + price*size) / total
	p.Size = total
	p.CurrentPrice = price
	p.refreshPnL()
	return nil
}

// ApplySell reduces the position by a sell fill. The entry price is left
// untouched; proceeds above basis are realized outside the ledger. Selling
// more than held is rejected. Size reaching zero closes the position.
func (p *Position) ApplySell(size, price float64, now time.Time) error {
	if size <= 0 {
		return fmt.Errorf("position: sell size must be positive, got %f", size)
	}
	if p.Status == PositionStatusClosed {
		return fmt.Errorf("position: cannot sell from closed position %s", p.ID)
	}
	if size > p.Size+sizeEpsilon {
		return fmt.Errorf("position: sell size %f exceeds held %f", size, p.Size)
	}

	p.Size -= size
	if p.Size < sizeEpsilon {
		p.Size = 0
		p.Status = PositionStatusClosed
		closed := now
		p.ClosedAt = &closed
	}
	p.CurrentPrice = price
	p.refreshPnL()
	return nil
}

// sizeEpsilon absorbs float64 noise when a sell empties a position.
const sizeEpsilon = 1e-9

func (p *Position) refreshPnL() {
	if p.Status == PositionStatusClosed {
		p.UnrealizedPnL = 0
		return
	}
	p.UnrealizedPnL = (p.CurrentPrice - p.EntryPrice) * p.Size
}
