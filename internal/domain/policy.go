package domain

import "time"

// SizingMode selects how a follower's trade size is derived from an observed
// trade.
type SizingMode string

const (
	// SizingPercentage sizes the copy as a percentage of the follower's
	// available balance, converted to shares at the observed price.
	SizingPercentage SizingMode = "PERCENTAGE"
	// SizingProportional multiplies the observed share size by a constant.
	SizingProportional SizingMode = "PROPORTIONAL"
	// SizingFixed trades a configured constant regardless of the observed
	// size: a dollar notional for BUY, a share count for SELL.
	SizingFixed SizingMode = "FIXED"
)

// CopyPolicy is a user's declared sizing rule, optionally scoped to a single
// trader. The engine only reads policies; they are mutated through settings.
type CopyPolicy struct {
	ID           string
	UserID       string
	TraderWallet string // empty for a global policy
	Mode         SizingMode
	Value        float64  // percentage, multiplier, or fixed amount per Mode
	MaxValue     *float64 // per-trade notional ceiling, optional
	MinValue     *float64 // per-trade notional floor, optional
	Active       bool
	Global       bool // applies to every followed trader
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CandidateTrade is the sizing calculator's output: the trade the follower
// would place. Outcome identifiers and price are carried through from the
// observed event unchanged.
type CandidateTrade struct {
	UserID      string
	ConditionID string
	Outcome     string
	TokenID     string
	Side        OrderSide
	Price       float64
	Size        float64 // shares
	Value       float64 // Price * Size
}
