package domain

import "time"

// RecordStatus tracks the lifecycle of a copy-trade attempt.
type RecordStatus string

const (
	// RecordStatusPending: submitted but not settled; also the terminal state
	// for unmatched orders awaiting reconciliation.
	RecordStatusPending RecordStatus = "PENDING"
	// RecordStatusCompleted: filled (fully or partially) and reconciled.
	RecordStatusCompleted RecordStatus = "COMPLETED"
	// RecordStatusFailed: rejected before or by the venue.
	RecordStatusFailed RecordStatus = "FAILED"
	// RecordStatusSkipped: sizing or policy resolution produced no trade.
	RecordStatusSkipped RecordStatus = "SKIPPED"
)

// TradeRecord is the append-only audit row for one copy-trade attempt.
// Requested figures come from the sizing calculator; filled figures are the
// venue's authoritative numbers and may be smaller on a partial fill. A row
// is created once and updated at most once.
type TradeRecord struct {
	ID             string
	UserID         string
	TraderWallet   string
	EventID        string
	ConditionID    string
	Outcome        string
	TokenID        string
	Side           OrderSide
	RequestedSize  float64
	RequestedValue float64
	FilledSize     float64
	FilledValue    float64
	Status         RecordStatus
	ErrorCode      string
	ErrorMessage   string
	OrderID        string // venue-assigned order id
	SettlementRef  string // on-chain settlement reference, when known
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
