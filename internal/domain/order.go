package domain

import "math/big"

// SignedOrder is an EIP-712 signed order ready for venue submission. Maker
// and taker amounts are the integer (1e6 fixed-point) values that were
// hashed, so the venue can verify the signature byte for byte.
type SignedOrder struct {
	Salt          string
	Maker         string // custodial wallet
	Signer        string // delegated signer address
	TokenID       string
	Side          OrderSide
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Price         float64
	Size          float64
	Signature     string // 65-byte hex signature
	SignatureType int
}

// SubmitStatus classifies what the venue did with a submitted order.
type SubmitStatus string

const (
	// SubmitMatched: the order crossed; filled figures are authoritative.
	SubmitMatched SubmitStatus = "matched"
	// SubmitUnmatched: accepted but nothing filled. Treated as a failure for
	// ledger purposes; the order id is kept for reconciliation.
	SubmitUnmatched SubmitStatus = "unmatched"
	// SubmitRejected: the venue refused the order.
	SubmitRejected SubmitStatus = "rejected"
)

// SubmitResult is the venue's answer to an order submission. FilledSize and
// FilledValue override the requested figures on partial fills.
type SubmitResult struct {
	Status        SubmitStatus
	OrderID       string
	FilledSize    float64
	FilledValue   float64
	SettlementRef string
	RawMessage    string // venue's raw error text on rejection
}
