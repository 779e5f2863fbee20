// Package domain defines the core types of the copy-trading engine: trade
// events, subscriptions, copy policies, positions, trade records, and the
// store interfaces they are persisted through.
package domain

import (
	"strings"
	"time"
)

// OrderSide indicates whether a trade buys or sells outcome shares.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// TradeEvent is an observed fill by a followed trader, delivered by the
// external trade feed. It is immutable input; the engine never writes back.
type TradeEvent struct {
	ID           string
	TraderWallet string // wallet that executed the trade
	ConditionID  string // market identifier
	Outcome      string // e.g. "Yes" / "No"
	TokenID      string // outcome token (CLOB asset id)
	Side         OrderSide
	Price        float64 // price per share, 0 < p < 1
	Size         float64 // shares
	Timestamp    time.Time
}

// Value returns the notional of the observed trade in dollars.
func (e TradeEvent) Value() float64 {
	return e.Price * e.Size
}

// NormalizeWallet lowercases a hex wallet address so feed and database
// identities compare equal regardless of checksum casing.
func NormalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Subscription links a follower to a trader wallet. Unfollowing deactivates
// the row; subscriptions are never deleted.
type Subscription struct {
	ID           string
	UserID       string
	TraderWallet string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserAccount carries the per-user identities the engine needs: the primary
// (externally owned) address and the custodial smart-contract wallet funded
// for trading. The delegated signer is derived, never stored.
type UserAccount struct {
	ID              string
	PrimaryAddress  string
	CustodialWallet string
	SignerAddress   string // cached derived identity, may be empty
	Active          bool
	CreatedAt       time.Time
}
