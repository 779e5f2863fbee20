package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UserStore reads user accounts. Accounts are owned by the onboarding layer;
// the engine only consumes them.
type UserStore interface {
	GetByID(ctx context.Context, id string) (UserAccount, error)
	SetSignerAddress(ctx context.Context, id, signerAddress string) error
}

// SubscriptionStore persists follower/trader links.
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub Subscription) error
	Deactivate(ctx context.Context, userID, traderWallet string) error
	ListActiveByTrader(ctx context.Context, traderWallet string) ([]Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)
	// ListActiveTraders returns the distinct trader wallets with at least one
	// active follower, for feed subscription.
	ListActiveTraders(ctx context.Context) ([]string, error)
}

// PolicyStore persists copy policies. Resolve applies the precedence rule:
// trader-specific active policy first, else the user's global active policy,
// else ErrNotFound.
type PolicyStore interface {
	Upsert(ctx context.Context, policy CopyPolicy) error
	Resolve(ctx context.Context, userID, traderWallet string) (CopyPolicy, error)
	ListByUser(ctx context.Context, userID string) ([]CopyPolicy, error)
}

// PositionStore persists the position ledger. ApplyFill performs the locked
// read-modify-write for one (user, market, outcome) slot inside a single
// transaction, creating the position on a first buy and closing it when a
// sell empties it.
type PositionStore interface {
	ApplyFill(ctx context.Context, userID, conditionID, outcome, tokenID string, side OrderSide, size, price float64) (Position, error)
	Get(ctx context.Context, userID, conditionID, outcome string) (Position, error)
	ListOpen(ctx context.Context, userID string) ([]Position, error)
	ListHistory(ctx context.Context, userID string, opts ListOpts) ([]Position, error)
}

// RecordStore persists the append-only copy-trade audit trail. Rows are
// inserted once and finalized at most once.
type RecordStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	Finalize(ctx context.Context, rec TradeRecord) error
	GetByID(ctx context.Context, id string) (TradeRecord, error)
	ListPending(ctx context.Context, limit int) ([]TradeRecord, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]TradeRecord, error)
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]TradeRecord, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

// SecurityStore persists the cached security-setup flags. Chain state remains
// authoritative; this cache only avoids redundant RPC reads.
type SecurityStore interface {
	Get(ctx context.Context, userID string) (SecuritySetupState, error)
	Save(ctx context.Context, state SecuritySetupState) error
}

// OrderBook is the external venue the engine submits orders to.
type OrderBook interface {
	// RefreshBalance asks the venue to re-read the wallet's on-chain balance.
	RefreshBalance(ctx context.Context, wallet string) error
	// BestQuote returns the best opposing price for a taker order on the
	// asset: best ask for BUY, best bid for SELL. Returns a CodedError with
	// CodeNoLiquidity when the side of the book is empty.
	BestQuote(ctx context.Context, tokenID string, side OrderSide) (float64, error)
	// SubmitOrder posts a signed order and classifies the outcome.
	SubmitOrder(ctx context.Context, order SignedOrder) (SubmitResult, error)
	// OrderStatus re-queries a previously submitted order by venue id.
	OrderStatus(ctx context.Context, orderID string) (SubmitResult, error)
}

// Chain reads and mutates custodial wallet state on chain.
type Chain interface {
	ModuleEnabled(ctx context.Context, wallet string) (bool, error)
	WithdrawalAuthorized(ctx context.Context, wallet, user string) (bool, error)
	InstalledGuard(ctx context.Context, wallet string) (string, error)
	// ExecTransaction signs a wallet transaction with the delegated signer's
	// key, submits it, and waits for confirmation within the context
	// deadline. It returns the transaction hash.
	ExecTransaction(ctx context.Context, wallet string, signerKeyHex string, to string, data []byte) (string, error)
	// CollateralBalance returns the wallet's trading collateral in dollars.
	CollateralBalance(ctx context.Context, wallet string) (float64, error)
}

// LockManager serializes ledger writes per (user, market, outcome) key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignerCache caches derived delegated-signer addresses per user.
type SignerCache interface {
	Get(ctx context.Context, userID string) (string, error)
	Set(ctx context.Context, userID, address string) error
}
