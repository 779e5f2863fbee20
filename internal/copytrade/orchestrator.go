// Package copytrade is the engine core: it fans an observed trade out to
// every active follower, sizes and validates each copy, executes it, and
// settles the position ledger and audit trail.
package copytrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cosminimum/polycopy/internal/crypto"
	"github.com/cosminimum/polycopy/internal/domain"
	"github.com/cosminimum/polycopy/internal/execution"
	"github.com/cosminimum/polycopy/internal/notify"
	"github.com/cosminimum/polycopy/internal/sizing"
)

const (
	defaultLockTTL     = 30 * time.Second
	defaultParallelism = 4
	reconcileBatch     = 100
	lockPollInterval   = 100 * time.Millisecond
)

// Config tunes the orchestrator.
type Config struct {
	// ChainID and ExchangeAddress parameterize order signing.
	ChainID         int
	ExchangeAddress string
	// StaleAfter drops observed trades older than this. Zero disables the
	// guard.
	StaleAfter time.Duration
	// LockTTL bounds how long one copy may hold a ledger slot lock.
	LockTTL time.Duration
	// Parallelism caps concurrent subscriber copies per event.
	Parallelism int
}

// Orchestrator copies observed trades to followers. One instance serves all
// users; per-slot locking keeps concurrent ledger writes serialized.
type Orchestrator struct {
	users     domain.UserStore
	subs      domain.SubscriptionStore
	policies  domain.PolicyStore
	positions domain.PositionStore
	records   domain.RecordStore
	security  domain.SecurityStore
	chain     domain.Chain
	book      domain.OrderBook
	locks     domain.LockManager
	signers   domain.SignerCache
	deriver   *crypto.Deriver
	submitter *execution.Submitter
	notifier  *notify.Notifier
	logger    *slog.Logger
	cfg       Config

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Users     domain.UserStore
	Subs      domain.SubscriptionStore
	Policies  domain.PolicyStore
	Positions domain.PositionStore
	Records   domain.RecordStore
	Security  domain.SecurityStore
	Chain     domain.Chain
	Book      domain.OrderBook
	Locks     domain.LockManager
	Signers   domain.SignerCache
	Deriver   *crypto.Deriver
	Submitter *execution.Submitter
	Notifier  *notify.Notifier
	Logger    *slog.Logger
}

// New creates an Orchestrator.
func New(d Deps, cfg Config) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	return &Orchestrator{
		users:     d.Users,
		subs:      d.Subs,
		policies:  d.Policies,
		positions: d.Positions,
		records:   d.Records,
		security:  d.Security,
		chain:     d.Chain,
		book:      d.Book,
		locks:     d.Locks,
		signers:   d.Signers,
		deriver:   d.Deriver,
		submitter: d.Submitter,
		notifier:  d.Notifier,
		logger:    d.Logger.With(slog.String("component", "orchestrator")),
		cfg:       cfg,
		inflight:  make(map[string]struct{}),
	}
}

// ProcessTradeEvent copies one observed trade to every active follower of
// its trader. Each follower is handled independently; one follower's failure
// is recorded against that follower and never stops the others.
func (o *Orchestrator) ProcessTradeEvent(ctx context.Context, ev domain.TradeEvent) error {
	ev.TraderWallet = domain.NormalizeWallet(ev.TraderWallet)

	if o.cfg.StaleAfter > 0 && !ev.Timestamp.IsZero() && time.Since(ev.Timestamp) > o.cfg.StaleAfter {
		o.logger.Debug("dropping stale trade event",
			"event", ev.ID, "age", time.Since(ev.Timestamp).String())
		return nil
	}

	if !o.markInflight(ev.ID) {
		o.logger.Debug("duplicate trade event already in flight", "event", ev.ID)
		return nil
	}
	defer o.clearInflight(ev.ID)

	subs, err := o.subs.ListActiveByTrader(ctx, ev.TraderWallet)
	if err != nil {
		return fmt.Errorf("copytrade: list subscribers of %s: %w", ev.TraderWallet, err)
	}
	if len(subs) == 0 {
		return nil
	}

	o.logger.Info("processing trade event",
		"event", ev.ID,
		"trader", ev.TraderWallet,
		"side", ev.Side,
		"market", ev.ConditionID,
		"outcome", ev.Outcome,
		"subscribers", len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Parallelism)
	for _, sub := range subs {
		g.Go(func() error {
			o.copyForSubscriber(gctx, ev, sub)
			return nil
		})
	}
	return g.Wait()
}

// copyForSubscriber runs the full copy pipeline for one follower. Failures
// land on that follower's trade record; nothing propagates.
func (o *Orchestrator) copyForSubscriber(ctx context.Context, ev domain.TradeEvent, sub domain.Subscription) {
	log := o.logger.With("event", ev.ID, "user", sub.UserID)

	user, err := o.users.GetByID(ctx, sub.UserID)
	if err != nil {
		log.Error("loading follower failed", "error", err)
		return
	}
	if !user.Active {
		log.Debug("follower inactive, skipping")
		return
	}

	// Trade-readiness gate: the cached setup state must show all three
	// security steps landed.
	state, err := o.security.Get(ctx, user.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error("loading setup state failed", "error", err)
		return
	}
	if !state.Complete() {
		o.writeTerminal(ctx, o.newRecord(ev, user, nil), domain.RecordStatusSkipped,
			domain.CodePrecondition, "security setup incomplete")
		return
	}

	policy, err := o.policies.Resolve(ctx, user.ID, ev.TraderWallet)
	if errors.Is(err, domain.ErrNotFound) {
		o.writeTerminal(ctx, o.newRecord(ev, user, nil), domain.RecordStatusSkipped,
			"", "no active copy policy for this trader")
		return
	}
	if err != nil {
		log.Error("resolving policy failed", "error", err)
		return
	}

	balance, err := o.chain.CollateralBalance(ctx, user.CustodialWallet)
	if err != nil {
		o.failRecord(ctx, o.newRecord(ev, user, nil), err)
		return
	}

	var heldSize float64
	if ev.Side == domain.OrderSideSell {
		pos, err := o.positions.Get(ctx, user.ID, ev.ConditionID, ev.Outcome)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			o.failRecord(ctx, o.newRecord(ev, user, nil), err)
			return
		}
		heldSize = pos.Size
	}

	cand, reason := sizing.ComputeCandidateTrade(ev, policy, balance, heldSize)
	if cand == nil {
		o.writeTerminal(ctx, o.newRecord(ev, user, nil), domain.RecordStatusSkipped, "", reason)
		log.Info("copy skipped", "reason", reason)
		return
	}

	if err := sizing.ValidateTrade(*cand, policy); err != nil {
		o.failRecord(ctx, o.newRecord(ev, user, cand), err)
		return
	}

	rec := o.newRecord(ev, user, cand)
	rec.Status = domain.RecordStatusPending
	if err := o.records.Insert(ctx, rec); err != nil {
		log.Error("inserting trade record failed", "error", err)
		return
	}

	signer, err := o.signerFor(ctx, user)
	if err != nil {
		o.finalize(ctx, rec, domain.RecordStatusFailed, domain.CodeOf(err), err.Error())
		return
	}

	// Serialize ledger writes per (user, market, outcome).
	lockKey := fmt.Sprintf("copy:%s:%s:%s", user.ID, ev.ConditionID, ev.Outcome)
	release, err := o.acquireSlot(ctx, lockKey)
	if err != nil {
		o.finalize(ctx, rec, domain.RecordStatusFailed, domain.CodeOf(err),
			fmt.Sprintf("acquiring ledger lock: %v", err))
		return
	}
	defer release()

	result, err := o.submitter.Submit(ctx, signer, user.CustodialWallet, *cand)
	rec.OrderID = result.OrderID
	rec.SettlementRef = result.SettlementRef

	switch {
	case err != nil:
		o.finalize(ctx, rec, domain.RecordStatusFailed, domain.CodeOf(err), err.Error())

	case result.Status == domain.SubmitUnmatched:
		// Accepted but nothing crossed. The record stays PENDING with the
		// order id so reconciliation can pick up a late fill.
		o.finalize(ctx, rec, domain.RecordStatusPending, domain.CodeUnmatched,
			"order accepted but not matched")
		log.Warn("order unmatched, left for reconciliation", "order", result.OrderID)

	default:
		o.settleFill(ctx, rec, result)
	}
}

// ReconcilePending re-queries the venue for PENDING records that carry an
// order id, completing the ledger for orders that filled after submission.
func (o *Orchestrator) ReconcilePending(ctx context.Context) error {
	recs, err := o.records.ListPending(ctx, reconcileBatch)
	if err != nil {
		return fmt.Errorf("copytrade: list pending records: %w", err)
	}

	for _, rec := range recs {
		if rec.OrderID == "" {
			continue
		}
		result, err := o.book.OrderStatus(ctx, rec.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			o.finalize(ctx, rec, domain.RecordStatusFailed, domain.CodeUnmatched,
				"order no longer known to venue")
			continue
		}
		if err != nil {
			o.logger.Warn("reconcile query failed", "record", rec.ID, "order", rec.OrderID, "error", err)
			continue
		}

		switch result.Status {
		case domain.SubmitMatched:
			rec.SettlementRef = result.SettlementRef
			o.settleFill(ctx, rec, result)
			o.logger.Info("reconciled late fill", "record", rec.ID, "order", rec.OrderID)
		case domain.SubmitRejected:
			o.finalize(ctx, rec, domain.RecordStatusFailed, domain.CodeVenue, result.RawMessage)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// acquireSlot waits for the (user, market, outcome) ledger slot. A held lock
// means another copy of the same slot is in flight, possibly on another
// instance; that resolves by waiting, so we poll for up to one TTL window
// before giving up. Any other holder's lock has expired by then.
func (o *Orchestrator) acquireSlot(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(o.cfg.LockTTL)
	for {
		release, err := o.locks.Acquire(ctx, key, o.cfg.LockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, domain.WrapCoded(domain.CodePrecondition, err,
				"ledger slot still locked after %s", o.cfg.LockTTL)
		}
		select {
		case <-ctx.Done():
			return nil, domain.WrapCoded(domain.CodePrecondition, ctx.Err(),
				"cancelled while waiting for ledger slot")
		case <-time.After(lockPollInterval):
		}
	}
}

// settleFill finalizes a matched record with the venue's authoritative
// figures and applies the fill to the position ledger.
func (o *Orchestrator) settleFill(ctx context.Context, rec domain.TradeRecord, result domain.SubmitResult) {
	rec.FilledSize = result.FilledSize
	rec.FilledValue = result.FilledValue
	if rec.FilledSize <= 0 {
		rec.FilledSize = rec.RequestedSize
		rec.FilledValue = rec.RequestedValue
	}
	fillPrice := rec.FilledValue / rec.FilledSize

	o.finalize(ctx, rec, domain.RecordStatusCompleted, "", "")

	if _, err := o.positions.ApplyFill(ctx,
		rec.UserID, rec.ConditionID, rec.Outcome, rec.TokenID,
		rec.Side, rec.FilledSize, fillPrice); err != nil {
		o.logger.Error("applying fill to ledger failed",
			"record", rec.ID, "error", err)
		o.notifier.EngineError(ctx, "position ledger", err)
		return
	}

	o.logger.Info("copy completed",
		"record", rec.ID,
		"user", rec.UserID,
		"side", rec.Side,
		"filled_size", rec.FilledSize,
		"filled_value", rec.FilledValue)
	o.notifier.TradeCopied(ctx, rec)
}

// signerFor derives the follower's delegated signer and builds an order
// signer with it. The derived address is cached best-effort.
func (o *Orchestrator) signerFor(ctx context.Context, user domain.UserAccount) (*crypto.Signer, error) {
	ds, err := o.deriver.Derive(user.PrimaryAddress)
	if err != nil {
		return nil, err
	}
	if err := o.signers.Set(ctx, user.ID, ds.Address.Hex()); err != nil {
		o.logger.Debug("caching signer address failed", "user", user.ID, "error", err)
	}
	return crypto.NewSigner(ds.PrivateKeyHex, o.cfg.ChainID, o.cfg.ExchangeAddress)
}

// newRecord builds the base audit row for one copy attempt. cand may be nil
// when the attempt never reached sizing.
func (o *Orchestrator) newRecord(ev domain.TradeEvent, user domain.UserAccount, cand *domain.CandidateTrade) domain.TradeRecord {
	rec := domain.TradeRecord{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		TraderWallet: ev.TraderWallet,
		EventID:      ev.ID,
		ConditionID:  ev.ConditionID,
		Outcome:      ev.Outcome,
		TokenID:      ev.TokenID,
		Side:         ev.Side,
		CreatedAt:    time.Now().UTC(),
	}
	if cand != nil {
		rec.RequestedSize = cand.Size
		rec.RequestedValue = cand.Value
	}
	return rec
}

// writeTerminal inserts a record directly in a terminal state, for attempts
// that never produced an order.
func (o *Orchestrator) writeTerminal(ctx context.Context, rec domain.TradeRecord, status domain.RecordStatus, code domain.ErrorCode, msg string) {
	rec.Status = status
	rec.ErrorCode = string(code)
	rec.ErrorMessage = msg
	if err := o.records.Insert(ctx, rec); err != nil {
		o.logger.Error("inserting terminal record failed", "record", rec.ID, "error", err)
	}
}

// failRecord inserts a FAILED record classified from err and notifies.
func (o *Orchestrator) failRecord(ctx context.Context, rec domain.TradeRecord, err error) {
	rec.Status = domain.RecordStatusFailed
	rec.ErrorCode = string(domain.CodeOf(err))
	rec.ErrorMessage = err.Error()
	if insErr := o.records.Insert(ctx, rec); insErr != nil {
		o.logger.Error("inserting failed record failed", "record", rec.ID, "error", insErr)
	}
	o.notifier.TradeFailed(ctx, rec)
}

// finalize updates an inserted record to its settled state and notifies on
// failure.
func (o *Orchestrator) finalize(ctx context.Context, rec domain.TradeRecord, status domain.RecordStatus, code domain.ErrorCode, msg string) {
	rec.Status = status
	rec.ErrorCode = string(code)
	rec.ErrorMessage = msg
	rec.UpdatedAt = time.Now().UTC()
	if err := o.records.Finalize(ctx, rec); err != nil {
		o.logger.Error("finalizing record failed", "record", rec.ID, "error", err)
	}
	if status == domain.RecordStatusFailed {
		o.notifier.TradeFailed(ctx, rec)
	}
}

func (o *Orchestrator) markInflight(eventID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[eventID]; busy {
		return false
	}
	o.inflight[eventID] = struct{}{}
	return true
}

func (o *Orchestrator) clearInflight(eventID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, eventID)
}
