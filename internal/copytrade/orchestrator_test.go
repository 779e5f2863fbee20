package copytrade

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cosminimum/polycopy/internal/crypto"
	"github.com/cosminimum/polycopy/internal/domain"
	"github.com/cosminimum/polycopy/internal/execution"
	"github.com/cosminimum/polycopy/internal/notify"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeUsers struct {
	users map[string]domain.UserAccount
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (domain.UserAccount, error) {
	u, ok := f.users[id]
	if !ok {
		return domain.UserAccount{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) SetSignerAddress(ctx context.Context, id, addr string) error { return nil }

type fakeSubs struct {
	subs []domain.Subscription
}

func (f *fakeSubs) Upsert(ctx context.Context, sub domain.Subscription) error { return nil }
func (f *fakeSubs) Deactivate(ctx context.Context, userID, traderWallet string) error {
	return nil
}
func (f *fakeSubs) ListActiveByTrader(ctx context.Context, traderWallet string) ([]domain.Subscription, error) {
	var out []domain.Subscription
	for _, s := range f.subs {
		if s.TraderWallet == traderWallet && s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeSubs) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return f.subs, nil
}
func (f *fakeSubs) ListActiveTraders(ctx context.Context) ([]string, error) { return nil, nil }

type fakePolicies struct {
	policy domain.CopyPolicy
	err    error
}

func (f *fakePolicies) Upsert(ctx context.Context, p domain.CopyPolicy) error { return nil }
func (f *fakePolicies) Resolve(ctx context.Context, userID, traderWallet string) (domain.CopyPolicy, error) {
	if f.err != nil {
		return domain.CopyPolicy{}, f.err
	}
	return f.policy, nil
}
func (f *fakePolicies) ListByUser(ctx context.Context, userID string) ([]domain.CopyPolicy, error) {
	return nil, nil
}

type appliedFill struct {
	UserID string
	Side   domain.OrderSide
	Size   float64
	Price  float64
}

type fakePositions struct {
	mu    sync.Mutex
	held  map[string]float64 // userID:conditionID:outcome -> size
	fills []appliedFill
}

func (f *fakePositions) ApplyFill(ctx context.Context, userID, conditionID, outcome, tokenID string, side domain.OrderSide, size, price float64) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, appliedFill{UserID: userID, Side: side, Size: size, Price: price})
	return domain.Position{UserID: userID, Size: size}, nil
}

func (f *fakePositions) Get(ctx context.Context, userID, conditionID, outcome string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.held[userID+":"+conditionID+":"+outcome]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return domain.Position{UserID: userID, Size: size, Status: domain.PositionStatusOpen}, nil
}

func (f *fakePositions) ListOpen(ctx context.Context, userID string) ([]domain.Position, error) {
	return nil, nil
}
func (f *fakePositions) ListHistory(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type fakeRecords struct {
	mu   sync.Mutex
	rows []domain.TradeRecord
}

func (f *fakeRecords) Insert(ctx context.Context, rec domain.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rec)
	return nil
}

func (f *fakeRecords) Finalize(ctx context.Context, rec domain.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == rec.ID {
			f.rows[i] = rec
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeRecords) GetByID(ctx context.Context, id string) (domain.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.TradeRecord{}, domain.ErrNotFound
}

func (f *fakeRecords) ListPending(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TradeRecord
	for _, r := range f.rows {
		if r.Status == domain.RecordStatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecords) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}
func (f *fakeRecords) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	return nil, nil
}
func (f *fakeRecords) DeleteByIDs(ctx context.Context, ids []string) error { return nil }

func (f *fakeRecords) all() []domain.TradeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TradeRecord, len(f.rows))
	copy(out, f.rows)
	return out
}

type fakeSecurity struct {
	state domain.SecuritySetupState
}

func (f *fakeSecurity) Get(ctx context.Context, userID string) (domain.SecuritySetupState, error) {
	return f.state, nil
}
func (f *fakeSecurity) Save(ctx context.Context, state domain.SecuritySetupState) error { return nil }

type fakeChain struct {
	balance float64
}

func (f *fakeChain) ModuleEnabled(ctx context.Context, wallet string) (bool, error) { return true, nil }
func (f *fakeChain) WithdrawalAuthorized(ctx context.Context, wallet, user string) (bool, error) {
	return true, nil
}
func (f *fakeChain) InstalledGuard(ctx context.Context, wallet string) (string, error) {
	return "", nil
}
func (f *fakeChain) ExecTransaction(ctx context.Context, wallet, signerKeyHex, to string, data []byte) (string, error) {
	return "", nil
}
func (f *fakeChain) CollateralBalance(ctx context.Context, wallet string) (float64, error) {
	return f.balance, nil
}

type fakeBook struct {
	mu         sync.Mutex
	quote      float64
	quoteCalls int
	submits    int
	result     domain.SubmitResult
	statuses   map[string]domain.SubmitResult // order id -> reconciled result
}

func (f *fakeBook) RefreshBalance(ctx context.Context, wallet string) error { return nil }

func (f *fakeBook) BestQuote(ctx context.Context, tokenID string, side domain.OrderSide) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	return f.quote, nil
}

func (f *fakeBook) SubmitOrder(ctx context.Context, order domain.SignedOrder) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return f.result, nil
}

func (f *fakeBook) OrderStatus(ctx context.Context, orderID string) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.statuses[orderID]
	if !ok {
		return domain.SubmitResult{}, domain.ErrNotFound
	}
	return res, nil
}

type fakeLocks struct {
	mu       sync.Mutex
	busy     int // acquire attempts to refuse before granting
	acquires int
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.busy > 0 {
		f.busy--
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type fakeSigners struct{}

func (f *fakeSigners) Get(ctx context.Context, userID string) (string, error) {
	return "", domain.ErrNotFound
}
func (f *fakeSigners) Set(ctx context.Context, userID, address string) error { return nil }

// --------------------------------------------------------------------------
// Harness
// --------------------------------------------------------------------------

type harness struct {
	orch      *Orchestrator
	users     *fakeUsers
	subs      *fakeSubs
	policies  *fakePolicies
	positions *fakePositions
	records   *fakeRecords
	security  *fakeSecurity
	book      *fakeBook
	locks     *fakeLocks
}

func ptr(v float64) *float64 { return &v }

func approxEq(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

const (
	testTrader = "0xcccccccccccccccccccccccccccccccccccccccc"
	testMarket = "cond-1"
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	deriver, err := crypto.NewDeriver("6f1b9c3d4e5a60718293a4b5c6d7e8f900112233445566778899aabbccddeeff")
	if err != nil {
		t.Fatalf("new deriver: %v", err)
	}

	h := &harness{
		users: &fakeUsers{users: map[string]domain.UserAccount{
			"user-1": {
				ID:              "user-1",
				PrimaryAddress:  "0x1234567890abcdef1234567890abcdef12345678",
				CustodialWallet: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
				Active:          true,
			},
		}},
		subs: &fakeSubs{subs: []domain.Subscription{
			{ID: "sub-1", UserID: "user-1", TraderWallet: testTrader, Active: true},
		}},
		policies: &fakePolicies{policy: domain.CopyPolicy{
			UserID: "user-1",
			Mode:   domain.SizingProportional,
			Value:  1,
			Active: true,
		}},
		positions: &fakePositions{held: map[string]float64{}},
		records:   &fakeRecords{},
		security:  &fakeSecurity{state: domain.SecuritySetupState{ModuleEnabled: true, UserAuthorized: true, GuardInstalled: true}},
		book: &fakeBook{
			quote:  0.40,
			result: domain.SubmitResult{Status: domain.SubmitMatched},
		},
		locks: &fakeLocks{},
	}

	submitter := execution.New(h.book, logger, execution.Config{})
	notifier := notify.New(nil, nil, logger)

	h.orch = New(Deps{
		Users:     h.users,
		Subs:      h.subs,
		Policies:  h.policies,
		Positions: h.positions,
		Records:   h.records,
		Security:  h.security,
		Chain:     &fakeChain{balance: 1000},
		Book:      h.book,
		Locks:     h.locks,
		Signers:   &fakeSigners{},
		Deriver:   deriver,
		Submitter: submitter,
		Notifier:  notifier,
		Logger:    logger,
	}, Config{
		ChainID:         137,
		ExchangeAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
		StaleAfter:      2 * time.Minute,
		Parallelism:     1,
	})
	return h
}

func buyEvent() domain.TradeEvent {
	return domain.TradeEvent{
		ID:           "evt-1",
		TraderWallet: testTrader,
		ConditionID:  testMarket,
		Outcome:      "Yes",
		TokenID:      "1234567890",
		Side:         domain.OrderSideBuy,
		Price:        0.40,
		Size:         100,
		Timestamp:    time.Now(),
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestProcessTradeEventCopiesBuy(t *testing.T) {
	h := newHarness(t)
	h.book.result = domain.SubmitResult{
		Status:      domain.SubmitMatched,
		OrderID:     "ord-1",
		FilledSize:  100,
		FilledValue: 40,
	}

	if err := h.orch.ProcessTradeEvent(context.Background(), buyEvent()); err != nil {
		t.Fatalf("process: %v", err)
	}

	recs := h.records.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Status != domain.RecordStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s: %s)", rec.Status, rec.ErrorCode, rec.ErrorMessage)
	}
	if !approxEq(rec.FilledSize, 100) || !approxEq(rec.FilledValue, 40) {
		t.Fatalf("unexpected fill figures: %f / %f", rec.FilledSize, rec.FilledValue)
	}
	if len(h.positions.fills) != 1 {
		t.Fatalf("expected 1 ledger fill, got %d", len(h.positions.fills))
	}
}

func TestSellWithoutPositionIsSkipped(t *testing.T) {
	h := newHarness(t)

	ev := buyEvent()
	ev.Side = domain.OrderSideSell

	if err := h.orch.ProcessTradeEvent(context.Background(), ev); err != nil {
		t.Fatalf("process: %v", err)
	}

	recs := h.records.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Status != domain.RecordStatusSkipped {
		t.Fatalf("expected SKIPPED, got %s", recs[0].Status)
	}
	if h.book.submits != 0 {
		t.Fatal("no order should reach the venue")
	}
	if len(h.positions.fills) != 0 {
		t.Fatal("ledger must not change")
	}
}

func TestBuyOverCeilingClampedNotRejected(t *testing.T) {
	h := newHarness(t)
	h.policies.policy.MaxValue = ptr(100)
	h.policies.policy.Mode = domain.SizingFixed
	h.policies.policy.Value = 150 // $150 notional intent, $100 ceiling

	h.book.result = domain.SubmitResult{
		Status:      domain.SubmitMatched,
		OrderID:     "ord-1",
		FilledSize:  250,
		FilledValue: 100,
	}

	if err := h.orch.ProcessTradeEvent(context.Background(), buyEvent()); err != nil {
		t.Fatalf("process: %v", err)
	}

	recs := h.records.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Status != domain.RecordStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s: %s)", rec.Status, rec.ErrorCode, rec.ErrorMessage)
	}
	// A BUY above the ceiling is clamped to exactly the ceiling, not rejected.
	if !approxEq(rec.RequestedValue, 100) {
		t.Fatalf("expected requested value clamped to $100, got %f", rec.RequestedValue)
	}
	if h.book.submits != 1 {
		t.Fatalf("clamped buy should be submitted once, got %d", h.book.submits)
	}
}

func TestBelowMinimumSkippedBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	h.policies.policy.Mode = domain.SizingFixed
	h.policies.policy.Value = 30
	h.policies.policy.MinValue = ptr(50)

	if err := h.orch.ProcessTradeEvent(context.Background(), buyEvent()); err != nil {
		t.Fatalf("process: %v", err)
	}

	recs := h.records.all()
	if len(recs) != 1 || recs[0].Status != domain.RecordStatusSkipped {
		t.Fatalf("expected one SKIPPED record, got %+v", recs)
	}
	if h.book.quoteCalls != 0 || h.book.submits != 0 {
		t.Fatal("skip must happen before any venue call")
	}
}

func TestPartialFillUsesVenueFigures(t *testing.T) {
	h := newHarness(t)
	// Requested 100 shares at $0.40; venue fills 80.
	h.book.result = domain.SubmitResult{
		Status:      domain.SubmitMatched,
		OrderID:     "ord-1",
		FilledSize:  80,
		FilledValue: 32,
	}

	if err := h.orch.ProcessTradeEvent(context.Background(), buyEvent()); err != nil {
		t.Fatalf("process: %v", err)
	}

	recs := h.records.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if !approxEq(rec.FilledSize, 80) {
		t.Fatalf("record must carry the venue's 80 shares, got %f", rec.FilledSize)
	}
	if !approxEq(rec.RequestedSize, 100) {
		t.Fatalf("requested size should remain 100, got %f", rec.RequestedSize)
	}

	if len(h.positions.fills) != 1 {
		t.Fatalf("expected 1 ledger fill, got %d", len(h.positions.fills))
	}
	fill := h.positions.fills[0]
	if !approxEq(fill.Size, 80) {
		t.Fatalf("ledger must use 80 shares, got %f", fill.Size)
	}
	if !approxEq(fill.Price, 0.40) {
		t.Fatalf("ledger must use the actual fill price, got %f", fill.Price)
	}
}

func TestUnmatchedStaysPendingForReconciliation(t *testing.T) {
	h := newHarness(t)
	h.book.result = domain.SubmitResult{
		Status:  domain.SubmitUnmatched,
		OrderID: "ord-9",
	}

	if err := h.orch.ProcessTradeEvent(context.Background(), buyEvent()); err != nil {
		t.Fatalf("process: %v", err)
	}

	recs := h.records.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Status != domain.RecordStatusPending {
		t.Fatalf("unmatched order must stay PENDING, got %s", rec.Status)
	}
	if rec.ErrorCode != string(domain.CodeUnmatched) {
		t.Fatalf("expected %s, got %s", domain.CodeUnmatched, rec.ErrorCode)
	}
	if rec.OrderID != "ord-9" {
		t.Fatalf("order id must be kept for reconciliation, got %q", rec.OrderID)
	}
	if len(h.positions.fills) != 0 {
		t.Fatal("ledger must not change for an unmatched order")
	}
}

func TestReconcilePendingSettlesLateFill(t *testing.T) {
	h := newHarness(t)
	h.book.result = domain.SubmitResult{Status: domain.SubmitUnmatched, OrderID: "ord-9"}

	if err := h.orch.ProcessTradeEvent(context.Background(), buyEvent()); err != nil {
		t.Fatalf("process: %v", err)
	}

	// The order fills after the fact.
	h.book.statuses = map[string]domain.SubmitResult{
		"ord-9": {Status: domain.SubmitMatched, OrderID: "ord-9", FilledSize: 100, FilledValue: 40},
	}
	if err := h.orch.ReconcilePending(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	recs := h.records.all()
	if recs[0].Status != domain.RecordStatusCompleted {
		t.Fatalf("expected COMPLETED after reconcile, got %s", recs[0].Status)
	}
	if len(h.positions.fills) != 1 {
		t.Fatalf("late fill must land on the ledger, got %d fills", len(h.positions.fills))
	}
}

func TestReconcilePendingFailsVanishedOrder(t *testing.T) {
	h := newHarness(t)
	h.book.result = domain.SubmitResult{Status: domain.SubmitUnmatched, OrderID: "ord-9"}

	if err := h.orch.ProcessTradeEvent(context.Background(), buyEvent()); err != nil {
		t.Fatalf("process: %v", err)
	}

	// Venue no longer knows the order.
	h.book.statuses = nil
	if err := h.orch.ReconcilePending(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	recs := h.records.all()
	if recs[0].Status != domain.RecordStatusFailed {
		t.Fatalf("expected FAILED for vanished order, got %s", recs[0].Status)
	}
	if recs[0].ErrorCode != string(domain.CodeUnmatched) {
		t.Fatalf("expected %s, got %s", domain.CodeUnmatched, recs[0].ErrorCode)
	}
}

func TestIncompleteSetupSkips(t *testing.T) {
	h := newHarness(t)
	h.security.state = domain.SecuritySetupState{ModuleEnabled: true} // partial

	if err := h.orch.ProcessTradeEvent(context.Background(), buyEvent()); err != nil {
		t.Fatalf("process: %v", err)
	}

	recs := h.records.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Status != domain.RecordStatusSkipped {
		t.Fatalf("expected SKIPPED, got %s", recs[0].Status)
	}
	if recs[0].ErrorCode != string(domain.CodePrecondition) {
		t.Fatalf("expected %s, got %s", domain.CodePrecondition, recs[0].ErrorCode)
	}
}

func TestStaleEventDropped(t *testing.T) {
	h := newHarness(t)

	ev := buyEvent()
	ev.Timestamp = time.Now().Add(-10 * time.Minute)

	if err := h.orch.ProcessTradeEvent(context.Background(), ev); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(h.records.all()) != 0 {
		t.Fatal("stale event must not produce records")
	}
}

func TestSellCopiesHeldPosition(t *testing.T) {
	h := newHarness(t)
	h.positions.held["user-1:"+testMarket+":Yes"] = 30
	h.book.quote = 0.60
	h.book.result = domain.SubmitResult{
		Status:      domain.SubmitMatched,
		OrderID:     "ord-2",
		FilledSize:  30,
		FilledValue: 18,
	}

	ev := buyEvent()
	ev.Side = domain.OrderSideSell
	ev.Price = 0.60

	if err := h.orch.ProcessTradeEvent(context.Background(), ev); err != nil {
		t.Fatalf("process: %v", err)
	}

	recs := h.records.all()
	if len(recs) != 1 || recs[0].Status != domain.RecordStatusCompleted {
		t.Fatalf("expected one COMPLETED record, got %+v", recs)
	}
	// The sell is capped at the 30 shares held, not the trader's 100.
	if !approxEq(recs[0].RequestedSize, 30) {
		t.Fatalf("expected requested size 30, got %f", recs[0].RequestedSize)
	}
	if len(h.positions.fills) != 1 || h.positions.fills[0].Side != domain.OrderSideSell {
		t.Fatalf("expected one sell fill, got %+v", h.positions.fills)
	}
}

func TestHeldLockIsRetriedNotFailed(t *testing.T) {
	h := newHarness(t)
	h.locks.busy = 2
	h.book.result = domain.SubmitResult{
		Status:      domain.SubmitMatched,
		OrderID:     "ord-3",
		FilledSize:  100,
		FilledValue: 40,
	}

	if err := h.orch.ProcessTradeEvent(context.Background(), buyEvent()); err != nil {
		t.Fatalf("process: %v", err)
	}

	recs := h.records.all()
	if len(recs) != 1 || recs[0].Status != domain.RecordStatusCompleted {
		t.Fatalf("expected one COMPLETED record, got %+v", recs)
	}
	if h.locks.acquires != 3 {
		t.Fatalf("expected 3 acquire attempts, got %d", h.locks.acquires)
	}
}

func TestLockContentionPastDeadlineIsPrecondition(t *testing.T) {
	h := newHarness(t)
	h.orch.cfg.LockTTL = 10 * time.Millisecond
	h.locks.busy = 1000

	if err := h.orch.ProcessTradeEvent(context.Background(), buyEvent()); err != nil {
		t.Fatalf("process: %v", err)
	}

	recs := h.records.all()
	if len(recs) != 1 || recs[0].Status != domain.RecordStatusFailed {
		t.Fatalf("expected one FAILED record, got %+v", recs)
	}
	if recs[0].ErrorCode != string(domain.CodePrecondition) {
		t.Fatalf("expected %s, got %s", domain.CodePrecondition, recs[0].ErrorCode)
	}
	if h.book.submits != 0 {
		t.Fatal("no order should reach the venue without the ledger slot")
	}
}
