package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/cosminimum/polycopy/internal/crypto"
	"github.com/cosminimum/polycopy/internal/domain"
)

const (
	testModule = "0x1000000000000000000000000000000000000001"
	testGuard  = "0x2000000000000000000000000000000000000002"
)

// fakeChain simulates wallet state. Executed transactions mutate the state so
// a second run over the same fake observes the first run's effects.
type fakeChain struct {
	moduleEnabled  bool
	userAuthorized bool
	installedGuard string

	execCalls []string // destinations, in order
	execErr   error
}

func (f *fakeChain) ModuleEnabled(ctx context.Context, wallet string) (bool, error) {
	return f.moduleEnabled, nil
}

func (f *fakeChain) WithdrawalAuthorized(ctx context.Context, wallet, user string) (bool, error) {
	return f.userAuthorized, nil
}

func (f *fakeChain) InstalledGuard(ctx context.Context, wallet string) (string, error) {
	return f.installedGuard, nil
}

func (f *fakeChain) ExecTransaction(ctx context.Context, wallet, signerKeyHex, to string, data []byte) (string, error) {
	if f.execErr != nil {
		return "", f.execErr
	}
	f.execCalls = append(f.execCalls, to)
	// Apply the effect the real transaction would have.
	switch {
	case !f.moduleEnabled:
		f.moduleEnabled = true
	case !f.userAuthorized:
		f.userAuthorized = true
	default:
		f.installedGuard = testGuard
	}
	return fmt.Sprintf("0xtx%d", len(f.execCalls)), nil
}

func (f *fakeChain) CollateralBalance(ctx context.Context, wallet string) (float64, error) {
	return 0, nil
}

type fakeUserStore struct {
	user       domain.UserAccount
	userErr    error
	signerSets []string
}

func (f *fakeUserStore) GetByID(ctx context.Context, id string) (domain.UserAccount, error) {
	if f.userErr != nil {
		return domain.UserAccount{}, f.userErr
	}
	return f.user, nil
}

func (f *fakeUserStore) SetSignerAddress(ctx context.Context, id, addr string) error {
	f.signerSets = append(f.signerSets, addr)
	return nil
}

type fakeSecurityStore struct {
	saved []domain.SecuritySetupState
}

func (f *fakeSecurityStore) Get(ctx context.Context, userID string) (domain.SecuritySetupState, error) {
	return domain.SecuritySetupState{}, domain.ErrNotFound
}

func (f *fakeSecurityStore) Save(ctx context.Context, state domain.SecuritySetupState) error {
	f.saved = append(f.saved, state)
	return nil
}

func newTestConfigurator(t *testing.T, ch *fakeChain, users *fakeUserStore, states *fakeSecurityStore) *Configurator {
	t.Helper()
	deriver, err := crypto.NewDeriver("6f1b9c3d4e5a60718293a4b5c6d7e8f900112233445566778899aabbccddeeff")
	if err != nil {
		t.Fatalf("new deriver: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	return New(ch, deriver, users, states, logger, Config{
		WithdrawalModule: testModule,
		TradeGuard:       testGuard,
	})
}

func testUser() domain.UserAccount {
	return domain.UserAccount{
		ID:              "user-1",
		PrimaryAddress:  "0x1234567890abcdef1234567890abcdef12345678",
		CustodialWallet: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
		Active:          true,
	}
}

func TestRunSecuritySetupFreshWallet(t *testing.T) {
	ch := &fakeChain{}
	users := &fakeUserStore{user: testUser()}
	states := &fakeSecurityStore{}
	c := newTestConfigurator(t, ch, users, states)

	results, state, err := c.RunSecuritySetup(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 step results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != domain.StepExecuted {
			t.Fatalf("step %s: expected executed, got %s", r.Step, r.Status)
		}
		if r.TxRef == "" {
			t.Fatalf("step %s: executed step must carry a tx reference", r.Step)
		}
	}
	if !state.Complete() {
		t.Fatalf("expected complete state, got %+v", state)
	}
	if len(ch.execCalls) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(ch.execCalls))
	}
	// Derived signer address is cached on first run.
	if len(users.signerSets) != 1 {
		t.Fatalf("expected signer address cached once, got %d", len(users.signerSets))
	}
	// The saved cache must reflect completion.
	if len(states.saved) == 0 {
		t.Fatal("expected state saved")
	}
	last := states.saved[len(states.saved)-1]
	if last.CompletedAt == nil {
		t.Fatal("completed state should carry CompletedAt")
	}
}

func TestRunSecuritySetupIdempotent(t *testing.T) {
	ch := &fakeChain{}
	users := &fakeUserStore{user: testUser()}
	c := newTestConfigurator(t, ch, users, &fakeSecurityStore{})

	if _, _, err := c.RunSecuritySetup(context.Background(), "user-1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sent := len(ch.execCalls)

	results, state, err := c.RunSecuritySetup(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, r := range results {
		if r.Status != domain.StepAlreadySatisfied {
			t.Fatalf("step %s: expected already_satisfied, got %s", r.Step, r.Status)
		}
	}
	if len(ch.execCalls) != sent {
		t.Fatalf("second run must send no transactions, sent %d more", len(ch.execCalls)-sent)
	}
	if !state.Complete() {
		t.Fatal("expected complete state on re-run")
	}
}

func TestRunSecuritySetupResumesAfterPartial(t *testing.T) {
	// Module already enabled on chain; authorization and guard still missing.
	ch := &fakeChain{moduleEnabled: true}
	users := &fakeUserStore{user: testUser()}
	c := newTestConfigurator(t, ch, users, &fakeSecurityStore{})

	results, _, err := c.RunSecuritySetup(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if results[0].Status != domain.StepAlreadySatisfied {
		t.Fatalf("expected first step already satisfied, got %s", results[0].Status)
	}
	if results[1].Status != domain.StepExecuted || results[2].Status != domain.StepExecuted {
		t.Fatal("remaining steps should execute")
	}
	if len(ch.execCalls) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(ch.execCalls))
	}
}

func TestRunSecuritySetupHaltsOnFailure(t *testing.T) {
	ch := &fakeChain{execErr: errors.New("rpc unreachable")}
	users := &fakeUserStore{user: testUser()}
	c := newTestConfigurator(t, ch, users, &fakeSecurityStore{})

	results, state, err := c.RunSecuritySetup(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected error")
	}
	// Only the first step is attempted; the sequence halts.
	if len(results) != 1 {
		t.Fatalf("expected 1 step result, got %d", len(results))
	}
	if results[0].Status != domain.StepFailed {
		t.Fatalf("expected failed, got %s", results[0].Status)
	}
	if state.Complete() {
		t.Fatal("state must not be complete after a failed step")
	}
}

func TestRunSecuritySetupMissingWallet(t *testing.T) {
	users := &fakeUserStore{user: domain.UserAccount{ID: "user-1", PrimaryAddress: "0x1234567890abcdef1234567890abcdef12345678"}}
	c := newTestConfigurator(t, &fakeChain{}, users, &fakeSecurityStore{})

	_, _, err := c.RunSecuritySetup(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected precondition error")
	}
	if got := domain.CodeOf(err); got != domain.CodePrecondition {
		t.Fatalf("expected %s, got %s", domain.CodePrecondition, got)
	}
}

func TestVerifySecuritySetupReadsOnly(t *testing.T) {
	ch := &fakeChain{moduleEnabled: true, userAuthorized: true, installedGuard: testGuard}
	users := &fakeUserStore{user: testUser()}
	states := &fakeSecurityStore{}
	c := newTestConfigurator(t, ch, users, states)

	state, err := c.VerifySecuritySetup(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !state.Complete() {
		t.Fatalf("expected complete, got %+v", state)
	}
	if len(ch.execCalls) != 0 {
		t.Fatal("verify must send no transactions")
	}
	if len(states.saved) != 1 {
		t.Fatalf("verify should refresh the cached state, saved %d", len(states.saved))
	}
}
