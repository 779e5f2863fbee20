// Package setup drives the custodial wallet security configuration: enabling
// the withdrawal module, authorizing the user's primary address, and
// installing the trade guard, in that order, idempotently.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cosminimum/polycopy/internal/crypto"
	"github.com/cosminimum/polycopy/internal/domain"
	"github.com/cosminimum/polycopy/internal/platform/chain"
)

// defaultTxWait bounds how long a single setup transaction may take to
// confirm before the run reports ERR_UNCONFIRMED and stops.
const defaultTxWait = 2 * time.Minute

// Config holds the contract addresses the configurator drives the wallet
// toward and the per-transaction confirmation budget.
type Config struct {
	WithdrawalModule string
	TradeGuard       string
	TxWait           time.Duration
}

// Configurator runs the three-step security setup. Every step checks chain
// state before acting, so re-running after a partial failure resumes at the
// first unsatisfied step and a fully configured wallet produces no
// transactions at all.
type Configurator struct {
	chain   domain.Chain
	deriver *crypto.Deriver
	users   domain.UserStore
	states  domain.SecurityStore
	logger  *slog.Logger
	module  string
	guard   string
	txWait  time.Duration
}

// New creates a Configurator.
func New(ch domain.Chain, deriver *crypto.Deriver, users domain.UserStore, states domain.SecurityStore, logger *slog.Logger, cfg Config) *Configurator {
	if cfg.TxWait <= 0 {
		cfg.TxWait = defaultTxWait
	}
	return &Configurator{
		chain:   ch,
		deriver: deriver,
		users:   users,
		states:  states,
		logger:  logger,
		module:  cfg.WithdrawalModule,
		guard:   domain.NormalizeWallet(cfg.TradeGuard),
		txWait:  cfg.TxWait,
	}
}

// RunSecuritySetup configures the user's custodial wallet. It returns one
// StepResult per attempted step plus the resulting state. A failed step halts
// the sequence; already-landed steps report StepAlreadySatisfied and send
// nothing.
func (c *Configurator) RunSecuritySetup(ctx context.Context, userID string) ([]domain.StepResult, domain.SecuritySetupState, error) {
	user, signer, err := c.prepare(ctx, userID)
	if err != nil {
		return nil, domain.SecuritySetupState{}, err
	}

	state := domain.SecuritySetupState{UserID: userID}
	var results []domain.StepResult

	steps := []struct {
		step      domain.SetupStep
		satisfied func(context.Context) (bool, error)
		execute   func(context.Context) (string, error)
		mark      func(*domain.SecuritySetupState)
	}{
		{
			step: domain.StepEnableModule,
			satisfied: func(ctx context.Context) (bool, error) {
				return c.chain.ModuleEnabled(ctx, user.CustodialWallet)
			},
			execute: func(ctx context.Context) (string, error) {
				data, err := chain.PackEnableModule(c.module)
				if err != nil {
					return "", err
				}
				// Module enablement is a wallet self-call.
				return c.chain.ExecTransaction(ctx, user.CustodialWallet, signer.PrivateKeyHex, user.CustodialWallet, data)
			},
			mark: func(s *domain.SecuritySetupState) { s.ModuleEnabled = true },
		},
		{
			step: domain.StepAuthorizeUser,
			satisfied: func(ctx context.Context) (bool, error) {
				return c.chain.WithdrawalAuthorized(ctx, user.CustodialWallet, user.PrimaryAddress)
			},
			execute: func(ctx context.Context) (string, error) {
				data, err := chain.PackAuthorize(user.PrimaryAddress)
				if err != nil {
					return "", err
				}
				return c.chain.ExecTransaction(ctx, user.CustodialWallet, signer.PrivateKeyHex, c.module, data)
			},
			mark: func(s *domain.SecuritySetupState) { s.UserAuthorized = true },
		},
		{
			step: domain.StepInstallGuard,
			satisfied: func(ctx context.Context) (bool, error) {
				installed, err := c.chain.InstalledGuard(ctx, user.CustodialWallet)
				if err != nil {
					return false, err
				}
				return installed == c.guard, nil
			},
			execute: func(ctx context.Context) (string, error) {
				data, err := chain.PackSetGuard(c.guard)
				if err != nil {
					return "", err
				}
				return c.chain.ExecTransaction(ctx, user.CustodialWallet, signer.PrivateKeyHex, user.CustodialWallet, data)
			},
			mark: func(s *domain.SecuritySetupState) { s.GuardInstalled = true },
		},
	}

	for _, st := range steps {
		res, err := c.runStep(ctx, st.step, st.satisfied, st.execute)
		results = append(results, res)
		if err != nil {
			c.saveState(ctx, state)
			return results, state, fmt.Errorf("setup: step %s: %w", st.step, err)
		}
		st.mark(&state)
	}

	c.saveState(ctx, state)

	c.logger.Info("security setup complete",
		"user", userID,
		"wallet", user.CustodialWallet,
		"signer", signer.Address.Hex())
	return results, state, nil
}

// VerifySecuritySetup re-derives the setup state from chain without sending
// anything, and refreshes the cached copy.
func (c *Configurator) VerifySecuritySetup(ctx context.Context, userID string) (domain.SecuritySetupState, error) {
	user, _, err := c.prepare(ctx, userID)
	if err != nil {
		return domain.SecuritySetupState{}, err
	}

	state := domain.SecuritySetupState{UserID: userID}

	if state.ModuleEnabled, err = c.chain.ModuleEnabled(ctx, user.CustodialWallet); err != nil {
		return state, fmt.Errorf("setup: verify module: %w", err)
	}
	if state.UserAuthorized, err = c.chain.WithdrawalAuthorized(ctx, user.CustodialWallet, user.PrimaryAddress); err != nil {
		return state, fmt.Errorf("setup: verify authorization: %w", err)
	}
	installed, err := c.chain.InstalledGuard(ctx, user.CustodialWallet)
	if err != nil {
		return state, fmt.Errorf("setup: verify guard: %w", err)
	}
	state.GuardInstalled = installed == c.guard

	c.saveState(ctx, state)
	return state, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// prepare loads the user, checks the preconditions, and derives the delegated
// signer. The derived address is cached on the user row the first time.
func (c *Configurator) prepare(ctx context.Context, userID string) (domain.UserAccount, *crypto.DelegatedSigner, error) {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return domain.UserAccount{}, nil, fmt.Errorf("setup: load user %s: %w", userID, err)
	}
	if user.CustodialWallet == "" || user.PrimaryAddress == "" {
		return domain.UserAccount{}, nil, domain.NewCodedError(domain.CodePrecondition,
			"user %s has no custodial wallet or primary address", userID)
	}

	signer, err := c.deriver.Derive(user.PrimaryAddress)
	if err != nil {
		return domain.UserAccount{}, nil, err
	}

	if user.SignerAddress == "" {
		if err := c.users.SetSignerAddress(ctx, userID, signer.Address.Hex()); err != nil {
			c.logger.Warn("caching signer address failed", "user", userID, "error", err)
		}
	}
	return user, signer, nil
}

func (c *Configurator) runStep(ctx context.Context, step domain.SetupStep,
	satisfied func(context.Context) (bool, error),
	execute func(context.Context) (string, error)) (domain.StepResult, error) {

	done, err := satisfied(ctx)
	if err != nil {
		return domain.StepResult{Step: step, Status: domain.StepFailed, Err: err}, err
	}
	if done {
		c.logger.Info("setup step already satisfied", "step", step)
		return domain.StepResult{Step: step, Status: domain.StepAlreadySatisfied}, nil
	}

	txCtx, cancel := context.WithTimeout(ctx, c.txWait)
	defer cancel()

	txRef, err := execute(txCtx)
	if err != nil {
		return domain.StepResult{Step: step, Status: domain.StepFailed, TxRef: txRef, Err: err}, err
	}

	c.logger.Info("setup step executed", "step", step, "tx", txRef)
	return domain.StepResult{Step: step, Status: domain.StepExecuted, TxRef: txRef}, nil
}

// saveState refreshes the cached setup flags. The cache is advisory, chain
// state stays authoritative, so a save failure is only logged.
func (c *Configurator) saveState(ctx context.Context, state domain.SecuritySetupState) {
	state.UpdatedAt = time.Now().UTC()
	if state.Complete() {
		now := state.UpdatedAt
		state.CompletedAt = &now
	}
	if err := c.states.Save(ctx, state); err != nil {
		c.logger.Warn("saving setup state failed", "user", state.UserID, "error", err)
	}
}
