package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cosminimum/polycopy/internal/copytrade"
	"github.com/cosminimum/polycopy/internal/domain"
)

// RunMode starts the live copy pipeline: the trade feed, the maintenance
// loop (pending-record reconciliation and trader re-listing), and (when
// enabled) the record archiver. It blocks until the context is cancelled or
// one of the goroutines fails.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	traders, err := deps.Subs.ListActiveTraders(ctx)
	if err != nil {
		return fmt.Errorf("app: list followed traders: %w", err)
	}
	a.logger.InfoContext(ctx, "following traders", slog.Int("count", len(traders)))

	g, ctx := errgroup.WithContext(ctx)

	feed := copytrade.NewFeed(a.cfg.Venue.WsHost, traders,
		func(ctx context.Context, ev domain.TradeEvent) {
			if err := deps.Orchestrator.ProcessTradeEvent(ctx, ev); err != nil {
				a.logger.ErrorContext(ctx, "trade event processing failed",
					slog.String("event", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}, a.root)
	g.Go(func() error {
		return feed.Run(ctx)
	})

	g.Go(func() error {
		return a.maintenanceLoop(ctx, deps, feed)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	return g.Wait()
}

// maintenanceLoop periodically re-queries orders left in PENDING so late
// fills are settled and vanished orders are failed, and re-lists the followed
// traders so new subscriptions take effect without a restart.
func (a *App) maintenanceLoop(ctx context.Context, deps *Dependencies, feed *copytrade.Feed) error {
	interval := a.cfg.Engine.ReconcileInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := deps.Orchestrator.ReconcilePending(ctx); err != nil {
				a.logger.ErrorContext(ctx, "reconcile pass failed",
					slog.String("error", err.Error()))
			}
			traders, err := deps.Subs.ListActiveTraders(ctx)
			if err != nil {
				a.logger.ErrorContext(ctx, "re-listing followed traders failed",
					slog.String("error", err.Error()))
				continue
			}
			feed.UpdateTraders(traders)
		}
	}
}

// SetupMode runs the security setup for one user's custodial wallet and logs
// the outcome of each step.
func (a *App) SetupMode(ctx context.Context, deps *Dependencies) error {
	if a.userID == "" {
		return fmt.Errorf("app: setup mode requires a user id (-user)")
	}
	a.logger.InfoContext(ctx, "starting security setup", slog.String("user", a.userID))

	results, state, err := deps.Configurator.RunSecuritySetup(ctx, a.userID)
	for _, r := range results {
		attrs := []any{
			slog.String("step", string(r.Step)),
			slog.String("status", string(r.Status)),
		}
		if r.TxRef != "" {
			attrs = append(attrs, slog.String("tx", r.TxRef))
		}
		if r.Err != nil {
			attrs = append(attrs, slog.String("error", r.Err.Error()))
			a.logger.ErrorContext(ctx, "setup step failed", attrs...)
			continue
		}
		a.logger.InfoContext(ctx, "setup step", attrs...)
	}
	if err != nil {
		return fmt.Errorf("app: security setup for %s: %w", a.userID, err)
	}

	if state.Complete() {
		user, uerr := deps.Users.GetByID(ctx, a.userID)
		if uerr != nil {
			return fmt.Errorf("app: load user %s: %w", a.userID, uerr)
		}
		a.logger.InfoContext(ctx, "security setup complete",
			slog.String("user", a.userID),
			slog.String("wallet", user.CustodialWallet),
		)
		deps.Notifier.SetupComplete(ctx, a.userID, user.CustodialWallet)
	}
	return nil
}

// VerifyMode reads the on-chain security state for one user's wallet without
// sending any transactions.
func (a *App) VerifyMode(ctx context.Context, deps *Dependencies) error {
	if a.userID == "" {
		return fmt.Errorf("app: verify mode requires a user id (-user)")
	}

	state, err := deps.Configurator.VerifySecuritySetup(ctx, a.userID)
	if err != nil {
		return fmt.Errorf("app: verify security setup for %s: %w", a.userID, err)
	}

	a.logger.InfoContext(ctx, "security setup state",
		slog.String("user", a.userID),
		slog.Bool("module_enabled", state.ModuleEnabled),
		slog.Bool("user_authorized", state.UserAuthorized),
		slog.Bool("guard_installed", state.GuardInstalled),
		slog.Bool("complete", state.Complete()),
	)
	return nil
}
