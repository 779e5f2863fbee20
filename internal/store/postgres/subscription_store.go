package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cosminimum/polycopy/internal/domain"
)

// SubscriptionStore implements domain.SubscriptionStore using PostgreSQL.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewSubscriptionStore creates a SubscriptionStore backed by the given pool.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

const subscriptionSelectCols = `id, user_id, trader_wallet, active, created_at, updated_at`

func scanSubscriptionRows(rows pgx.Rows) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	for rows.Next() {
		var s domain.Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.TraderWallet, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Upsert inserts or reactivates a follower/trader link. The trader wallet is
// normalized on write so feed lookups always match.
func (s *SubscriptionStore) Upsert(ctx context.Context, sub domain.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, user_id, trader_wallet, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id, trader_wallet) DO UPDATE
		SET active = EXCLUDED.active, updated_at = NOW()`,
		sub.ID, sub.UserID, domain.NormalizeWallet(sub.TraderWallet), sub.Active)
	if err != nil {
		return fmt.Errorf("postgres: upsert subscription %s: %w", sub.ID, err)
	}
	return nil
}

// Deactivate unfollows a trader. The row is kept for history.
func (s *SubscriptionStore) Deactivate(ctx context.Context, userID, traderWallet string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND trader_wallet = $2`,
		userID, domain.NormalizeWallet(traderWallet))
	if err != nil {
		return fmt.Errorf("postgres: deactivate subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActiveByTrader returns the active followers of one trader wallet.
func (s *SubscriptionStore) ListActiveByTrader(ctx context.Context, traderWallet string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionSelectCols+` FROM subscriptions
		 WHERE trader_wallet = $1 AND active
		 ORDER BY created_at`, domain.NormalizeWallet(traderWallet))
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscribers of %s: %w", traderWallet, err)
	}
	defer rows.Close()

	subs, err := scanSubscriptionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan subscribers: %w", err)
	}
	return subs, nil
}

// ListByUser returns every subscription of one user, active or not.
func (s *SubscriptionStore) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionSelectCols+` FROM subscriptions
		 WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions of %s: %w", userID, err)
	}
	defer rows.Close()

	subs, err := scanSubscriptionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan subscriptions: %w", err)
	}
	return subs, nil
}

// ListActiveTraders returns the distinct trader wallets with at least one
// active follower.
func (s *SubscriptionStore) ListActiveTraders(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT trader_wallet FROM subscriptions WHERE active ORDER BY trader_wallet`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active traders: %w", err)
	}
	defer rows.Close()

	var traders []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("postgres: scan trader wallet: %w", err)
		}
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

// Compile-time interface check.
var _ domain.SubscriptionStore = (*SubscriptionStore)(nil)
