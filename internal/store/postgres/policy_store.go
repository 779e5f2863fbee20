package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cosminimum/polycopy/internal/domain"
)

// PolicyStore implements domain.PolicyStore using PostgreSQL.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a PolicyStore backed by the given connection pool.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

const policySelectCols = `id, user_id, trader_wallet, mode, value,
	max_value, min_value, active, is_global, created_at, updated_at`

func scanPolicyRow(row pgx.Row) (domain.CopyPolicy, error) {
	var p domain.CopyPolicy
	var mode string
	err := row.Scan(
		&p.ID, &p.UserID, &p.TraderWallet, &mode, &p.Value,
		&p.MaxValue, &p.MinValue, &p.Active, &p.Global,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.CopyPolicy{}, err
	}
	p.Mode = domain.SizingMode(mode)
	return p, nil
}

// Upsert inserts or replaces a policy, keyed by (user, trader). A global
// policy is stored with an empty trader wallet.
func (s *PolicyStore) Upsert(ctx context.Context, policy domain.CopyPolicy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO copy_policies (
			id, user_id, trader_wallet, mode, value,
			max_value, min_value, active, is_global, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (user_id, trader_wallet) DO UPDATE SET
			mode       = EXCLUDED.mode,
			value      = EXCLUDED.value,
			max_value  = EXCLUDED.max_value,
			min_value  = EXCLUDED.min_value,
			active     = EXCLUDED.active,
			is_global  = EXCLUDED.is_global,
			updated_at = NOW()`,
		policy.ID, policy.UserID, domain.NormalizeWallet(policy.TraderWallet),
		string(policy.Mode), policy.Value,
		policy.MaxValue, policy.MinValue, policy.Active, policy.Global)
	if err != nil {
		return fmt.Errorf("postgres: upsert policy %s: %w", policy.ID, err)
	}
	return nil
}

// Resolve returns the policy governing one (user, trader) pair: the active
// trader-specific policy wins, else the user's active global policy, else
// ErrNotFound.
func (s *PolicyStore) Resolve(ctx context.Context, userID, traderWallet string) (domain.CopyPolicy, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+policySelectCols+` FROM copy_policies
		WHERE user_id = $1 AND active
		  AND (trader_wallet = $2 OR is_global)
		ORDER BY is_global ASC
		LIMIT 1`, userID, domain.NormalizeWallet(traderWallet))

	p, err := scanPolicyRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CopyPolicy{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CopyPolicy{}, fmt.Errorf("postgres: resolve policy for %s: %w", userID, err)
	}
	return p, nil
}

// ListByUser returns every policy of one user.
func (s *PolicyStore) ListByUser(ctx context.Context, userID string) ([]domain.CopyPolicy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+policySelectCols+` FROM copy_policies
		 WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list policies of %s: %w", userID, err)
	}
	defer rows.Close()

	var policies []domain.CopyPolicy
	for rows.Next() {
		p, err := scanPolicyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Compile-time interface check.
var _ domain.PolicyStore = (*PolicyStore)(nil)
