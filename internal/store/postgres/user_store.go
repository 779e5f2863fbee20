package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cosminimum/polycopy/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// GetByID retrieves one user account.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.pool.QueryRow(ctx, `
		SELECT id, primary_address, custodial_wallet, signer_address, active, created_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.PrimaryAddress, &u.CustodialWallet, &u.SignerAddress, &u.Active, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserAccount{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// SetSignerAddress caches the derived delegated-signer address on the user
// row. It never overwrites a non-empty value; derivation is deterministic, so
// a differing stored address indicates a configuration problem, not a
// refresh.
func (s *UserStore) SetSignerAddress(ctx context.Context, id, signerAddress string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET signer_address = $2
		WHERE id = $1 AND signer_address = ''`, id, signerAddress)
	if err != nil {
		return fmt.Errorf("postgres: set signer address for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", id).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check user %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.UserStore = (*UserStore)(nil)
