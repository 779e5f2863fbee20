package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cosminimum/polycopy/internal/domain"
)

// SecurityStore implements domain.SecurityStore using PostgreSQL. It caches
// the setup flags the configurator derived from chain state.
type SecurityStore struct {
	pool *pgxpool.Pool
}

// NewSecurityStore creates a SecurityStore backed by the given pool.
func NewSecurityStore(pool *pgxpool.Pool) *SecurityStore {
	return &SecurityStore{pool: pool}
}

// Get returns the cached setup state for one user.
func (s *SecurityStore) Get(ctx context.Context, userID string) (domain.SecuritySetupState, error) {
	var st domain.SecuritySetupState
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, module_enabled, user_authorized, guard_installed, completed_at, updated_at
		FROM security_setup WHERE user_id = $1`, userID,
	).Scan(&st.UserID, &st.ModuleEnabled, &st.UserAuthorized, &st.GuardInstalled, &st.CompletedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SecuritySetupState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SecuritySetupState{}, fmt.Errorf("postgres: get setup state of %s: %w", userID, err)
	}
	return st, nil
}

// Save replaces the cached setup state.
func (s *SecurityStore) Save(ctx context.Context, state domain.SecuritySetupState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO security_setup (user_id, module_enabled, user_authorized, guard_installed, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			module_enabled  = EXCLUDED.module_enabled,
			user_authorized = EXCLUDED.user_authorized,
			guard_installed = EXCLUDED.guard_installed,
			completed_at    = EXCLUDED.completed_at,
			updated_at      = NOW()`,
		state.UserID, state.ModuleEnabled, state.UserAuthorized, state.GuardInstalled, state.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: save setup state of %s: %w", state.UserID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SecurityStore = (*SecurityStore)(nil)
