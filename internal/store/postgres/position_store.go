package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cosminimum/polycopy/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, user_id, condition_id, outcome, token_id, side,
	size, entry_price, current_price, unrealized_pnl,
	status, opened_at, closed_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string
	err := row.Scan(
		&p.ID, &p.UserID, &p.ConditionID, &p.Outcome, &p.TokenID, &side,
		&p.Size, &p.EntryPrice, &p.CurrentPrice, &p.UnrealizedPnL,
		&status, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// ApplyFill folds one fill into the (user, market, outcome) slot inside a
// single transaction. The row is read FOR UPDATE so concurrent fills for the
// same slot serialize; the weighted-average arithmetic itself lives on
// domain.Position.
func (s *PositionStore) ApplyFill(ctx context.Context, userID, conditionID, outcome, tokenID string, side domain.OrderSide, size, price float64) (domain.Position, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: begin apply fill: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE user_id = $1 AND condition_id = $2 AND outcome = $3
		 FOR UPDATE`, userID, conditionID, outcome)

	pos, err := scanPositionRow(row)
	created := false
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if side == domain.OrderSideSell {
			return domain.Position{}, fmt.Errorf("postgres: sell fill with no position for %s %s/%s: %w",
				userID, conditionID, outcome, domain.ErrNotFound)
		}
		created = true
		pos = domain.Position{
			ID:          uuid.NewString(),
			UserID:      userID,
			ConditionID: conditionID,
			Outcome:     outcome,
			TokenID:     tokenID,
			Side:        domain.OrderSideBuy,
			Status:      domain.PositionStatusOpen,
			OpenedAt:    time.Now().UTC(),
		}
	case err != nil:
		return domain.Position{}, fmt.Errorf("postgres: read position for fill: %w", err)
	}

	if side == domain.OrderSideBuy {
		err = pos.ApplyBuy(size, price)
	} else {
		err = pos.ApplySell(size, price, time.Now().UTC())
	}
	if err != nil {
		return domain.Position{}, err
	}
	pos.UpdatedAt = time.Now().UTC()

	if created {
		_, err = tx.Exec(ctx, `
			INSERT INTO positions (
				id, user_id, condition_id, outcome, token_id, side,
				size, entry_price, current_price, unrealized_pnl,
				status, opened_at, closed_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			pos.ID, pos.UserID, pos.ConditionID, pos.Outcome, pos.TokenID, string(pos.Side),
			pos.Size, pos.EntryPrice, pos.CurrentPrice, pos.UnrealizedPnL,
			string(pos.Status), pos.OpenedAt, pos.ClosedAt, pos.UpdatedAt)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE positions SET
				token_id       = $2,
				size           = $3,
				entry_price    = $4,
				current_price  = $5,
				unrealized_pnl = $6,
				status         = $7,
				closed_at      = $8,
				updated_at     = $9
			WHERE id = $1`,
			pos.ID, pos.TokenID,
			pos.Size, pos.EntryPrice, pos.CurrentPrice, pos.UnrealizedPnL,
			string(pos.Status), pos.ClosedAt, pos.UpdatedAt)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: write position %s: %w", pos.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: commit apply fill: %w", err)
	}
	return pos, nil
}

// Get returns the position slot for one (user, market, outcome), open or
// closed.
func (s *PositionStore) Get(ctx context.Context, userID, conditionID, outcome string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE user_id = $1 AND condition_id = $2 AND outcome = $3`,
		userID, conditionID, outcome)

	pos, err := scanPositionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return pos, nil
}

// ListOpen returns the user's open positions, newest first.
func (s *PositionStore) ListOpen(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE user_id = $1 AND status = 'open'
		 ORDER BY opened_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListHistory returns the user's positions with pagination and optional time
// filtering.
func (s *PositionStore) ListHistory(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
