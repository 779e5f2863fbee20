package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cosminimum/polycopy/internal/domain"
)

// RecordStore implements domain.RecordStore using PostgreSQL.
type RecordStore struct {
	pool *pgxpool.Pool
}

// NewRecordStore creates a RecordStore backed by the given connection pool.
func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

const recordSelectCols = `id, user_id, trader_wallet, event_id, condition_id,
	outcome, token_id, side, requested_size, requested_value,
	filled_size, filled_value, status, error_code, error_message,
	order_id, settlement_ref, created_at, updated_at`

func scanRecordRow(row pgx.Row) (domain.TradeRecord, error) {
	var r domain.TradeRecord
	var side, status string
	err := row.Scan(
		&r.ID, &r.UserID, &r.TraderWallet, &r.EventID, &r.ConditionID,
		&r.Outcome, &r.TokenID, &side, &r.RequestedSize, &r.RequestedValue,
		&r.FilledSize, &r.FilledValue, &status, &r.ErrorCode, &r.ErrorMessage,
		&r.OrderID, &r.SettlementRef, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	r.Side = domain.OrderSide(side)
	r.Status = domain.RecordStatus(status)
	return r, nil
}

// Insert creates the audit row for one copy attempt.
func (s *RecordStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_records (
			id, user_id, trader_wallet, event_id, condition_id,
			outcome, token_id, side, requested_size, requested_value,
			filled_size, filled_value, status, error_code, error_message,
			order_id, settlement_ref, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, NOW(), NOW()
		)`,
		rec.ID, rec.UserID, rec.TraderWallet, rec.EventID, rec.ConditionID,
		rec.Outcome, rec.TokenID, string(rec.Side), rec.RequestedSize, rec.RequestedValue,
		rec.FilledSize, rec.FilledValue, string(rec.Status), rec.ErrorCode, rec.ErrorMessage,
		rec.OrderID, rec.SettlementRef)
	if err != nil {
		return fmt.Errorf("postgres: insert trade record %s: %w", rec.ID, err)
	}
	return nil
}

// Finalize settles a previously inserted record. Only outcome fields are
// touched; the requested figures stay as the sizing calculator wrote them.
func (s *RecordStore) Finalize(ctx context.Context, rec domain.TradeRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trade_records SET
			filled_size    = $2,
			filled_value   = $3,
			status         = $4,
			error_code     = $5,
			error_message  = $6,
			order_id       = $7,
			settlement_ref = $8,
			updated_at     = NOW()
		WHERE id = $1`,
		rec.ID, rec.FilledSize, rec.FilledValue, string(rec.Status),
		rec.ErrorCode, rec.ErrorMessage, rec.OrderID, rec.SettlementRef)
	if err != nil {
		return fmt.Errorf("postgres: finalize trade record %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves one trade record.
func (s *RecordStore) GetByID(ctx context.Context, id string) (domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordSelectCols+` FROM trade_records WHERE id = $1`, id)

	rec, err := scanRecordRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade record %s: %w", id, err)
	}
	return rec, nil
}

// ListPending returns PENDING records oldest first, for reconciliation.
func (s *RecordStore) ListPending(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordSelectCols+` FROM trade_records
		 WHERE status = 'PENDING'
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListByUser returns the user's trade records with pagination and optional
// time filtering, newest first.
func (s *RecordStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + recordSelectCols + ` FROM trade_records WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list records of %s: %w", userID, err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListTerminalBefore returns records in a terminal state older than cutoff,
// oldest first, for archival.
func (s *RecordStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordSelectCols+` FROM trade_records
		 WHERE status IN ('COMPLETED', 'FAILED', 'SKIPPED') AND created_at < $1
		 ORDER BY created_at
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// DeleteByIDs removes archived records.
func (s *RecordStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM trade_records WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("postgres: delete trade records: %w", err)
	}
	return nil
}

func collectRecords(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var records []domain.TradeRecord
	for rows.Next() {
		r, err := scanRecordRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Compile-time interface check.
var _ domain.RecordStore = (*RecordStore)(nil)
