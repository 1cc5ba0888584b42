package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/telehealth-platform/internal/db"
	"github.com/medibook/telehealth-platform/internal/ledger"
)

const requestColumns = `id, doctor_id, amount, status, processed_by, requested_at, processed_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanRequest(row pgx.Row) (*Request, error) {
	var p Request

	err := row.Scan(
		&p.ID,
		&p.DoctorID,
		&p.Amount,
		&p.Status,
		&p.ProcessedBy,
		&p.RequestedAt,
		&p.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) Create(ctx context.Context, doctorID uuid.UUID, amount int64) (*Request, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO payout_requests (id, doctor_id, amount, status, requested_at)
		VALUES ($1, $2, $3, 'processing', now())
		RETURNING `+requestColumns+`
	`, uuid.New(), doctorID, amount)

	created, err := scanRequest(row)
	if err != nil {
		return nil, fmt.Errorf("insert payout request: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM payout_requests
		WHERE id = $1
	`, id)
	return scanRequest(row)
}

func (r *PgRepository) Approve(ctx context.Context, payoutID, adminID uuid.UUID) (*Request, error) {
	var approved *Request

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// The status guard resolves the request exactly once even under
		// racing admins.
		row := tx.QueryRow(ctx, `
			UPDATE payout_requests
			SET status = 'processed',
			    processed_by = $2,
			    processed_at = now()
			WHERE id = $1
			  AND status = 'processing'
			RETURNING `+requestColumns+`
		`, payoutID, adminID)

		req, err := scanRequest(row)
		if err != nil {
			if errors.Is(err, ErrPayoutNotFound) {
				return resolveFailure(ctx, tx, payoutID)
			}
			return fmt.Errorf("approve payout: %w", err)
		}

		// Balance is re-checked here, at approval time. The guard inside
		// ApplyTx rejects the debit if the doctor spent credits since
		// requesting, rolling the status flip back with it.
		if _, err := ledger.ApplyTx(ctx, tx, ledger.Entry{
			AccountID:   req.DoctorID,
			Amount:      -req.Amount,
			Type:        ledger.EntryPayout,
			Description: fmt.Sprintf("payout request %s", req.ID),
		}); err != nil {
			return err
		}

		approved = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	return approved, nil
}

func (r *PgRepository) Reject(ctx context.Context, payoutID, adminID uuid.UUID) (*Request, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payout_requests
		SET status = 'rejected',
		    processed_by = $2,
		    processed_at = now()
		WHERE id = $1
		  AND status = 'processing'
		RETURNING `+requestColumns+`
	`, payoutID, adminID)

	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, ErrPayoutNotFound) {
			return nil, resolveFailure(ctx, r.pool, payoutID)
		}
		return nil, fmt.Errorf("reject payout: %w", err)
	}

	return req, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// resolveFailure reports why the guarded status flip matched nothing.
func resolveFailure(ctx context.Context, q rowQuerier, payoutID uuid.UUID) error {
	var status Status
	err := q.QueryRow(ctx, `SELECT status FROM payout_requests WHERE id = $1`, payoutID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPayoutNotFound
		}
		return fmt.Errorf("load payout status: %w", err)
	}
	return ErrPayoutResolved
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Request, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM payout_requests
		WHERE doctor_id = $1
		ORDER BY requested_at DESC
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRequests(rows)
}

func (r *PgRepository) ListPending(ctx context.Context, limit, offset int) ([]Request, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM payout_requests
		WHERE status = 'processing'
		ORDER BY requested_at
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	var result []Request
	for rows.Next() {
		p, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
