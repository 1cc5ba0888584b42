package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, external_ref, role, balance, plan_id,
	verification_status, consultation_price, verified_at, verified_by,
	created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account

	err := row.Scan(
		&a.ID,
		&a.ExternalRef,
		&a.Role,
		&a.Balance,
		&a.PlanID,
		&a.VerificationStatus,
		&a.ConsultationPrice,
		&a.VerifiedAt,
		&a.VerifiedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

func (r *PgRepository) GetByExternalRef(ctx context.Context, ref string) (*Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE external_ref = $1
	`, ref)
	return scanAccount(row)
}

func (r *PgRepository) Create(ctx context.Context, a *Account) (*Account, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, external_ref, role, balance, verification_status, consultation_price, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, now(), now())
		ON CONFLICT (external_ref) DO UPDATE SET updated_at = accounts.updated_at
		RETURNING `+accountColumns+`
	`, id, a.ExternalRef, a.Role, a.VerificationStatus, a.ConsultationPrice)

	created, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return created, nil
}

func (r *PgRepository) UpdateVerification(ctx context.Context, doctorID uuid.UUID, from, to VerificationStatus, verifiedBy *uuid.UUID) (*Account, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE accounts
		SET verification_status = $3,
		    verified_at = CASE WHEN $3 = 'verified' THEN now() ELSE verified_at END,
		    verified_by = CASE WHEN $3 = 'verified' THEN $4 ELSE verified_by END,
		    updated_at = now()
		WHERE id = $1
		  AND role = 'doctor'
		  AND verification_status = $2
		RETURNING `+accountColumns+`
	`, doctorID, from, to, verifiedBy)

	return scanAccount(row)
}

func (r *PgRepository) UpdateConsultationPrice(ctx context.Context, doctorID uuid.UUID, price int64) (*Account, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE accounts
		SET consultation_price = $2,
		    updated_at = now()
		WHERE id = $1
		  AND role = 'doctor'
		RETURNING `+accountColumns+`
	`, doctorID, price)

	return scanAccount(row)
}

func (r *PgRepository) SetPlan(ctx context.Context, accountID uuid.UUID, planID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET plan_id = $2,
		    updated_at = now()
		WHERE id = $1
	`, accountID, planID)
	if err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PgRepository) ListSubscribed(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE plan_id IS NOT NULL
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
