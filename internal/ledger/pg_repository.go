package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/telehealth-platform/internal/db"
)

const entryColumns = `id, account_id, amount, entry_type, description, plan_id, appointment_id, created_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry

	err := row.Scan(
		&e.ID,
		&e.AccountID,
		&e.Amount,
		&e.Type,
		&e.Description,
		&e.PlanID,
		&e.AppointmentID,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// ApplyTx writes one ledger entry and the paired guarded balance update on
// an open transaction. The balance guard rejects any movement that would
// drive the account negative, rolling the caller's transaction back before
// the entry is written. Booking and payout repositories share this so the
// entry/balance pairing invariant has exactly one implementation.
func ApplyTx(ctx context.Context, tx pgx.Tx, e Entry) (*Entry, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = balance + $2,
		    updated_at = now()
		WHERE id = $1
		  AND balance + $2 >= 0
	`, e.AccountID, e.Amount)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, e.AccountID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check account: %w", err)
		}
		if !exists {
			return nil, ErrAccountNotFound
		}
		return nil, ErrInsufficientFunds
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (account_id, amount, entry_type, description, plan_id, appointment_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+entryColumns+`
	`, e.AccountID, e.Amount, e.Type, e.Description, e.PlanID, e.AppointmentID)

	applied, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	return applied, nil
}

func (r *PgRepository) Apply(ctx context.Context, e Entry) (*Entry, error) {
	var applied *Entry

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		applied, err = ApplyTx(ctx, tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}

	return applied, nil
}

func (r *PgRepository) ApplyAllocation(ctx context.Context, accountID uuid.UUID, planID string, amount int64, monthStart time.Time) (*Entry, bool, error) {
	var (
		applied *Entry
		granted bool
	)

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Serialize same-account allocations; two concurrent grants must
		// not both pass the month check.
		var lockedID uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT id FROM accounts WHERE id = $1 FOR UPDATE
		`, accountID).Scan(&lockedID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock account: %w", err)
		}

		latest, err := latestPlanPurchaseTx(ctx, tx, accountID, monthStart)
		if err != nil {
			return err
		}

		if !AllocationDue(latest, planID) {
			return nil
		}

		plan := planID
		applied, err = ApplyTx(ctx, tx, Entry{
			AccountID:   accountID,
			Amount:      amount,
			Type:        EntryCreditPurchase,
			Description: fmt.Sprintf("monthly allocation for plan %s", planID),
			PlanID:      &plan,
		})
		if err != nil {
			return err
		}

		granted = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return applied, granted, nil
}

// latestPlanPurchaseTx finds the newest plan-tagged purchase entry in the
// current month. Ad-hoc gateway purchases carry no plan id and never block
// a subscription grant.
func latestPlanPurchaseTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, monthStart time.Time) (*Entry, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		  AND entry_type = 'credit_purchase'
		  AND plan_id IS NOT NULL
		  AND created_at >= $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, accountID, monthStart)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load latest plan purchase: %w", err)
	}

	return e, nil
}

func (r *PgRepository) ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) SumEntries(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1
	`, accountID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return sum, nil
}

func (r *PgRepository) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT balance FROM accounts WHERE id = $1
	`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return balance, nil
}
