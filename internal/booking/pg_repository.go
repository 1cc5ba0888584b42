package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/telehealth-platform/internal/db"
	"github.com/medibook/telehealth-platform/internal/ledger"
)

const appointmentColumns = `id, slot_id, patient_id, doctor_id, start_time, end_time,
	status, description, cancelled_at, created_at, updated_at`

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.PatientID,
		&a.DoctorID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.Description,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetActiveBySlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1 AND status <> 'cancelled'
	`, slotID)
	return scanAppointment(row)
}

func (r *PgRepository) Book(ctx context.Context, p BookParams) (*Appointment, error) {
	var created *Appointment

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Claim the slot first. The partial unique index on slot_id is the
		// authoritative double-booking guard: under concurrent callers
		// exactly one insert survives, the rest surface 23505 here before
		// any balance was touched.
		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (id, slot_id, patient_id, doctor_id, start_time, end_time, status, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'scheduled', $7, now(), now())
			RETURNING `+appointmentColumns+`
		`, uuid.New(), p.SlotID, p.PatientID, p.DoctorID, p.StartTime, p.EndTime, p.Description)

		appt, err := scanAppointment(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrSlotAlreadyBooked
			}
			return fmt.Errorf("insert appointment: %w", err)
		}

		apptID := appt.ID

		if _, err := ledger.ApplyTx(ctx, tx, ledger.Entry{
			AccountID:     p.PatientID,
			Amount:        -p.Cost,
			Type:          ledger.EntryAppointmentDeduction,
			Description:   "consultation booking",
			AppointmentID: &apptID,
		}); err != nil {
			return err
		}

		if _, err := ledger.ApplyTx(ctx, tx, ledger.Entry{
			AccountID:     p.DoctorID,
			Amount:        p.Cost,
			Type:          ledger.EntryAppointmentDeduction,
			Description:   "consultation earnings",
			AppointmentID: &apptID,
		}); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var cancelled *Appointment

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'cancelled',
			    cancelled_at = now(),
			    updated_at = now()
			WHERE id = $1
			  AND status = 'scheduled'
			RETURNING `+appointmentColumns+`
		`, id)

		appt, err := scanAppointment(row)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return cancelFailure(ctx, tx, id)
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}

		// Reverse the original booking legs from the ledger itself rather
		// than recomputing the cost: the configured price may have changed
		// since booking, the recorded movement has not.
		if err := reverseEntriesTx(ctx, tx, id); err != nil {
			return err
		}

		cancelled = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cancelled, nil
}

// cancelFailure reports why the guarded cancel update matched nothing.
func cancelFailure(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var status Status
	err := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("load appointment status: %w", err)
	}
	if status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	return ErrNotCancellable
}

func reverseEntriesTx(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID) error {
	rows, err := tx.Query(ctx, `
		SELECT account_id, amount
		FROM ledger_entries
		WHERE appointment_id = $1
		  AND entry_type = 'appointment_deduction'
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return fmt.Errorf("load booking entries: %w", err)
	}

	type leg struct {
		accountID uuid.UUID
		amount    int64
	}
	var legs []leg
	for rows.Next() {
		var l leg
		if err := rows.Scan(&l.accountID, &l.amount); err != nil {
			rows.Close()
			return err
		}
		legs = append(legs, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	apptID := appointmentID
	for _, l := range legs {
		if _, err := ledger.ApplyTx(ctx, tx, ledger.Entry{
			AccountID:     l.accountID,
			Amount:        -l.amount,
			Type:          ledger.EntryAppointmentDeduction,
			Description:   "booking cancellation reversal",
			AppointmentID: &apptID,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (r *PgRepository) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+appointmentColumns+`
	`, id)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrNotCompletable
		}
		return nil, err
	}

	return appt, nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
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
