package availability

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

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, start_time, end_time, created_at, updated_at
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) CreateBatch(ctx context.Context, doctorID uuid.UUID, windows []Window, replaceAll bool) (int, error) {
	var created int

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if replaceAll {
			// Regeneration only clears future slots nothing ever referenced.
			_, err := tx.Exec(ctx, `
				DELETE FROM availability_slots s
				WHERE s.doctor_id = $1
				  AND s.start_time > now()
				  AND NOT EXISTS (
					SELECT 1 FROM appointments a WHERE a.slot_id = s.id
				  )
			`, doctorID)
			if err != nil {
				return fmt.Errorf("clear future slots: %w", err)
			}
		}

		for _, w := range windows {
			_, err := tx.Exec(ctx, `
				INSERT INTO availability_slots (id, doctor_id, start_time, end_time, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), doctorID, w.StartTime, w.EndTime)
			if err != nil {
				return fmt.Errorf("insert slot: %w", err)
			}
			created++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return created, nil
}

func (r *PgRepository) Delete(ctx context.Context, doctorID, slotID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_slots s
		WHERE s.id = $1
		  AND s.doctor_id = $2
		  AND NOT EXISTS (
			SELECT 1 FROM appointments a WHERE a.slot_id = s.id
		  )
	`, slotID, doctorID)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing deleted; figure out which failure to report.
	slot, err := r.GetByID(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.DoctorID != doctorID {
		return ErrSlotNotFound
	}
	return ErrSlotHasAppointment
}

func (r *PgRepository) UpdateWindow(ctx context.Context, doctorID, slotID uuid.UUID, w Window) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE availability_slots s
		SET start_time = $3,
		    end_time = $4,
		    updated_at = now()
		WHERE s.id = $1
		  AND s.doctor_id = $2
		  AND NOT EXISTS (
			SELECT 1 FROM appointments a
			WHERE a.slot_id = s.id AND a.status <> 'cancelled'
		  )
		RETURNING id, doctor_id, start_time, end_time, created_at, updated_at
	`, slotID, doctorID, w.StartTime, w.EndTime)

	updated, err := scanSlot(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}

	slot, getErr := r.GetByID(ctx, slotID)
	if getErr != nil {
		return nil, getErr
	}
	if slot.DoctorID != doctorID {
		return nil, ErrSlotNotFound
	}
	return nil, ErrSlotHasAppointment
}

func (r *PgRepository) ListRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit, offset int) ([]SlotStatus, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.doctor_id, s.start_time, s.end_time, s.created_at, s.updated_at,
		       (a.id IS NOT NULL) AS booked
		FROM availability_slots s
		LEFT JOIN appointments a
		       ON a.slot_id = s.id AND a.status <> 'cancelled'
		WHERE s.doctor_id = $1
		  AND s.start_time >= $2
		  AND s.start_time < $3
		ORDER BY s.start_time, s.id
		LIMIT $4 OFFSET $5
	`, doctorID, from, to, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotStatus
	for rows.Next() {
		var ss SlotStatus
		err := rows.Scan(
			&ss.ID,
			&ss.DoctorID,
			&ss.StartTime,
			&ss.EndTime,
			&ss.CreatedAt,
			&ss.UpdatedAt,
			&ss.Booked,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, ss)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
