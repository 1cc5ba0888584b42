package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/telehealth-platform/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	adminID, err := seedAdmin(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed admin: %v", err)
	}
	doctorIDs, err := seedDoctors(context.Background(), pool, adminID, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedSlots(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed slots: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedAdmin(ctx context.Context, pool *pgxpool.Pool) (uuid.UUID, error) {
	id := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO accounts (id, external_ref, role, created_at, updated_at)
		VALUES ($1, 'seed-admin', 'admin', now(), now())
		ON CONFLICT (external_ref) DO NOTHING
	`, id)
	if err != nil {
		return uuid.Nil, err
	}

	// The insert is a no-op on reruns, so read the id back.
	row := pool.QueryRow(ctx, `SELECT id FROM accounts WHERE external_ref = 'seed-admin'`)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, err
	}

	log.Printf("admin seeded: %s", id)
	return id, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, adminID uuid.UUID, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		price := int64(gofakeit.Number(1, 5))

		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (id, external_ref, role, verification_status, consultation_price, verified_at, verified_by, created_at, updated_at)
			VALUES ($1, $2, 'doctor', 'verified', $3, now(), $4, now(), now())
		`, id, fmt.Sprintf("seed-doctor-%03d", i), price, adminID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

// seedSlots gives every doctor a week of hourly slots starting tomorrow.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Printf("seeding slots for %d doctors", len(doctorIDs))

	dayStart := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var total int
	for _, doctorID := range doctorIDs {
		for day := 0; day < 7; day++ {
			for hour := 9; hour < 17; hour++ {
				start := dayStart.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour)

				_, err := tx.Exec(ctx, `
					INSERT INTO availability_slots (id, doctor_id, start_time, end_time, created_at, updated_at)
					VALUES ($1, $2, $3, $4, now(), now())
				`, uuid.New(), doctorID, start, start.Add(time.Hour))
				if err != nil {
					return err
				}
				total++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("slots seeded: %d", total)
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			credits := int64(gofakeit.Number(5, 40))

			_, err := tx.Exec(ctx, `
				INSERT INTO accounts (id, external_ref, role, balance, created_at, updated_at)
				VALUES ($1, $2, 'patient', $3, now(), now())
			`, id, fmt.Sprintf("seed-patient-%05d", i), credits)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			// Keep the ledger in step with the seeded balance.
			_, err = tx.Exec(ctx, `
				INSERT INTO ledger_entries (account_id, amount, entry_type, description, created_at)
				VALUES ($1, $2, 'credit_purchase', 'seed grant', now())
			`, id, credits)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
