package payout

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPayoutNotFound = errors.New("payout request not found")
	ErrPayoutResolved = errors.New("payout request is already resolved")
)

// Repository contains all DB interactions needed by the payout processor.
type Repository interface {
	Create(ctx context.Context, doctorID uuid.UUID, amount int64) (*Request, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)

	// Approve atomically flips processing -> processed and appends the
	// payout debit. If the doctor's balance no longer covers the amount the
	// whole transaction rolls back and the request stays in processing.
	Approve(ctx context.Context, payoutID, adminID uuid.UUID) (*Request, error)

	// Reject flips processing -> rejected with no ledger effect.
	Reject(ctx context.Context, payoutID, adminID uuid.UUID) (*Request, error)

	// ListByDoctor returns a doctor's payout history, newest first.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Request, error)

	// ListPending returns unresolved requests across doctors, oldest first.
	ListPending(ctx context.Context, limit, offset int) ([]Request, error)
}
