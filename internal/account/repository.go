package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNotDoctor       = errors.New("account is not a doctor")
)

// Repository contains all DB interactions needed by the account service.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByExternalRef(ctx context.Context, ref string) (*Account, error)
	Create(ctx context.Context, a *Account) (*Account, error)

	// Verification workflow
	UpdateVerification(ctx context.Context, doctorID uuid.UUID, from, to VerificationStatus, verifiedBy *uuid.UUID) (*Account, error)

	// Doctor onboarding
	UpdateConsultationPrice(ctx context.Context, doctorID uuid.UUID, price int64) (*Account, error)

	// Subscription plumbing
	SetPlan(ctx context.Context, accountID uuid.UUID, planID string) error
	ListSubscribed(ctx context.Context) ([]Account, error)
}
