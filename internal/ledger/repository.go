package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("insufficient credit balance")
	ErrAccountNotFound   = errors.New("account not found")
)

// Repository contains all DB interactions needed by the credit service.
// Every method that writes an entry also updates the cached balance inside
// the same transaction; there is deliberately no append-only write path.
type Repository interface {
	// Apply writes one entry and the paired balance update atomically.
	Apply(ctx context.Context, e Entry) (*Entry, error)

	// ApplyAllocation grants plan credits at most once per account per
	// calendar month per plan. Returns the entry and whether a grant
	// actually happened.
	ApplyAllocation(ctx context.Context, accountID uuid.UUID, planID string, amount int64, monthStart time.Time) (*Entry, bool, error)

	ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error)
	SumEntries(ctx context.Context, accountID uuid.UUID) (int64, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
}
