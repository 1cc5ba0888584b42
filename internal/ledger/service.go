package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/audit"
	"github.com/medibook/telehealth-platform/internal/config"
	redisclient "github.com/medibook/telehealth-platform/internal/redis"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

const (
	EventCreditsPurchased = "CREDITS_PURCHASED"
	EventCreditsAdjusted  = "CREDITS_ADJUSTED"
	EventCreditsAllocated = "CREDITS_ALLOCATED"
)

var (
	ErrInvalidAmount        = errors.New("amount must be a non-zero integer")
	ErrUnknownPlan          = errors.New("unknown plan identifier")
	ErrUnauthorized         = errors.New("actor is not allowed to adjust credits")
	ErrAllocationInProgress = errors.New("an allocation for this account is already running, please retry")
)

type Service struct {
	repo     Repository
	accounts account.Repository
	locker   redisclient.Locker
	cfg      config.Config
	auditor  audit.Recorder
	logger   *logging.Logger
	now      func() time.Time
}

func NewService(repo Repository, accounts account.Repository, locker redisclient.Locker, cfg config.Config, auditor audit.Recorder, logger *logging.Logger) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		locker:   locker,
		cfg:      cfg,
		auditor:  auditor,
		logger:   logger.WithComponent("ledger"),
		now:      time.Now,
	}
}

// RecordPurchase books a completed cash-to-credit conversion reported by the
// payment gateway collaborator.
func (s *Service) RecordPurchase(ctx context.Context, accountID uuid.UUID, amount int64, description string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	e, err := s.repo.Apply(ctx, Entry{
		AccountID:   accountID,
		Amount:      amount,
		Type:        EntryCreditPurchase,
		Description: description,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, accountID, EventCreditsPurchased, map[string]any{
		"amount": amount,
	})

	return e, nil
}

// Adjust applies an admin correction of either sign. The balance guard still
// holds: a downward adjustment past zero fails atomically.
func (s *Service) Adjust(ctx context.Context, adminID, accountID uuid.UUID, amount int64, description string) (*Entry, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	admin, err := s.accounts.GetByID(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("load admin: %w", err)
	}
	if admin.Role != account.RoleAdmin {
		return nil, ErrUnauthorized
	}

	e, err := s.repo.Apply(ctx, Entry{
		AccountID:   accountID,
		Amount:      amount,
		Type:        EntryAdminAdjustment,
		Description: description,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, accountID, EventCreditsAdjusted, map[string]any{
		"admin_id": adminID.String(),
		"amount":   amount,
	})

	return e, nil
}

// AllocateMonthly grants the plan's recurring credits at most once per
// calendar month. A second call in the same month with the same plan is a
// no-op; a call with a different plan grants immediately (mid-month upgrade).
// The worker and the subscription collaborator can both land on the same
// account, so an advisory per-account lock turns that race into an early
// retry; the row lock inside the allocation transaction stays authoritative.
func (s *Service) AllocateMonthly(ctx context.Context, accountID uuid.UUID, planID string) (*Entry, bool, error) {
	amount, ok := s.cfg.PlanCredits[planID]
	if !ok {
		return nil, false, ErrUnknownPlan
	}

	var (
		e       *Entry
		granted bool
	)
	err := s.locker.WithAccountLock(ctx, accountID, func(lockCtx context.Context) error {
		var err error
		e, granted, err = s.repo.ApplyAllocation(lockCtx, accountID, planID, amount, MonthStart(s.now()))
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, false, ErrAllocationInProgress
		}
		return nil, false, err
	}

	if granted {
		if err := s.accounts.SetPlan(ctx, accountID, planID); err != nil {
			s.logger.Warn("set plan failed after allocation", "account_id", accountID, "plan_id", planID, "error", err)
		}
		s.logEvent(ctx, accountID, EventCreditsAllocated, map[string]any{
			"plan_id": planID,
			"amount":  amount,
		})
	}

	return e, granted, nil
}

// Balance returns the cached balance together with the ledger-derived sum so
// callers can surface divergence. The two must match; a mismatch means a
// write path bypassed the pairing invariant.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (balance, derived int64, err error) {
	balance, err = s.repo.GetBalance(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}

	derived, err = s.repo.SumEntries(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}

	if balance != derived {
		s.logger.Error("ledger divergence detected", "account_id", accountID, "balance", balance, "derived", derived)
	}

	return balance, derived, nil
}

func (s *Service) Entries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50 // default
	}
	if limit > 200 {
		limit = 200 // max
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.repo.ListEntries(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

func (s *Service) logEvent(ctx context.Context, subjectID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("marshal audit payload failed", "event_type", eventType, "error", err)
		data = nil
	}

	subject := subjectID
	ev := audit.Event{
		EventType: eventType,
		SubjectID: &subject,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.auditor.Record(ctx, ev); err != nil {
		s.logger.Warn("audit record failed", "event_type", eventType, "subject_id", subjectID, "error", err)
	}
}
