package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

var (
	ErrDoctorNotVerified = errors.New("doctor is not verified")
	ErrNoWindows         = errors.New("at least one slot window is required")
	ErrInvalidWindow     = errors.New("slot window must have start before end")
)

type Service struct {
	repo     Repository
	accounts account.Repository
	logger   *logging.Logger
}

func NewService(repo Repository, accounts account.Repository, logger *logging.Logger) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		logger:   logger.WithComponent("availability"),
	}
}

// CreateSlots publishes bookable windows for a verified doctor. replaceAll
// regenerates the doctor's future availability, leaving anything with an
// appointment untouched. Overlapping windows for the same doctor are
// accepted; exclusivity is enforced per slot at booking time, not per
// calendar range.
func (s *Service) CreateSlots(ctx context.Context, doctorID uuid.UUID, windows []Window, replaceAll bool) (int, error) {
	if len(windows) == 0 {
		return 0, ErrNoWindows
	}
	for _, w := range windows {
		if !w.Valid() {
			return 0, ErrInvalidWindow
		}
	}

	doctor, err := s.accounts.GetByID(ctx, doctorID)
	if err != nil {
		return 0, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.IsVerifiedDoctor() {
		return 0, ErrDoctorNotVerified
	}

	created, err := s.repo.CreateBatch(ctx, doctorID, windows, replaceAll)
	if err != nil {
		return 0, fmt.Errorf("create slots: %w", err)
	}

	s.logger.Info("slots created", "doctor_id", doctorID, "count", created, "replace_all", replaceAll)

	return created, nil
}

func (s *Service) DeleteSlot(ctx context.Context, doctorID, slotID uuid.UUID) error {
	if err := s.repo.Delete(ctx, doctorID, slotID); err != nil {
		return err
	}

	s.logger.Info("slot deleted", "doctor_id", doctorID, "slot_id", slotID)
	return nil
}

// UpdateSlot moves a slot's time bounds. Booked slots are immutable.
func (s *Service) UpdateSlot(ctx context.Context, doctorID, slotID uuid.UUID, w Window) (*Slot, error) {
	if !w.Valid() {
		return nil, ErrInvalidWindow
	}

	updated, err := s.repo.UpdateWindow(ctx, doctorID, slotID, w)
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// ListAvailability returns the doctor's slots in [from, to) ordered by start
// time with their booked flags. The read is idempotent; callers can page
// through with limit/offset and restart at any point.
func (s *Service) ListAvailability(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit, offset int) ([]SlotStatus, error) {
	if limit <= 0 {
		limit = 100 // default
	}
	if limit > 500 {
		limit = 500 // max
	}
	if offset < 0 {
		offset = 0
	}
	if to.IsZero() {
		to = from.AddDate(0, 1, 0)
	}

	slots, err := s.repo.ListRange(ctx, doctorID, from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return slots, nil
}
