package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/audit"
	"github.com/medibook/telehealth-platform/internal/availability"
	"github.com/medibook/telehealth-platform/internal/config"
	"github.com/medibook/telehealth-platform/internal/ledger"
	"github.com/medibook/telehealth-platform/internal/metrics"
	redisclient "github.com/medibook/telehealth-platform/internal/redis"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventBookingCompleted = "BOOKING_COMPLETED"
)

var (
	ErrInsufficientCredits = errors.New("patient has insufficient credits")
	ErrReversalNotCovered  = errors.New("doctor balance cannot cover the cancellation reversal")
	ErrSlotBeingBooked     = errors.New("slot is currently being booked, please retry")
	ErrDoctorNotVerified   = errors.New("doctor is not verified")
	ErrNotPatient          = errors.New("only patient accounts can book")
	ErrUnauthorized        = errors.New("actor may not act on this appointment")
)

type Service struct {
	repo     Repository
	slots    availability.Repository
	accounts account.Repository
	locker   redisclient.Locker
	cfg      config.Config
	auditor  audit.Recorder
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

func NewService(
	repo Repository,
	slots availability.Repository,
	accounts account.Repository,
	locker redisclient.Locker,
	cfg config.Config,
	auditor audit.Recorder,
	logger *logging.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:     repo,
		slots:    slots,
		accounts: accounts,
		locker:   locker,
		cfg:      cfg,
		auditor:  auditor,
		logger:   logger.WithComponent("booking"),
		metrics:  m,
	}
}

// BookSlot converts a slot reservation and a credit debit into one
// indivisible unit. Pre-checks run outside the transaction for fast, clean
// failures; every check that matters for correctness is re-enforced inside
// the transaction (unique slot claim, balance guard), so racing callers
// cannot slip past a stale read.
func (s *Service) BookSlot(ctx context.Context, patientID, slotID uuid.UUID, description string) (*Appointment, error) {
	start := time.Now()

	appt, err := s.bookSlot(ctx, patientID, slotID, description)

	outcome := "success"
	if err != nil {
		switch {
		case errors.Is(err, ErrSlotAlreadyBooked), errors.Is(err, ErrSlotBeingBooked):
			outcome = "conflict"
		case errors.Is(err, ErrInsufficientCredits):
			outcome = "insufficient_credits"
		default:
			outcome = "error"
		}
	}
	s.metrics.ObserveBooking(outcome, time.Since(start).Seconds())

	return appt, err
}

func (s *Service) bookSlot(ctx context.Context, patientID, slotID uuid.UUID, description string) (*Appointment, error) {
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}

	patient, err := s.accounts.GetByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if patient.Role != account.RolePatient {
		return nil, ErrNotPatient
	}

	doctor, err := s.accounts.GetByID(ctx, slot.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.IsVerifiedDoctor() {
		return nil, ErrDoctorNotVerified
	}

	cost := s.cfg.AppointmentCost
	if patient.Balance < cost {
		return nil, ErrInsufficientCredits
	}

	if existing, err := s.repo.GetActiveBySlot(ctx, slotID); err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("check slot claim: %w", err)
	} else if existing != nil {
		return nil, ErrSlotAlreadyBooked
	}

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		appt, err := s.repo.Book(lockCtx, BookParams{
			SlotID:      slotID,
			PatientID:   patientID,
			DoctorID:    slot.DoctorID,
			StartTime:   slot.StartTime,
			EndTime:     slot.EndTime,
			Description: description,
			Cost:        cost,
		})
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, ErrInsufficientCredits
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventBookingCreated, map[string]any{
		"slot_id":    slotID.String(),
		"patient_id": patientID.String(),
		"doctor_id":  slot.DoctorID.String(),
		"cost":       cost,
	})

	return created, nil
}

// CancelAppointment frees the slot and reverses the booking's credit
// movement. Only the patient, the doctor, or an admin may cancel, and a
// second cancel fails with ErrAlreadyCancelled. If the doctor has already
// spent the earnings, the reversal would drive their balance negative and
// the whole cancellation is refused.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if err := s.authorizeActor(ctx, appt, actorID); err != nil {
		return nil, err
	}

	cancelled, err := s.repo.Cancel(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, ErrReversalNotCovered
		}
		return nil, err
	}

	s.logEvent(ctx, appointmentID, EventBookingCancelled, map[string]any{
		"actor_id": actorID.String(),
		"slot_id":  cancelled.SlotID.String(),
	})

	return cancelled, nil
}

// CompleteAppointment marks the encounter as held. Doctor or admin only.
func (s *Service) CompleteAppointment(ctx context.Context, appointmentID, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	actor, err := s.accounts.GetByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("load actor: %w", err)
	}
	if actor.Role != account.RoleAdmin && actorID != appt.DoctorID {
		return nil, ErrUnauthorized
	}

	completed, err := s.repo.Complete(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, appointmentID, EventBookingCompleted, map[string]any{
		"actor_id": actorID.String(),
	})

	return completed, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

func (s *Service) authorizeActor(ctx context.Context, appt *Appointment, actorID uuid.UUID) error {
	if actorID == appt.PatientID || actorID == appt.DoctorID {
		return nil
	}

	actor, err := s.accounts.GetByID(ctx, actorID)
	if err != nil {
		return fmt.Errorf("load actor: %w", err)
	}
	if actor.Role != account.RoleAdmin {
		return ErrUnauthorized
	}
	return nil
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
		CreatedAt: time.Now(),
	}

	if err := s.auditor.Record(ctx, ev); err != nil {
		s.logger.Warn("audit record failed", "event_type", eventType, "subject_id", subjectID, "error", err)
	}
}
