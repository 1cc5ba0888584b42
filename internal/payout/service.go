package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/audit"
	"github.com/medibook/telehealth-platform/internal/ledger"
	"github.com/medibook/telehealth-platform/internal/metrics"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

const (
	EventPayoutRequested = "PAYOUT_REQUESTED"
	EventPayoutApproved  = "PAYOUT_APPROVED"
	EventPayoutRejected  = "PAYOUT_REJECTED"
)

var (
	ErrInsufficientBalance = errors.New("doctor balance does not cover the payout")
	ErrInvalidAmount       = errors.New("payout amount must be a positive integer")
	ErrNotDoctor           = errors.New("only doctor accounts can request payouts")
	ErrUnauthorized        = errors.New("actor is not allowed to resolve payouts")
)

type Service struct {
	repo     Repository
	accounts account.Repository
	auditor  audit.Recorder
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

func NewService(repo Repository, accounts account.Repository, auditor audit.Recorder, logger *logging.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		auditor:  auditor,
		logger:   logger.WithComponent("payout"),
		metrics:  m,
	}
}

// RequestPayout opens a processing request. The ledger is untouched until an
// admin approves; the doctor's balance may legitimately be lower than the
// requested amount at this point.
func (s *Service) RequestPayout(ctx context.Context, doctorID uuid.UUID, amount int64) (*Request, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	doctor, err := s.accounts.GetByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doctor.Role != account.RoleDoctor {
		return nil, ErrNotDoctor
	}

	req, err := s.repo.Create(ctx, doctorID, amount)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, req.ID, EventPayoutRequested, map[string]any{
		"doctor_id": doctorID.String(),
		"amount":    amount,
	})

	return req, nil
}

// ApprovePayout resolves a request and drains the doctor's balance. The
// balance is re-read at approval time inside the transaction; if it no
// longer covers the amount the request stays in processing.
func (s *Service) ApprovePayout(ctx context.Context, adminID, payoutID uuid.UUID) (*Request, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	req, err := s.repo.Approve(ctx, payoutID, adminID)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			s.metrics.ObservePayout("insufficient_balance")
			return nil, ErrInsufficientBalance
		}
		return nil, err
	}

	s.metrics.ObservePayout("approved")
	s.logEvent(ctx, req.ID, EventPayoutApproved, map[string]any{
		"admin_id":  adminID.String(),
		"doctor_id": req.DoctorID.String(),
		"amount":    req.Amount,
	})

	return req, nil
}

// RejectPayout resolves a request with no ledger effect.
func (s *Service) RejectPayout(ctx context.Context, adminID, payoutID uuid.UUID) (*Request, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	req, err := s.repo.Reject(ctx, payoutID, adminID)
	if err != nil {
		return nil, err
	}

	s.metrics.ObservePayout("rejected")
	s.logEvent(ctx, req.ID, EventPayoutRejected, map[string]any{
		"admin_id":  adminID.String(),
		"doctor_id": req.DoctorID.String(),
	})

	return req, nil
}

// ListPayouts returns the pending queue for admins and their own history
// for doctors.
func (s *Service) ListPayouts(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]Request, error) {
	if limit <= 0 {
		limit = 50 // default
	}
	if limit > 200 {
		limit = 200 // max
	}
	if offset < 0 {
		offset = 0
	}

	actor, err := s.accounts.GetByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("load actor: %w", err)
	}

	switch actor.Role {
	case account.RoleAdmin:
		return s.repo.ListPending(ctx, limit, offset)
	case account.RoleDoctor:
		return s.repo.ListByDoctor(ctx, actorID, limit, offset)
	default:
		return nil, ErrUnauthorized
	}
}

func (s *Service) requireAdmin(ctx context.Context, adminID uuid.UUID) error {
	admin, err := s.accounts.GetByID(ctx, adminID)
	if err != nil {
		return fmt.Errorf("load admin: %w", err)
	}
	if admin.Role != account.RoleAdmin {
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
