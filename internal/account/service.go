package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/telehealth-platform/internal/audit"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

const (
	EventAccountCreated    = "ACCOUNT_CREATED"
	EventDoctorReviewed    = "DOCTOR_REVIEWED"
	EventDoctorSuspended   = "DOCTOR_SUSPENDED"
	EventDoctorResubmitted = "DOCTOR_RESUBMITTED"
)

var (
	ErrUnauthorized        = errors.New("actor is not allowed to perform this action")
	ErrInvalidRole         = errors.New("invalid account role")
	ErrInvalidTransition   = errors.New("invalid verification status transition")
	ErrInvalidDecision     = errors.New("unknown review decision")
	ErrInvalidConsultPrice = errors.New("consultation price must be a positive integer")
	ErrExternalRefRequired = errors.New("external identity reference is required")
)

// ReviewDecision is an admin's verdict on a doctor account.
type ReviewDecision string

const (
	DecisionUnderReview ReviewDecision = "under_review"
	DecisionVerify      ReviewDecision = "verify"
	DecisionReject      ReviewDecision = "reject"
	DecisionSuspend     ReviewDecision = "suspend"
	DecisionResubmit    ReviewDecision = "resubmit"
)

// decisionTransitions maps each decision to the status it requires and the
// status it produces. Suspension is modeled as verified -> pending;
// resubmission reopens a rejected application.
var decisionTransitions = map[ReviewDecision]struct {
	from VerificationStatus
	to   VerificationStatus
}{
	DecisionUnderReview: {VerificationPending, VerificationUnderReview},
	DecisionVerify:      {VerificationUnderReview, VerificationVerified},
	DecisionReject:      {VerificationUnderReview, VerificationRejected},
	DecisionSuspend:     {VerificationVerified, VerificationPending},
	DecisionResubmit:    {VerificationRejected, VerificationPending},
}

type Service struct {
	repo    Repository
	auditor audit.Recorder
	logger  *logging.Logger
}

func NewService(repo Repository, auditor audit.Recorder, logger *logging.Logger) *Service {
	return &Service{
		repo:    repo,
		auditor: auditor,
		logger:  logger.WithComponent("account"),
	}
}

// EnsureAccount returns the account for an authenticated external identity,
// creating it on first access. Doctors start unverified with no price set.
func (s *Service) EnsureAccount(ctx context.Context, externalRef string, role Role) (*Account, error) {
	if externalRef == "" {
		return nil, ErrExternalRefRequired
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	existing, err := s.repo.GetByExternalRef(ctx, externalRef)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("load account by ref: %w", err)
	}

	a := &Account{
		ExternalRef: externalRef,
		Role:        role,
	}
	if role == RoleDoctor {
		pending := VerificationPending
		a.VerificationStatus = &pending
	}

	created, err := s.repo.Create(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.logEvent(ctx, created.ID, EventAccountCreated, map[string]any{
		"external_ref": externalRef,
		"role":         string(role),
	})

	return created, nil
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SetConsultationPrice records a doctor's per-consultation credit price
// during onboarding.
func (s *Service) SetConsultationPrice(ctx context.Context, doctorID uuid.UUID, price int64) (*Account, error) {
	if price <= 0 {
		return nil, ErrInvalidConsultPrice
	}

	a, err := s.repo.UpdateConsultationPrice(ctx, doctorID, price)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrNotDoctor
		}
		return nil, fmt.Errorf("update consultation price: %w", err)
	}
	return a, nil
}

// ReviewDoctor applies an admin verification decision. Only the transitions
// in decisionTransitions are legal; the repository's guarded update makes
// racing reviews lose cleanly instead of clobbering each other.
func (s *Service) ReviewDoctor(ctx context.Context, adminID, doctorID uuid.UUID, decision ReviewDecision, notes string) (*Account, error) {
	admin, err := s.repo.GetByID(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("load admin: %w", err)
	}
	if admin.Role != RoleAdmin {
		return nil, ErrUnauthorized
	}

	doctor, err := s.repo.GetByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doctor.Role != RoleDoctor || doctor.VerificationStatus == nil {
		return nil, ErrNotDoctor
	}

	tr, ok := decisionTransitions[decision]
	if !ok {
		return nil, ErrInvalidDecision
	}
	if *doctor.VerificationStatus != tr.from {
		return nil, ErrInvalidTransition
	}

	var verifiedBy *uuid.UUID
	if tr.to == VerificationVerified {
		verifiedBy = &adminID
	}

	updated, err := s.repo.UpdateVerification(ctx, doctorID, tr.from, tr.to, verifiedBy)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Lost a race with another reviewer.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update verification: %w", err)
	}

	eventType := EventDoctorReviewed
	switch decision {
	case DecisionSuspend:
		eventType = EventDoctorSuspended
	case DecisionResubmit:
		eventType = EventDoctorResubmitted
	}
	s.logEvent(ctx, doctorID, eventType, map[string]any{
		"admin_id": adminID.String(),
		"decision": string(decision),
		"from":     string(tr.from),
		"to":       string(tr.to),
		"notes":    notes,
	})

	return updated, nil
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
