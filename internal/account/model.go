package account

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

type VerificationStatus string

const (
	VerificationPending     VerificationStatus = "pending"
	VerificationUnderReview VerificationStatus = "under_review"
	VerificationVerified    VerificationStatus = "verified"
	VerificationRejected    VerificationStatus = "rejected"
)

// Account is a party on the platform. Balance is a denormalized cache of the
// account's ledger entry sum; it is only ever written together with a ledger
// entry inside the same transaction.
type Account struct {
	ID          uuid.UUID
	ExternalRef string
	Role        Role
	Balance     int64
	PlanID      *string

	// Doctor-only attributes.
	VerificationStatus *VerificationStatus
	ConsultationPrice  *int64
	VerifiedAt         *time.Time
	VerifiedBy         *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsVerifiedDoctor reports whether the account may publish slots or receive
// bookings. Any status other than verified is treated uniformly as not
// eligible.
func (a *Account) IsVerifiedDoctor() bool {
	return a.Role == RoleDoctor &&
		a.VerificationStatus != nil &&
		*a.VerificationStatus == VerificationVerified
}
