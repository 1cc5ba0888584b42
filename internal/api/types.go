package api

import (
	"time"

	"github.com/google/uuid"
)

type SlotWindowRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type CreateSlotsRequest struct {
	Slots      []SlotWindowRequest `json:"slots"`
	ReplaceAll bool                `json:"replace_all"`
}

type CreateSlotsResponse struct {
	SlotsCreated int `json:"slots_created"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Booked    bool      `json:"booked"`
}

type UpdateSlotRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type CreateAppointmentRequest struct {
	SlotID      string `json:"slot_id"`
	Description string `json:"description"`
}

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	SlotID      uuid.UUID  `json:"slot_id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type RequestPayoutRequest struct {
	Amount int64 `json:"amount"`
}

type PayoutResponse struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	Amount      int64      `json:"amount"`
	Status      string     `json:"status"`
	ProcessedBy *uuid.UUID `json:"processed_by,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

type PurchaseCreditsRequest struct {
	AccountID   string `json:"account_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type AllocateMonthlyRequest struct {
	AccountID string `json:"account_id"`
	PlanID    string `json:"plan_id"`
}

type AllocateMonthlyResponse struct {
	Granted bool   `json:"granted"`
	Amount  int64  `json:"amount,omitempty"`
	PlanID  string `json:"plan_id"`
}

type AdjustCreditsRequest struct {
	AccountID   string `json:"account_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type BalanceResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int64     `json:"balance"`
	Derived   int64     `json:"derived"`
	Diverged  bool      `json:"diverged,omitempty"`
}

type LedgerEntryResponse struct {
	ID            int64      `json:"id"`
	AccountID     uuid.UUID  `json:"account_id"`
	Amount        int64      `json:"amount"`
	Type          string     `json:"type"`
	Description   string     `json:"description,omitempty"`
	PlanID        *string    `json:"plan_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type ReviewDoctorRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

type DoctorResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Role               string     `json:"role"`
	VerificationStatus string     `json:"verification_status,omitempty"`
	ConsultationPrice  *int64     `json:"consultation_price,omitempty"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
}

type SetPriceRequest struct {
	Price int64 `json:"price"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
