package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Appointment is a scheduled encounter between a patient and a doctor. The
// time range is copied from the slot at booking time. Status only moves
// forward; a cancelled appointment stays cancelled.
type Appointment struct {
	ID          uuid.UUID
	SlotID      uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Status      Status
	Description string
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
