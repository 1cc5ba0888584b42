package availability

import (
	"time"

	"github.com/google/uuid"
)

// Slot is a fixed time window a doctor marks bookable. Whether a slot is
// booked is not stored here: it is a projection of the appointments table,
// so the flag can never diverge from the appointment that owns it.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Window is the doctor-supplied time range for a new slot.
type Window struct {
	StartTime time.Time
	EndTime   time.Time
}

func (w Window) Valid() bool {
	return !w.StartTime.IsZero() && !w.EndTime.IsZero() && w.StartTime.Before(w.EndTime)
}

// SlotStatus is a slot joined with its derived booked flag.
type SlotStatus struct {
	Slot
	Booked bool
}
