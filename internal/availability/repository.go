package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound       = errors.New("slot not found")
	ErrSlotHasAppointment = errors.New("slot has an appointment attached")
)

// Repository contains all DB interactions needed by the slot manager.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)

	// CreateBatch inserts the windows for a doctor in one transaction.
	// With replaceAll set it first deletes the doctor's future slots that
	// have no appointment attached; booked history is never touched.
	CreateBatch(ctx context.Context, doctorID uuid.UUID, windows []Window, replaceAll bool) (int, error)

	// Delete removes an unbooked slot owned by the doctor.
	Delete(ctx context.Context, doctorID, slotID uuid.UUID) error

	// UpdateWindow moves a slot's bounds while it has no appointment.
	UpdateWindow(ctx context.Context, doctorID, slotID uuid.UUID, w Window) (*Slot, error)

	// ListRange returns the doctor's slots in the date range ordered by
	// start time, each with its derived booked flag. Plain ordered reads
	// keep the listing restartable.
	ListRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit, offset int) ([]SlotStatus, error)
}
