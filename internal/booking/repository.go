package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotAlreadyBooked   = errors.New("slot already has an appointment")
	ErrAlreadyCancelled    = errors.New("appointment is already cancelled")
	ErrNotCancellable      = errors.New("appointment cannot be cancelled")
	ErrNotCompletable      = errors.New("appointment cannot be completed")
)

// BookParams carries everything the booking transaction writes.
type BookParams struct {
	SlotID      uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Description string
	Cost        int64
}

// Repository contains all DB interactions needed by the booking engine.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// GetActiveBySlot returns the non-cancelled appointment holding the
	// slot, if any.
	GetActiveBySlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error)

	// Book atomically claims the slot, debits the patient and credits the
	// doctor. The slot claim is attempted first so a failed claim never
	// touches a balance; a unique-constraint violation on the claim comes
	// back as ErrSlotAlreadyBooked.
	Book(ctx context.Context, p BookParams) (*Appointment, error)

	// Cancel atomically flips the status, frees the slot and appends
	// reversing ledger entries mirroring the original debit/credit pair.
	Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Complete marks a scheduled appointment completed.
	Complete(ctx context.Context, id uuid.UUID) (*Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
}
