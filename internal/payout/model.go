package payout

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusRejected   Status = "rejected"
)

// Request is a doctor's ask to convert accumulated credits into an external
// payment. Created in processing state, resolved exactly once by an admin.
// The balance check happens at approval time, not request time.
type Request struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Amount      int64
	Status      Status
	ProcessedBy *uuid.UUID
	RequestedAt time.Time
	ProcessedAt *time.Time
}
