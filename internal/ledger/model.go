package ledger

import (
	"time"

	"github.com/google/uuid"
)

type EntryType string

const (
	EntryCreditPurchase       EntryType = "credit_purchase"
	EntryAppointmentDeduction EntryType = "appointment_deduction"
	EntryAdminAdjustment      EntryType = "admin_adjustment"
	EntryPayout               EntryType = "payout"
)

// Entry is one immutable credit movement. Amounts are signed: negative
// entries debit the account, positive entries credit it. The sum of an
// account's entries equals its cached balance at all times.
type Entry struct {
	ID            int64
	AccountID     uuid.UUID
	Amount        int64
	Type          EntryType
	Description   string
	PlanID        *string
	AppointmentID *uuid.UUID
	CreatedAt     time.Time
}

// AllocationDue decides whether a monthly plan grant should proceed given
// the latest plan-tagged purchase entry of the current calendar month.
// No entry yet means the grant is due. An entry for a different plan also
// grants immediately: a mid-month plan change takes effect right away.
func AllocationDue(latest *Entry, planID string) bool {
	if latest == nil {
		return true
	}
	if latest.PlanID == nil {
		return true
	}
	return *latest.PlanID != planID
}

// MonthStart returns the first instant of t's calendar month in UTC. The
// allocation idempotence window is keyed on it.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
