package availability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

type fakeAccounts struct {
	accounts map[uuid.UUID]*account.Account
}

func (f *fakeAccounts) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) GetByExternalRef(ctx context.Context, ref string) (*account.Account, error) {
	return nil, account.ErrAccountNotFound
}

func (f *fakeAccounts) Create(ctx context.Context, a *account.Account) (*account.Account, error) {
	return a, nil
}

func (f *fakeAccounts) UpdateVerification(ctx context.Context, doctorID uuid.UUID, from, to account.VerificationStatus, verifiedBy *uuid.UUID) (*account.Account, error) {
	return nil, account.ErrAccountNotFound
}

func (f *fakeAccounts) UpdateConsultationPrice(ctx context.Context, doctorID uuid.UUID, price int64) (*account.Account, error) {
	return nil, account.ErrAccountNotFound
}

func (f *fakeAccounts) SetPlan(ctx context.Context, accountID uuid.UUID, planID string) error {
	return nil
}

func (f *fakeAccounts) ListSubscribed(ctx context.Context) ([]account.Account, error) {
	return nil, nil
}

// fakeSlotRepo keeps slots in memory and tracks which ones carry an
// appointment, mirroring the guards the SQL layer enforces.
type fakeSlotRepo struct {
	mu     sync.Mutex
	slots  map[uuid.UUID]*Slot
	booked map[uuid.UUID]bool
}

func newFakeSlotRepo() *fakeSlotRepo {
	return &fakeSlotRepo{
		slots:  make(map[uuid.UUID]*Slot),
		booked: make(map[uuid.UUID]bool),
	}
}

func (f *fakeSlotRepo) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSlotRepo) CreateBatch(ctx context.Context, doctorID uuid.UUID, windows []Window, replaceAll bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if replaceAll {
		now := time.Now()
		for id, s := range f.slots {
			if s.DoctorID == doctorID && s.StartTime.After(now) && !f.booked[id] {
				delete(f.slots, id)
			}
		}
	}

	for _, w := range windows {
		id := uuid.New()
		f.slots[id] = &Slot{ID: id, DoctorID: doctorID, StartTime: w.StartTime, EndTime: w.EndTime}
	}
	return len(windows), nil
}

func (f *fakeSlotRepo) Delete(ctx context.Context, doctorID, slotID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slotID]
	if !ok || s.DoctorID != doctorID {
		return ErrSlotNotFound
	}
	if f.booked[slotID] {
		return ErrSlotHasAppointment
	}
	delete(f.slots, slotID)
	return nil
}

func (f *fakeSlotRepo) UpdateWindow(ctx context.Context, doctorID, slotID uuid.UUID, w Window) (*Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slotID]
	if !ok || s.DoctorID != doctorID {
		return nil, ErrSlotNotFound
	}
	if f.booked[slotID] {
		return nil, ErrSlotHasAppointment
	}
	s.StartTime = w.StartTime
	s.EndTime = w.EndTime
	cp := *s
	return &cp, nil
}

func (f *fakeSlotRepo) ListRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit, offset int) ([]SlotStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SlotStatus
	for id, s := range f.slots {
		if s.DoctorID == doctorID && !s.StartTime.Before(from) && s.StartTime.Before(to) {
			out = append(out, SlotStatus{Slot: *s, Booked: f.booked[id]})
		}
	}
	return out, nil
}

func newTestService() (*Service, *fakeSlotRepo, *fakeAccounts) {
	repo := newFakeSlotRepo()
	accounts := &fakeAccounts{accounts: make(map[uuid.UUID]*account.Account)}
	return NewService(repo, accounts, logging.Default()), repo, accounts
}

func addDoctor(accounts *fakeAccounts, status account.VerificationStatus) uuid.UUID {
	id := uuid.New()
	accounts.accounts[id] = &account.Account{
		ID:                 id,
		Role:               account.RoleDoctor,
		VerificationStatus: &status,
	}
	return id
}

func window(hoursFromNow, durationHours int) Window {
	start := time.Now().Add(time.Duration(hoursFromNow) * time.Hour)
	return Window{StartTime: start, EndTime: start.Add(time.Duration(durationHours) * time.Hour)}
}

func TestCreateSlots(t *testing.T) {
	svc, repo, accounts := newTestService()
	ctx := context.Background()
	doctorID := addDoctor(accounts, account.VerificationVerified)

	created, err := svc.CreateSlots(ctx, doctorID, []Window{window(24, 1), window(25, 1)}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Len(t, repo.slots, 2)
}

func TestCreateSlots_Validation(t *testing.T) {
	svc, _, accounts := newTestService()
	ctx := context.Background()
	doctorID := addDoctor(accounts, account.VerificationVerified)

	_, err := svc.CreateSlots(ctx, doctorID, nil, false)
	assert.ErrorIs(t, err, ErrNoWindows)

	inverted := Window{StartTime: time.Now().Add(2 * time.Hour), EndTime: time.Now().Add(time.Hour)}
	_, err = svc.CreateSlots(ctx, doctorID, []Window{inverted}, false)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = svc.CreateSlots(ctx, doctorID, []Window{{}}, false)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestCreateSlots_UnverifiedDoctor(t *testing.T) {
	svc, _, accounts := newTestService()
	ctx := context.Background()

	for _, status := range []account.VerificationStatus{
		account.VerificationPending,
		account.VerificationUnderReview,
		account.VerificationRejected,
	} {
		doctorID := addDoctor(accounts, status)
		_, err := svc.CreateSlots(ctx, doctorID, []Window{window(24, 1)}, false)
		assert.ErrorIs(t, err, ErrDoctorNotVerified, "status %s", status)
	}
}

func TestCreateSlots_OverlapsPermitted(t *testing.T) {
	svc, _, accounts := newTestService()
	ctx := context.Background()
	doctorID := addDoctor(accounts, account.VerificationVerified)

	// Two windows covering the same hour are both accepted; exclusivity is a
	// per-slot booking concern.
	created, err := svc.CreateSlots(ctx, doctorID, []Window{window(24, 2), window(24, 1)}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
}

func TestCreateSlots_ReplaceAllKeepsBooked(t *testing.T) {
	svc, repo, accounts := newTestService()
	ctx := context.Background()
	doctorID := addDoctor(accounts, account.VerificationVerified)

	_, err := svc.CreateSlots(ctx, doctorID, []Window{window(24, 1), window(26, 1)}, false)
	require.NoError(t, err)

	var bookedID uuid.UUID
	for id := range repo.slots {
		bookedID = id
		break
	}
	repo.booked[bookedID] = true

	_, err = svc.CreateSlots(ctx, doctorID, []Window{window(48, 1)}, true)
	require.NoError(t, err)

	_, ok := repo.slots[bookedID]
	assert.True(t, ok, "booked slot must survive a replace-all")
	assert.Len(t, repo.slots, 2)
}

func TestDeleteSlot(t *testing.T) {
	svc, repo, accounts := newTestService()
	ctx := context.Background()
	doctorID := addDoctor(accounts, account.VerificationVerified)

	_, err := svc.CreateSlots(ctx, doctorID, []Window{window(24, 1)}, false)
	require.NoError(t, err)

	var slotID uuid.UUID
	for id := range repo.slots {
		slotID = id
	}

	// Another doctor cannot delete it.
	otherID := addDoctor(accounts, account.VerificationVerified)
	err = svc.DeleteSlot(ctx, otherID, slotID)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	// A booked slot refuses deletion.
	repo.booked[slotID] = true
	err = svc.DeleteSlot(ctx, doctorID, slotID)
	assert.ErrorIs(t, err, ErrSlotHasAppointment)

	repo.booked[slotID] = false
	err = svc.DeleteSlot(ctx, doctorID, slotID)
	require.NoError(t, err)
	assert.Empty(t, repo.slots)
}

func TestUpdateSlot(t *testing.T) {
	svc, repo, accounts := newTestService()
	ctx := context.Background()
	doctorID := addDoctor(accounts, account.VerificationVerified)

	_, err := svc.CreateSlots(ctx, doctorID, []Window{window(24, 1)}, false)
	require.NoError(t, err)

	var slotID uuid.UUID
	for id := range repo.slots {
		slotID = id
	}

	moved := window(30, 1)
	updated, err := svc.UpdateSlot(ctx, doctorID, slotID, moved)
	require.NoError(t, err)
	assert.True(t, updated.StartTime.Equal(moved.StartTime))

	_, err = svc.UpdateSlot(ctx, doctorID, slotID, Window{})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	repo.booked[slotID] = true
	_, err = svc.UpdateSlot(ctx, doctorID, slotID, window(31, 1))
	assert.ErrorIs(t, err, ErrSlotHasAppointment)
}

func TestListAvailability_DefaultsRange(t *testing.T) {
	svc, repo, accounts := newTestService()
	ctx := context.Background()
	doctorID := addDoctor(accounts, account.VerificationVerified)

	_, err := svc.CreateSlots(ctx, doctorID, []Window{window(24, 1), window(24*40, 1)}, false)
	require.NoError(t, err)

	var bookedID uuid.UUID
	for id, s := range repo.slots {
		if s.StartTime.Before(time.Now().Add(48 * time.Hour)) {
			bookedID = id
		}
	}
	repo.booked[bookedID] = true

	// Zero `to` defaults to one month after `from`, excluding the far slot.
	got, err := svc.ListAvailability(ctx, doctorID, time.Now(), time.Time{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Booked)
}
