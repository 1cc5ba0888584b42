package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/audit"
	"github.com/medibook/telehealth-platform/internal/config"
	redisclient "github.com/medibook/telehealth-platform/internal/redis"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

// Fakes

type fakeRepo struct {
	mu       sync.Mutex
	nextID   int64
	balances map[uuid.UUID]int64
	entries  map[uuid.UUID][]Entry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		balances: make(map[uuid.UUID]int64),
		entries:  make(map[uuid.UUID][]Entry),
	}
}

func (f *fakeRepo) createAccount(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[id] = 0
}

func (f *fakeRepo) applyLocked(e Entry) (*Entry, error) {
	bal, ok := f.balances[e.AccountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if bal+e.Amount < 0 {
		return nil, ErrInsufficientFunds
	}
	f.balances[e.AccountID] = bal + e.Amount

	f.nextID++
	e.ID = f.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	f.entries[e.AccountID] = append(f.entries[e.AccountID], e)
	return &e, nil
}

func (f *fakeRepo) Apply(ctx context.Context, e Entry) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyLocked(e)
}

func (f *fakeRepo) ApplyAllocation(ctx context.Context, accountID uuid.UUID, planID string, amount int64, monthStart time.Time) (*Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.balances[accountID]; !ok {
		return nil, false, ErrAccountNotFound
	}

	var latest *Entry
	for i := range f.entries[accountID] {
		e := &f.entries[accountID][i]
		if e.Type == EntryCreditPurchase && e.PlanID != nil && !e.CreatedAt.Before(monthStart) {
			latest = e
		}
	}

	if !AllocationDue(latest, planID) {
		cp := *latest
		return &cp, false, nil
	}

	e, err := f.applyLocked(Entry{
		AccountID:   accountID,
		Amount:      amount,
		Type:        EntryCreditPurchase,
		PlanID:      &planID,
		Description: "monthly plan allocation",
	})
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (f *fakeRepo) ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.entries[accountID]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]Entry, end-offset)
	copy(out, all[offset:end])
	return out, nil
}

func (f *fakeRepo) SumEntries(ctx context.Context, accountID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, e := range f.entries[accountID] {
		sum += e.Amount
	}
	return sum, nil
}

func (f *fakeRepo) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return bal, nil
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*account.Account
	plans    map[uuid.UUID]string
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		accounts: make(map[uuid.UUID]*account.Account),
		plans:    make(map[uuid.UUID]string),
	}
}

func (f *fakeAccounts) add(a *account.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.ID] = a
}

func (f *fakeAccounts) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	f.add(a)
	return a, nil
}

func (f *fakeAccounts) UpdateVerification(ctx context.Context, doctorID uuid.UUID, from, to account.VerificationStatus, verifiedBy *uuid.UUID) (*account.Account, error) {
	return nil, account.ErrAccountNotFound
}

func (f *fakeAccounts) UpdateConsultationPrice(ctx context.Context, doctorID uuid.UUID, price int64) (*account.Account, error) {
	return nil, account.ErrAccountNotFound
}

func (f *fakeAccounts) SetPlan(ctx context.Context, accountID uuid.UUID, planID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[accountID] = planID
	return nil
}

func (f *fakeAccounts) ListSubscribed(ctx context.Context) ([]account.Account, error) {
	return nil, nil
}

// passLocker runs the section without any locking.
type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (passLocker) WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// heldLocker simulates a contended account lock.
type heldLocker struct{}

func (heldLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func (heldLocker) WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type memRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memRecorder) Record(ctx context.Context, ev audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func newTestService(repo *fakeRepo, accounts *fakeAccounts) *Service {
	cfg := config.Config{
		AppointmentCost: 2,
		PlanCredits:     map[string]int64{"basic": 10, "plus": 25},
	}
	return NewService(repo, accounts, passLocker{}, cfg, &memRecorder{}, logging.Default())
}

// Tests

func TestAllocationDue(t *testing.T) {
	basic := "basic"
	plus := "plus"

	tests := []struct {
		name   string
		latest *Entry
		plan   string
		want   bool
	}{
		{"no grant this month", nil, "basic", true},
		{"already granted same plan", &Entry{PlanID: &basic}, "basic", false},
		{"mid-month plan change", &Entry{PlanID: &basic}, "plus", true},
		{"untagged purchase ignored", &Entry{PlanID: nil}, "plus", true},
		{"granted for new plan", &Entry{PlanID: &plus}, "plus", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AllocationDue(tt.latest, tt.plan))
		})
	}
}

func TestMonthStart(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	in := time.Date(2026, time.March, 1, 3, 15, 0, 0, loc) // Feb 28 18:15 UTC

	got := MonthStart(in)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), got)

	mid := time.Date(2026, time.July, 17, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC), MonthStart(mid))
}

func TestRecordPurchase(t *testing.T) {
	repo := newFakeRepo()
	accounts := newFakeAccounts()
	svc := newTestService(repo, accounts)

	id := uuid.New()
	repo.createAccount(id)

	e, err := svc.RecordPurchase(context.Background(), id, 25, "gateway order 991")
	require.NoError(t, err)
	assert.Equal(t, EntryCreditPurchase, e.Type)
	assert.Equal(t, int64(25), e.Amount)

	bal, _ := repo.GetBalance(context.Background(), id)
	assert.Equal(t, int64(25), bal)

	_, err = svc.RecordPurchase(context.Background(), id, 0, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.RecordPurchase(context.Background(), id, -5, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAdjust(t *testing.T) {
	repo := newFakeRepo()
	accounts := newFakeAccounts()
	svc := newTestService(repo, accounts)
	ctx := context.Background()

	admin := &account.Account{ID: uuid.New(), Role: account.RoleAdmin}
	patient := &account.Account{ID: uuid.New(), Role: account.RolePatient}
	accounts.add(admin)
	accounts.add(patient)
	repo.createAccount(patient.ID)

	_, err := svc.Adjust(ctx, admin.ID, patient.ID, 7, "goodwill")
	require.NoError(t, err)

	// Downward past zero is refused atomically.
	_, err = svc.Adjust(ctx, admin.ID, patient.ID, -10, "clawback")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	bal, _ := repo.GetBalance(ctx, patient.ID)
	assert.Equal(t, int64(7), bal)

	// Only admins may adjust.
	_, err = svc.Adjust(ctx, patient.ID, patient.ID, 5, "self serve")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Adjust(ctx, admin.ID, patient.ID, 0, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAllocateMonthly_IdempotentPerMonth(t *testing.T) {
	repo := newFakeRepo()
	accounts := newFakeAccounts()
	svc := newTestService(repo, accounts)
	ctx := context.Background()

	id := uuid.New()
	repo.createAccount(id)
	accounts.add(&account.Account{ID: id, Role: account.RolePatient})

	e, granted, err := svc.AllocateMonthly(ctx, id, "basic")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, int64(10), e.Amount)

	// Second run in the same month is a no-op.
	_, granted, err = svc.AllocateMonthly(ctx, id, "basic")
	require.NoError(t, err)
	assert.False(t, granted)

	bal, _ := repo.GetBalance(ctx, id)
	assert.Equal(t, int64(10), bal)
	assert.Equal(t, "basic", accounts.plans[id])
}

func TestAllocateMonthly_MidMonthUpgrade(t *testing.T) {
	repo := newFakeRepo()
	accounts := newFakeAccounts()
	svc := newTestService(repo, accounts)
	ctx := context.Background()

	id := uuid.New()
	repo.createAccount(id)
	accounts.add(&account.Account{ID: id, Role: account.RolePatient})

	_, granted, err := svc.AllocateMonthly(ctx, id, "basic")
	require.NoError(t, err)
	require.True(t, granted)

	// Switching plans mid-month grants the new plan immediately.
	e, granted, err := svc.AllocateMonthly(ctx, id, "plus")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, int64(25), e.Amount)

	bal, _ := repo.GetBalance(ctx, id)
	assert.Equal(t, int64(35), bal)
	assert.Equal(t, "plus", accounts.plans[id])

	// The new plan is now the month's grant of record.
	_, granted, err = svc.AllocateMonthly(ctx, id, "plus")
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestAllocateMonthly_NewMonthGrantsAgain(t *testing.T) {
	repo := newFakeRepo()
	accounts := newFakeAccounts()
	svc := newTestService(repo, accounts)
	ctx := context.Background()

	id := uuid.New()
	repo.createAccount(id)
	accounts.add(&account.Account{ID: id, Role: account.RolePatient})

	now := time.Date(2026, time.May, 20, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, granted, err := svc.AllocateMonthly(ctx, id, "basic")
	require.NoError(t, err)
	require.True(t, granted)

	now = now.AddDate(0, 1, 0)
	_, granted, err = svc.AllocateMonthly(ctx, id, "basic")
	require.NoError(t, err)
	assert.True(t, granted, "a new calendar month starts a fresh grant window")

	bal, _ := repo.GetBalance(ctx, id)
	assert.Equal(t, int64(20), bal)
}

func TestAllocateMonthly_LockContention(t *testing.T) {
	repo := newFakeRepo()
	accounts := newFakeAccounts()
	cfg := config.Config{PlanCredits: map[string]int64{"basic": 10}}
	svc := NewService(repo, accounts, heldLocker{}, cfg, &memRecorder{}, logging.Default())
	ctx := context.Background()

	id := uuid.New()
	repo.createAccount(id)
	accounts.add(&account.Account{ID: id, Role: account.RolePatient})

	_, granted, err := svc.AllocateMonthly(ctx, id, "basic")
	assert.ErrorIs(t, err, ErrAllocationInProgress)
	assert.False(t, granted)

	// Nothing was written while the lock was held elsewhere.
	bal, _ := repo.GetBalance(ctx, id)
	assert.Equal(t, int64(0), bal)
}

func TestAllocateMonthly_UnknownPlan(t *testing.T) {
	repo := newFakeRepo()
	accounts := newFakeAccounts()
	svc := newTestService(repo, accounts)

	_, _, err := svc.AllocateMonthly(context.Background(), uuid.New(), "platinum")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestBalance(t *testing.T) {
	repo := newFakeRepo()
	accounts := newFakeAccounts()
	svc := newTestService(repo, accounts)
	ctx := context.Background()

	id := uuid.New()
	repo.createAccount(id)

	_, err := repo.Apply(ctx, Entry{AccountID: id, Amount: 12, Type: EntryCreditPurchase})
	require.NoError(t, err)
	_, err = repo.Apply(ctx, Entry{AccountID: id, Amount: -2, Type: EntryAppointmentDeduction})
	require.NoError(t, err)

	balance, derived, err := svc.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
	assert.Equal(t, balance, derived)

	_, _, err = svc.Balance(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

// TestRandomizedSequence_BalanceAlwaysDerivable drives a seeded random mix
// of purchases, adjustments, allocations and booking debit/credit pairs and
// re-derives every balance from the entry stream after each step. The cached
// balance and the ledger sum must never diverge, no matter the interleaving.
func TestRandomizedSequence_BalanceAlwaysDerivable(t *testing.T) {
	repo := newFakeRepo()
	accounts := newFakeAccounts()
	svc := newTestService(repo, accounts)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))

	admin := &account.Account{ID: uuid.New(), Role: account.RoleAdmin}
	accounts.add(admin)

	doctor := uuid.New()
	repo.createAccount(doctor)
	accounts.add(&account.Account{ID: doctor, Role: account.RoleDoctor})

	patients := make([]uuid.UUID, 4)
	for i := range patients {
		patients[i] = uuid.New()
		repo.createAccount(patients[i])
		accounts.add(&account.Account{ID: patients[i], Role: account.RolePatient})
	}
	all := append([]uuid.UUID{doctor}, patients...)

	now := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	plans := []string{"basic", "plus"}

	type booked struct {
		patient uuid.UUID
		apptID  uuid.UUID
		cost    int64
	}
	var open []booked

	checkAll := func(step int) {
		t.Helper()
		for _, id := range all {
			balance, derived, err := svc.Balance(ctx, id)
			require.NoError(t, err)
			require.Equal(t, derived, balance, "step %d: cached balance diverged from entry sum for %s", step, id)
			require.GreaterOrEqual(t, balance, int64(0), "step %d: balance went negative for %s", step, id)
		}
	}

	allowed := func(err error) bool {
		return err == nil || errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrInvalidAmount)
	}

	for step := 0; step < 500; step++ {
		patient := patients[rng.Intn(len(patients))]

		switch rng.Intn(6) {
		case 0:
			_, err := svc.RecordPurchase(ctx, patient, int64(1+rng.Intn(20)), "gateway order")
			require.NoError(t, err)
		case 1:
			target := all[rng.Intn(len(all))]
			_, err := svc.Adjust(ctx, admin.ID, target, int64(rng.Intn(21)-10), "correction")
			require.True(t, allowed(err), "step %d: adjust: %v", step, err)
		case 2:
			_, _, err := svc.AllocateMonthly(ctx, patient, plans[rng.Intn(len(plans))])
			require.NoError(t, err)
		case 3:
			// Booking's two-leg movement, the way the booking repository
			// writes it: debit the patient, credit the doctor.
			cost := int64(1 + rng.Intn(4))
			apptID := uuid.New()
			_, err := repo.Apply(ctx, Entry{AccountID: patient, Amount: -cost, Type: EntryAppointmentDeduction, AppointmentID: &apptID})
			if errors.Is(err, ErrInsufficientFunds) {
				break
			}
			require.NoError(t, err)
			_, err = repo.Apply(ctx, Entry{AccountID: doctor, Amount: cost, Type: EntryAppointmentDeduction, AppointmentID: &apptID})
			require.NoError(t, err)
			open = append(open, booked{patient: patient, apptID: apptID, cost: cost})
		case 4:
			if len(open) == 0 {
				break
			}
			i := rng.Intn(len(open))
			b := open[i]
			// Cancellation reversal; the doctor leg runs first so a spent
			// doctor balance refuses the reversal before anything moved.
			_, err := repo.Apply(ctx, Entry{AccountID: doctor, Amount: -b.cost, Type: EntryAppointmentDeduction, AppointmentID: &b.apptID})
			if errors.Is(err, ErrInsufficientFunds) {
				break
			}
			require.NoError(t, err)
			_, err = repo.Apply(ctx, Entry{AccountID: b.patient, Amount: b.cost, Type: EntryAppointmentDeduction, AppointmentID: &b.apptID})
			require.NoError(t, err)
			open = append(open[:i], open[i+1:]...)
		case 5:
			now = now.AddDate(0, 1, 0)
		}

		checkAll(step)
	}
}

func TestEntries_LimitClamping(t *testing.T) {
	repo := newFakeRepo()
	accounts := newFakeAccounts()
	svc := newTestService(repo, accounts)
	ctx := context.Background()

	id := uuid.New()
	repo.createAccount(id)
	for i := 0; i < 60; i++ {
		_, err := repo.Apply(ctx, Entry{AccountID: id, Amount: 1, Type: EntryCreditPurchase})
		require.NoError(t, err)
	}

	entries, err := svc.Entries(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 50, "zero limit falls back to the default page size")

	entries, err = svc.Entries(ctx, id, 10, 55)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}
