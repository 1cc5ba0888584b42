package payout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/audit"
	"github.com/medibook/telehealth-platform/internal/ledger"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*account.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[uuid.UUID]*account.Account)}
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
	return nil
}

func (f *fakeAccounts) ListSubscribed(ctx context.Context) ([]account.Account, error) {
	return nil, nil
}

// fakeRepo reproduces the approve transaction in memory: the status flip and
// the balance debit succeed or fail as one unit.
type fakeRepo struct {
	mu       sync.Mutex
	accounts *fakeAccounts
	requests map[uuid.UUID]*Request
}

func newFakeRepo(accounts *fakeAccounts) *fakeRepo {
	return &fakeRepo{
		accounts: accounts,
		requests: make(map[uuid.UUID]*Request),
	}
}

func (f *fakeRepo) Create(ctx context.Context, doctorID uuid.UUID, amount int64) (*Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := &Request{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		Amount:      amount,
		Status:      StatusProcessing,
		RequestedAt: time.Now(),
	}
	f.requests[req.ID] = req
	cp := *req
	return &cp, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	cp := *req
	return &cp, nil
}

func (f *fakeRepo) Approve(ctx context.Context, payoutID, adminID uuid.UUID) (*Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.requests[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	if req.Status != StatusProcessing {
		return nil, ErrPayoutResolved
	}

	f.accounts.mu.Lock()
	doctor := f.accounts.accounts[req.DoctorID]
	if doctor.Balance < req.Amount {
		f.accounts.mu.Unlock()
		return nil, ledger.ErrInsufficientFunds
	}
	doctor.Balance -= req.Amount
	f.accounts.mu.Unlock()

	now := time.Now()
	req.Status = StatusProcessed
	req.ProcessedBy = &adminID
	req.ProcessedAt = &now

	cp := *req
	return &cp, nil
}

func (f *fakeRepo) Reject(ctx context.Context, payoutID, adminID uuid.UUID) (*Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.requests[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	if req.Status != StatusProcessing {
		return nil, ErrPayoutResolved
	}

	now := time.Now()
	req.Status = StatusRejected
	req.ProcessedBy = &adminID
	req.ProcessedAt = &now

	cp := *req
	return &cp, nil
}

func (f *fakeRepo) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, req := range f.requests {
		if req.DoctorID == doctorID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListPending(ctx context.Context, limit, offset int) ([]Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, req := range f.requests {
		if req.Status == StatusProcessing {
			out = append(out, *req)
		}
	}
	return out, nil
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

type fixture struct {
	svc      *Service
	repo     *fakeRepo
	accounts *fakeAccounts
	doctor   *account.Account
	admin    *account.Account
}

func newFixture(t *testing.T, doctorBalance int64) *fixture {
	t.Helper()

	accounts := newFakeAccounts()
	repo := newFakeRepo(accounts)

	verified := account.VerificationVerified
	doctor := &account.Account{
		ID:                 uuid.New(),
		Role:               account.RoleDoctor,
		Balance:            doctorBalance,
		VerificationStatus: &verified,
	}
	admin := &account.Account{ID: uuid.New(), Role: account.RoleAdmin}
	accounts.add(doctor)
	accounts.add(admin)

	svc := NewService(repo, accounts, &memRecorder{}, logging.Default(), nil)

	return &fixture{svc: svc, repo: repo, accounts: accounts, doctor: doctor, admin: admin}
}

func TestRequestPayout(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	// No balance check at request time: a doctor with an empty balance may
	// still open a request.
	req, err := fx.svc.RequestPayout(ctx, fx.doctor.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, req.Status)
	assert.Equal(t, int64(50), req.Amount)
	assert.Nil(t, req.ProcessedBy)

	_, err = fx.svc.RequestPayout(ctx, fx.doctor.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = fx.svc.RequestPayout(ctx, fx.doctor.ID, -3)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = fx.svc.RequestPayout(ctx, fx.admin.ID, 10)
	assert.ErrorIs(t, err, ErrNotDoctor)
}

func TestApprovePayout(t *testing.T) {
	fx := newFixture(t, 80)
	ctx := context.Background()

	req, err := fx.svc.RequestPayout(ctx, fx.doctor.ID, 50)
	require.NoError(t, err)

	approved, err := fx.svc.ApprovePayout(ctx, fx.admin.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, approved.Status)
	require.NotNil(t, approved.ProcessedBy)
	assert.Equal(t, fx.admin.ID, *approved.ProcessedBy)
	assert.NotNil(t, approved.ProcessedAt)

	doctor, _ := fx.accounts.GetByID(ctx, fx.doctor.ID)
	assert.Equal(t, int64(30), doctor.Balance)
}

func TestApprovePayout_InsufficientBalanceKeepsProcessing(t *testing.T) {
	fx := newFixture(t, 40)
	ctx := context.Background()

	req, err := fx.svc.RequestPayout(ctx, fx.doctor.ID, 50)
	require.NoError(t, err)

	_, err = fx.svc.ApprovePayout(ctx, fx.admin.ID, req.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// The request survives untouched and the balance did not move.
	current, err := fx.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, current.Status)

	doctor, _ := fx.accounts.GetByID(ctx, fx.doctor.ID)
	assert.Equal(t, int64(40), doctor.Balance)

	// Once the balance catches up the same request approves normally.
	fx.accounts.mu.Lock()
	fx.accounts.accounts[fx.doctor.ID].Balance = 60
	fx.accounts.mu.Unlock()

	approved, err := fx.svc.ApprovePayout(ctx, fx.admin.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, approved.Status)
}

func TestResolvePayout_ExactlyOnce(t *testing.T) {
	fx := newFixture(t, 100)
	ctx := context.Background()

	req, err := fx.svc.RequestPayout(ctx, fx.doctor.ID, 50)
	require.NoError(t, err)

	_, err = fx.svc.ApprovePayout(ctx, fx.admin.ID, req.ID)
	require.NoError(t, err)

	// Any further resolution attempt fails and does not double-debit.
	_, err = fx.svc.ApprovePayout(ctx, fx.admin.ID, req.ID)
	assert.ErrorIs(t, err, ErrPayoutResolved)
	_, err = fx.svc.RejectPayout(ctx, fx.admin.ID, req.ID)
	assert.ErrorIs(t, err, ErrPayoutResolved)

	doctor, _ := fx.accounts.GetByID(ctx, fx.doctor.ID)
	assert.Equal(t, int64(50), doctor.Balance)
}

func TestResolvePayout_ConcurrentSingleWinner(t *testing.T) {
	const resolvers = 20

	fx := newFixture(t, 100)
	ctx := context.Background()

	req, err := fx.svc.RequestPayout(ctx, fx.doctor.ID, 50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, resolvers)
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.svc.ApprovePayout(ctx, fx.admin.ID, req.ID)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrPayoutResolved):
		default:
			t.Fatalf("unexpected approval error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)

	doctor, _ := fx.accounts.GetByID(ctx, fx.doctor.ID)
	assert.Equal(t, int64(50), doctor.Balance, "the debit must have happened exactly once")
}

func TestRejectPayout_NoLedgerEffect(t *testing.T) {
	fx := newFixture(t, 100)
	ctx := context.Background()

	req, err := fx.svc.RequestPayout(ctx, fx.doctor.ID, 50)
	require.NoError(t, err)

	rejected, err := fx.svc.RejectPayout(ctx, fx.admin.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)

	doctor, _ := fx.accounts.GetByID(ctx, fx.doctor.ID)
	assert.Equal(t, int64(100), doctor.Balance)
}

func TestResolvePayout_AdminOnly(t *testing.T) {
	fx := newFixture(t, 100)
	ctx := context.Background()

	req, err := fx.svc.RequestPayout(ctx, fx.doctor.ID, 50)
	require.NoError(t, err)

	_, err = fx.svc.ApprovePayout(ctx, fx.doctor.ID, req.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = fx.svc.RejectPayout(ctx, fx.doctor.ID, req.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestListPayouts(t *testing.T) {
	fx := newFixture(t, 100)
	ctx := context.Background()

	req1, err := fx.svc.RequestPayout(ctx, fx.doctor.ID, 10)
	require.NoError(t, err)
	_, err = fx.svc.RequestPayout(ctx, fx.doctor.ID, 20)
	require.NoError(t, err)

	_, err = fx.svc.ApprovePayout(ctx, fx.admin.ID, req1.ID)
	require.NoError(t, err)

	// Admins see the pending queue.
	pending, err := fx.svc.ListPayouts(ctx, fx.admin.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// Doctors see their full history.
	history, err := fx.svc.ListPayouts(ctx, fx.doctor.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	patient := &account.Account{ID: uuid.New(), Role: account.RolePatient}
	fx.accounts.add(patient)
	_, err = fx.svc.ListPayouts(ctx, patient.ID, 0, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
