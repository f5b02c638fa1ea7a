package account

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securebank/internal/domain"
	"securebank/internal/notification"
	"securebank/pkg/errors"
	"securebank/pkg/logger"
)

// fakeRepo is an in-memory Repository honoring the ApplyAdjustment contract:
// serialized per store, idempotency keys replay, floor enforced atomically.
type fakeRepo struct {
	mu          sync.Mutex
	accounts    map[string]*domain.Account
	adjustments map[string]decimal.Decimal
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		accounts:    make(map[string]*domain.Account),
		adjustments: make(map[string]decimal.Decimal),
	}
}

func (r *fakeRepo) Create(ctx context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.accounts[a.AccountNumber] = &cp
	return nil
}

func (r *fakeRepo) FindByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountNumber]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) FindByClientID(ctx context.Context, clientID uuid.UUID) ([]*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Account
	for _, a := range r.accounts {
		if a.ClientID == clientID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ExistsByNumber(ctx context.Context, accountNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[accountNumber]
	return ok, nil
}

func (r *fakeRepo) MarkClosed(ctx context.Context, accountNumber string, closedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountNumber]
	if !ok || !a.Active {
		return errors.ErrAccountAlreadyClosed
	}
	a.Active = false
	a.ClosedAt = &closedAt
	return nil
}

func (r *fakeRepo) ApplyAdjustment(ctx context.Context, accountNumber string, delta decimal.Decimal, idempotencyKey string, floor FloorFunc) (*AdjustmentResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[accountNumber]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	if prev, seen := r.adjustments[accountNumber+"|"+idempotencyKey]; seen {
		return &AdjustmentResult{NewBalance: prev, Replayed: true}, nil
	}
	if !a.Active {
		return nil, errors.ErrAccountClosed
	}

	newBalance := a.Balance.Add(delta)
	if newBalance.LessThan(floor(a.AccountType)) {
		return nil, errors.ErrInsufficientBalance
	}

	a.Balance = newBalance
	r.adjustments[accountNumber+"|"+idempotencyKey] = newBalance
	return &AdjustmentResult{NewBalance: newBalance}, nil
}

func newTestService(repo *fakeRepo, policy BalancePolicy) *Service {
	allocator := NewNumberAllocator(repo, 10)
	return NewService(repo, allocator, notification.Noop{}, policy, logger.NewNop())
}

func seedAccount(t *testing.T, repo *fakeRepo, number string, accountType domain.AccountType, balance string) {
	t.Helper()
	err := repo.Create(context.Background(), &domain.Account{
		ID:            uuid.New(),
		AccountNumber: number,
		AccountType:   accountType,
		Balance:       decimal.RequireFromString(balance),
		Active:        true,
		ClientID:      uuid.New(),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	})
	require.NoError(t, err)
}

func TestCreateAccount_IssuesTenDigitNumber(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, BalancePolicy{})

	acct, err := svc.CreateAccount(context.Background(), &CreateAccountRequest{
		ClientID:       uuid.New(),
		AccountType:    domain.AccountTypeChecking,
		InitialDeposit: decimal.RequireFromString("25.5000"),
	})

	require.NoError(t, err)
	assert.Len(t, acct.AccountNumber, 10)
	assert.True(t, acct.Active)
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("25.5000")))
}

func TestCreateAccount_InitialDepositBelowTypeMinimum(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, BalancePolicy{})

	cases := []struct {
		accountType domain.AccountType
		deposit     string
		wantErr     bool
	}{
		{domain.AccountTypeChecking, "0", false},
		{domain.AccountTypeSavings, "99.9999", true},
		{domain.AccountTypeSavings, "100.0000", false},
		{domain.AccountTypeFixedDeposit, "999.9999", true},
		{domain.AccountTypeFixedDeposit, "1000.0000", false},
	}

	for _, tc := range cases {
		_, err := svc.CreateAccount(context.Background(), &CreateAccountRequest{
			ClientID:       uuid.New(),
			AccountType:    tc.accountType,
			InitialDeposit: decimal.RequireFromString(tc.deposit),
		})
		if tc.wantErr {
			assert.ErrorIs(t, err, errors.ErrInsufficientBalance, "%s deposit %s", tc.accountType, tc.deposit)
		} else {
			assert.NoError(t, err, "%s deposit %s", tc.accountType, tc.deposit)
		}
	}
}

func TestCloseAccount_AlreadyClosed(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, BalancePolicy{})
	seedAccount(t, repo, "1234567890", domain.AccountTypeChecking, "10.0000")

	_, err := svc.CloseAccount(context.Background(), "1234567890")
	require.NoError(t, err)

	_, err = svc.CloseAccount(context.Background(), "1234567890")
	assert.ErrorIs(t, err, errors.ErrAccountAlreadyClosed)
}

func TestAdjustBalance_RequiresIdempotencyKey(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, BalancePolicy{})
	seedAccount(t, repo, "1234567890", domain.AccountTypeChecking, "10.0000")

	_, err := svc.AdjustBalance(context.Background(), "1234567890", decimal.RequireFromString("5.0000"), "")
	assert.ErrorIs(t, err, errors.ErrDuplicateRequest)
}

func TestAdjustBalance_ReplaySameKeyMovesMoneyOnce(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, BalancePolicy{})
	seedAccount(t, repo, "1234567890", domain.AccountTypeChecking, "100.0000")
	delta := decimal.RequireFromString("-40.0000")

	first, err := svc.AdjustBalance(context.Background(), "1234567890", delta, "key-1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.True(t, first.NewBalance.Equal(decimal.RequireFromString("60.0000")))

	second, err := svc.AdjustBalance(context.Background(), "1234567890", delta, "key-1")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.True(t, second.NewBalance.Equal(first.NewBalance))

	acct, err := svc.GetAccount(context.Background(), "1234567890")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("60.0000")))
}

func TestAdjustBalance_FloorByAccountType(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, BalancePolicy{})
	seedAccount(t, repo, "1111111111", domain.AccountTypeSavings, "150.0000")

	// 150 - 60 = 90, below the 100 savings minimum.
	_, err := svc.AdjustBalance(context.Background(), "1111111111", decimal.RequireFromString("-60.0000"), "key-a")
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)

	// 150 - 50 = 100, exactly at the floor.
	result, err := svc.AdjustBalance(context.Background(), "1111111111", decimal.RequireFromString("-50.0000"), "key-b")
	require.NoError(t, err)
	assert.True(t, result.NewBalance.Equal(decimal.RequireFromString("100.0000")))
}

func TestAdjustBalance_OverdraftPolicy(t *testing.T) {
	repo := newFakeRepo()
	policy := BalancePolicy{
		AllowOverdraft: true,
		OverdraftFloor: decimal.RequireFromString("-200.0000"),
	}
	svc := newTestService(repo, policy)
	seedAccount(t, repo, "2222222222", domain.AccountTypeChecking, "50.0000")

	result, err := svc.AdjustBalance(context.Background(), "2222222222", decimal.RequireFromString("-200.0000"), "od-1")
	require.NoError(t, err)
	assert.True(t, result.NewBalance.Equal(decimal.RequireFromString("-150.0000")))

	_, err = svc.AdjustBalance(context.Background(), "2222222222", decimal.RequireFromString("-100.0000"), "od-2")
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
}

func TestAdjustBalance_ClosedAccountRefused(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, BalancePolicy{})
	seedAccount(t, repo, "1234567890", domain.AccountTypeChecking, "100.0000")

	_, err := svc.CloseAccount(context.Background(), "1234567890")
	require.NoError(t, err)

	_, err = svc.AdjustBalance(context.Background(), "1234567890", decimal.RequireFromString("10.0000"), "after-close")
	assert.ErrorIs(t, err, errors.ErrAccountClosed)
}

// Concurrent withdrawals with distinct keys drain the balance exactly to the
// floor: no lost updates, no overdraw past the limit.
func TestAdjustBalance_ConcurrentWithdrawals(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, BalancePolicy{})
	seedAccount(t, repo, "3333333333", domain.AccountTypeChecking, "100.0000")

	const workers = 10
	withdrawal := decimal.RequireFromString("-30.0000")

	var wg sync.WaitGroup
	succeeded := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "cw-" + uuid.NewString()
			if _, err := svc.AdjustBalance(context.Background(), "3333333333", withdrawal, key); err == nil {
				succeeded <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	wins := 0
	for range succeeded {
		wins++
	}

	// 100 / 30: exactly three withdrawals fit above the zero floor.
	assert.Equal(t, 3, wins)

	acct, err := svc.GetAccount(context.Background(), "3333333333")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("10.0000")))
}

func TestHasSufficientBalance_NotAReservation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, BalancePolicy{})
	seedAccount(t, repo, "4444444444", domain.AccountTypeChecking, "100.0000")

	ok, err := svc.HasSufficientBalance(context.Background(), "4444444444", decimal.RequireFromString("100.0000"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasSufficientBalance(context.Background(), "4444444444", decimal.RequireFromString("100.0001"))
	require.NoError(t, err)
	assert.False(t, ok)

	// The check reserves nothing: the balance can still move underneath it.
	_, err = svc.AdjustBalance(context.Background(), "4444444444", decimal.RequireFromString("-100.0000"), "drain")
	require.NoError(t, err)

	_, err = svc.AdjustBalance(context.Background(), "4444444444", decimal.RequireFromString("-100.0000"), "late")
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
}

func TestOwnerOf(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, BalancePolicy{})
	clientID := uuid.New()
	require.NoError(t, repo.Create(context.Background(), &domain.Account{
		ID:            uuid.New(),
		AccountNumber: "5555555555",
		AccountType:   domain.AccountTypeChecking,
		Balance:       decimal.Zero,
		Active:        true,
		ClientID:      clientID,
	}))

	got, err := svc.OwnerOf(context.Background(), "5555555555")
	require.NoError(t, err)
	assert.Equal(t, clientID, got)

	_, err = svc.OwnerOf(context.Background(), "0000000000")
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
}
