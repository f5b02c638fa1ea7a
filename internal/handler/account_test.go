package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securebank/internal/account"
	"securebank/internal/domain"
	"securebank/internal/notification"
	"securebank/pkg/errors"
	"securebank/pkg/logger"
	"securebank/pkg/validator"
)

// stubAccountRepo backs the handler tests with just enough of the repository
// contract to exercise the HTTP layer.
type stubAccountRepo struct {
	mu          sync.Mutex
	accounts    map[string]*domain.Account
	adjustments map[string]decimal.Decimal
}

func newStubAccountRepo() *stubAccountRepo {
	return &stubAccountRepo{
		accounts:    make(map[string]*domain.Account),
		adjustments: make(map[string]decimal.Decimal),
	}
}

func (r *stubAccountRepo) Create(ctx context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.accounts[a.AccountNumber] = &cp
	return nil
}

func (r *stubAccountRepo) FindByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountNumber]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *stubAccountRepo) FindByClientID(ctx context.Context, clientID uuid.UUID) ([]*domain.Account, error) {
	return nil, nil
}

func (r *stubAccountRepo) ExistsByNumber(ctx context.Context, accountNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[accountNumber]
	return ok, nil
}

func (r *stubAccountRepo) MarkClosed(ctx context.Context, accountNumber string, closedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountNumber]
	if !ok || !a.Active {
		return errors.ErrAccountAlreadyClosed
	}
	a.Active = false
	return nil
}

func (r *stubAccountRepo) ApplyAdjustment(ctx context.Context, accountNumber string, delta decimal.Decimal, idempotencyKey string, floor account.FloorFunc) (*account.AdjustmentResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountNumber]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	if prev, seen := r.adjustments[idempotencyKey]; seen {
		return &account.AdjustmentResult{NewBalance: prev, Replayed: true}, nil
	}
	if !a.Active {
		return nil, errors.ErrAccountClosed
	}
	newBalance := a.Balance.Add(delta)
	if newBalance.LessThan(floor(a.AccountType)) {
		return nil, errors.ErrInsufficientBalance
	}
	a.Balance = newBalance
	r.adjustments[idempotencyKey] = newBalance
	return &account.AdjustmentResult{NewBalance: newBalance}, nil
}

func newTestRouter(t *testing.T, repo *stubAccountRepo) *mux.Router {
	t.Helper()
	allocator := account.NewNumberAllocator(repo, 10)
	svc := account.NewService(repo, allocator, notification.Noop{}, account.BalancePolicy{}, logger.NewNop())
	h := NewAccountHandler(svc, validator.New(), logger.NewNop())

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/accounts", h.CreateAccount).Methods("POST")
	r.HandleFunc("/api/v1/accounts/{accountNumber}", h.GetAccount).Methods("GET")
	r.HandleFunc("/api/v1/accounts/{accountNumber}/exists", h.Exists).Methods("GET")
	r.HandleFunc("/api/v1/accounts/{accountNumber}/sufficient-balance", h.SufficientBalance).Methods("GET")
	r.HandleFunc("/api/v1/accounts/{accountNumber}/owner", h.Owner).Methods("GET")
	r.HandleFunc("/api/v1/accounts/{accountNumber}/adjust", h.Adjust).Methods("POST")
	return r
}

func seedStubAccount(repo *stubAccountRepo, number, balance string) uuid.UUID {
	clientID := uuid.New()
	_ = repo.Create(context.Background(), &domain.Account{
		ID:            uuid.New(),
		AccountNumber: number,
		AccountType:   domain.AccountTypeChecking,
		Balance:       decimal.RequireFromString(balance),
		Active:        true,
		ClientID:      clientID,
	})
	return clientID
}

func TestExistsEndpoint_Contract(t *testing.T) {
	repo := newStubAccountRepo()
	seedStubAccount(repo, "1234567890", "100.0000")
	router := newTestRouter(t, repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/accounts/1234567890/exists", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Exists bool `json:"exists"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Exists)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/accounts/9999999999/exists", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Exists)
}

func TestSufficientBalanceEndpoint_Contract(t *testing.T) {
	repo := newStubAccountRepo()
	seedStubAccount(repo, "1234567890", "100.0000")
	router := newTestRouter(t, repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/accounts/1234567890/sufficient-balance?amount=50.0000", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sufficient bool `json:"sufficient"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Sufficient)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/accounts/1234567890/sufficient-balance?amount=100.0001", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Sufficient)
}

func TestOwnerEndpoint_Contract(t *testing.T) {
	repo := newStubAccountRepo()
	clientID := seedStubAccount(repo, "1234567890", "100.0000")
	router := newTestRouter(t, repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/accounts/1234567890/owner", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ClientID uuid.UUID `json:"client_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, clientID, body.ClientID)
}

func TestAdjustEndpoint_AppliesAndReplays(t *testing.T) {
	repo := newStubAccountRepo()
	seedStubAccount(repo, "1234567890", "100.0000")
	router := newTestRouter(t, repo)

	payload := `{"delta":"-40.0000","idempotency_key":"adj-1"}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/accounts/1234567890/adjust", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		NewBalance decimal.Decimal `json:"new_balance"`
		Replayed   bool            `json:"replayed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.NewBalance.Equal(decimal.RequireFromString("60.0000")))
	assert.False(t, body.Replayed)

	// Same key again: same balance, replayed flag set, no double debit.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/accounts/1234567890/adjust", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.NewBalance.Equal(decimal.RequireFromString("60.0000")))
	assert.True(t, body.Replayed)
}

func TestAdjustEndpoint_ErrorCodes(t *testing.T) {
	repo := newStubAccountRepo()
	seedStubAccount(repo, "1234567890", "100.0000")
	router := newTestRouter(t, repo)

	cases := []struct {
		name       string
		path       string
		payload    string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown account",
			path:       "/api/v1/accounts/9999999999/adjust",
			payload:    `{"delta":"10.0000","idempotency_key":"k1"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   CodeNotFound,
		},
		{
			name:       "insufficient funds",
			path:       "/api/v1/accounts/1234567890/adjust",
			payload:    `{"delta":"-500.0000","idempotency_key":"k2"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   CodeInsufficientFunds,
		},
		{
			name:       "missing idempotency key",
			path:       "/api/v1/accounts/1234567890/adjust",
			payload:    `{"delta":"10.0000"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest("POST", tc.path, strings.NewReader(tc.payload)))

			assert.Equal(t, tc.wantStatus, rec.Code)
			var er errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
			assert.Equal(t, tc.wantCode, er.Code)
		})
	}
}

func TestCreateAccountEndpoint_FieldErrors(t *testing.T) {
	repo := newStubAccountRepo()
	router := newTestRouter(t, repo)

	payload := `{"client_id":"` + uuid.NewString() + `","account_type":"GOLD","initial_deposit":"10.0000"}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/accounts", strings.NewReader(payload)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var er errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
	assert.Equal(t, CodeValidation, er.Code)
	// Per-field messages ride alongside the code.
	assert.Contains(t, er.Fields, "AccountType")
}

func TestAccountNumberValidation(t *testing.T) {
	repo := newStubAccountRepo()
	router := newTestRouter(t, repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/accounts/abc/exists", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
