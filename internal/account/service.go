// Package account implements the account ledger: the single source of truth
// for balances, mutated only through atomic, idempotent adjustments.
package account

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"securebank/internal/domain"
	"securebank/internal/notification"
	"securebank/pkg/errors"
	"securebank/pkg/logger"
)

// AdjustmentResult is the outcome of a balance adjustment. Replayed is true
// when the idempotency key had already been applied and no delta was added.
type AdjustmentResult struct {
	NewBalance decimal.Decimal `json:"new_balance"`
	Replayed   bool            `json:"replayed"`
}

// FloorFunc yields the balance floor for an account type. The repository
// evaluates it inside the adjustment's critical section, where the account
// row is locked and the type is known.
type FloorFunc func(domain.AccountType) decimal.Decimal

// Repository is the persistence contract for accounts. ApplyAdjustment must
// be atomic with respect to concurrent adjustments on the same account and
// must record (accountNumber, idempotencyKey) -> result so a replay returns
// the original result without reapplying the delta.
type Repository interface {
	Create(ctx context.Context, account *domain.Account) error
	FindByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	FindByClientID(ctx context.Context, clientID uuid.UUID) ([]*domain.Account, error)
	ExistsByNumber(ctx context.Context, accountNumber string) (bool, error)
	MarkClosed(ctx context.Context, accountNumber string, closedAt time.Time) error
	ApplyAdjustment(ctx context.Context, accountNumber string, delta decimal.Decimal, idempotencyKey string, floor FloorFunc) (*AdjustmentResult, error)
}

// BalancePolicy decides the floor an adjustment may not cross. Overdraft is
// configuration, not a hard-coded rule.
type BalancePolicy struct {
	AllowOverdraft bool
	OverdraftFloor decimal.Decimal
}

// Floor returns the effective balance floor for an account type.
func (p BalancePolicy) Floor(t domain.AccountType) decimal.Decimal {
	if p.AllowOverdraft {
		return p.OverdraftFloor
	}
	return t.MinimumBalance()
}

type Service struct {
	repo      Repository
	allocator *NumberAllocator
	notifier  notification.Dispatcher
	logger    logger.Logger
	policy    BalancePolicy
}

func NewService(repo Repository, allocator *NumberAllocator, notifier notification.Dispatcher, policy BalancePolicy, log logger.Logger) *Service {
	return &Service{
		repo:      repo,
		allocator: allocator,
		notifier:  notifier,
		logger:    log,
		policy:    policy,
	}
}

type CreateAccountRequest struct {
	ClientID       uuid.UUID          `json:"client_id" validate:"required"`
	AccountType    domain.AccountType `json:"account_type" validate:"required,oneof=CHECKING SAVINGS FIXED_DEPOSIT"`
	InitialDeposit decimal.Decimal    `json:"initial_deposit" validate:"gte=0"`
}

// CreateAccount issues a fresh account number and opens the account with the
// initial deposit as its balance.
func (s *Service) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*domain.Account, error) {
	if !req.AccountType.Valid() {
		return nil, errors.ErrInvalidAccountType
	}

	deposit := domain.NormalizeAmount(req.InitialDeposit)
	if deposit.LessThan(req.AccountType.MinimumBalance()) {
		return nil, errors.Wrap(errors.ErrInsufficientBalance, "initial deposit below account type minimum")
	}

	number, err := s.allocator.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	account := &domain.Account{
		ID:            uuid.New(),
		AccountNumber: number,
		AccountType:   req.AccountType,
		Balance:       deposit,
		Active:        true,
		ClientID:      req.ClientID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("Account created", map[string]interface{}{
		"account_number": mask(account.AccountNumber),
		"account_type":   string(account.AccountType),
		"client_id":      account.ClientID,
	})

	go func() {
		if err := s.notifier.Notify(context.Background(), domain.EventAccountCreated, account.AccountNumber, account.ClientID, nil); err != nil {
			s.logger.Warn("Failed to send account creation notification", map[string]interface{}{"error": err.Error()})
		}
	}()

	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return s.repo.FindByNumber(ctx, accountNumber)
}

func (s *Service) GetAccountsByClient(ctx context.Context, clientID uuid.UUID) ([]*domain.Account, error) {
	return s.repo.FindByClientID(ctx, clientID)
}

// CloseAccount deactivates an account. Closed accounts refuse all further
// balance adjustments; the account number is never reissued.
func (s *Service) CloseAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	account, err := s.repo.FindByNumber(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, errors.ErrAccountAlreadyClosed
	}

	now := time.Now()
	if err := s.repo.MarkClosed(ctx, accountNumber, now); err != nil {
		return nil, err
	}

	account.Active = false
	account.ClosedAt = &now
	account.UpdatedAt = now

	s.logger.Info("Account closed", map[string]interface{}{
		"account_number": mask(accountNumber),
	})

	go func() {
		if err := s.notifier.Notify(context.Background(), domain.EventAccountClosed, accountNumber, account.ClientID, nil); err != nil {
			s.logger.Warn("Failed to send account closure notification", map[string]interface{}{"error": err.Error()})
		}
	}()

	return account, nil
}

// AdjustBalance atomically applies a signed delta to an account. Replaying
// the same idempotency key returns the previously computed result without
// moving money again.
func (s *Service) AdjustBalance(ctx context.Context, accountNumber string, delta decimal.Decimal, idempotencyKey string) (*AdjustmentResult, error) {
	if idempotencyKey == "" {
		return nil, errors.Wrap(errors.ErrDuplicateRequest, "idempotency key required")
	}

	delta = domain.NormalizeAmount(delta)

	result, err := s.repo.ApplyAdjustment(ctx, accountNumber, delta, idempotencyKey, s.policy.Floor)
	if err != nil {
		return nil, err
	}

	if result.Replayed {
		s.logger.Info("Adjustment replayed", map[string]interface{}{
			"account_number":  mask(accountNumber),
			"idempotency_key": idempotencyKey,
		})
		return result, nil
	}

	s.logger.Info("Balance adjusted", map[string]interface{}{
		"account_number": mask(accountNumber),
		"delta":          delta.StringFixed(domain.MoneyScale),
	})

	go s.notifyAdjustment(accountNumber, delta)

	return result, nil
}

func (s *Service) notifyAdjustment(accountNumber string, delta decimal.Decimal) {
	ctx := context.Background()
	account, err := s.repo.FindByNumber(ctx, accountNumber)
	if err != nil {
		return
	}

	event := domain.EventDeposit
	amount := delta
	if delta.IsNegative() {
		event = domain.EventWithdrawal
		amount = delta.Abs()
	}
	if err := s.notifier.Notify(ctx, event, accountNumber, account.ClientID, &amount); err != nil {
		s.logger.Warn("Failed to send balance notification", map[string]interface{}{"error": err.Error()})
	}
}

// Exists reports whether the account number is known. It is informational
// only; a later adjustment can still fail.
func (s *Service) Exists(ctx context.Context, accountNumber string) (bool, error) {
	return s.repo.ExistsByNumber(ctx, accountNumber)
}

// HasSufficientBalance reports whether the account could currently cover the
// amount. Not a reservation: the authoritative check happens inside
// AdjustBalance.
func (s *Service) HasSufficientBalance(ctx context.Context, accountNumber string, amount decimal.Decimal) (bool, error) {
	account, err := s.repo.FindByNumber(ctx, accountNumber)
	if err != nil {
		return false, err
	}
	floor := s.policy.Floor(account.AccountType)
	return account.Balance.Sub(amount).GreaterThanOrEqual(floor), nil
}

// OwnerOf resolves the owning client of an account.
func (s *Service) OwnerOf(ctx context.Context, accountNumber string) (uuid.UUID, error) {
	account, err := s.repo.FindByNumber(ctx, accountNumber)
	if err != nil {
		return uuid.Nil, err
	}
	return account.ClientID, nil
}

// Account numbers are masked in logs.
func mask(accountNumber string) string {
	if len(accountNumber) < 4 {
		return "****"
	}
	return "****" + accountNumber[len(accountNumber)-4:]
}
