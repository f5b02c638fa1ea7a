// Package movement orchestrates deposits, withdrawals, and transfers against
// the account ledger service. The ledger owns balances; this package owns the
// movement protocol: validation, leg ordering, compensation on partial
// failure, and idempotent replay through the movement ledger.
package movement

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"securebank/internal/domain"
	"securebank/internal/notification"
	"securebank/pkg/errors"
	"securebank/pkg/logger"
)

// AccountClient is the synchronous interface to the account ledger service.
// Exists and HasSufficientBalance are informational only; AdjustBalance is
// the single authority for balance mutation and may fail even after a
// positive informational check.
type AccountClient interface {
	Exists(ctx context.Context, accountNumber string) (bool, error)
	HasSufficientBalance(ctx context.Context, accountNumber string, amount decimal.Decimal) (bool, error)
	AdjustBalance(ctx context.Context, accountNumber string, delta decimal.Decimal, idempotencyKey string) (decimal.Decimal, error)
	OwnerOf(ctx context.Context, accountNumber string) (uuid.UUID, error)
}

// Repository is the movement ledger: the durable, append-only record of
// every movement attempt, keyed by idempotency key. Movements are never
// deleted.
type Repository interface {
	Create(ctx context.Context, m *domain.Movement) error
	MarkStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	Finalize(ctx context.Context, m *domain.Movement) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MovementStatus, kind, reason string) error
	CancelPending(ctx context.Context, id uuid.UUID, completedAt time.Time) error
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Movement, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Movement, error)
	FindByAccount(ctx context.Context, accountNumber string, limit, offset int) ([]*domain.Movement, error)
	FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*domain.Movement, error)
	FindInconsistent(ctx context.Context, limit, offset int) ([]*domain.Movement, error)
}

// Result is the caller-visible outcome of a movement request.
type Result struct {
	MovementID   uuid.UUID                  `json:"movement_id"`
	Status       domain.MovementStatus      `json:"status"`
	NewBalances  map[string]decimal.Decimal `json:"new_balances,omitempty"`
	ErrorKind    ErrorKind                  `json:"error_kind,omitempty"`
	ErrorMessage string                     `json:"error_message,omitempty"`
	Replayed     bool                       `json:"replayed,omitempty"`
}

type Service struct {
	repo     Repository
	ledger   AccountClient
	notifier notification.Dispatcher
	logger   logger.Logger
}

func NewService(repo Repository, ledger AccountClient, notifier notification.Dispatcher, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledger,
		notifier: notifier,
		logger:   log,
	}
}

type DepositRequest struct {
	AccountNumber  string          `json:"account_number" validate:"required,account_number"`
	Amount         decimal.Decimal `json:"amount" validate:"required,gt=0"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type WithdrawRequest struct {
	AccountNumber  string          `json:"account_number" validate:"required,account_number"`
	Amount         decimal.Decimal `json:"amount" validate:"required,gt=0"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type TransferRequest struct {
	SourceAccount      string          `json:"source_account" validate:"required,account_number"`
	DestinationAccount string          `json:"destination_account" validate:"required,account_number"`
	Amount             decimal.Decimal `json:"amount" validate:"required,gt=0"`
	IdempotencyKey     string          `json:"idempotency_key"`
}

// Leg idempotency keys are derived deterministically from the movement key
// so a retried movement replays its legs instead of reapplying them.
func debitKey(key string) string      { return key + ":debit" }
func creditKey(key string) string     { return key + ":credit" }
func compensateKey(key string) string { return key + ":compensate" }

// Deposit credits a single account.
func (s *Service) Deposit(ctx context.Context, req *DepositRequest) (*Result, error) {
	amount := domain.NormalizeAmount(req.Amount)
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		return nil, errors.ErrMissingKey
	}

	dest := req.AccountNumber
	m, replay, err := s.begin(ctx, req.IdempotencyKey, domain.MovementKindDeposit, nil, &dest, amount)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	exists, err := s.ledger.Exists(ctx, dest)
	if err != nil {
		return s.fail(ctx, m, err), nil
	}
	if !exists {
		return s.fail(ctx, m, errors.Wrap(errors.ErrAccountNotFound, "destination account")), nil
	}

	if res := s.claimExecution(ctx, m); res != nil {
		return res, nil
	}

	newBalance, err := s.ledger.AdjustBalance(ctx, dest, amount, creditKey(m.IdempotencyKey))
	if err != nil {
		return s.fail(ctx, m, err), nil
	}

	s.notifyAsync(domain.EventDeposit, dest, amount)
	return s.applied(ctx, m, map[string]decimal.Decimal{dest: newBalance}), nil
}

// Withdraw debits a single account. InsufficientFunds from the ledger is a
// terminal failure; no partial state is possible with one leg.
func (s *Service) Withdraw(ctx context.Context, req *WithdrawRequest) (*Result, error) {
	amount := domain.NormalizeAmount(req.Amount)
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		return nil, errors.ErrMissingKey
	}

	source := req.AccountNumber
	m, replay, err := s.begin(ctx, req.IdempotencyKey, domain.MovementKindWithdraw, &source, nil, amount)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	exists, err := s.ledger.Exists(ctx, source)
	if err != nil {
		return s.fail(ctx, m, err), nil
	}
	if !exists {
		return s.fail(ctx, m, errors.Wrap(errors.ErrAccountNotFound, "source account")), nil
	}

	// Informational check only; the adjustment below is the final authority.
	if ok, err := s.ledger.HasSufficientBalance(ctx, source, amount); err == nil && !ok {
		return s.fail(ctx, m, errors.ErrInsufficientBalance), nil
	}

	if res := s.claimExecution(ctx, m); res != nil {
		return res, nil
	}

	newBalance, err := s.ledger.AdjustBalance(ctx, source, amount.Neg(), debitKey(m.IdempotencyKey))
	if err != nil {
		return s.fail(ctx, m, err), nil
	}

	s.notifyAsync(domain.EventWithdrawal, source, amount)
	return s.applied(ctx, m, map[string]decimal.Decimal{source: newBalance}), nil
}

// Transfer debits the source, then credits the destination. The two legs are
// separate lock scopes on the ledger side, so a failed credit after a
// confirmed debit triggers a compensating credit back to the source.
func (s *Service) Transfer(ctx context.Context, req *TransferRequest) (*Result, error) {
	amount := domain.NormalizeAmount(req.Amount)
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	if req.SourceAccount == req.DestinationAccount {
		return nil, errors.ErrSameAccount
	}
	if req.IdempotencyKey == "" {
		return nil, errors.ErrMissingKey
	}

	source, dest := req.SourceAccount, req.DestinationAccount
	m, replay, err := s.begin(ctx, req.IdempotencyKey, domain.MovementKindTransfer, &source, &dest, amount)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	// A movement found mid-compensation resumes the reversal, not the legs.
	if m.Status == domain.MovementStatusCompensating {
		return s.compensate(ctx, m, ErrorKind(m.FailureKind), m.FailureReason), nil
	}

	for _, check := range []struct {
		number string
		label  string
	}{
		{source, "source account"},
		{dest, "destination account"},
	} {
		exists, err := s.ledger.Exists(ctx, check.number)
		if err != nil {
			return s.fail(ctx, m, err), nil
		}
		if !exists {
			return s.fail(ctx, m, errors.Wrap(errors.ErrAccountNotFound, check.label)), nil
		}
	}

	if ok, err := s.ledger.HasSufficientBalance(ctx, source, amount); err == nil && !ok {
		return s.fail(ctx, m, errors.ErrInsufficientBalance), nil
	}

	if res := s.claimExecution(ctx, m); res != nil {
		return res, nil
	}

	// Leg 1: debit the source. A transient fault here is treated as
	// not-applied; the derived leg key keeps a retry from double-debiting.
	sourceBalance, err := s.ledger.AdjustBalance(ctx, source, amount.Neg(), debitKey(m.IdempotencyKey))
	if err != nil {
		return s.fail(ctx, m, err), nil
	}

	// Leg 2: credit the destination. The debit is confirmed at this point,
	// so any failure routes through compensation.
	destBalance, err := s.ledger.AdjustBalance(ctx, dest, amount, creditKey(m.IdempotencyKey))
	if err != nil {
		kind := KindFor(err)
		reason := "credit leg failed: " + err.Error()
		s.logger.Warn("Transfer credit leg failed, compensating", map[string]interface{}{
			"movement_id": m.ID,
			"error":       err.Error(),
		})
		if uerr := s.repo.UpdateStatus(ctx, m.ID, domain.MovementStatusCompensating, string(kind), reason); uerr != nil {
			s.logger.Error("Failed to record compensating status", map[string]interface{}{
				"movement_id": m.ID,
				"error":       uerr.Error(),
			})
		}
		m.Status = domain.MovementStatusCompensating
		m.FailureKind = string(kind)
		m.FailureReason = reason
		return s.compensate(ctx, m, kind, reason), nil
	}

	s.notifyAsync(domain.EventTransferSent, source, amount)
	s.notifyAsync(domain.EventTransferIn, dest, amount)
	return s.applied(ctx, m, map[string]decimal.Decimal{
		source: sourceBalance,
		dest:   destBalance,
	}), nil
}

// compensate credits the debited amount back to the source. Success resolves
// the movement to FAILED with zero net balance change; failure leaves it in
// the inconsistent terminal state for operator reconciliation.
func (s *Service) compensate(ctx context.Context, m *domain.Movement, kind ErrorKind, reason string) *Result {
	if kind == "" {
		kind = KindTransient
	}
	source := *m.SourceAccount

	restored, err := s.ledger.AdjustBalance(ctx, source, m.Amount, compensateKey(m.IdempotencyKey))
	if err != nil {
		now := time.Now()
		m.Status = domain.MovementStatusInconsistent
		m.FailureKind = string(KindInconsistent)
		m.FailureReason = reason + "; compensation failed: " + err.Error()
		m.CompletedAt = &now
		if ferr := s.repo.Finalize(ctx, m); ferr != nil {
			s.logger.Error("Failed to record inconsistent state", map[string]interface{}{
				"movement_id": m.ID,
				"error":       ferr.Error(),
			})
		}
		s.logger.Error("Movement requires manual reconciliation", map[string]interface{}{
			"movement_id":     m.ID,
			"idempotency_key": m.IdempotencyKey,
			"source_account":  mask(source),
			"amount":          m.Amount.StringFixed(domain.MoneyScale),
			"error":           err.Error(),
		})
		return &Result{
			MovementID:   m.ID,
			Status:       m.Status,
			ErrorKind:    KindInconsistent,
			ErrorMessage: m.FailureReason,
		}
	}

	now := time.Now()
	m.Status = domain.MovementStatusFailed
	m.FailureKind = string(kind)
	m.FailureReason = reason + "; debit compensated"
	m.CompletedAt = &now
	if ferr := s.repo.Finalize(ctx, m); ferr != nil {
		s.logger.Error("Failed to finalize compensated movement", map[string]interface{}{
			"movement_id": m.ID,
			"error":       ferr.Error(),
		})
	}

	s.logger.Info("Transfer compensated", map[string]interface{}{
		"movement_id":    m.ID,
		"source_account": mask(source),
	})

	return &Result{
		MovementID:   m.ID,
		Status:       m.Status,
		NewBalances:  map[string]decimal.Decimal{source: restored},
		ErrorKind:    kind,
		ErrorMessage: m.FailureReason,
	}
}

// begin records the movement as PENDING or resolves a replay. A terminal
// record for the same key short-circuits with the original result; a
// non-terminal record resumes execution (legs replay idempotently).
func (s *Service) begin(ctx context.Context, key string, kind domain.MovementKind, source, dest *string, amount decimal.Decimal) (*domain.Movement, *Result, error) {
	existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil && !stderrors.Is(err, errors.ErrMovementNotFound) {
		return nil, nil, err
	}
	if existing != nil {
		if existing.Status.Terminal() {
			return nil, resultFromMovement(existing), nil
		}
		s.logger.Info("Resuming non-terminal movement", map[string]interface{}{
			"movement_id":     existing.ID,
			"idempotency_key": key,
			"status":          string(existing.Status),
		})
		return existing, nil, nil
	}

	m := &domain.Movement{
		ID:                 uuid.New(),
		IdempotencyKey:     key,
		Kind:               kind,
		SourceAccount:      source,
		DestinationAccount: dest,
		Amount:             amount,
		Status:             domain.MovementStatusPending,
		CreatedAt:          time.Now(),
	}

	if err := s.repo.Create(ctx, m); err != nil {
		if stderrors.Is(err, errors.ErrDuplicateMovement) {
			// Lost a race with a concurrent request carrying the same key.
			racer, ferr := s.repo.FindByIdempotencyKey(ctx, key)
			if ferr == nil && racer != nil && racer.Status.Terminal() {
				return nil, resultFromMovement(racer), nil
			}
			return nil, nil, errors.ErrMovementInFlight
		}
		return nil, nil, err
	}

	return m, nil, nil
}

// claimExecution records the first leg attempt on the movement row before
// any money moves. A cancel that won the race left the row terminal; its
// result is returned and no leg runs.
func (s *Service) claimExecution(ctx context.Context, m *domain.Movement) *Result {
	err := s.repo.MarkStarted(ctx, m.ID, time.Now())
	if err == nil {
		return nil
	}
	if stderrors.Is(err, errors.ErrMovementNotPending) {
		if current, ferr := s.repo.FindByID(ctx, m.ID); ferr == nil && current.Status.Terminal() {
			s.logger.Info("Movement cancelled before execution", map[string]interface{}{
				"movement_id":     m.ID,
				"idempotency_key": m.IdempotencyKey,
			})
			return resultFromMovement(current)
		}
	}
	return s.fail(ctx, m, err)
}

func (s *Service) fail(ctx context.Context, m *domain.Movement, cause error) *Result {
	now := time.Now()
	m.Status = domain.MovementStatusFailed
	m.FailureKind = string(KindFor(cause))
	m.FailureReason = cause.Error()
	m.CompletedAt = &now

	if err := s.repo.Finalize(ctx, m); err != nil {
		s.logger.Error("Failed to finalize movement", map[string]interface{}{
			"movement_id": m.ID,
			"error":       err.Error(),
		})
	}

	s.logger.Warn("Movement failed", map[string]interface{}{
		"movement_id":     m.ID,
		"idempotency_key": m.IdempotencyKey,
		"kind":            string(m.Kind),
		"reason":          m.FailureReason,
	})

	return &Result{
		MovementID:   m.ID,
		Status:       m.Status,
		ErrorKind:    ErrorKind(m.FailureKind),
		ErrorMessage: m.FailureReason,
	}
}

func (s *Service) applied(ctx context.Context, m *domain.Movement, balances map[string]decimal.Decimal) *Result {
	now := time.Now()
	m.Status = domain.MovementStatusApplied
	m.FailureKind = ""
	m.FailureReason = ""
	m.CompletedAt = &now

	if err := s.repo.Finalize(ctx, m); err != nil {
		// Money moved; a retry with the same key resumes and replays the
		// idempotent legs until the record converges.
		s.logger.Error("Failed to finalize applied movement", map[string]interface{}{
			"movement_id": m.ID,
			"error":       err.Error(),
		})
	}

	s.logger.Info("Movement applied", map[string]interface{}{
		"movement_id":     m.ID,
		"idempotency_key": m.IdempotencyKey,
		"kind":            string(m.Kind),
		"amount":          m.Amount.StringFixed(domain.MoneyScale),
	})

	return &Result{
		MovementID:  m.ID,
		Status:      m.Status,
		NewBalances: balances,
	}
}

func resultFromMovement(m *domain.Movement) *Result {
	return &Result{
		MovementID:   m.ID,
		Status:       m.Status,
		ErrorKind:    ErrorKind(m.FailureKind),
		ErrorMessage: m.FailureReason,
		Replayed:     true,
	}
}

// Cancel aborts a movement that is still PENDING with no leg attempted. Once
// a leg is in flight the movement runs to a terminal state.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Movement, error) {
	if err := s.repo.CancelPending(ctx, id, time.Now()); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

func (s *Service) GetMovement(ctx context.Context, id uuid.UUID) (*domain.Movement, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) GetMovementsByAccount(ctx context.Context, accountNumber string, limit, offset int) ([]*domain.Movement, error) {
	return s.repo.FindByAccount(ctx, accountNumber, limit, offset)
}

func (s *Service) GetMovementsByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*domain.Movement, error) {
	return s.repo.FindByTimeRange(ctx, from, to, limit, offset)
}

// GetInconsistentMovements is the operator reconciliation queue: transfers
// whose compensation failed and which will never self-heal.
func (s *Service) GetInconsistentMovements(ctx context.Context, limit, offset int) ([]*domain.Movement, error) {
	return s.repo.FindInconsistent(ctx, limit, offset)
}

func (s *Service) notifyAsync(event domain.NotificationEvent, accountNumber string, amount decimal.Decimal) {
	go func() {
		ctx := context.Background()
		clientID, err := s.ledger.OwnerOf(ctx, accountNumber)
		if err != nil {
			s.logger.Warn("Failed to resolve account owner for notification", map[string]interface{}{
				"account_number": mask(accountNumber),
				"error":          err.Error(),
			})
			return
		}
		if err := s.notifier.Notify(ctx, event, accountNumber, clientID, &amount); err != nil {
			s.logger.Warn("Failed to send movement notification", map[string]interface{}{
				"event": string(event),
				"error": err.Error(),
			})
		}
	}()
}

// Account numbers are masked in logs.
func mask(accountNumber string) string {
	if len(accountNumber) < 4 {
		return "****"
	}
	return "****" + accountNumber[len(accountNumber)-4:]
}
