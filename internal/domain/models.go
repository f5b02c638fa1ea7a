// Package domain defines the core banking types shared by all services.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyScale is the fixed number of fractional digits for all balances and
// amounts. Values are normalized to this scale before persistence.
const MoneyScale = 4

// NormalizeAmount rounds a decimal to the canonical money scale.
func NormalizeAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// AccountType is the closed set of account variants. The minimum balance is
// data attached to each variant, not a string comparison at call sites.
type AccountType string

const (
	AccountTypeChecking     AccountType = "CHECKING"
	AccountTypeSavings      AccountType = "SAVINGS"
	AccountTypeFixedDeposit AccountType = "FIXED_DEPOSIT"
)

// MinimumBalance returns the floor below which the account balance may not
// fall when overdraft is disabled.
func (t AccountType) MinimumBalance() decimal.Decimal {
	switch t {
	case AccountTypeSavings:
		return decimal.RequireFromString("100.0000")
	case AccountTypeFixedDeposit:
		return decimal.RequireFromString("1000.0000")
	default:
		return decimal.Zero
	}
}

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeFixedDeposit:
		return true
	}
	return false
}

// Account is a client's balance-bearing account. The account service is the
// single source of truth for Balance; it is mutated only through the atomic
// balance adjustment operation.
type Account struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	AccountNumber string          `json:"account_number" db:"account_number"`
	AccountType   AccountType     `json:"account_type" db:"account_type"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	Active        bool            `json:"active" db:"active"`
	ClientID      uuid.UUID       `json:"client_id" db:"client_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}

// MovementKind identifies the shape of a money movement.
type MovementKind string

const (
	MovementKindDeposit  MovementKind = "DEPOSIT"
	MovementKindWithdraw MovementKind = "WITHDRAW"
	MovementKindTransfer MovementKind = "TRANSFER"
)

// MovementStatus is the lifecycle state of a movement. APPLIED, FAILED, and
// PARTIALLY_APPLIED_INCONSISTENT are terminal; a movement is immutable once
// it reaches one of them.
type MovementStatus string

const (
	MovementStatusPending      MovementStatus = "PENDING"
	MovementStatusApplied      MovementStatus = "APPLIED"
	MovementStatusFailed       MovementStatus = "FAILED"
	MovementStatusCompensating MovementStatus = "PARTIALLY_APPLIED_COMPENSATING"
	MovementStatusInconsistent MovementStatus = "PARTIALLY_APPLIED_INCONSISTENT"
)

// Terminal reports whether the status ends the movement's lifecycle.
func (s MovementStatus) Terminal() bool {
	switch s {
	case MovementStatusApplied, MovementStatusFailed, MovementStatusInconsistent:
		return true
	}
	return false
}

// Movement records a single deposit, withdrawal, or transfer attempt and its
// outcome, keyed by the caller's idempotency key.
type Movement struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	IdempotencyKey     string          `json:"idempotency_key" db:"idempotency_key"`
	Kind               MovementKind    `json:"kind" db:"kind"`
	SourceAccount      *string         `json:"source_account,omitempty" db:"source_account"`
	DestinationAccount *string         `json:"destination_account,omitempty" db:"destination_account"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`
	Status             MovementStatus  `json:"status" db:"status"`
	FailureKind        string          `json:"failure_kind,omitempty" db:"failure_kind"`
	FailureReason      string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// NotificationEvent names the side-channel events emitted by the core.
type NotificationEvent string

const (
	EventAccountCreated NotificationEvent = "ACCOUNT_CREATED"
	EventAccountClosed  NotificationEvent = "ACCOUNT_CLOSED"
	EventDeposit        NotificationEvent = "DEPOSIT"
	EventWithdrawal     NotificationEvent = "WITHDRAWAL"
	EventTransferSent   NotificationEvent = "TRANSFER_SENT"
	EventTransferIn     NotificationEvent = "TRANSFER_RECEIVED"
)
