// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountClosed        = errors.New("account closed")
	ErrAccountAlreadyClosed = errors.New("account already closed")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidAccountType   = errors.New("unknown account type")
	ErrClientNotFound       = errors.New("client not found")

	// Movement errors
	ErrMovementNotFound   = errors.New("movement not found")
	ErrDuplicateMovement  = errors.New("movement already exists")
	ErrMovementInFlight   = errors.New("movement with this idempotency key is still processing")
	ErrMovementNotPending = errors.New("movement is no longer pending")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrMissingKey         = errors.New("idempotency key required")
	ErrSameAccount        = errors.New("source and destination accounts are identical")
	ErrInconsistentState  = errors.New("movement left in inconsistent state, manual reconciliation required")

	// Allocation errors
	ErrAllocationExhausted = errors.New("account number space exhausted")

	// Transport errors
	ErrLedgerUnavailable = errors.New("account ledger unavailable")
	ErrDuplicateRequest  = errors.New("duplicate request")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
