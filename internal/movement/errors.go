package movement

import (
	stderrors "errors"

	"securebank/pkg/errors"
)

// ErrorKind is the caller-visible error taxonomy carried on MovementResult.
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindAccountClosed     ErrorKind = "ACCOUNT_CLOSED"
	KindInsufficientFunds ErrorKind = "INSUFFICIENT_FUNDS"
	KindTransient         ErrorKind = "TRANSIENT"
	KindInconsistent      ErrorKind = "INCONSISTENT"
	KindInternal          ErrorKind = "INTERNAL"
)

// KindFor maps an error to its caller-visible kind.
func KindFor(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, errors.ErrInvalidAmount),
		stderrors.Is(err, errors.ErrSameAccount),
		stderrors.Is(err, errors.ErrMissingKey):
		return KindValidation
	case stderrors.Is(err, errors.ErrAccountNotFound):
		return KindNotFound
	case stderrors.Is(err, errors.ErrAccountClosed),
		stderrors.Is(err, errors.ErrAccountAlreadyClosed):
		return KindAccountClosed
	case stderrors.Is(err, errors.ErrInsufficientBalance):
		return KindInsufficientFunds
	case stderrors.Is(err, errors.ErrLedgerUnavailable):
		return KindTransient
	case stderrors.Is(err, errors.ErrInconsistentState):
		return KindInconsistent
	default:
		return KindInternal
	}
}

// Retryable reports whether a caller may retry the same request with the
// same idempotency key and expect a different outcome.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}
