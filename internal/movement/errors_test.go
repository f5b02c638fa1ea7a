package movement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"securebank/pkg/errors"
)

func TestKindFor(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{errors.ErrInvalidAmount, KindValidation},
		{errors.ErrSameAccount, KindValidation},
		{errors.ErrMissingKey, KindValidation},
		{errors.ErrAccountNotFound, KindNotFound},
		{errors.ErrAccountClosed, KindAccountClosed},
		{errors.ErrInsufficientBalance, KindInsufficientFunds},
		{errors.ErrLedgerUnavailable, KindTransient},
		{errors.Wrap(errors.ErrLedgerUnavailable, "connection refused"), KindTransient},
		{errors.ErrInconsistentState, KindInconsistent},
		{assert.AnError, KindInternal},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, KindFor(tc.err))
	}
}

func TestRetryable_OnlyTransient(t *testing.T) {
	assert.True(t, KindTransient.Retryable())

	for _, kind := range []ErrorKind{
		KindValidation, KindNotFound, KindAccountClosed,
		KindInsufficientFunds, KindInconsistent, KindInternal,
	} {
		assert.False(t, kind.Retryable(), string(kind))
	}
}
