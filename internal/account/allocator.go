package account

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"securebank/pkg/errors"
)

// numberSpace is the size of the 10-digit account number space.
var numberSpace = big.NewInt(10_000_000_000)

// NumberChecker answers whether an account number has ever been issued.
// Account rows are never deleted, so the accounts table is the full history.
type NumberChecker interface {
	ExistsByNumber(ctx context.Context, accountNumber string) (bool, error)
}

// NumberAllocator draws unique account numbers from a fixed-width numeric
// space. Numbers come from crypto/rand so valid accounts cannot be trivially
// enumerated.
type NumberAllocator struct {
	checker    NumberChecker
	maxRetries int
}

func NewNumberAllocator(checker NumberChecker, maxRetries int) *NumberAllocator {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &NumberAllocator{
		checker:    checker,
		maxRetries: maxRetries,
	}
}

// Allocate returns a fresh, never-issued account number. When the retry
// budget is exhausted it fails with ErrAllocationExhausted rather than
// looping forever on a saturated number space.
func (a *NumberAllocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		n, err := rand.Int(rand.Reader, numberSpace)
		if err != nil {
			return "", errors.Wrap(err, "failed to draw account number")
		}
		candidate := fmt.Sprintf("%010d", n)

		taken, err := a.checker.ExistsByNumber(ctx, candidate)
		if err != nil {
			return "", errors.Wrap(err, "failed to check account number uniqueness")
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", errors.ErrAllocationExhausted
}
