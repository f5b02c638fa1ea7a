// Package postgres implements the persistence contracts on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"securebank/internal/account"
	"securebank/internal/domain"
	"securebank/pkg/errors"
)

const uniqueViolation = "23505"

type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (
			id, account_number, account_type, balance, active, client_id, created_at, updated_at
		) VALUES (
			:id, :account_number, :account_type, :balance, :active, :client_id, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, a)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		return errors.Wrap(err, "account number already issued")
	}
	return errors.Wrap(err, "failed to create account")
}

func (r *AccountRepository) FindByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	a := &domain.Account{}
	query := `SELECT * FROM accounts WHERE account_number = $1`
	err := r.db.GetContext(ctx, a, query, accountNumber)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, errors.Wrap(err, "failed to find account")
	}
	return a, nil
}

func (r *AccountRepository) FindByClientID(ctx context.Context, clientID uuid.UUID) ([]*domain.Account, error) {
	var accounts []*domain.Account
	query := `SELECT * FROM accounts WHERE client_id = $1 ORDER BY created_at`
	err := r.db.SelectContext(ctx, &accounts, query, clientID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find accounts by client")
	}
	return accounts, nil
}

func (r *AccountRepository) ExistsByNumber(ctx context.Context, accountNumber string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_number = $1)`
	err := r.db.GetContext(ctx, &exists, query, accountNumber)
	return exists, errors.Wrap(err, "failed to check account existence")
}

func (r *AccountRepository) MarkClosed(ctx context.Context, accountNumber string, closedAt time.Time) error {
	query := `
		UPDATE accounts SET
			active = FALSE,
			closed_at = $1,
			updated_at = $1
		WHERE account_number = $2 AND active = TRUE
	`
	result, err := r.db.ExecContext(ctx, query, closedAt, accountNumber)
	if err != nil {
		return errors.Wrap(err, "failed to close account")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.ErrAccountAlreadyClosed
	}
	return nil
}

// ApplyAdjustment serializes on the account row lock, replays a previously
// applied idempotency key, and otherwise applies the delta guarded by the
// balance floor. The adjustment record commits in the same transaction as
// the balance change.
func (r *AccountRepository) ApplyAdjustment(ctx context.Context, accountNumber string, delta decimal.Decimal, idempotencyKey string, floor account.FloorFunc) (*account.AdjustmentResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin adjustment transaction")
	}
	defer tx.Rollback()

	var row struct {
		Balance     decimal.Decimal    `db:"balance"`
		Active      bool               `db:"active"`
		AccountType domain.AccountType `db:"account_type"`
	}
	err = tx.GetContext(ctx, &row,
		`SELECT balance, active, account_type FROM accounts WHERE account_number = $1 FOR UPDATE`,
		accountNumber,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, errors.Wrap(err, "failed to lock account row")
	}

	// Replay check happens under the row lock so concurrent duplicates
	// serialize rather than both applying.
	var previous decimal.Decimal
	err = tx.GetContext(ctx, &previous,
		`SELECT new_balance FROM balance_adjustments WHERE account_number = $1 AND idempotency_key = $2`,
		accountNumber, idempotencyKey,
	)
	if err == nil {
		return &account.AdjustmentResult{NewBalance: previous, Replayed: true}, nil
	}
	if err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to check adjustment idempotency")
	}

	if !row.Active {
		return nil, errors.ErrAccountClosed
	}

	newBalance := row.Balance.Add(delta)
	if newBalance.LessThan(floor(row.AccountType)) {
		return nil, errors.ErrInsufficientBalance
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE account_number = $2`,
		newBalance, accountNumber,
	); err != nil {
		return nil, errors.Wrap(err, "failed to update balance")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balance_adjustments (account_number, idempotency_key, delta, new_balance, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, accountNumber, idempotencyKey, delta, newBalance); err != nil {
		return nil, errors.Wrap(err, "failed to record adjustment")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit adjustment")
	}

	return &account.AdjustmentResult{NewBalance: newBalance}, nil
}
