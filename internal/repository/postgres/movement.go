package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"securebank/internal/domain"
	"securebank/pkg/errors"
)

// MovementRepository is the movement ledger. Rows are written at PENDING and
// updated in place to their terminal status; they are never deleted.
type MovementRepository struct {
	db *sqlx.DB
}

func NewMovementRepository(db *sqlx.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

func (r *MovementRepository) Create(ctx context.Context, m *domain.Movement) error {
	query := `
		INSERT INTO movements (
			id, idempotency_key, kind, source_account, destination_account,
			amount, status, failure_kind, failure_reason,
			created_at, started_at, completed_at
		) VALUES (
			:id, :idempotency_key, :kind, :source_account, :destination_account,
			:amount, :status, :failure_kind, :failure_reason,
			:created_at, :started_at, :completed_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, m)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		return errors.ErrDuplicateMovement
	}
	return errors.Wrap(err, "failed to create movement")
}

// Finalize writes the terminal outcome. The status guard keeps it from
// overwriting a row another writer already drove to a terminal state.
func (r *MovementRepository) Finalize(ctx context.Context, m *domain.Movement) error {
	query := `
		UPDATE movements SET
			status = :status,
			failure_kind = :failure_kind,
			failure_reason = :failure_reason,
			completed_at = :completed_at
		WHERE id = :id AND status IN ('PENDING', 'PARTIALLY_APPLIED_COMPENSATING')
	`
	result, err := r.db.NamedExecContext(ctx, query, m)
	if err != nil {
		return errors.Wrap(err, "failed to finalize movement")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.ErrMovementNotPending
	}
	return nil
}

// MarkStarted records the first leg attempt. The conditional update loses to
// a cancel that already flipped the row, in which case no leg may run.
func (r *MovementRepository) MarkStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE movements SET started_at = COALESCE(started_at, $1)
		WHERE id = $2 AND status = $3
	`
	result, err := r.db.ExecContext(ctx, query, startedAt, id, domain.MovementStatusPending)
	if err != nil {
		return errors.Wrap(err, "failed to mark movement started")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.ErrMovementNotPending
	}
	return nil
}

func (r *MovementRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MovementStatus, kind, reason string) error {
	query := `UPDATE movements SET status = $1, failure_kind = $2, failure_reason = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, status, kind, reason, id)
	return errors.Wrap(err, "failed to update movement status")
}

// CancelPending flips a still-pending movement to FAILED. The started_at
// guard refuses a cancel once a leg attempt has been recorded; such a
// movement runs to a terminal state.
func (r *MovementRepository) CancelPending(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	query := `
		UPDATE movements SET
			status = $1,
			failure_kind = 'VALIDATION',
			failure_reason = 'cancelled before execution',
			completed_at = $2
		WHERE id = $3 AND status = $4 AND started_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, domain.MovementStatusFailed, completedAt, id, domain.MovementStatusPending)
	if err != nil {
		return errors.Wrap(err, "failed to cancel movement")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		if _, ferr := r.FindByID(ctx, id); ferr != nil {
			return ferr
		}
		return errors.ErrMovementNotPending
	}
	return nil
}

func (r *MovementRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Movement, error) {
	m := &domain.Movement{}
	query := `SELECT * FROM movements WHERE idempotency_key = $1`
	err := r.db.GetContext(ctx, m, query, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrMovementNotFound
		}
		return nil, errors.Wrap(err, "failed to find movement by idempotency key")
	}
	return m, nil
}

func (r *MovementRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Movement, error) {
	m := &domain.Movement{}
	query := `SELECT * FROM movements WHERE id = $1`
	err := r.db.GetContext(ctx, m, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrMovementNotFound
		}
		return nil, errors.Wrap(err, "failed to find movement by id")
	}
	return m, nil
}

func (r *MovementRepository) FindByAccount(ctx context.Context, accountNumber string, limit, offset int) ([]*domain.Movement, error) {
	var movements []*domain.Movement
	query := `
		SELECT * FROM movements
		WHERE source_account = $1 OR destination_account = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	err := r.db.SelectContext(ctx, &movements, query, accountNumber, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find movements by account")
	}
	return movements, nil
}

func (r *MovementRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*domain.Movement, error) {
	var movements []*domain.Movement
	query := `
		SELECT * FROM movements
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	err := r.db.SelectContext(ctx, &movements, query, from, to, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find movements by time range")
	}
	return movements, nil
}

func (r *MovementRepository) FindInconsistent(ctx context.Context, limit, offset int) ([]*domain.Movement, error) {
	var movements []*domain.Movement
	query := `
		SELECT * FROM movements
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`
	err := r.db.SelectContext(ctx, &movements, query, domain.MovementStatusInconsistent, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find inconsistent movements")
	}
	return movements, nil
}
