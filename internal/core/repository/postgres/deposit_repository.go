package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type depositRepo struct {
	q sqlx.ExtContext
}

const depositColumns = `id, user_id, amount, fees, net_amount, currency, wallet_type, status, reference,
	transaction_id, approved_by, created_at, updated_at`

func (r *depositRepo) Create(ctx context.Context, d *models.Deposit) error {
	const query = `INSERT INTO deposits (` + depositColumns + `)
		VALUES (:id, :user_id, :amount, :fees, :net_amount, :currency, :wallet_type, :status, :reference,
			:transaction_id, :approved_by, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, r.q, query, d); err != nil {
		return mapError("create deposit", err)
	}
	return nil
}

func (r *depositRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	return r.get(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id)
}

func (r *depositRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	return r.get(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id)
}

func (r *depositRepo) get(ctx context.Context, query string, id uuid.UUID) (*models.Deposit, error) {
	var d models.Deposit
	if err := sqlx.GetContext(ctx, r.q, &d, query, id); err != nil {
		return nil, mapError(fmt.Sprintf("get deposit %s", id), err)
	}
	return &d, nil
}

// MarkCompleted flips a PENDING deposit to COMPLETED; the status guard keeps the flip write-once.
func (r *depositRepo) MarkCompleted(ctx context.Context, id uuid.UUID, transactionID uuid.UUID, approverID string, now time.Time) error {
	const query = `UPDATE deposits
		SET status = 'COMPLETED', transaction_id = $1, approved_by = $2, updated_at = $3
		WHERE id = $4 AND status = 'PENDING'`
	res, err := r.q.ExecContext(ctx, query, transactionID, approverID, now, id)
	if err != nil {
		return mapError("complete deposit", err)
	}
	if err := expectOneRow(res, "complete deposit"); err != nil {
		return fmt.Errorf("deposit %s is no longer pending: %w", id, repository.ErrConflict)
	}
	return nil
}

func (r *depositRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.DepositStatus, now time.Time) error {
	const query = `UPDATE deposits SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.q.ExecContext(ctx, query, to, now, id, from)
	if err != nil {
		return mapError("update deposit status", err)
	}
	if err := expectOneRow(res, "update deposit status"); err != nil {
		return fmt.Errorf("deposit %s is no longer %s: %w", id, from, repository.ErrConflict)
	}
	return nil
}
