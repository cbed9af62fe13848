package postgres

import (
	"context"
	"fmt"

	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type ledgerRepo struct {
	q sqlx.ExtContext
}

const selectTransaction = `SELECT id, wallet_id, wallet_kind, type, amount, currency, status, reference, created_at
	FROM transactions`

func (r *ledgerRepo) Append(ctx context.Context, entry *models.Transaction) error {
	const query = `INSERT INTO transactions
		(id, wallet_id, wallet_kind, type, amount, currency, status, reference, created_at)
		VALUES (:id, :wallet_id, :wallet_kind, :type, :amount, :currency, :status, :reference, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, r.q, query, entry); err != nil {
		return mapError(fmt.Sprintf("append %s entry", entry.Type), err)
	}
	return nil
}

func (r *ledgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var entry models.Transaction
	if err := sqlx.GetContext(ctx, r.q, &entry, selectTransaction+` WHERE id = $1`, id); err != nil {
		return nil, mapError(fmt.Sprintf("get transaction %s", id), err)
	}
	return &entry, nil
}

func (r *ledgerRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]models.Transaction, error) {
	var entries []models.Transaction
	query := selectTransaction + ` WHERE wallet_id = $1 ORDER BY created_at DESC, id LIMIT $2`
	if err := sqlx.SelectContext(ctx, r.q, &entries, query, walletID, limit); err != nil {
		return nil, mapError("list transactions", err)
	}
	return entries, nil
}

func (r *ledgerRepo) ListByWalletKind(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind) ([]models.Transaction, error) {
	var entries []models.Transaction
	query := selectTransaction + ` WHERE wallet_id = $1 AND wallet_kind = $2 ORDER BY created_at, id`
	if err := sqlx.SelectContext(ctx, r.q, &entries, query, walletID, kind); err != nil {
		return nil, mapError("list transactions by kind", err)
	}
	return entries, nil
}
