package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type walletRepo struct {
	q sqlx.ExtContext
}

const selectWallet = `SELECT id, owner_id, is_active, created_at, updated_at FROM wallets`

const selectSubWallet = `SELECT wallet_id, kind, balance, currency,
	COALESCE(address, '') AS address, COALESCE(network, '') AS network, version, updated_at
	FROM sub_wallets`

func (r *walletRepo) GetOrCreate(ctx context.Context, ownerID string, now time.Time) (*models.Wallet, error) {
	// The unique owner constraint settles concurrent creators; losers fall through to the read.
	const insertWallet = `INSERT INTO wallets (id, owner_id, is_active, created_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $3)
		ON CONFLICT (owner_id) DO NOTHING`
	if _, err := r.q.ExecContext(ctx, insertWallet, uuid.New(), ownerID, now); err != nil {
		return nil, mapError("insert wallet", err)
	}

	wallet, err := r.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	const insertSubWallet = `INSERT INTO sub_wallets (wallet_id, kind, balance, currency, version, updated_at)
		VALUES ($1, $2, 0, $3, 1, $4)
		ON CONFLICT (wallet_id, kind) DO NOTHING`
	missing := false
	for _, kind := range models.SubWalletKinds {
		if sw, _ := wallet.SubWallet(kind); sw.Currency != "" {
			continue
		}
		missing = true
		policy, _ := models.PolicyFor(kind)
		if _, err := r.q.ExecContext(ctx, insertSubWallet, wallet.ID, kind, policy.Currency.Code, now); err != nil {
			return nil, mapError("insert sub-wallet", err)
		}
	}
	if !missing {
		return wallet, nil
	}
	return r.GetByID(ctx, wallet.ID)
}

func (r *walletRepo) GetByOwner(ctx context.Context, ownerID string) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := sqlx.GetContext(ctx, r.q, &wallet, selectWallet+` WHERE owner_id = $1`, ownerID); err != nil {
		return nil, mapError(fmt.Sprintf("get wallet of owner %s", ownerID), err)
	}
	if err := r.loadSubWallets(ctx, &wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := sqlx.GetContext(ctx, r.q, &wallet, selectWallet+` WHERE id = $1`, id); err != nil {
		return nil, mapError(fmt.Sprintf("get wallet %s", id), err)
	}
	if err := r.loadSubWallets(ctx, &wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepo) loadSubWallets(ctx context.Context, wallet *models.Wallet) error {
	var subWallets []models.SubWallet
	if err := sqlx.SelectContext(ctx, r.q, &subWallets, selectSubWallet+` WHERE wallet_id = $1`, wallet.ID); err != nil {
		return mapError("list sub-wallets", err)
	}
	for _, sw := range subWallets {
		wallet.SetSubWallet(sw)
	}
	return nil
}

func (r *walletRepo) LockSubWallet(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind) (*models.SubWallet, error) {
	var sw models.SubWallet
	query := selectSubWallet + ` WHERE wallet_id = $1 AND kind = $2 FOR UPDATE`
	if err := sqlx.GetContext(ctx, r.q, &sw, query, walletID, kind); err != nil {
		return nil, mapError(fmt.Sprintf("lock sub-wallet %s/%s", walletID, kind), err)
	}
	return &sw, nil
}

func (r *walletRepo) SetBalance(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind, balance decimal.Decimal, now time.Time) error {
	if balance.IsNegative() {
		return repository.ErrNegativeBalance
	}
	const query = `UPDATE sub_wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE wallet_id = $3 AND kind = $4`
	res, err := r.q.ExecContext(ctx, query, balance, now, walletID, kind)
	if err != nil {
		return mapError("update balance", err)
	}
	return expectOneRow(res, "update balance")
}

func (r *walletRepo) SetActive(ctx context.Context, walletID uuid.UUID, active bool, now time.Time) error {
	const query = `UPDATE wallets SET is_active = $1, updated_at = $2 WHERE id = $3`
	res, err := r.q.ExecContext(ctx, query, active, now, walletID)
	if err != nil {
		return mapError("update wallet state", err)
	}
	return expectOneRow(res, "update wallet state")
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func expectOneRow(res rowsAffecter, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return nil
}
