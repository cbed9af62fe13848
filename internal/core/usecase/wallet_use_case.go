package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type WalletUsecase interface {
	GetOrCreate(ctx context.Context, ownerID string) (*models.Wallet, error)
	GetWallet(ctx context.Context, ownerID string) (*models.Wallet, error)
	Credit(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind, amount decimal.Decimal, currency, reference string) (decimal.Decimal, error)
	Debit(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind, amount decimal.Decimal, reference string) (decimal.Decimal, error)
	AvailableBalance(ctx context.Context, ownerID string, kind models.SubWalletKind) (*models.Balance, error)
	History(ctx context.Context, ownerID string, limit int) ([]models.Transaction, error)
	Reconcile(ctx context.Context, p models.Principal, ownerID string, kind models.SubWalletKind) (*models.Reconciliation, error)
	Deactivate(ctx context.Context, p models.Principal, ownerID string) error
}

type walletUsecase struct {
	core
}

func NewWalletUsecase(store repository.Store, log logger.Logger, cfg Config) WalletUsecase {
	return &walletUsecase{core: newCore(store, nil, log, cfg)}
}

func (uc *walletUsecase) GetOrCreate(ctx context.Context, ownerID string) (*models.Wallet, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}

	var wallet *models.Wallet
	err := uc.run(ctx, "wallet.get_or_create", func(ctx context.Context, tx repository.Tx) error {
		var err error
		wallet, err = tx.Wallets().GetOrCreate(ctx, ownerID, uc.now())
		return err
	})
	if err != nil {
		uc.log.Error("Wallet creation failed", logger.StringField("owner_id", ownerID), logger.ErrorField("error", err))
		return nil, err
	}
	return wallet, nil
}

// GetWallet never fabricates a wallet: a missing one is ErrWalletNotFound.
func (uc *walletUsecase) GetWallet(ctx context.Context, ownerID string) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := uc.run(ctx, "wallet.get", func(ctx context.Context, tx repository.Tx) error {
		var err error
		wallet, err = loadWalletByOwner(ctx, tx, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (uc *walletUsecase) Credit(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind, amount decimal.Decimal, currency, reference string) (decimal.Decimal, error) {
	return uc.change(ctx, "wallet.credit", walletID, balanceChange{
		Kind:      kind,
		Amount:    amount,
		Currency:  currency,
		Type:      models.TransactionDeposit,
		Reference: reference,
	}, false)
}

func (uc *walletUsecase) Debit(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	return uc.change(ctx, "wallet.debit", walletID, balanceChange{
		Kind:      kind,
		Amount:    amount,
		Type:      models.TransactionSettlement,
		Reference: reference,
	}, true)
}

// change applies a direct credit or debit. A reference seen before is a no-op that returns the current balance.
func (uc *walletUsecase) change(ctx context.Context, op string, walletID uuid.UUID, ch balanceChange, isDebit bool) (decimal.Decimal, error) {
	if strings.TrimSpace(ch.Reference) == "" {
		return decimal.Zero, fmt.Errorf("%w: reference is required", ErrValidation)
	}
	if _, err := checkAmount(ch.Kind, ch.Amount); err != nil {
		return decimal.Zero, err
	}
	ch.EntryID = models.IdempotencyKey(op, walletID.String(), string(ch.Kind), ch.Reference)

	var newBalance decimal.Decimal
	err := uc.run(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		wallet, err := tx.Wallets().GetByID(ctx, walletID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
			}
			return err
		}

		if _, err := tx.Ledger().GetByID(ctx, ch.EntryID); err == nil {
			sw, _ := wallet.SubWallet(ch.Kind)
			newBalance = sw.Balance
			return nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		newBalance, err = applyBalanceChange(ctx, tx, wallet, ch, uc.now(), isDebit)
		return err
	})
	if err != nil {
		uc.log.Warn("Balance change rejected",
			logger.StringField("operation", op),
			logger.StringField("wallet_id", walletID.String()),
			logger.DecimalField("amount", ch.Amount),
			logger.ErrorField("error", err))
		return decimal.Zero, err
	}

	uc.log.Info("Balance changed",
		logger.StringField("operation", op),
		logger.StringField("wallet_id", walletID.String()),
		logger.StringField("kind", string(ch.Kind)),
		logger.DecimalField("amount", ch.Amount),
		logger.DecimalField("new_balance", newBalance))
	return newBalance, nil
}

func (uc *walletUsecase) AvailableBalance(ctx context.Context, ownerID string, kind models.SubWalletKind) (*models.Balance, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown wallet kind %q", ErrValidation, kind)
	}

	var balance models.Balance
	err := uc.run(ctx, "wallet.available", func(ctx context.Context, tx repository.Tx) error {
		wallet, err := loadWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		balance, err = availableIn(ctx, tx, wallet, kind, uc.now(), uuid.Nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (uc *walletUsecase) History(ctx context.Context, ownerID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var entries []models.Transaction
	err := uc.run(ctx, "wallet.history", func(ctx context.Context, tx repository.Tx) error {
		wallet, err := loadWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		entries, err = tx.Ledger().ListByWallet(ctx, wallet.ID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Reconcile recomputes a sub-wallet balance from its completed ledger entries.
func (uc *walletUsecase) Reconcile(ctx context.Context, p models.Principal, ownerID string, kind models.SubWalletKind) (*models.Reconciliation, error) {
	if !p.HasAnyRole(models.RoleAdmin, models.RoleFinance) {
		return nil, ErrForbidden
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown wallet kind %q", ErrValidation, kind)
	}

	var rec models.Reconciliation
	err := uc.run(ctx, "wallet.reconcile", func(ctx context.Context, tx repository.Tx) error {
		wallet, err := loadWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		entries, err := tx.Ledger().ListByWalletKind(ctx, wallet.ID, kind)
		if err != nil {
			return err
		}

		ledgerBalance := decimal.Zero
		for _, e := range entries {
			ledgerBalance = ledgerBalance.Add(e.BalanceEffect())
		}
		sw, _ := wallet.SubWallet(kind)
		rec = models.Reconciliation{
			WalletID:      wallet.ID,
			Kind:          kind,
			StoredBalance: sw.Balance,
			LedgerBalance: ledgerBalance,
			Drift:         sw.Balance.Sub(ledgerBalance),
			Consistent:    sw.Balance.Equal(ledgerBalance),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !rec.Consistent {
		uc.log.Error("Ledger drift detected",
			logger.StringField("owner_id", ownerID),
			logger.StringField("kind", string(kind)),
			logger.DecimalField("drift", rec.Drift))
	}
	return &rec, nil
}

func (uc *walletUsecase) Deactivate(ctx context.Context, p models.Principal, ownerID string) error {
	if !p.HasAnyRole(models.RoleAdmin) {
		return ErrForbidden
	}
	err := uc.run(ctx, "wallet.deactivate", func(ctx context.Context, tx repository.Tx) error {
		wallet, err := loadWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		return tx.Wallets().SetActive(ctx, wallet.ID, false, uc.now())
	})
	if err != nil {
		return err
	}
	uc.log.Info("Wallet deactivated", logger.StringField("owner_id", ownerID), logger.StringField("by", p.ID))
	return nil
}
