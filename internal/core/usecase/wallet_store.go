package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// balanceChange describes one credit or debit together with the ledger entry that records it.
type balanceChange struct {
	Kind     models.SubWalletKind
	Amount   decimal.Decimal
	Currency string // empty means the sub-wallet's own currency
	Type     models.TransactionType
	// EntryID is the idempotency key of the ledger entry.
	EntryID   uuid.UUID
	Reference string
}

// checkAmount applies the sub-wallet policy table to an amount.
func checkAmount(kind models.SubWalletKind, amount decimal.Decimal) (models.SubWalletPolicy, error) {
	policy, ok := models.PolicyFor(kind)
	if !ok {
		return models.SubWalletPolicy{}, fmt.Errorf("%w: unknown wallet kind %q", ErrValidation, kind)
	}
	if !amount.IsPositive() {
		return policy, ErrInvalidAmount
	}
	if !policy.FitsScale(amount) {
		return policy, fmt.Errorf("%w: %s allows %d fractional digits", ErrValidation, policy.Currency.Code, policy.Currency.MinorUnits)
	}
	return policy, nil
}

func credit(ctx context.Context, tx repository.Tx, wallet *models.Wallet, ch balanceChange, now time.Time) (decimal.Decimal, error) {
	return applyBalanceChange(ctx, tx, wallet, ch, now, false)
}

func debit(ctx context.Context, tx repository.Tx, wallet *models.Wallet, ch balanceChange, now time.Time) (decimal.Decimal, error) {
	return applyBalanceChange(ctx, tx, wallet, ch, now, true)
}

func applyBalanceChange(ctx context.Context, tx repository.Tx, wallet *models.Wallet, ch balanceChange, now time.Time, isDebit bool) (decimal.Decimal, error) {
	if _, err := checkAmount(ch.Kind, ch.Amount); err != nil {
		return decimal.Zero, err
	}
	if !wallet.IsActive {
		return decimal.Zero, ErrWalletInactive
	}

	sw, err := tx.Wallets().LockSubWallet(ctx, wallet.ID, ch.Kind)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrWalletNotFound, wallet.ID, ch.Kind)
		}
		return decimal.Zero, err
	}

	if ch.Currency != "" && ch.Currency != sw.Currency {
		return decimal.Zero, fmt.Errorf("%w: %s sub-wallet holds %s, got %s", ErrCurrencyMismatch, ch.Kind, sw.Currency, ch.Currency)
	}

	newBalance := sw.Balance.Add(ch.Amount)
	if isDebit {
		if sw.Balance.LessThan(ch.Amount) {
			return decimal.Zero, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, sw.Balance, ch.Amount)
		}
		newBalance = sw.Balance.Sub(ch.Amount)
	}

	if err := tx.Wallets().SetBalance(ctx, wallet.ID, ch.Kind, newBalance, now); err != nil {
		return decimal.Zero, err
	}

	entry := models.Transaction{
		ID:         ch.EntryID,
		WalletID:   wallet.ID,
		WalletKind: ch.Kind,
		Type:       ch.Type,
		Amount:     ch.Amount,
		Currency:   sw.Currency,
		Status:     models.TransactionStatusCompleted,
		Reference:  ch.Reference,
		CreatedAt:  now,
	}
	if err := tx.Ledger().Append(ctx, &entry); err != nil {
		return decimal.Zero, err
	}

	return newBalance, nil
}

// recordAudit appends a ledger entry that carries no balance effect (holds, releases, withheld fees).
func recordAudit(ctx context.Context, tx repository.Tx, entry models.Transaction) error {
	entry.Status = models.TransactionStatusCompleted
	return tx.Ledger().Append(ctx, &entry)
}

// availableIn computes balance minus unexpired ACTIVE holds, skipping excludeID.
func availableIn(ctx context.Context, tx repository.Tx, wallet *models.Wallet, kind models.SubWalletKind, now time.Time, excludeID uuid.UUID) (models.Balance, error) {
	sw, ok := wallet.SubWallet(kind)
	if !ok {
		return models.Balance{}, fmt.Errorf("%w: unknown wallet kind %q", ErrValidation, kind)
	}
	reserved, err := tx.Reservations().SumActiveByBidder(ctx, wallet.OwnerID, sw.Currency, now, excludeID)
	if err != nil {
		return models.Balance{}, err
	}
	return models.Balance{
		OwnerID:   wallet.OwnerID,
		Kind:      kind,
		Currency:  sw.Currency,
		Balance:   sw.Balance,
		Reserved:  reserved,
		Available: sw.Balance.Sub(reserved),
	}, nil
}

func loadWalletByOwner(ctx context.Context, tx repository.Tx, ownerID string) (*models.Wallet, error) {
	wallet, err := tx.Wallets().GetByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: owner %s", ErrWalletNotFound, ownerID)
		}
		return nil, err
	}
	return wallet, nil
}
