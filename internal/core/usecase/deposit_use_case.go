package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/Nzyazin/bidfunds/pkg/contracts/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SubmitDepositRequest struct {
	UserID     string
	Amount     decimal.Decimal
	Fees       decimal.Decimal
	Currency   string
	WalletType models.SubWalletKind
	Reference  string
}

type ApproveResult struct {
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	WalletType    models.SubWalletKind `json:"wallet_type"`
	TransactionID uuid.UUID            `json:"transaction_id"`
	// Replayed is set when the deposit was already COMPLETED and nothing was credited.
	Replayed bool `json:"replayed"`
}

type DepositUsecase interface {
	SubmitDeposit(ctx context.Context, req SubmitDepositRequest) (*models.Deposit, error)
	ApproveDeposit(ctx context.Context, p models.Principal, depositID uuid.UUID) (*ApproveResult, error)
	CancelDeposit(ctx context.Context, p models.Principal, depositID uuid.UUID) (*models.Deposit, error)
	FailDeposit(ctx context.Context, p models.Principal, depositID uuid.UUID) (*models.Deposit, error)
	GetDeposit(ctx context.Context, depositID uuid.UUID) (*models.Deposit, error)
}

type depositUsecase struct {
	core
}

func NewDepositUsecase(store repository.Store, notifier Notifier, log logger.Logger, cfg Config) DepositUsecase {
	return &depositUsecase{core: newCore(store, notifier, log, cfg)}
}

func depositTransactionID(depositID uuid.UUID) uuid.UUID {
	return models.IdempotencyKey(depositID.String(), "approve")
}

func depositFeeID(depositID uuid.UUID) uuid.UUID {
	return models.IdempotencyKey(depositID.String(), "fee")
}

// SubmitDeposit records an external confirmation as PENDING. The id is derived from the
// reference, so a repeated confirmation returns the row stored by the first one.
func (uc *depositUsecase) SubmitDeposit(ctx context.Context, req SubmitDepositRequest) (*models.Deposit, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Reference = strings.TrimSpace(req.Reference)
	if req.UserID == "" || req.Reference == "" {
		return nil, fmt.Errorf("%w: user id and reference are required", ErrValidation)
	}
	if req.WalletType == "" {
		req.WalletType = models.SubWalletLocal
	}
	policy, err := checkAmount(req.WalletType, req.Amount)
	if err != nil {
		return nil, err
	}
	if req.Currency == "" {
		req.Currency = policy.Currency.Code
	}
	if req.Currency != policy.Currency.Code {
		return nil, fmt.Errorf("%w: %s deposits are held in %s, got %s", ErrCurrencyMismatch, req.WalletType, policy.Currency.Code, req.Currency)
	}
	if req.Fees.IsNegative() || !req.Fees.LessThan(req.Amount) {
		return nil, fmt.Errorf("%w: fees must be in [0, amount)", ErrValidation)
	}
	if !policy.FitsScale(req.Fees) {
		return nil, fmt.Errorf("%w: %s allows %d fractional digits", ErrValidation, policy.Currency.Code, policy.Currency.MinorUnits)
	}

	id := models.DepositIDForReference(req.Reference)
	var deposit *models.Deposit
	err = uc.run(ctx, "deposit.submit", func(ctx context.Context, tx repository.Tx) error {
		existing, err := tx.Deposits().GetByID(ctx, id)
		if err == nil {
			if existing.UserID != req.UserID || !existing.Amount.Equal(req.Amount) {
				return fmt.Errorf("%w: reference %s already used by a different deposit", ErrValidation, req.Reference)
			}
			deposit = existing
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		now := uc.now()
		d := models.Deposit{
			ID:         id,
			UserID:     req.UserID,
			Amount:     req.Amount,
			Fees:       req.Fees,
			NetAmount:  req.Amount.Sub(req.Fees),
			Currency:   req.Currency,
			WalletType: req.WalletType,
			Status:     models.DepositPending,
			Reference:  req.Reference,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Deposits().Create(ctx, &d); err != nil {
			return err
		}
		deposit = &d
		return nil
	})
	if err != nil {
		uc.log.Warn("Deposit rejected",
			logger.StringField("user_id", req.UserID),
			logger.StringField("reference", req.Reference),
			logger.ErrorField("error", err))
		return nil, err
	}
	return deposit, nil
}

// ApproveDeposit credits the net amount exactly once. Credit, ledger entries and the
// status flip commit together or not at all.
func (uc *depositUsecase) ApproveDeposit(ctx context.Context, p models.Principal, depositID uuid.UUID) (*ApproveResult, error) {
	if !p.HasAnyRole(models.RoleAdmin, models.RoleFinance) {
		return nil, ErrForbidden
	}

	var (
		result  ApproveResult
		deposit models.Deposit
	)
	err := uc.run(ctx, "deposit.approve", func(ctx context.Context, tx repository.Tx) error {
		result = ApproveResult{}
		now := uc.now()

		d, err := tx.Deposits().GetByIDForUpdate(ctx, depositID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("deposit %s %w", depositID, ErrNotFound)
			}
			return err
		}
		deposit = *d
		result.Amount = d.NetAmount
		result.Currency = d.Currency
		result.WalletType = d.WalletType

		switch d.Status {
		case models.DepositCompleted:
			result.Replayed = true
			if d.TransactionID != nil {
				result.TransactionID = *d.TransactionID
			}
			return nil
		case models.DepositCancelled, models.DepositFailed:
			return fmt.Errorf("%w: deposit %s is %s", ErrInvalidStateTransition, depositID, d.Status)
		}

		wallet, err := tx.Wallets().GetOrCreate(ctx, d.UserID, now)
		if err != nil {
			return err
		}

		txID := depositTransactionID(d.ID)
		if _, err := credit(ctx, tx, wallet, balanceChange{
			Kind:      d.WalletType,
			Amount:    d.NetAmount,
			Currency:  d.Currency,
			Type:      models.TransactionDeposit,
			EntryID:   txID,
			Reference: d.Reference,
		}, now); err != nil {
			return err
		}

		if d.Fees.IsPositive() {
			if err := recordAudit(ctx, tx, models.Transaction{
				ID:         depositFeeID(d.ID),
				WalletID:   wallet.ID,
				WalletKind: d.WalletType,
				Type:       models.TransactionFee,
				Amount:     d.Fees,
				Currency:   d.Currency,
				Reference:  d.Reference,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}

		if err := tx.Deposits().MarkCompleted(ctx, d.ID, txID, p.ID, now); err != nil {
			return err
		}
		result.TransactionID = txID
		return nil
	})
	if err != nil {
		uc.log.Error("Deposit approval failed",
			logger.StringField("deposit_id", depositID.String()),
			logger.StringField("approver", p.ID),
			logger.ErrorField("error", err))
		return nil, err
	}

	if result.Replayed {
		uc.log.Info("Deposit already completed", logger.StringField("deposit_id", depositID.String()))
		return &result, nil
	}

	uc.log.Info("Deposit approved",
		logger.StringField("deposit_id", depositID.String()),
		logger.StringField("user_id", deposit.UserID),
		logger.DecimalField("net_amount", deposit.NetAmount),
		logger.StringField("currency", deposit.Currency),
		logger.StringField("approver", p.ID))

	e := events.DepositCompleted{
		DepositID:     deposit.ID.String(),
		UserID:        deposit.UserID,
		Amount:        deposit.NetAmount.String(),
		Currency:      deposit.Currency,
		WalletType:    string(deposit.WalletType),
		TransactionID: result.TransactionID.String(),
		TsUnixMs:      uc.now().UnixMilli(),
	}
	uc.notify(ctx, "deposit_completed", func(ctx context.Context, n Notifier) error {
		return n.DepositCompleted(ctx, e)
	})

	return &result, nil
}

func (uc *depositUsecase) CancelDeposit(ctx context.Context, p models.Principal, depositID uuid.UUID) (*models.Deposit, error) {
	return uc.finish(ctx, p, "deposit.cancel", depositID, models.DepositCancelled)
}

func (uc *depositUsecase) FailDeposit(ctx context.Context, p models.Principal, depositID uuid.UUID) (*models.Deposit, error) {
	return uc.finish(ctx, p, "deposit.fail", depositID, models.DepositFailed)
}

// finish moves a PENDING deposit into a terminal state other than COMPLETED.
func (uc *depositUsecase) finish(ctx context.Context, p models.Principal, op string, depositID uuid.UUID, to models.DepositStatus) (*models.Deposit, error) {
	if !p.HasAnyRole(models.RoleAdmin, models.RoleFinance) {
		return nil, ErrForbidden
	}

	var deposit models.Deposit
	err := uc.run(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		d, err := tx.Deposits().GetByIDForUpdate(ctx, depositID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("deposit %s %w", depositID, ErrNotFound)
			}
			return err
		}
		switch d.Status {
		case to:
			deposit = *d
			return nil
		case models.DepositPending:
		default:
			return fmt.Errorf("%w: deposit %s is %s", ErrInvalidStateTransition, depositID, d.Status)
		}

		now := uc.now()
		if err := tx.Deposits().UpdateStatus(ctx, d.ID, models.DepositPending, to, now); err != nil {
			return err
		}
		d.Status = to
		d.UpdatedAt = now
		deposit = *d
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.log.Info("Deposit closed",
		logger.StringField("deposit_id", depositID.String()),
		logger.StringField("status", string(to)),
		logger.StringField("by", p.ID))
	return &deposit, nil
}

func (uc *depositUsecase) GetDeposit(ctx context.Context, depositID uuid.UUID) (*models.Deposit, error) {
	var deposit *models.Deposit
	err := uc.run(ctx, "deposit.get", func(ctx context.Context, tx repository.Tx) error {
		var err error
		deposit, err = tx.Deposits().GetByID(ctx, depositID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deposit, nil
}
