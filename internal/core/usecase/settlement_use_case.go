package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/metrics"
	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/Nzyazin/bidfunds/pkg/contracts/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SettlementUsecase interface {
	// ProcessWinningBid returns the settlement transaction id. On a replay it returns the
	// prior id together with ErrAlreadySettled.
	ProcessWinningBid(ctx context.Context, p models.Principal, auctionID, winnerID string, finalBidAmount decimal.Decimal) (uuid.UUID, error)
	CleanupExpiredReservations(ctx context.Context) (int, error)
}

type settlementUsecase struct {
	core
	reservations ReservationUsecase
}

func NewSettlementUsecase(store repository.Store, reservations ReservationUsecase, notifier Notifier, log logger.Logger, cfg Config) SettlementUsecase {
	return &settlementUsecase{core: newCore(store, notifier, log, cfg), reservations: reservations}
}

func SettlementTransactionID(auctionID string) uuid.UUID {
	return models.IdempotencyKey("settlement", auctionID)
}

func (uc *settlementUsecase) ProcessWinningBid(ctx context.Context, p models.Principal, auctionID, winnerID string, finalBidAmount decimal.Decimal) (uuid.UUID, error) {
	if !p.HasAnyRole(models.RoleAdmin, models.RoleSystem) {
		return uuid.Nil, ErrForbidden
	}
	auctionID = strings.TrimSpace(auctionID)
	winnerID = strings.TrimSpace(winnerID)
	if auctionID == "" || winnerID == "" {
		return uuid.Nil, fmt.Errorf("%w: auction id and winner id are required", ErrValidation)
	}
	if !finalBidAmount.IsPositive() {
		return uuid.Nil, ErrInvalidAmount
	}

	txID := SettlementTransactionID(auctionID)
	var winning models.Reservation

	err := uc.run(ctx, "settlement.process_winning_bid", func(ctx context.Context, tx repository.Tx) error {
		now := uc.now()

		if err := tx.Lock(ctx, "settlement:"+auctionID); err != nil {
			return err
		}

		if _, err := tx.Ledger().GetByID(ctx, txID); err == nil {
			return ErrAlreadySettled
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		res, err := tx.Reservations().GetActiveByPair(ctx, auctionID, winnerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: auction %s, winner %s", ErrReservationMissing, auctionID, winnerID)
			}
			return err
		}
		if !res.IsActiveAt(now) {
			return fmt.Errorf("%w: reservation %s expired at %s", ErrReservationMissing, res.ID, res.ExpiresAt)
		}
		if res.ReservedAmount.LessThan(finalBidAmount) {
			return fmt.Errorf("%w: reserved %s, final bid %s", ErrReservationInsufficient, res.ReservedAmount, finalBidAmount)
		}

		wallet, err := tx.Wallets().GetByID(ctx, res.WalletID)
		if err != nil {
			return err
		}
		if _, err := debit(ctx, tx, wallet, balanceChange{
			Kind:      res.WalletKind,
			Amount:    finalBidAmount,
			Currency:  res.Currency,
			Type:      models.TransactionSettlement,
			EntryID:   txID,
			Reference: "auction:" + auctionID,
		}, now); err != nil {
			return err
		}

		if err := tx.Reservations().UpdateStatus(ctx, res.ID, models.ReservationActive, models.ReservationUsed, now); err != nil {
			return err
		}
		winning = *res
		return nil
	}, ErrAlreadySettled)
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			uc.log.Info("Auction already settled",
				logger.StringField("auction_id", auctionID),
				logger.StringField("transaction_id", txID.String()))
			return txID, err
		}
		uc.log.Error("Settlement failed",
			logger.StringField("auction_id", auctionID),
			logger.StringField("winner_id", winnerID),
			logger.DecimalField("amount", finalBidAmount),
			logger.ErrorField("error", err))
		return uuid.Nil, err
	}

	uc.log.Info("Auction settled",
		logger.StringField("auction_id", auctionID),
		logger.StringField("winner_id", winnerID),
		logger.StringField("reservation_id", winning.ID.String()),
		logger.DecimalField("amount", finalBidAmount),
		logger.StringField("transaction_id", txID.String()))

	released := uc.releaseLosers(ctx, auctionID, winning.ID)

	e := events.AuctionSettled{
		AuctionID:     auctionID,
		WinnerID:      winnerID,
		Amount:        finalBidAmount.String(),
		Currency:      winning.Currency,
		TransactionID: txID.String(),
		Released:      released,
		TsUnixMs:      uc.now().UnixMilli(),
	}
	uc.notify(ctx, "auction_settled", func(ctx context.Context, n Notifier) error {
		return n.AuctionSettled(ctx, e)
	})

	return txID, nil
}

// releaseLosers frees every other ACTIVE hold on the auction, each in its own unit.
// A failure is logged and counted; the committed settlement stands.
func (uc *settlementUsecase) releaseLosers(ctx context.Context, auctionID string, winnerReservation uuid.UUID) int {
	ctx = context.WithoutCancel(ctx)

	var losers []models.Reservation
	err := uc.run(ctx, "settlement.list_losers", func(ctx context.Context, tx repository.Tx) error {
		var err error
		losers, err = tx.Reservations().ListActiveByAuction(ctx, auctionID, uc.now())
		return err
	})
	if err != nil {
		metrics.IncLoserReleaseFailure()
		uc.log.Error("Could not list losing reservations",
			logger.StringField("auction_id", auctionID),
			logger.ErrorField("error", err))
		return 0
	}

	released := 0
	for _, res := range losers {
		if res.ID == winnerReservation {
			continue
		}
		if _, err := uc.reservations.Release(ctx, res.ID); err != nil {
			metrics.IncLoserReleaseFailure()
			uc.log.Warn("Losing reservation not released",
				logger.StringField("auction_id", auctionID),
				logger.StringField("reservation_id", res.ID.String()),
				logger.ErrorField("error", err))
			continue
		}
		released++
	}
	return released
}

func (uc *settlementUsecase) CleanupExpiredReservations(ctx context.Context) (int, error) {
	return uc.reservations.ExpireSweep(ctx, uc.now())
}
