package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/metrics"
	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/Nzyazin/bidfunds/pkg/contracts/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReserveRequest struct {
	AuctionID     string
	BidderID      string
	MinimumAmount decimal.Decimal
	DurationHours int
	WalletKind    models.SubWalletKind // LOCAL when empty
}

type ReserveResult struct {
	Reservation models.Reservation
	// Extended is set when an existing ACTIVE reservation was reused rather than created.
	Extended bool
}

type ReservationUsecase interface {
	Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error)
	Release(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error)
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
	GetActive(ctx context.Context, auctionID, bidderID string) (*models.Reservation, error)
	NotifyExpiring(ctx context.Context, window time.Duration) (int, error)
}

// ExpiryDeduper reports whether an expiring-soon notice for a reservation is being sent for the first time.
type ExpiryDeduper interface {
	FirstNotice(ctx context.Context, reservationID uuid.UUID, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, reservationID uuid.UUID) error
}

type reservationUsecase struct {
	core
	dedup ExpiryDeduper
}

func NewReservationUsecase(store repository.Store, notifier Notifier, dedup ExpiryDeduper, log logger.Logger, cfg Config) ReservationUsecase {
	return &reservationUsecase{core: newCore(store, notifier, log, cfg), dedup: dedup}
}

func pairLockKey(auctionID, bidderID string) string {
	return "reservation:" + auctionID + ":" + bidderID
}

func (uc *reservationUsecase) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	req.AuctionID = strings.TrimSpace(req.AuctionID)
	req.BidderID = strings.TrimSpace(req.BidderID)
	if req.AuctionID == "" || req.BidderID == "" {
		return nil, fmt.Errorf("%w: auction id and bidder id are required", ErrValidation)
	}
	if req.WalletKind == "" {
		req.WalletKind = models.SubWalletLocal
	}
	if req.DurationHours < 0 {
		return nil, fmt.Errorf("%w: duration must not be negative", ErrValidation)
	}
	if req.DurationHours == 0 {
		req.DurationHours = uc.cfg.DefaultReservationHours
	}
	policy, err := checkAmount(req.WalletKind, req.MinimumAmount)
	if err != nil {
		return nil, err
	}

	var result ReserveResult
	err = uc.run(ctx, "reservation.reserve", func(ctx context.Context, tx repository.Tx) error {
		result = ReserveResult{}
		now := uc.now()

		if err := tx.Lock(ctx, pairLockKey(req.AuctionID, req.BidderID)); err != nil {
			return err
		}

		wallet, err := tx.Wallets().GetOrCreate(ctx, req.BidderID, now)
		if err != nil {
			return err
		}
		if !wallet.IsActive {
			return ErrWalletInactive
		}

		existing, err := uc.activeForUpdate(ctx, tx, req.AuctionID, req.BidderID, now)
		if err != nil {
			return err
		}

		excludeID := uuid.Nil
		if existing != nil {
			excludeID = existing.ID
		}
		balance, err := availableIn(ctx, tx, wallet, req.WalletKind, now, excludeID)
		if err != nil {
			return err
		}

		expiresAt := now.Add(time.Duration(req.DurationHours) * time.Hour)

		if existing != nil {
			if existing.Currency != policy.Currency.Code {
				return fmt.Errorf("%w: active reservation is held in %s", ErrCurrencyMismatch, existing.Currency)
			}
			return uc.extend(ctx, tx, existing, req.MinimumAmount, balance.Available, expiresAt, now, &result)
		}

		if balance.Available.LessThan(req.MinimumAmount) {
			return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientFunds, balance.Available, req.MinimumAmount)
		}

		res := models.Reservation{
			ID:             uuid.New(),
			AuctionID:      req.AuctionID,
			BidderID:       req.BidderID,
			WalletID:       wallet.ID,
			WalletKind:     req.WalletKind,
			ReservedAmount: req.MinimumAmount,
			Currency:       policy.Currency.Code,
			Status:         models.ReservationActive,
			CreatedAt:      now,
			ExpiresAt:      expiresAt,
			UpdatedAt:      now,
		}
		if err := tx.Reservations().Create(ctx, &res); err != nil {
			return err
		}
		if err := recordHold(ctx, tx, res, res.ReservedAmount, now); err != nil {
			return err
		}

		result.Reservation = res
		return nil
	})
	if err != nil {
		uc.log.Warn("Reservation rejected",
			logger.StringField("auction_id", req.AuctionID),
			logger.StringField("bidder_id", req.BidderID),
			logger.DecimalField("amount", req.MinimumAmount),
			logger.ErrorField("error", err))
		return nil, err
	}

	uc.log.Info("Funds reserved",
		logger.StringField("reservation_id", result.Reservation.ID.String()),
		logger.StringField("auction_id", req.AuctionID),
		logger.StringField("bidder_id", req.BidderID),
		logger.DecimalField("reserved_amount", result.Reservation.ReservedAmount),
		logger.AnyField("extended", result.Extended))
	return &result, nil
}

// extend raises an existing hold to max(existing, minimum) and never shortens its lifetime.
func (uc *reservationUsecase) extend(ctx context.Context, tx repository.Tx, existing *models.Reservation, minimum, available decimal.Decimal, expiresAt, now time.Time, result *ReserveResult) error {
	target := decimal.Max(existing.ReservedAmount, minimum)
	if available.LessThan(target) {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientFunds, available, target)
	}
	if existing.ExpiresAt.After(expiresAt) {
		expiresAt = existing.ExpiresAt
	}

	if err := tx.Reservations().UpdateAmount(ctx, existing.ID, target, expiresAt, now); err != nil {
		return err
	}

	updated := *existing
	updated.ReservedAmount = target
	updated.ExpiresAt = expiresAt
	updated.UpdatedAt = now
	if delta := target.Sub(existing.ReservedAmount); delta.IsPositive() {
		if err := recordHold(ctx, tx, updated, delta, now); err != nil {
			return err
		}
	}
	result.Reservation = updated
	result.Extended = true
	return nil
}

// activeForUpdate returns the pair's live reservation. A row still stored as ACTIVE
// past its expiry is marked EXPIRED first so it can neither block nor fund the pair.
func (uc *reservationUsecase) activeForUpdate(ctx context.Context, tx repository.Tx, auctionID, bidderID string, now time.Time) (*models.Reservation, error) {
	existing, err := tx.Reservations().GetActiveByPair(ctx, auctionID, bidderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.IsActiveAt(now) {
		return existing, nil
	}
	if err := expire(ctx, tx, *existing, now); err != nil {
		return nil, err
	}
	return nil, nil
}

func (uc *reservationUsecase) Release(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error) {
	var released models.Reservation
	err := uc.run(ctx, "reservation.release", func(ctx context.Context, tx repository.Tx) error {
		var err error
		released, err = releaseReservation(ctx, tx, reservationID, uc.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	uc.log.Info("Reservation released",
		logger.StringField("reservation_id", reservationID.String()),
		logger.StringField("auction_id", released.AuctionID))
	return &released, nil
}

func releaseReservation(ctx context.Context, tx repository.Tx, reservationID uuid.UUID, now time.Time) (models.Reservation, error) {
	res, err := tx.Reservations().GetByIDForUpdate(ctx, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Reservation{}, fmt.Errorf("reservation %s %w", reservationID, ErrNotFound)
		}
		return models.Reservation{}, err
	}
	if res.Status != models.ReservationActive {
		return models.Reservation{}, fmt.Errorf("%w: reservation %s is %s", ErrInvalidStateTransition, reservationID, res.Status)
	}

	if err := tx.Reservations().UpdateStatus(ctx, res.ID, models.ReservationActive, models.ReservationReleased, now); err != nil {
		return models.Reservation{}, err
	}
	if err := recordRelease(ctx, tx, *res, "release", now); err != nil {
		return models.Reservation{}, err
	}

	res.Status = models.ReservationReleased
	res.UpdatedAt = now
	return *res, nil
}

func expire(ctx context.Context, tx repository.Tx, res models.Reservation, now time.Time) error {
	if err := tx.Reservations().UpdateStatus(ctx, res.ID, models.ReservationActive, models.ReservationExpired, now); err != nil {
		return err
	}
	return recordRelease(ctx, tx, res, "expire", now)
}

// recordHold writes the RESERVE entry for amount newly held by res. res carries the
// hold total after the change; totals only grow, so the key is unique per change.
func recordHold(ctx context.Context, tx repository.Tx, res models.Reservation, amount decimal.Decimal, now time.Time) error {
	return recordAudit(ctx, tx, models.Transaction{
		ID:         models.IdempotencyKey("reserve", res.ID.String(), res.ReservedAmount.String()),
		WalletID:   res.WalletID,
		WalletKind: res.WalletKind,
		Type:       models.TransactionReserve,
		Amount:     amount,
		Currency:   res.Currency,
		Reference:  res.ID.String(),
		CreatedAt:  now,
	})
}

func recordRelease(ctx context.Context, tx repository.Tx, res models.Reservation, cause string, now time.Time) error {
	return recordAudit(ctx, tx, models.Transaction{
		ID:         models.IdempotencyKey("release", res.ID.String()),
		WalletID:   res.WalletID,
		WalletKind: res.WalletKind,
		Type:       models.TransactionRelease,
		Amount:     res.ReservedAmount,
		Currency:   res.Currency,
		Reference:  cause + ":" + res.ID.String(),
		CreatedAt:  now,
	})
}

// ExpireSweep is safe to call repeatedly; a second call at the same instant finds nothing to do.
func (uc *reservationUsecase) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := uc.run(ctx, "reservation.expire_sweep", func(ctx context.Context, tx repository.Tx) error {
		expired, err := tx.Reservations().ExpireBefore(ctx, now)
		if err != nil {
			return err
		}
		for _, res := range expired {
			if err := recordRelease(ctx, tx, res, "expire", now); err != nil {
				return err
			}
		}
		count = len(expired)
		return nil
	})
	if err != nil {
		uc.log.Error("Expiry sweep failed", logger.ErrorField("error", err))
		return 0, err
	}

	metrics.AddExpired(count)
	if count > 0 {
		uc.log.Info("Expired reservations", logger.IntField("count", count))
	}
	return count, nil
}

// GetActive resolves expiry by wall clock: a stale ACTIVE row is reported as missing.
func (uc *reservationUsecase) GetActive(ctx context.Context, auctionID, bidderID string) (*models.Reservation, error) {
	var active *models.Reservation
	err := uc.run(ctx, "reservation.get_active", func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.Reservations().GetActiveByPair(ctx, auctionID, bidderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		if res.IsActiveAt(uc.now()) {
			active = res
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, fmt.Errorf("%w: auction %s, bidder %s", ErrReservationMissing, auctionID, bidderID)
	}
	return active, nil
}

// NotifyExpiring announces reservations that expire within window. Each reservation is
// announced at most once while the de-dup marker lives. A failed delivery clears the marker
// and is not counted.
func (uc *reservationUsecase) NotifyExpiring(ctx context.Context, window time.Duration) (int, error) {
	now := uc.now()
	var expiring []models.Reservation
	err := uc.run(ctx, "reservation.list_expiring", func(ctx context.Context, tx repository.Tx) error {
		var err error
		expiring, err = tx.Reservations().ListExpiringBetween(ctx, now, now.Add(window))
		return err
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, res := range expiring {
		if uc.dedup != nil {
			first, err := uc.dedup.FirstNotice(ctx, res.ID, window)
			if err != nil {
				uc.log.Warn("Expiry de-dup unavailable", logger.ErrorField("error", err))
			} else if !first {
				continue
			}
		}

		e := events.ReservationExpiring{
			ReservationID:  res.ID.String(),
			AuctionID:      res.AuctionID,
			BidderID:       res.BidderID,
			ReservedAmount: res.ReservedAmount.String(),
			Currency:       res.Currency,
			ExpiresAtMs:    res.ExpiresAt.UnixMilli(),
			TsUnixMs:       now.UnixMilli(),
		}
		delivered := uc.notify(ctx, "reservation_expiring", func(ctx context.Context, n Notifier) error {
			return n.ReservationExpiring(ctx, e)
		})
		if !delivered {
			// let the next tick try again
			if uc.dedup != nil {
				if err := uc.dedup.Forget(ctx, res.ID); err != nil {
					uc.log.Warn("Expiry de-dup marker not cleared",
						logger.StringField("reservation_id", res.ID.String()),
						logger.ErrorField("error", err))
				}
			}
			continue
		}
		sent++
	}
	return sent, nil
}
