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

type reservationRepo struct {
	q sqlx.ExtContext
}

const reservationColumns = `id, auction_id, bidder_id, wallet_id, wallet_kind, reserved_amount, currency,
	status, created_at, expires_at, updated_at`

const selectReservation = `SELECT ` + reservationColumns + ` FROM reservations`

func (r *reservationRepo) Create(ctx context.Context, res *models.Reservation) error {
	const query = `INSERT INTO reservations (` + reservationColumns + `)
		VALUES (:id, :auction_id, :bidder_id, :wallet_id, :wallet_kind, :reserved_amount, :currency,
			:status, :created_at, :expires_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, r.q, query, res); err != nil {
		return mapError("create reservation", err)
	}
	return nil
}

func (r *reservationRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var res models.Reservation
	if err := sqlx.GetContext(ctx, r.q, &res, selectReservation+` WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, mapError(fmt.Sprintf("get reservation %s", id), err)
	}
	return &res, nil
}

func (r *reservationRepo) GetActiveByPair(ctx context.Context, auctionID, bidderID string) (*models.Reservation, error) {
	var res models.Reservation
	query := selectReservation + ` WHERE auction_id = $1 AND bidder_id = $2 AND status = 'ACTIVE' FOR UPDATE`
	if err := sqlx.GetContext(ctx, r.q, &res, query, auctionID, bidderID); err != nil {
		return nil, mapError("get active reservation", err)
	}
	return &res, nil
}

func (r *reservationRepo) ListActiveByAuction(ctx context.Context, auctionID string, now time.Time) ([]models.Reservation, error) {
	var list []models.Reservation
	query := selectReservation + ` WHERE auction_id = $1 AND status = 'ACTIVE' AND expires_at > $2 ORDER BY created_at`
	if err := sqlx.SelectContext(ctx, r.q, &list, query, auctionID, now); err != nil {
		return nil, mapError("list auction reservations", err)
	}
	return list, nil
}

func (r *reservationRepo) SumActiveByBidder(ctx context.Context, bidderID, currency string, now time.Time, excludeID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	const query = `SELECT COALESCE(SUM(reserved_amount), 0) FROM reservations
		WHERE bidder_id = $1 AND currency = $2 AND status = 'ACTIVE' AND expires_at > $3 AND id <> $4`
	if err := sqlx.GetContext(ctx, r.q, &sum, query, bidderID, currency, now, excludeID); err != nil {
		return decimal.Zero, mapError("sum active reservations", err)
	}
	return sum, nil
}

func (r *reservationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.ReservationStatus, now time.Time) error {
	const query = `UPDATE reservations SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.q.ExecContext(ctx, query, to, now, id, from)
	if err != nil {
		return mapError("update reservation status", err)
	}
	if err := expectOneRow(res, "update reservation status"); err != nil {
		return fmt.Errorf("reservation %s is no longer %s: %w", id, from, repository.ErrConflict)
	}
	return nil
}

func (r *reservationRepo) UpdateAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal, expiresAt, now time.Time) error {
	const query = `UPDATE reservations SET reserved_amount = $1, expires_at = $2, updated_at = $3
		WHERE id = $4 AND status = 'ACTIVE'`
	res, err := r.q.ExecContext(ctx, query, amount, expiresAt, now, id)
	if err != nil {
		return mapError("extend reservation", err)
	}
	if err := expectOneRow(res, "extend reservation"); err != nil {
		return fmt.Errorf("reservation %s is no longer active: %w", id, repository.ErrConflict)
	}
	return nil
}

func (r *reservationRepo) ExpireBefore(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	var expired []models.Reservation
	query := `UPDATE reservations SET status = 'EXPIRED', updated_at = $1
		WHERE status = 'ACTIVE' AND expires_at <= $1
		RETURNING ` + reservationColumns
	if err := sqlx.SelectContext(ctx, r.q, &expired, query, now); err != nil {
		return nil, mapError("expire reservations", err)
	}
	return expired, nil
}

func (r *reservationRepo) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Reservation, error) {
	var list []models.Reservation
	query := selectReservation + ` WHERE status = 'ACTIVE' AND expires_at > $1 AND expires_at <= $2 ORDER BY expires_at`
	if err := sqlx.SelectContext(ctx, r.q, &list, query, from, to); err != nil {
		return nil, mapError("list expiring reservations", err)
	}
	return list, nil
}
