package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict means the unit of work lost a race and may be retried by the caller.
	ErrConflict = errors.New("concurrent update conflict")
	ErrTimeout  = errors.New("store operation timed out")
	// ErrNegativeBalance is returned when a balance update would break the non-negativity constraint.
	ErrNegativeBalance = errors.New("balance would become negative")
)

// Store runs units of work atomically. fn either fully applies or leaves no trace.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

type Tx interface {
	Wallets() WalletRepository
	Ledger() LedgerRepository
	Reservations() ReservationRepository
	Deposits() DepositRepository
	// Lock serializes units of work sharing key until the enclosing unit ends.
	Lock(ctx context.Context, key string) error
}

type WalletRepository interface {
	// GetOrCreate returns the owner's wallet, inserting it and its zero-balance sub-wallets if absent.
	GetOrCreate(ctx context.Context, ownerID string, now time.Time) (*models.Wallet, error)
	GetByOwner(ctx context.Context, ownerID string) (*models.Wallet, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	// LockSubWallet reads a sub-wallet and holds it for update until the unit ends.
	LockSubWallet(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind) (*models.SubWallet, error)
	SetBalance(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind, balance decimal.Decimal, now time.Time) error
	SetActive(ctx context.Context, walletID uuid.UUID, active bool, now time.Time) error
}

type LedgerRepository interface {
	Append(ctx context.Context, entry *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]models.Transaction, error)
	ListByWalletKind(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind) ([]models.Transaction, error)
}

type ReservationRepository interface {
	Create(ctx context.Context, r *models.Reservation) error
	// GetByIDForUpdate returns the reservation and locks it until the unit ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	// GetActiveByPair returns the row stored as ACTIVE for the pair regardless of expiry, locked for update.
	GetActiveByPair(ctx context.Context, auctionID, bidderID string) (*models.Reservation, error)
	ListActiveByAuction(ctx context.Context, auctionID string, now time.Time) ([]models.Reservation, error)
	// SumActiveByBidder sums unexpired ACTIVE holds of the bidder in currency, skipping excludeID.
	SumActiveByBidder(ctx context.Context, bidderID, currency string, now time.Time, excludeID uuid.UUID) (decimal.Decimal, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.ReservationStatus, now time.Time) error
	UpdateAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal, expiresAt, now time.Time) error
	// ExpireBefore marks every ACTIVE row with expires_at <= now as EXPIRED and returns them.
	// The boundary matches Reservation.IsActiveAt.
	ExpireBefore(ctx context.Context, now time.Time) ([]models.Reservation, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Reservation, error)
}

type DepositRepository interface {
	Create(ctx context.Context, d *models.Deposit) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, transactionID uuid.UUID, approverID string, now time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.DepositStatus, now time.Time) error
}
