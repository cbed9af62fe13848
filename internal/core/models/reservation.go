package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationUsed     ReservationStatus = "USED"
	ReservationExpired  ReservationStatus = "EXPIRED"
)

// Reservation is a provisional hold on a bidder's balance for one auction.
type Reservation struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	AuctionID      string            `json:"auction_id" db:"auction_id"`
	BidderID       string            `json:"bidder_id" db:"bidder_id"`
	WalletID       uuid.UUID         `json:"wallet_id" db:"wallet_id"`
	WalletKind     SubWalletKind     `json:"wallet_kind" db:"wallet_kind"`
	ReservedAmount decimal.Decimal   `json:"reserved_amount" db:"reserved_amount"`
	Currency       string            `json:"currency" db:"currency"`
	Status         ReservationStatus `json:"status" db:"status"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at" db:"expires_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// IsActiveAt resolves expiry by wall-clock time; a stored ACTIVE flag is not enough.
func (r *Reservation) IsActiveAt(now time.Time) bool {
	return r.Status == ReservationActive && r.ExpiresAt.After(now)
}

func (s ReservationStatus) Terminal() bool {
	return s != ReservationActive
}
