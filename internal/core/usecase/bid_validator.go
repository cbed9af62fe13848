package usecase

import (
	"context"
	"errors"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/metrics"
	"github.com/shopspring/decimal"
)

const (
	msgNoReservation   = "no funded reservation"
	msgExceedsReserved = "bid exceeds reserved amount"
	msgCovered         = "bid is covered by reservation"
)

type BidValidation struct {
	IsValid       bool            `json:"is_valid"`
	Message       string          `json:"message"`
	MaxAllowedBid decimal.Decimal `json:"max_allowed_bid"`
}

type BidValidator interface {
	ValidateBid(ctx context.Context, auctionID, bidderID string, bidAmount decimal.Decimal) (*BidValidation, error)
}

// bidValidator only reads through the reservation manager.
type bidValidator struct {
	reservations ReservationUsecase
	log          logger.Logger
}

func NewBidValidator(reservations ReservationUsecase, log logger.Logger) BidValidator {
	return &bidValidator{reservations: reservations, log: log}
}

func (v *bidValidator) ValidateBid(ctx context.Context, auctionID, bidderID string, bidAmount decimal.Decimal) (*BidValidation, error) {
	if !bidAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	res, err := v.reservations.GetActive(ctx, auctionID, bidderID)
	if err != nil {
		if !errors.Is(err, ErrReservationMissing) {
			return nil, err
		}
		metrics.IncBidValidation(false)
		return &BidValidation{IsValid: false, Message: msgNoReservation, MaxAllowedBid: decimal.Zero}, nil
	}

	if bidAmount.GreaterThan(res.ReservedAmount) {
		metrics.IncBidValidation(false)
		v.log.Debug("Bid exceeds reservation",
			logger.StringField("auction_id", auctionID),
			logger.StringField("bidder_id", bidderID),
			logger.DecimalField("bid", bidAmount),
			logger.DecimalField("reserved", res.ReservedAmount))
		return &BidValidation{IsValid: false, Message: msgExceedsReserved, MaxAllowedBid: res.ReservedAmount}, nil
	}

	metrics.IncBidValidation(true)
	return &BidValidation{IsValid: true, Message: msgCovered, MaxAllowedBid: res.ReservedAmount}, nil
}
