package handler

import (
	"errors"
	"net/http"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// AuctionHandler serves the calls made while an auction runs and when it closes.
type AuctionHandler struct {
	bids       usecase.BidValidator
	settlement usecase.SettlementUsecase
	log        logger.Logger
}

type ValidateBidRequest struct {
	BidderID  string `json:"bidder_id" validate:"required,max=128"`
	BidAmount string `json:"bid_amount" validate:"required"`
}

type SettlementRequest struct {
	WinnerID       string `json:"winner_id" validate:"required,max=128"`
	FinalBidAmount string `json:"final_bid_amount" validate:"required"`
}

type SettlementResponse struct {
	AuctionID      string    `json:"auction_id"`
	TransactionID  uuid.UUID `json:"transaction_id"`
	AlreadySettled bool      `json:"already_settled"`
}

type CleanupResponse struct {
	Expired int `json:"expired"`
}

func NewAuctionHandler(bids usecase.BidValidator, settlement usecase.SettlementUsecase, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{bids: bids, settlement: settlement, log: log}
}

func (h *AuctionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auctions/{auctionId}/bids/validate", h.ValidateBid).Methods(http.MethodPost)
	router.HandleFunc("/auctions/{auctionId}/settlement", h.ProcessWinningBid).Methods(http.MethodPost)
	router.HandleFunc("/admin/reservations/cleanup", h.CleanupExpiredReservations).Methods(http.MethodPost)
}

func (h *AuctionHandler) ValidateBid(w http.ResponseWriter, r *http.Request) {
	var req ValidateBidRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !actsFor(principal(r), req.BidderID) {
		respondWithError(w, http.StatusForbidden, "forbidden")
		return
	}
	amount, err := parseAmount(req.BidAmount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := h.bids.ValidateBid(r.Context(), mux.Vars(r)["auctionId"], req.BidderID, amount)
	if err != nil {
		handleOperationError(w, h.log, "bid.validate", err)
		return
	}
	respondWithJSON(w, http.StatusOK, v)
}

// ProcessWinningBid answers a replayed settlement with 200 and the original transaction id.
func (h *AuctionHandler) ProcessWinningBid(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.FinalBidAmount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	auctionID := mux.Vars(r)["auctionId"]
	txID, err := h.settlement.ProcessWinningBid(r.Context(), principal(r), auctionID, req.WinnerID, amount)
	switch {
	case errors.Is(err, usecase.ErrAlreadySettled):
		respondWithJSON(w, http.StatusOK, SettlementResponse{AuctionID: auctionID, TransactionID: txID, AlreadySettled: true})
	case err != nil:
		handleOperationError(w, h.log, "settlement.process_winning_bid", err)
	default:
		respondWithJSON(w, http.StatusCreated, SettlementResponse{AuctionID: auctionID, TransactionID: txID})
	}
}

func (h *AuctionHandler) CleanupExpiredReservations(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !p.HasAnyRole(models.RoleAdmin, models.RoleSystem) {
		respondWithError(w, http.StatusForbidden, "forbidden")
		return
	}
	n, err := h.settlement.CleanupExpiredReservations(r.Context())
	if err != nil {
		handleOperationError(w, h.log, "reservation.cleanup", err)
		return
	}
	respondWithJSON(w, http.StatusOK, CleanupResponse{Expired: n})
}
