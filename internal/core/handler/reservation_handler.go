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

type ReservationHandler struct {
	usecase usecase.ReservationUsecase
	log     logger.Logger
}

type ReserveRequest struct {
	AuctionID     string `json:"auction_id" validate:"required,max=128"`
	BidderID      string `json:"bidder_id" validate:"omitempty,max=128"`
	MinimumAmount string `json:"minimum_amount" validate:"required"`
	DurationHours int    `json:"duration_hours" validate:"gte=0,lte=720"`
	WalletKind    string `json:"wallet_kind" validate:"omitempty,oneof=LOCAL GLOBAL CRYPTO"`
}

type ReservationResponse struct {
	models.Reservation
	Extended bool `json:"extended"`
}

func NewReservationHandler(usecase usecase.ReservationUsecase, log logger.Logger) *ReservationHandler {
	return &ReservationHandler{usecase: usecase, log: log}
}

func (h *ReservationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/reservations", h.Reserve).Methods(http.MethodPost)
	router.HandleFunc("/reservations/{id}/release", h.Release).Methods(http.MethodPost)
	router.HandleFunc("/auctions/{auctionId}/reservations/{bidderId}", h.GetActive).Methods(http.MethodGet)
}

func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log.Warn("Invalid reserve request", logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := principal(r)
	if req.BidderID == "" {
		req.BidderID = p.ID
	}
	if !actsFor(p, req.BidderID) {
		respondWithError(w, http.StatusForbidden, "forbidden")
		return
	}

	amount, err := parseAmount(req.MinimumAmount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.usecase.Reserve(r.Context(), usecase.ReserveRequest{
		AuctionID:     req.AuctionID,
		BidderID:      req.BidderID,
		MinimumAmount: amount,
		DurationHours: req.DurationHours,
		WalletKind:    models.SubWalletKind(req.WalletKind),
	})
	if err != nil {
		handleOperationError(w, h.log, "reservation.reserve", err)
		return
	}

	code := http.StatusCreated
	if res.Extended {
		code = http.StatusOK
	}
	respondWithJSON(w, code, ReservationResponse{Reservation: res.Reservation, Extended: res.Extended})
}

// Release is an operator call; bidders cannot drop a hold that backs a live bid.
func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	if !principal(r).HasAnyRole(models.RoleAdmin, models.RoleSystem) {
		respondWithError(w, http.StatusForbidden, "forbidden")
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	res, err := h.usecase.Release(r.Context(), id)
	if err != nil {
		handleOperationError(w, h.log, "reservation.release", err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *ReservationHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !actsFor(principal(r), vars["bidderId"]) {
		respondWithError(w, http.StatusForbidden, "forbidden")
		return
	}

	res, err := h.usecase.GetActive(r.Context(), vars["auctionId"], vars["bidderId"])
	if errors.Is(err, usecase.ErrReservationMissing) {
		respondWithError(w, http.StatusNotFound, "no active reservation")
		return
	}
	if err != nil {
		handleOperationError(w, h.log, "reservation.get_active", err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}
