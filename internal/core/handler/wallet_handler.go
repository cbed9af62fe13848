package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/usecase"
	"github.com/gorilla/mux"
)

type WalletHandler struct {
	usecase usecase.WalletUsecase
	log     logger.Logger
}

type HistoryResponse struct {
	OwnerID      string               `json:"owner_id"`
	Transactions []models.Transaction `json:"transactions"`
}

func NewWalletHandler(usecase usecase.WalletUsecase, log logger.Logger) *WalletHandler {
	return &WalletHandler{usecase: usecase, log: log}
}

// RegisterRoutes mounts the wallet routes on a router already scoped to /api/v1.
func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/wallets/{ownerId}", h.GetWallet).Methods(http.MethodGet)
	router.HandleFunc("/wallets/{ownerId}/available", h.AvailableBalance).Methods(http.MethodGet)
	router.HandleFunc("/wallets/{ownerId}/transactions", h.History).Methods(http.MethodGet)
	router.HandleFunc("/wallets/{ownerId}/reconcile", h.Reconcile).Methods(http.MethodGet)
	router.HandleFunc("/wallets/{ownerId}/deactivate", h.Deactivate).Methods(http.MethodPost)
}

// ownerFrom resolves the path owner and rejects bidders reading someone else's wallet.
func (h *WalletHandler) ownerFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := mux.Vars(r)["ownerId"]
	if !actsFor(principal(r), ownerID) {
		respondWithError(w, http.StatusForbidden, "forbidden")
		return "", false
	}
	return ownerID, true
}

func kindFrom(r *http.Request) models.SubWalletKind {
	kind := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind == "" {
		return models.SubWalletLocal
	}
	return models.SubWalletKind(kind)
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFrom(w, r)
	if !ok {
		return
	}
	wallet, err := h.usecase.GetWallet(r.Context(), ownerID)
	if err != nil {
		handleOperationError(w, h.log, "wallet.get", err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) AvailableBalance(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFrom(w, r)
	if !ok {
		return
	}
	balance, err := h.usecase.AvailableBalance(r.Context(), ownerID, kindFrom(r))
	if err != nil {
		handleOperationError(w, h.log, "wallet.available", err)
		return
	}
	respondWithJSON(w, http.StatusOK, balance)
}

func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFrom(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.usecase.History(r.Context(), ownerID, limit)
	if err != nil {
		handleOperationError(w, h.log, "wallet.history", err)
		return
	}
	if entries == nil {
		entries = []models.Transaction{}
	}
	respondWithJSON(w, http.StatusOK, HistoryResponse{OwnerID: ownerID, Transactions: entries})
}

func (h *WalletHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.usecase.Reconcile(r.Context(), principal(r), mux.Vars(r)["ownerId"], kindFrom(r))
	if err != nil {
		handleOperationError(w, h.log, "wallet.reconcile", err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (h *WalletHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.usecase.Deactivate(r.Context(), principal(r), mux.Vars(r)["ownerId"]); err != nil {
		handleOperationError(w, h.log, "wallet.deactivate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
