package handler

import (
	"context"
	"net/http"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type DepositHandler struct {
	usecase usecase.DepositUsecase
	log     logger.Logger
}

type SubmitDepositRequest struct {
	UserID     string `json:"user_id" validate:"required,max=128"`
	Amount     string `json:"amount" validate:"required"`
	Fees       string `json:"fees" validate:"omitempty"`
	Currency   string `json:"currency" validate:"omitempty,uppercase,max=8"`
	WalletType string `json:"wallet_type" validate:"omitempty,oneof=LOCAL GLOBAL CRYPTO"`
	Reference  string `json:"reference" validate:"required,max=255"`
}

func NewDepositHandler(usecase usecase.DepositUsecase, log logger.Logger) *DepositHandler {
	return &DepositHandler{usecase: usecase, log: log}
}

func (h *DepositHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/deposits", h.SubmitDeposit).Methods(http.MethodPost)
	router.HandleFunc("/deposits/{id}", h.GetDeposit).Methods(http.MethodGet)
	router.HandleFunc("/deposits/{id}/approve", h.ApproveDeposit).Methods(http.MethodPost)
	router.HandleFunc("/deposits/{id}/cancel", h.CancelDeposit).Methods(http.MethodPost)
	router.HandleFunc("/deposits/{id}/fail", h.FailDeposit).Methods(http.MethodPost)
}

// SubmitDeposit records an external confirmation. Only the payment side (finance, system, admin) may call it.
func (h *DepositHandler) SubmitDeposit(w http.ResponseWriter, r *http.Request) {
	if !principal(r).HasAnyRole(models.RoleAdmin, models.RoleFinance, models.RoleSystem) {
		respondWithError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req SubmitDepositRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log.Warn("Invalid deposit request", logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	fees := decimal.Zero
	if req.Fees != "" {
		if fees, err = decimal.NewFromString(req.Fees); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid fees")
			return
		}
	}

	d, err := h.usecase.SubmitDeposit(r.Context(), usecase.SubmitDepositRequest{
		UserID:     req.UserID,
		Amount:     amount,
		Fees:       fees,
		Currency:   req.Currency,
		WalletType: models.SubWalletKind(req.WalletType),
		Reference:  req.Reference,
	})
	if err != nil {
		handleOperationError(w, h.log, "deposit.submit", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, d)
}

func depositID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid deposit id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *DepositHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := depositID(w, r)
	if !ok {
		return
	}
	d, err := h.usecase.GetDeposit(r.Context(), id)
	if err != nil {
		handleOperationError(w, h.log, "deposit.get", err)
		return
	}
	if !actsFor(principal(r), d.UserID) {
		respondWithError(w, http.StatusForbidden, "forbidden")
		return
	}
	respondWithJSON(w, http.StatusOK, d)
}

func (h *DepositHandler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := depositID(w, r)
	if !ok {
		return
	}
	res, err := h.usecase.ApproveDeposit(r.Context(), principal(r), id)
	if err != nil {
		handleOperationError(w, h.log, "deposit.approve", err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *DepositHandler) CancelDeposit(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "deposit.cancel", h.usecase.CancelDeposit)
}

func (h *DepositHandler) FailDeposit(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "deposit.fail", h.usecase.FailDeposit)
}

func (h *DepositHandler) finish(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Deposit, error)) {
	id, ok := depositID(w, r)
	if !ok {
		return
	}
	d, err := fn(r.Context(), principal(r), id)
	if err != nil {
		handleOperationError(w, h.log, op, err)
		return
	}
	respondWithJSON(w, http.StatusOK, d)
}
