package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/middleware"
	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/usecase"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

var amountRegexp = regexp.MustCompile(`^\d{1,15}(\.\d{1,6})?$`)

type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request payload")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid field %s: %s", strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return err
	}
	return nil
}

// parseAmount accepts a plain decimal string; sub-wallet precision is checked by the use case.
func parseAmount(amountStr string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(amountStr)
	if !amountRegexp.MatchString(cleaned) {
		return decimal.Zero, fmt.Errorf("invalid amount format: %s", cleaned)
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not parse amount: %v", err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func principal(r *http.Request) models.Principal {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p
}

// actsFor reports whether p may act on behalf of the given owner.
func actsFor(p models.Principal, ownerID string) bool {
	return p.Role != models.RoleBidder || p.ID == ownerID
}

// handleOperationError maps the use-case error taxonomy onto HTTP statuses.
func handleOperationError(w http.ResponseWriter, log logger.Logger, op string, err error) {
	status, message := http.StatusInternalServerError, "failed to process operation"
	switch {
	case errors.Is(err, usecase.ErrForbidden):
		status, message = http.StatusForbidden, "forbidden"
	case errors.Is(err, usecase.ErrWalletNotFound):
		status, message = http.StatusNotFound, "wallet not found"
	case errors.Is(err, usecase.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, usecase.ErrInvalidAmount):
		status, message = http.StatusBadRequest, "invalid amount"
	case errors.Is(err, usecase.ErrWalletInactive):
		status, message = http.StatusUnprocessableEntity, "wallet is inactive"
	case errors.Is(err, usecase.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, usecase.ErrInsufficientFunds):
		status, message = http.StatusUnprocessableEntity, "insufficient funds"
	case errors.Is(err, usecase.ErrCurrencyMismatch):
		status, message = http.StatusUnprocessableEntity, "currency mismatch"
	case errors.Is(err, usecase.ErrReservationMissing):
		status, message = http.StatusUnprocessableEntity, "no active reservation"
	case errors.Is(err, usecase.ErrReservationInsufficient):
		status, message = http.StatusUnprocessableEntity, "reservation does not cover amount"
	case errors.Is(err, usecase.ErrInvalidStateTransition):
		status, message = http.StatusConflict, "invalid state transition"
	case errors.Is(err, usecase.ErrConcurrencyConflict):
		respondWithJSON(w, http.StatusConflict, ErrorResponse{Error: "concurrent update, retry", Retryable: true})
		return
	case errors.Is(err, usecase.ErrTimeout):
		respondWithJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "timed out, retry", Retryable: true})
		return
	}

	if status == http.StatusInternalServerError {
		log.Error("Operation failed", logger.StringField("operation", op), logger.ErrorField("error", err))
	}
	respondWithError(w, status, message)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
