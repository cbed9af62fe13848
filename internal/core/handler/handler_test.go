package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/handler"
	"github.com/Nzyazin/bidfunds/internal/core/middleware"
	"github.com/Nzyazin/bidfunds/internal/core/notification"
	"github.com/Nzyazin/bidfunds/internal/core/repository/memory"
	"github.com/Nzyazin/bidfunds/internal/core/usecase"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var secret = []byte("test-secret")

type testAPI struct {
	t      *testing.T
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.NewStore()
	notifier := notification.NewLogNotifier(log)
	cfg := usecase.Config{OperationTimeout: 2 * time.Second}

	reservations := usecase.NewReservationUsecase(store, notifier, notification.NewMemoryDeduper(time.Now), log, cfg)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(secret, log))
	handler.NewWalletHandler(usecase.NewWalletUsecase(store, log, cfg), log).RegisterRoutes(api)
	handler.NewReservationHandler(reservations, log).RegisterRoutes(api)
	handler.NewAuctionHandler(
		usecase.NewBidValidator(reservations, log),
		usecase.NewSettlementUsecase(store, reservations, notifier, log, cfg),
		log,
	).RegisterRoutes(api)
	handler.NewDepositHandler(usecase.NewDepositUsecase(store, notifier, log, cfg), log).RegisterRoutes(api)

	return &testAPI{t: t, router: router}
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	claims := middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func (a *testAPI) do(method, path, subject, role string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(a.t, subject, role))
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

// deposit submits and approves a LOCAL deposit for owner.
func (a *testAPI) deposit(owner, amount, reference string) {
	a.t.Helper()
	rec, body := a.do(http.MethodPost, "/api/v1/deposits", "fin-1", "finance", map[string]string{
		"user_id":   owner,
		"amount":    amount,
		"reference": reference,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = a.do(http.MethodPost, "/api/v1/deposits/"+body["id"].(string)+"/approve", "fin-1", "finance", nil)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.do(http.MethodGet, "/api/v1/wallets/bidder-1", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["error"])

	rec, _ = api.do(http.MethodGet, "/api/v1/wallets/bidder-1", "bidder-1", "auditor", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDepositFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.do(http.MethodPost, "/api/v1/deposits", "bidder-1", "bidder", map[string]string{
		"user_id": "bidder-1", "amount": "100", "reference": "self-credit",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := api.do(http.MethodPost, "/api/v1/deposits", "fin-1", "finance", map[string]string{
		"user_id": "bidder-1", "amount": "1000", "fees": "20", "reference": "card-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "PENDING", body["status"])
	id := body["id"].(string)

	rec, _ = api.do(http.MethodPost, "/api/v1/deposits/"+id+"/approve", "bidder-1", "bidder", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = api.do(http.MethodPost, "/api/v1/deposits/"+id+"/approve", "fin-1", "finance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "980", body["amount"])
	assert.Equal(t, false, body["replayed"])

	rec, body = api.do(http.MethodPost, "/api/v1/deposits/"+id+"/approve", "adm-1", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["replayed"])

	rec, _ = api.do(http.MethodPost, "/api/v1/deposits/"+id+"/cancel", "fin-1", "finance", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = api.do(http.MethodGet, "/api/v1/deposits/"+id, "bidder-1", "bidder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COMPLETED", body["status"])

	rec, _ = api.do(http.MethodGet, "/api/v1/deposits/"+id, "bidder-2", "bidder", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = api.do(http.MethodGet, "/api/v1/wallets/bidder-1/available", "bidder-1", "bidder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "980", body["available"])

	rec, _ = api.do(http.MethodGet, "/api/v1/wallets/bidder-1", "bidder-2", "bidder", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/deposits/not-a-uuid", "fin-1", "finance", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuctionLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.deposit("bidder-1", "5000", "fund-1")
	api.deposit("bidder-2", "1000", "fund-2")

	rec, body := api.do(http.MethodPost, "/api/v1/reservations", "bidder-1", "bidder", map[string]interface{}{
		"auction_id": "auction-A", "minimum_amount": "2000", "duration_hours": 24,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "bidder-1", body["bidder_id"])
	assert.Equal(t, false, body["extended"])

	rec, body = api.do(http.MethodPost, "/api/v1/reservations", "bidder-1", "bidder", map[string]interface{}{
		"auction_id": "auction-A", "minimum_amount": "3000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["extended"])
	assert.Equal(t, "3000", body["reserved_amount"])

	rec, _ = api.do(http.MethodPost, "/api/v1/reservations", "bidder-2", "bidder", map[string]interface{}{
		"auction_id": "auction-A", "minimum_amount": "1500",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = api.do(http.MethodPost, "/api/v1/reservations", "bidder-2", "bidder", map[string]interface{}{
		"auction_id": "auction-A", "bidder_id": "bidder-1", "minimum_amount": "10",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = api.do(http.MethodPost, "/api/v1/reservations", "bidder-2", "bidder", map[string]interface{}{
		"auction_id": "auction-A", "minimum_amount": "800",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	loserReservation := body["id"].(string)

	rec, body = api.do(http.MethodPost, "/api/v1/auctions/auction-A/bids/validate", "auction-lifecycle", "system", map[string]string{
		"bidder_id": "bidder-1", "bid_amount": "3500",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["is_valid"])
	assert.Equal(t, "3000", body["max_allowed_bid"])

	rec, _ = api.do(http.MethodPost, "/api/v1/auctions/auction-A/bids/validate", "bidder-2", "bidder", map[string]string{
		"bidder_id": "bidder-1", "bid_amount": "100",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, "bidders cannot read another bidder's hold")

	rec, body = api.do(http.MethodPost, "/api/v1/auctions/auction-A/bids/validate", "bidder-2", "bidder", map[string]string{
		"bidder_id": "bidder-2", "bid_amount": "800",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_valid"])

	rec, _ = api.do(http.MethodPost, "/api/v1/auctions/auction-A/settlement", "bidder-1", "bidder", map[string]string{
		"winner_id": "bidder-1", "final_bid_amount": "2800",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = api.do(http.MethodPost, "/api/v1/auctions/auction-A/settlement", "auction-lifecycle", "system", map[string]string{
		"winner_id": "bidder-1", "final_bid_amount": "2800",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, false, body["already_settled"])
	txID := body["transaction_id"]

	rec, body = api.do(http.MethodPost, "/api/v1/auctions/auction-A/settlement", "auction-lifecycle", "system", map[string]string{
		"winner_id": "bidder-1", "final_bid_amount": "2800",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["already_settled"])
	assert.Equal(t, txID, body["transaction_id"])

	rec, body = api.do(http.MethodGet, "/api/v1/wallets/bidder-1/available", "bidder-1", "bidder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2200", body["balance"])
	assert.Equal(t, "2200", body["available"])

	rec, _ = api.do(http.MethodGet, "/api/v1/auctions/auction-A/reservations/bidder-2", "bidder-2", "bidder", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// already released by the settlement
	rec, _ = api.do(http.MethodPost, "/api/v1/reservations/"+loserReservation+"/release", "adm-1", "admin", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = api.do(http.MethodGet, "/api/v1/wallets/bidder-1/transactions?limit=1", "bidder-1", "bidder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["transactions"], 1)
	assert.Equal(t, "SETTLEMENT", body["transactions"].([]interface{})[0].(map[string]interface{})["type"])

	rec, body = api.do(http.MethodGet, "/api/v1/wallets/bidder-1/reconcile", "fin-1", "finance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["consistent"])
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{"missing auction", "/api/v1/reservations", map[string]string{"minimum_amount": "10"}},
		{"malformed amount", "/api/v1/reservations", map[string]string{"auction_id": "a", "minimum_amount": "1e5"}},
		{"unknown kind", "/api/v1/reservations", map[string]string{"auction_id": "a", "minimum_amount": "10", "wallet_kind": "GOLD"}},
		{"negative bid", "/api/v1/auctions/a/bids/validate", map[string]string{"bidder_id": "b", "bid_amount": "-5"}},
		{"not json", "/api/v1/reservations", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := api.do(http.MethodPost, tt.path, "adm-1", "admin", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCleanupRequiresOperatorRole(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.do(http.MethodPost, "/api/v1/admin/reservations/cleanup", "bidder-1", "bidder", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := api.do(http.MethodPost, "/api/v1/admin/reservations/cleanup", "adm-1", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["expired"])
}
