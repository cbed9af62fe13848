package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateConcurrentCallsYieldOneWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const goroutines = 50
	ids := make(chan uuid.UUID, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			w, err := f.wallets.GetOrCreate(ctx, "owner-1")
			if assert.NoError(t, err) {
				ids <- w.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	distinct := map[uuid.UUID]struct{}{}
	for id := range ids {
		distinct[id] = struct{}{}
	}
	assert.Len(t, distinct, 1)

	w, err := f.wallets.GetWallet(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, w.IsActive)
	assert.Equal(t, "LYD", w.Local.Currency)
	assert.Equal(t, "USD", w.Global.Currency)
	assert.Equal(t, "USDT", w.Crypto.Currency)
	assertAmount(t, "0", w.Local.Balance)
}

func TestGetWalletNeverFabricates(t *testing.T) {
	f := newFixture(t)

	_, err := f.wallets.GetWallet(context.Background(), "nobody")
	assert.ErrorIs(t, err, usecase.ErrWalletNotFound)
	assert.ErrorIs(t, err, usecase.ErrNotFound)
}

func TestCreditValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, err := f.wallets.GetOrCreate(ctx, "owner-1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		kind     models.SubWalletKind
		amount   string
		currency string
		want     error
	}{
		{"zero amount", models.SubWalletLocal, "0", "LYD", usecase.ErrInvalidAmount},
		{"negative amount", models.SubWalletLocal, "-5", "LYD", usecase.ErrInvalidAmount},
		{"wrong currency", models.SubWalletLocal, "10", "USD", usecase.ErrCurrencyMismatch},
		{"too many digits", models.SubWalletGlobal, "1.001", "USD", usecase.ErrValidation},
		{"unknown kind", models.SubWalletKind("GOLD"), "1", "XAU", usecase.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.wallets.Credit(ctx, w.ID, tt.kind, decimal.RequireFromString(tt.amount), tt.currency, "ref-"+tt.name)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	history, err := f.wallets.History(ctx, "owner-1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCreditAndDebitKeepBalanceNonNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, err := f.wallets.GetOrCreate(ctx, "owner-1")
	require.NoError(t, err)

	balance, err := f.wallets.Credit(ctx, w.ID, models.SubWalletCrypto, decimal.RequireFromString("100.123456"), "USDT", "topup-1")
	require.NoError(t, err)
	assertAmount(t, "100.123456", balance)

	_, err = f.wallets.Debit(ctx, w.ID, models.SubWalletCrypto, decimal.NewFromInt(150), "payout-1")
	assert.ErrorIs(t, err, usecase.ErrInsufficientFunds)

	balance, err = f.wallets.Debit(ctx, w.ID, models.SubWalletCrypto, decimal.RequireFromString("100.123456"), "payout-2")
	require.NoError(t, err)
	assertAmount(t, "0", balance)

	_, err = f.wallets.Debit(ctx, w.ID, models.SubWalletCrypto, decimal.RequireFromString("0.000001"), "payout-3")
	assert.ErrorIs(t, err, usecase.ErrInsufficientFunds)

	history, err := f.wallets.History(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.TransactionSettlement, history[0].Type)
	assert.Equal(t, models.TransactionDeposit, history[1].Type)
}

func TestCreditReplayWithSameReferenceIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, err := f.wallets.GetOrCreate(ctx, "owner-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		balance, err := f.wallets.Credit(ctx, w.ID, models.SubWalletLocal, decimal.NewFromInt(250), "LYD", "card-42")
		require.NoError(t, err)
		assertAmount(t, "250", balance)
	}

	_, err = f.wallets.Credit(ctx, w.ID, models.SubWalletLocal, decimal.NewFromInt(1), "LYD", " ")
	assert.ErrorIs(t, err, usecase.ErrValidation)
}

func TestAvailableBalanceSubtractsActiveReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 5000)

	_, err := f.reservations.Reserve(ctx, usecase.ReserveRequest{
		AuctionID: "auction-A", BidderID: "bidder-1", MinimumAmount: decimal.NewFromInt(1200), DurationHours: 1,
	})
	require.NoError(t, err)

	b := f.balance(t, "bidder-1")
	assertAmount(t, "5000", b.Balance)
	assertAmount(t, "1200", b.Reserved)
	assertAmount(t, "3800", b.Available)

	f.clock.Advance(2 * time.Hour)
	b = f.balance(t, "bidder-1")
	assertAmount(t, "0", b.Reserved)
	assertAmount(t, "5000", b.Available)
}

func TestReconcileMatchesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.deposits.SubmitDeposit(ctx, usecase.SubmitDepositRequest{
		UserID: "bidder-1", Amount: decimal.NewFromInt(7000), Fees: decimal.NewFromInt(70), Reference: "bank-1",
	})
	require.NoError(t, err)
	_, err = f.deposits.ApproveDeposit(ctx, finance, d.ID)
	require.NoError(t, err)

	_, err = f.reservations.Reserve(ctx, usecase.ReserveRequest{
		AuctionID: "auction-A", BidderID: "bidder-1", MinimumAmount: decimal.NewFromInt(3000), DurationHours: 24,
	})
	require.NoError(t, err)
	_, err = f.settlement.ProcessWinningBid(ctx, system, "auction-A", "bidder-1", decimal.NewFromInt(2500))
	require.NoError(t, err)

	rec, err := f.wallets.Reconcile(ctx, admin, "bidder-1", models.SubWalletLocal)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assertAmount(t, "4430", rec.StoredBalance)
	assertAmount(t, "4430", rec.LedgerBalance)
	assertAmount(t, "0", rec.Drift)

	_, err = f.wallets.Reconcile(ctx, bidder, "bidder-1", models.SubWalletLocal)
	assert.ErrorIs(t, err, usecase.ErrForbidden)
}

func TestDeactivatedWalletRejectsMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 1000)

	assert.ErrorIs(t, f.wallets.Deactivate(ctx, finance, "bidder-1"), usecase.ErrForbidden)
	require.NoError(t, f.wallets.Deactivate(ctx, admin, "bidder-1"))

	w, err := f.wallets.GetWallet(ctx, "bidder-1")
	require.NoError(t, err)
	assert.False(t, w.IsActive)

	_, err = f.wallets.Credit(ctx, w.ID, models.SubWalletLocal, decimal.NewFromInt(1), "LYD", "late")
	assert.ErrorIs(t, err, usecase.ErrWalletInactive)

	_, err = f.reservations.Reserve(ctx, usecase.ReserveRequest{
		AuctionID: "auction-A", BidderID: "bidder-1", MinimumAmount: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, usecase.ErrWalletInactive)

	assertAmount(t, "1000", f.balance(t, "bidder-1").Balance)
}
