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

func reserve(t *testing.T, f *fixture, auctionID, bidderID string, amount int64, hours int) *usecase.ReserveResult {
	t.Helper()
	res, err := f.reservations.Reserve(context.Background(), usecase.ReserveRequest{
		AuctionID:     auctionID,
		BidderID:      bidderID,
		MinimumAmount: decimal.NewFromInt(amount),
		DurationHours: hours,
	})
	require.NoError(t, err)
	return res
}

func TestReserveThenReleaseLeavesBalanceUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 5000)

	res := reserve(t, f, "auction-A", "bidder-1", 1000, 24)
	assert.False(t, res.Extended)
	assert.Equal(t, models.ReservationActive, res.Reservation.Status)
	assert.Equal(t, "LYD", res.Reservation.Currency)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), res.Reservation.ExpiresAt)
	assertAmount(t, "4000", f.balance(t, "bidder-1").Available)

	released, err := f.reservations.Release(ctx, res.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationReleased, released.Status)

	b := f.balance(t, "bidder-1")
	assertAmount(t, "5000", b.Balance)
	assertAmount(t, "5000", b.Available)

	_, err = f.reservations.Release(ctx, res.Reservation.ID)
	assert.ErrorIs(t, err, usecase.ErrInvalidStateTransition)

	_, err = f.reservations.Release(ctx, uuid.New())
	assert.ErrorIs(t, err, usecase.ErrNotFound)

	history, err := f.wallets.History(ctx, "bidder-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.TransactionRelease, history[0].Type)
	assert.Equal(t, models.TransactionReserve, history[1].Type)
	assert.Equal(t, models.TransactionDeposit, history[2].Type)
}

func TestReserveFailsWithoutFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 500)

	_, err := f.reservations.Reserve(ctx, usecase.ReserveRequest{
		AuctionID: "auction-A", BidderID: "bidder-1", MinimumAmount: decimal.NewFromInt(501), DurationHours: 24,
	})
	assert.ErrorIs(t, err, usecase.ErrInsufficientFunds)
	assert.Empty(t, f.activeRows(t, "auction-A"))

	_, err = f.reservations.Reserve(ctx, usecase.ReserveRequest{
		AuctionID: "auction-A", BidderID: "fresh-bidder", MinimumAmount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, usecase.ErrInsufficientFunds)

	_, err = f.wallets.GetWallet(ctx, "fresh-bidder")
	assert.ErrorIs(t, err, usecase.ErrWalletNotFound, "a rejected reserve must not leave a wallet behind")
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  usecase.ReserveRequest
		want error
	}{
		{"missing auction", usecase.ReserveRequest{BidderID: "b", MinimumAmount: decimal.NewFromInt(1)}, usecase.ErrValidation},
		{"zero amount", usecase.ReserveRequest{AuctionID: "a", BidderID: "b"}, usecase.ErrInvalidAmount},
		{"negative duration", usecase.ReserveRequest{AuctionID: "a", BidderID: "b", MinimumAmount: decimal.NewFromInt(1), DurationHours: -1}, usecase.ErrValidation},
		{"unknown kind", usecase.ReserveRequest{AuctionID: "a", BidderID: "b", MinimumAmount: decimal.NewFromInt(1), WalletKind: "GOLD"}, usecase.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reservations.Reserve(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReserveExtendsExistingReservation(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "bidder-1", 5000)

	first := reserve(t, f, "auction-A", "bidder-1", 1000, 2)

	f.clock.Advance(time.Hour)
	larger := reserve(t, f, "auction-A", "bidder-1", 2000, 24)
	assert.True(t, larger.Extended)
	assert.Equal(t, first.Reservation.ID, larger.Reservation.ID)
	assertAmount(t, "2000", larger.Reservation.ReservedAmount)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), larger.Reservation.ExpiresAt)

	smaller := reserve(t, f, "auction-A", "bidder-1", 500, 1)
	assert.True(t, smaller.Extended)
	assertAmount(t, "2000", smaller.Reservation.ReservedAmount)
	assert.Equal(t, larger.Reservation.ExpiresAt, smaller.Reservation.ExpiresAt, "extension never shortens a hold")

	assert.Len(t, f.activeRows(t, "auction-A"), 1)
	assertAmount(t, "3000", f.balance(t, "bidder-1").Available)
}

func TestReserveExtensionIsBoundedByAvailableBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 3000)

	reserve(t, f, "auction-A", "bidder-1", 1000, 24)
	reserve(t, f, "auction-B", "bidder-1", 1500, 24)

	_, err := f.reservations.Reserve(ctx, usecase.ReserveRequest{
		AuctionID: "auction-A", BidderID: "bidder-1", MinimumAmount: decimal.NewFromInt(1600), DurationHours: 24,
	})
	assert.ErrorIs(t, err, usecase.ErrInsufficientFunds)

	ok := reserve(t, f, "auction-A", "bidder-1", 1500, 24)
	assertAmount(t, "1500", ok.Reservation.ReservedAmount)
	assertAmount(t, "0", f.balance(t, "bidder-1").Available)
}

func TestReserveAcrossAuctionsCannotOverCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 5000)

	reserve(t, f, "auction-A", "bidder-1", 3000, 24)

	_, err := f.reservations.Reserve(ctx, usecase.ReserveRequest{
		AuctionID: "auction-B", BidderID: "bidder-1", MinimumAmount: decimal.NewFromInt(3000), DurationHours: 24,
	})
	assert.ErrorIs(t, err, usecase.ErrInsufficientFunds)
}

func TestConcurrentReserveForSamePairKeepsOneActiveRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 3000)

	const goroutines = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := f.reservations.Reserve(ctx, usecase.ReserveRequest{
				AuctionID: "auction-A", BidderID: "bidder-1", MinimumAmount: decimal.NewFromInt(2000), DurationHours: 24,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	rows := f.activeRows(t, "auction-A")
	require.Len(t, rows, 1)
	assertAmount(t, "2000", rows[0].ReservedAmount)
	assertAmount(t, "1000", f.balance(t, "bidder-1").Available)
}

func TestGetActiveIgnoresExpiredReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 5000)

	res := reserve(t, f, "auction-A", "bidder-1", 1000, 1)

	got, err := f.reservations.GetActive(ctx, "auction-A", "bidder-1")
	require.NoError(t, err)
	assert.Equal(t, res.Reservation.ID, got.ID)

	f.clock.Advance(time.Hour + time.Second)

	_, err = f.reservations.GetActive(ctx, "auction-A", "bidder-1")
	assert.ErrorIs(t, err, usecase.ErrReservationMissing)

	renewed := reserve(t, f, "auction-A", "bidder-1", 800, 1)
	assert.False(t, renewed.Extended)
	assert.NotEqual(t, res.Reservation.ID, renewed.Reservation.ID)
	assert.Len(t, f.activeRows(t, "auction-A"), 1)
}

func TestExpireSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 5000)
	f.fund(t, "bidder-2", 5000)

	short := reserve(t, f, "auction-A", "bidder-1", 1000, 1)
	reserve(t, f, "auction-A", "bidder-2", 1000, 48)

	f.clock.Advance(2 * time.Hour)

	n, err := f.reservations.ExpireSweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.reservations.ExpireSweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = f.reservations.Release(ctx, short.Reservation.ID)
	assert.ErrorIs(t, err, usecase.ErrInvalidStateTransition)

	rows := f.activeRows(t, "auction-A")
	require.Len(t, rows, 1)
	assert.Equal(t, "bidder-2", rows[0].BidderID)
}

func TestNotifyExpiringSendsOncePerReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 5000)

	soon := reserve(t, f, "auction-A", "bidder-1", 1000, 1)
	reserve(t, f, "auction-B", "bidder-1", 1000, 48)

	sent, err := f.reservations.NotifyExpiring(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = f.reservations.NotifyExpiring(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	require.Len(t, f.notifier.expiring, 1)
	assert.Equal(t, soon.Reservation.ID.String(), f.notifier.expiring[0].ReservationID)
	assert.Equal(t, "1000", f.notifier.expiring[0].ReservedAmount)
}

func TestNotifierFailureDoesNotFailSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 5000)
	reserve(t, f, "auction-A", "bidder-1", 1000, 1)

	f.notifier.fail = true
	sent, err := f.reservations.NotifyExpiring(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, sent)

	f.notifier.fail = false
	sent, err = f.reservations.NotifyExpiring(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "failed notice is retried on the next run")
	assert.Len(t, f.notifier.expiring, 1)
}

func TestReserveDoublingHoldRecordsEachIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 10000)

	reserve(t, f, "auction-A", "bidder-1", 1000, 24)
	reserve(t, f, "auction-A", "bidder-1", 2000, 24)
	doubled := reserve(t, f, "auction-A", "bidder-1", 4000, 24)
	assert.True(t, doubled.Extended)
	assertAmount(t, "4000", doubled.Reservation.ReservedAmount)
	assertAmount(t, "6000", f.balance(t, "bidder-1").Available)

	history, err := f.wallets.History(ctx, "bidder-1", 0)
	require.NoError(t, err)
	var holds []string
	for _, tx := range history {
		if tx.Type == models.TransactionReserve {
			holds = append(holds, tx.Amount.String())
		}
	}
	assert.ElementsMatch(t, []string{"1000", "1000", "2000"}, holds)
}

func TestExpireSweepIncludesReservationExpiringNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bidder-1", 5000)
	res := reserve(t, f, "auction-A", "bidder-1", 1000, 1)

	f.clock.Advance(time.Hour)
	n, err := f.reservations.ExpireSweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.ReservationExpired, reservationByID(t, f, res.Reservation.ID).Status)
}
