package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/Nzyazin/bidfunds/internal/core/repository/memory"
	"github.com/Nzyazin/bidfunds/internal/core/usecase"
	"github.com/Nzyazin/bidfunds/pkg/contracts/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	finance = models.Principal{ID: "fin-1", Role: models.RoleFinance}
	admin   = models.Principal{ID: "adm-1", Role: models.RoleAdmin}
	system  = models.Principal{ID: "auction-lifecycle", Role: models.RoleSystem}
	bidder  = models.Principal{ID: "bidder-1", Role: models.RoleBidder}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu       sync.Mutex
	fail     bool
	deposits []events.DepositCompleted
	expiring []events.ReservationExpiring
	settled  []events.AuctionSettled
}

var errNotifierDown = errors.New("notifier down")

func (n *recordingNotifier) DepositCompleted(ctx context.Context, e events.DepositCompleted) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errNotifierDown
	}
	n.deposits = append(n.deposits, e)
	return nil
}

func (n *recordingNotifier) ReservationExpiring(ctx context.Context, e events.ReservationExpiring) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errNotifierDown
	}
	n.expiring = append(n.expiring, e)
	return nil
}

func (n *recordingNotifier) AuctionSettled(ctx context.Context, e events.AuctionSettled) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errNotifierDown
	}
	n.settled = append(n.settled, e)
	return nil
}

type setDeduper struct {
	mu   sync.Mutex
	seen map[uuid.UUID]bool
}

func (d *setDeduper) FirstNotice(ctx context.Context, id uuid.UUID, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *setDeduper) Forget(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

type fixture struct {
	store        *memory.Store
	clock        *testClock
	notifier     *recordingNotifier
	wallets      usecase.WalletUsecase
	reservations usecase.ReservationUsecase
	bids         usecase.BidValidator
	settlement   usecase.SettlementUsecase
	deposits     usecase.DepositUsecase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := zaptest.NewLogger(t)
	store := memory.NewStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	cfg := usecase.Config{OperationTimeout: 2 * time.Second, Now: clock.Now}

	reservations := usecase.NewReservationUsecase(store, notifier, &setDeduper{seen: map[uuid.UUID]bool{}}, log, cfg)
	return &fixture{
		store:        store,
		clock:        clock,
		notifier:     notifier,
		wallets:      usecase.NewWalletUsecase(store, log, cfg),
		reservations: reservations,
		bids:         usecase.NewBidValidator(reservations, log),
		settlement:   usecase.NewSettlementUsecase(store, reservations, notifier, log, cfg),
		deposits:     usecase.NewDepositUsecase(store, notifier, log, cfg),
	}
}

// fund credits the owner's LOCAL sub-wallet through an approved deposit.
func (f *fixture) fund(t *testing.T, owner string, amount int64) {
	t.Helper()
	ctx := context.Background()

	d, err := f.deposits.SubmitDeposit(ctx, usecase.SubmitDepositRequest{
		UserID:     owner,
		Amount:     decimal.NewFromInt(amount),
		WalletType: models.SubWalletLocal,
		Reference:  "fund-" + owner + "-" + uuid.NewString(),
	})
	require.NoError(t, err)
	_, err = f.deposits.ApproveDeposit(ctx, finance, d.ID)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, owner string) models.Balance {
	t.Helper()
	b, err := f.wallets.AvailableBalance(context.Background(), owner, models.SubWalletLocal)
	require.NoError(t, err)
	return *b
}

func (f *fixture) activeRows(t *testing.T, auctionID string) []models.Reservation {
	t.Helper()
	var rows []models.Reservation
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		rows, err = tx.Reservations().ListActiveByAuction(ctx, auctionID, f.clock.Now())
		return err
	})
	require.NoError(t, err)
	return rows
}

func assertAmount(t *testing.T, expected string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(expected).Equal(got), "expected %s, got %s", expected, got)
}

func reservationByID(t *testing.T, f *fixture, id uuid.UUID) models.Reservation {
	t.Helper()
	var res *models.Reservation
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		res, err = tx.Reservations().GetByIDForUpdate(ctx, id)
		return err
	})
	require.NoError(t, err)
	return *res
}
