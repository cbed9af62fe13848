package usecase

import (
	"context"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/metrics"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/Nzyazin/bidfunds/pkg/contracts/events"
)

// Notifier receives fire-and-forget events after a mutation has committed.
type Notifier interface {
	DepositCompleted(ctx context.Context, e events.DepositCompleted) error
	ReservationExpiring(ctx context.Context, e events.ReservationExpiring) error
	AuctionSettled(ctx context.Context, e events.AuctionSettled) error
}

type Config struct {
	OperationTimeout        time.Duration
	NotifyTimeout           time.Duration
	DefaultReservationHours int
	// Now is the wall clock used for every expiry decision.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 5 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 2 * time.Second
	}
	if c.DefaultReservationHours <= 0 {
		c.DefaultReservationHours = 24
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// core carries what every use case needs and runs their units of work.
type core struct {
	store    repository.Store
	log      logger.Logger
	notifier Notifier
	cfg      Config
}

func newCore(store repository.Store, notifier Notifier, log logger.Logger, cfg Config) core {
	return core{store: store, log: log, notifier: notifier, cfg: cfg.withDefaults()}
}

func (c core) now() time.Time { return c.cfg.Now() }

// run executes fn atomically under the operation timeout and records its outcome.
func (c core) run(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error, replays ...error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	err := storeError(op, c.store.WithTx(ctx, fn))
	metrics.ObserveOperation(op, start, metrics.ResultOf(err, replays...))
	return err
}

// notify delivers an event outside the atomic boundary and reports whether it went out.
// Failures are logged and never reach the caller of the operation.
func (c core) notify(ctx context.Context, event string, send func(ctx context.Context, n Notifier) error) bool {
	if c.notifier == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.NotifyTimeout)
	defer cancel()

	if err := send(ctx, c.notifier); err != nil {
		metrics.IncNotificationFailure(event)
		c.log.Warn("Notification failed",
			logger.StringField("event", event),
			logger.ErrorField("error", err))
		return false
	}
	return true
}
