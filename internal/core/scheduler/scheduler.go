package scheduler

import (
	"context"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
)

// Sweeper is what the scheduler drives on every tick.
type Sweeper interface {
	CleanupExpiredReservations(ctx context.Context) (int, error)
}

type Notifier interface {
	NotifyExpiring(ctx context.Context, window time.Duration) (int, error)
}

type Options struct {
	Interval      time.Duration // default: 1m
	ExpiryWarning time.Duration // default: 1h
}

type Scheduler struct {
	sweeper  Sweeper
	notifier Notifier
	log      logger.Logger
	opt      Options
}

func New(sweeper Sweeper, notifier Notifier, log logger.Logger, opt *Options) *Scheduler {
	o := Options{Interval: time.Minute, ExpiryWarning: time.Hour}
	if opt != nil {
		if opt.Interval > 0 {
			o.Interval = opt.Interval
		}
		if opt.ExpiryWarning > 0 {
			o.ExpiryWarning = opt.ExpiryWarning
		}
	}
	return &Scheduler{sweeper: sweeper, notifier: notifier, log: log, opt: o}
}

// Run ticks until ctx is done. Each tick is independent: a failed sweep is logged and
// the next tick tries again.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opt.Interval)
	defer ticker.Stop()

	s.log.Info("Scheduler started", logger.DurationField("interval", s.opt.Interval))
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) Tick(ctx context.Context) {
	if n, err := s.sweeper.CleanupExpiredReservations(ctx); err != nil {
		s.log.Warn("Expiry sweep failed", logger.ErrorField("error", err))
	} else if n > 0 {
		s.log.Debug("Expiry sweep", logger.IntField("expired", n))
	}

	if s.notifier == nil {
		return
	}
	if n, err := s.notifier.NotifyExpiring(ctx, s.opt.ExpiryWarning); err != nil {
		s.log.Warn("Expiring-soon scan failed", logger.ErrorField("error", err))
	} else if n > 0 {
		s.log.Debug("Expiring-soon notices", logger.IntField("sent", n))
	}
}
