package notification

import (
	"context"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/pkg/contracts/events"
	"github.com/Nzyazin/bidfunds/pkg/contracts/topics"
)

// LogNotifier stands in for the broker when none is configured.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) DepositCompleted(ctx context.Context, e events.DepositCompleted) error {
	n.log.Info("Event", logger.StringField("topic", topics.DepositCompleted), logger.AnyField("event", e))
	return nil
}

func (n *LogNotifier) ReservationExpiring(ctx context.Context, e events.ReservationExpiring) error {
	n.log.Info("Event", logger.StringField("topic", topics.ReservationExpiring), logger.AnyField("event", e))
	return nil
}

func (n *LogNotifier) AuctionSettled(ctx context.Context, e events.AuctionSettled) error {
	n.log.Info("Event", logger.StringField("topic", topics.AuctionSettled), logger.AnyField("event", e))
	return nil
}
