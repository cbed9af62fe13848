package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/pkg/contracts/events"
	"github.com/Nzyazin/bidfunds/pkg/contracts/topics"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes events as JSON, keyed so that events of one auction or user stay ordered.
type KafkaNotifier struct {
	w   MessageWriter
	log logger.Logger
}

func NewKafkaNotifier(w MessageWriter, log logger.Logger) *KafkaNotifier {
	return &KafkaNotifier{w: w, log: log}
}

func (n *KafkaNotifier) DepositCompleted(ctx context.Context, e events.DepositCompleted) error {
	return n.publish(ctx, topics.DepositCompleted, e.UserID, e)
}

func (n *KafkaNotifier) ReservationExpiring(ctx context.Context, e events.ReservationExpiring) error {
	return n.publish(ctx, topics.ReservationExpiring, e.AuctionID, e)
}

func (n *KafkaNotifier) AuctionSettled(ctx context.Context, e events.AuctionSettled) error {
	return n.publish(ctx, topics.AuctionSettled, e.AuctionID, e)
}

func (n *KafkaNotifier) publish(ctx context.Context, topic, key string, event interface{}) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	}
	if err := n.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	n.log.Debug("Event published", logger.StringField("topic", topic), logger.StringField("key", key))
	return nil
}
