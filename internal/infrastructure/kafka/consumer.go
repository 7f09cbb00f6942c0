package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// LastSeenStore is the slice of the user repository the consumer writes to.
type LastSeenStore interface {
	UpdateLastSeen(ctx context.Context, id int64, at time.Time) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader messageReader
	store  LastSeenStore
}

func NewConsumer(brokers []string, topic, groupID string, store LastSeenStore) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		}),
		store: store,
	}
}

// Consume blocks until ctx is cancelled. Bad messages are logged and skipped.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer stopped")
				return
			}
			slog.Error("failed to read Kafka message", "error", err)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			slog.Error("failed to handle Kafka message", "topic", msg.Topic, "key", string(msg.Key), "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var event UserEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("unmarshal user event: %w", err)
	}

	switch event.Type {
	case EventUserSeen:
		if event.UserID == 0 {
			return fmt.Errorf("user_seen event without user_id")
		}
		at := event.At
		if at.IsZero() {
			at = msg.Time
		}
		if err := c.store.UpdateLastSeen(ctx, event.UserID, at); err != nil {
			return fmt.Errorf("update last seen for user %d: %w", event.UserID, err)
		}
		slog.Debug("last seen updated", "user_id", event.UserID)
	case EventUserRegistered, EventUserLoggedIn:
		slog.Info("user event", "event_type", event.Type, "user_id", event.UserID)
	default:
		slog.Warn("unknown user event", "event_type", event.Type)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
