package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pkgerrors "github.com/honeynil/AuthServiceTochka/pkg/errors"
)

const (
	EventUserRegistered = "user_registered"
	EventUserLoggedIn   = "user_logged_in"
	EventUserSeen       = "user_seen"
)

type UserEvent struct {
	Type   string    `json:"event_type"`
	UserID int64     `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	At     time.Time `json:"at"`
}

// EventPublisher writes user lifecycle events to a single topic.
type EventPublisher struct {
	producer KafkaProducer
	topic    string
	now      func() time.Time
}

func NewEventPublisher(producer KafkaProducer, topic string) *EventPublisher {
	return &EventPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *EventPublisher) Publish(ctx context.Context, event UserEvent) error {
	if event.At.IsZero() {
		event.At = p.now().UTC()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	return p.producer.Send(ctx, p.topic, event.UserID, value)
}

// TouchLastSeen defers the last-seen write to the consumer side.
func (p *EventPublisher) TouchLastSeen(ctx context.Context, userID string) error {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: user id %q", pkgerrors.ErrInvalidInput, userID)
	}
	return p.Publish(ctx, UserEvent{Type: EventUserSeen, UserID: id})
}
