// Package notify publishes engine events to the NATS bus.
//
// Subjects follow plannerd.{user_id}.{channel} with channels
// suggestions, reminders, and sync; the HTTP SSE bridge subscribes to
// plannerd.{user_id}.* and streams to clients. The bus is optional: a
// nil connection drops events silently so the engine runs without a
// broker.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Channels events are published on.
const (
	ChannelSuggestions = "suggestions"
	ChannelReminders   = "reminders"
	ChannelSync        = "sync"
)

// Event is the wire shape of one notification.
type Event struct {
	UserID    string         `json:"user_id"`
	Channel   string         `json:"channel"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Bus publishes events for one process.
type Bus struct {
	nc     *nats.Conn
	logger *zap.Logger
	now    func() time.Time
}

// NewBus wraps a NATS connection; nc may be nil for a disabled bus.
func NewBus(nc *nats.Conn, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{nc: nc, logger: logger, now: time.Now}
}

// Subject builds the NATS subject for a user and channel.
func Subject(userID, channel string) string {
	return fmt.Sprintf("plannerd.%s.%s", userID, channel)
}

// Publish sends one event. Publishing never blocks the caller beyond
// the NATS client buffer, and a disabled bus is a silent no-op.
func (b *Bus) Publish(userID, channel, kind string, payload map[string]any) error {
	if b.nc == nil {
		return nil
	}

	ev := Event{
		UserID:    userID,
		Channel:   channel,
		Kind:      kind,
		Payload:   payload,
		Timestamp: b.now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.nc.Publish(Subject(userID, channel), data); err != nil {
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	b.logger.Debug("event published",
		zap.String("user_id", userID),
		zap.String("channel", channel),
		zap.String("kind", kind))
	return nil
}

// Suggestion publishes to the suggestions channel.
func (b *Bus) Suggestion(userID, kind string, payload map[string]any) error {
	return b.Publish(userID, ChannelSuggestions, kind, payload)
}

// Reminder publishes to the reminders channel.
func (b *Bus) Reminder(userID, kind string, payload map[string]any) error {
	return b.Publish(userID, ChannelReminders, kind, payload)
}

// Sync publishes to the sync channel.
func (b *Bus) Sync(userID, kind string, payload map[string]any) error {
	return b.Publish(userID, ChannelSync, kind, payload)
}
