// Package live turns data change notifications into re-evaluations.
// Changes arrive on a Feed, a Watcher reacts to them, and each View keeps
// only the newest result of its overlapping refreshes.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

const (
	TopicRuleSets = "rule_sets"
	TopicSessions = "performance_sessions"
)

// Event describes one change to a table.
type Event struct {
	Table string `json:"table"`
	Op    string `json:"op,omitempty"`
	ID    string `json:"id,omitempty"`
}

// TopicFor maps a table name to the topic its changes are published on.
func TopicFor(table string) (string, bool) {
	switch table {
	case "rule_sets", "rules":
		return TopicRuleSets, true
	case "performance_sessions":
		return TopicSessions, true
	default:
		return "", false
	}
}

// Feed is an in-process publish/subscribe channel for change events.
type Feed struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// NewFeed creates a feed whose subscribers buffer up to buffer messages.
func NewFeed(buffer int64, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: buffer},
			watermill.NewSlogLogger(logger),
		),
		logger: logger,
	}
}

// Publish sends ev to every current subscriber of topic.
func (f *Feed) Publish(topic string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := f.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}
	f.logger.Debug("Change event published", "topic", topic, "table", ev.Table, "op", ev.Op)
	return nil
}

// PublishChange publishes ev on the topic of its table. Unknown tables are ignored.
func (f *Feed) PublishChange(ev Event) error {
	topic, ok := TopicFor(ev.Table)
	if !ok {
		f.logger.Debug("Ignoring change on unknown table", "table", ev.Table)
		return nil
	}
	return f.Publish(topic, ev)
}

// Subscribe returns the messages published on topic until ctx is done.
// Each message must be acked.
func (f *Feed) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return f.pubsub.Subscribe(ctx, topic)
}

// Close stops the feed and closes all subscriber channels.
func (f *Feed) Close() error {
	return f.pubsub.Close()
}

// DecodeEvent parses a message payload published by a Feed.
func DecodeEvent(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event %s: %w", msg.UUID, err)
	}
	return ev, nil
}
