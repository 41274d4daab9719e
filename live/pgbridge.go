package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const pingInterval = 90 * time.Second

// PGBridge republishes PostgreSQL NOTIFY payloads on a Feed. The migration
// triggers send {"table": ..., "op": ...} on every write.
type PGBridge struct {
	listener *pq.Listener
	channel  string
	feed     *Feed
	logger   *slog.Logger
}

// NewPGBridge creates a bridge listening on channel over its own connection.
func NewPGBridge(connStr, channel string, feed *Feed, logger *slog.Logger) *PGBridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &PGBridge{channel: channel, feed: feed, logger: logger}
	b.listener = pq.NewListener(connStr, time.Second, time.Minute, b.onConnEvent)
	return b
}

func (b *PGBridge) onConnEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed:
		b.logger.Warn("Notification listener connection failed", "error", err)
	case pq.ListenerEventDisconnected:
		b.logger.Warn("Notification listener disconnected", "error", err)
	case pq.ListenerEventReconnected:
		b.logger.Info("Notification listener reconnected", "channel", b.channel)
	}
}

// Run listens until ctx is done.
func (b *PGBridge) Run(ctx context.Context) error {
	if err := b.listener.Listen(b.channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.channel, err)
	}
	defer b.listener.Close()
	b.logger.Info("Listening for change notifications", "channel", b.channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-b.listener.Notify:
			if n == nil {
				// Notifications may have been lost while reconnecting.
				b.resync()
				continue
			}
			b.handle(n.Extra)
		case <-time.After(pingInterval):
			if err := b.listener.Ping(); err != nil {
				b.logger.Warn("Notification listener ping failed", "error", err)
			}
		}
	}
}

func (b *PGBridge) handle(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.logger.Warn("Ignoring malformed notification", "payload", payload, "error", err)
		return
	}
	if err := b.feed.PublishChange(ev); err != nil {
		b.logger.Error("Failed to republish notification", "error", err)
	}
}

func (b *PGBridge) resync() {
	for _, table := range []string{"rule_sets", "performance_sessions"} {
		if err := b.feed.PublishChange(Event{Table: table, Op: "RESYNC"}); err != nil {
			b.logger.Error("Failed to publish resync", "table", table, "error", err)
		}
	}
}
