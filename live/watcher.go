package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
)

// Invalidator drops cached data that a change made stale.
type Invalidator interface {
	Invalidate()
}

// Watcher refreshes registered views whenever the feed reports a change.
// Changes to rule sets first invalidate the rule cache.
type Watcher struct {
	feed        *Feed
	invalidator Invalidator
	logger      *slog.Logger
	concurrency int

	mu    sync.RWMutex
	views map[string]Refreshable

	inflight conc.WaitGroup
	loop     conc.WaitGroup
}

// NewWatcher creates a watcher. invalidator may be nil.
func NewWatcher(feed *Feed, invalidator Invalidator, concurrency int, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 4
	}
	return &Watcher{
		feed:        feed,
		invalidator: invalidator,
		logger:      logger,
		concurrency: concurrency,
		views:       make(map[string]Refreshable),
	}
}

// Register adds a view, replacing any view with the same name.
func (w *Watcher) Register(v Refreshable) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.views[v.Name()] = v
}

// Unregister removes a view by name.
func (w *Watcher) Unregister(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.views, name)
}

// Start subscribes to the change topics and processes events in the
// background until ctx is done. Subscriptions exist when Start returns.
func (w *Watcher) Start(ctx context.Context) error {
	rules, err := w.feed.Subscribe(ctx, TopicRuleSets)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicRuleSets, err)
	}
	sessions, err := w.feed.Subscribe(ctx, TopicSessions)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicSessions, err)
	}

	w.loop.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-rules:
				if !ok {
					return
				}
				w.handle(ctx, TopicRuleSets, msg)
			case msg, ok := <-sessions:
				if !ok {
					return
				}
				w.handle(ctx, TopicSessions, msg)
			}
		}
	})
	return nil
}

// Wait blocks until the event loop and all refreshes it started have finished.
func (w *Watcher) Wait() {
	w.loop.Wait()
	w.inflight.Wait()
}

func (w *Watcher) handle(ctx context.Context, topic string, msg *message.Message) {
	msg.Ack()

	ev, err := DecodeEvent(msg)
	if err != nil {
		w.logger.Warn("Ignoring malformed change event", "topic", topic, "error", err)
		return
	}
	w.logger.Debug("Change received", "topic", topic, "table", ev.Table, "op", ev.Op)

	if topic == TopicRuleSets && w.invalidator != nil {
		w.invalidator.Invalidate()
	}
	// Refreshes run in the background so a burst of events produces
	// overlapping refreshes; each View keeps the newest result.
	w.inflight.Go(func() { w.RefreshAll(ctx) })
}

// RefreshAll refreshes every registered view with bounded concurrency.
func (w *Watcher) RefreshAll(ctx context.Context) {
	w.mu.RLock()
	views := make([]Refreshable, 0, len(w.views))
	for _, v := range w.views {
		views = append(views, v)
	}
	w.mu.RUnlock()

	p := pool.New().WithMaxGoroutines(w.concurrency)
	for _, v := range views {
		p.Go(func() {
			if _, err := v.Refresh(ctx); err != nil {
				w.logger.Warn("View refresh failed", "view", v.Name(), "error", err)
			}
		})
	}
	p.Wait()
}
