package live

import (
	"context"
	"sync"
	"time"

	"github.com/liamcoop/incentives/internal/logger"
)

// Refreshable is anything a Watcher can refresh on a change.
type Refreshable interface {
	Name() string
	Refresh(ctx context.Context) (bool, error)
}

// View holds the latest result of a re-computation. Refreshes may overlap;
// a result computed by an older refresh never replaces a newer one.
type View[T any] struct {
	name    string
	compute func(ctx context.Context) (T, error)
	seq     Sequencer

	mu        sync.RWMutex
	value     T
	version   uint64
	updatedAt time.Time
	lastErr   error
}

// NewView creates an empty view around compute.
func NewView[T any](name string, compute func(ctx context.Context) (T, error)) *View[T] {
	return &View[T]{name: name, compute: compute}
}

func (v *View[T]) Name() string { return v.name }

// Refresh recomputes the value. It reports whether the result was applied;
// a stale result is dropped without error. On error the previous value stays.
func (v *View[T]) Refresh(ctx context.Context) (bool, error) {
	seq := v.seq.Begin()
	value, err := v.compute(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err != nil {
		if seq > v.version {
			v.lastErr = err
		}
		return false, err
	}
	if !v.seq.Commit(seq) {
		logger.RecordStale("view", v.name, "seq", seq, "latest", v.seq.Latest())
		return false, nil
	}
	v.value = value
	v.version = seq
	v.updatedAt = time.Now().UTC()
	v.lastErr = nil
	return true, nil
}

// Snapshot is a view's value with its provenance.
type Snapshot[T any] struct {
	Value     T         `json:"value"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// Get returns the current value; ok is false until a refresh has succeeded.
func (v *View[T]) Get() (Snapshot[T], bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := Snapshot[T]{Value: v.value, Version: v.version, UpdatedAt: v.updatedAt}
	if v.lastErr != nil {
		s.Error = v.lastErr.Error()
	}
	return s, v.version > 0
}
