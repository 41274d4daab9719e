package ruleset

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liamcoop/incentives/incentive"
)

func TestInMemoryCache(t *testing.T) {
	c := NewInMemoryCache(DefaultCacheConfig())

	if c.IsValid() {
		t.Error("new cache should be invalid")
	}
	if _, ok := c.Get(); ok {
		t.Error("Get() on empty cache should miss")
	}

	c.Set([]*incentive.RuleSet{newRuleSet("a", true)})
	sets, ok := c.Get()
	if !ok || len(sets) != 1 || sets[0].ID != "a" {
		t.Fatalf("Get() = %v, %v", sets, ok)
	}

	sets[0].Name = "mutated"
	again, _ := c.Get()
	if again[0].Name == "mutated" {
		t.Error("cached sets should be copied out")
	}

	c.Invalidate()
	if c.IsValid() {
		t.Error("cache should be invalid after Invalidate()")
	}
}

func TestInMemoryCacheEmptyIsAHit(t *testing.T) {
	c := NewInMemoryCache(DefaultCacheConfig())
	c.Set(nil)

	sets, ok := c.Get()
	if !ok || len(sets) != 0 {
		t.Errorf("an empty active list is still a valid cache entry, got %v, %v", sets, ok)
	}
}

func TestInMemoryCacheTTL(t *testing.T) {
	c := NewInMemoryCache(CacheConfig{TTL: 20 * time.Millisecond})
	c.Set([]*incentive.RuleSet{newRuleSet("a", true)})

	if !c.IsValid() {
		t.Fatal("cache should be valid right after Set()")
	}
	time.Sleep(40 * time.Millisecond)
	if c.IsValid() {
		t.Error("cache should expire after TTL")
	}
}

// countingStore counts ListActive calls reaching the wrapped store.
type countingStore struct {
	Store
	calls atomic.Int32
	fail  bool
}

func (s *countingStore) ListActive(ctx context.Context) ([]*incentive.RuleSet, error) {
	s.calls.Add(1)
	if s.fail {
		return nil, errors.New("backend down")
	}
	return s.Store.ListActive(ctx)
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{Store: NewInMemoryStore()}
	store := NewCachedStore(backend, NewInMemoryCache(DefaultCacheConfig()), nil)

	if err := store.Add(ctx, newRuleSet("a", true)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		sets, err := store.ListActive(ctx)
		if err != nil || len(sets) != 1 {
			t.Fatalf("ListActive() = %v, %v", sets, err)
		}
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("expected 1 backend call, got %d", n)
	}

	// Every mutation invalidates.
	if _, err := store.SetActive(ctx, "a", false); err != nil {
		t.Fatalf("SetActive() failed: %v", err)
	}
	sets, _ := store.ListActive(ctx)
	if len(sets) != 0 {
		t.Errorf("stale cache after SetActive(): %v", sets)
	}
	if n := backend.calls.Load(); n != 2 {
		t.Errorf("expected reload after mutation, got %d calls", n)
	}

	store.Invalidate()
	_, _ = store.ListActive(ctx)
	if n := backend.calls.Load(); n != 3 {
		t.Errorf("expected reload after Invalidate(), got %d calls", n)
	}
}

func TestCachedStoreDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{Store: NewInMemoryStore(), fail: true}
	c := NewInMemoryCache(DefaultCacheConfig())
	store := NewCachedStore(backend, c, nil)

	if _, err := store.ListActive(ctx); err == nil {
		t.Fatal("expected backend error")
	}
	if c.IsValid() {
		t.Error("a failed load must not populate the cache")
	}
}

// gatedStore holds ListActive after loading until release is closed.
type gatedStore struct {
	Store
	loaded  chan struct{}
	release chan struct{}
}

func (s *gatedStore) ListActive(ctx context.Context) ([]*incentive.RuleSet, error) {
	sets, err := s.Store.ListActive(ctx)
	close(s.loaded)
	<-s.release
	return sets, err
}

func TestCachedStoreLoadRacingInvalidate(t *testing.T) {
	ctx := context.Background()
	inner := NewInMemoryStore()
	if err := inner.Add(ctx, newRuleSet("a", true)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	gated := &gatedStore{Store: inner, loaded: make(chan struct{}), release: make(chan struct{})}
	c := NewInMemoryCache(DefaultCacheConfig())
	store := NewCachedStore(gated, c, nil)

	done := make(chan []*incentive.RuleSet)
	go func() {
		sets, _ := store.ListActive(ctx)
		done <- sets
	}()

	<-gated.loaded
	// Goes straight to the inner store so the gate is not hit again.
	if _, err := inner.SetActive(ctx, "a", false); err != nil {
		t.Fatalf("SetActive() failed: %v", err)
	}
	store.Invalidate()
	close(gated.release)

	if sets := <-done; len(sets) != 1 {
		t.Errorf("in-flight load should return what it read, got %d sets", len(sets))
	}
	if c.IsValid() {
		t.Fatal("a load that overlapped Invalidate() must not be cached")
	}

	sets, err := NewCachedStore(inner, c, nil).ListActive(ctx)
	if err != nil || len(sets) != 0 {
		t.Errorf("ListActive() after deactivation = %v, %v; want none", sets, err)
	}
}
