// Package ruleset persists incentive rule sets and caches the active ones.
package ruleset

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/incentives/incentive"
	ierr "github.com/liamcoop/incentives/internal/errors"
)

// Store manages rule set persistence and retrieval.
// A rule set is always read and written together with its rules.
type Store interface {
	// Add a new rule set with its rules
	Add(ctx context.Context, rs *incentive.RuleSet) error

	// Get a rule set by ID
	Get(ctx context.Context, id string) (*incentive.RuleSet, error)

	// List all rule sets
	List(ctx context.Context) ([]*incentive.RuleSet, error)

	// ListActive returns rule sets flagged active, regardless of their window
	ListActive(ctx context.Context) ([]*incentive.RuleSet, error)

	// Update replaces a rule set and its rules
	Update(ctx context.Context, rs *incentive.RuleSet) error

	// SetActive toggles the active flag and returns the updated rule set
	SetActive(ctx context.Context, id string, active bool) (*incentive.RuleSet, error)

	// Delete a rule set and its rules
	Delete(ctx context.Context, id string) error
}

// prepare validates rs and assigns missing IDs.
func prepare(rs *incentive.RuleSet) error {
	if err := incentive.ValidateRuleSet(rs); err != nil {
		if incentive.IsConfigurationError(err) {
			return err
		}
		return ierr.WithError(err).WithHint(err.Error()).Mark(ierr.ErrValidation)
	}
	if rs.ID == "" {
		rs.ID = uuid.NewString()
	}
	for i := range rs.Rules {
		if rs.Rules[i].ID == "" {
			rs.Rules[i].ID = uuid.NewString()
		}
		rs.Rules[i].RuleSetID = rs.ID
	}
	return nil
}

// sortRules orders rules by priority, keeping stored order for ties.
func sortRules(rs *incentive.RuleSet) {
	slices.SortStableFunc(rs.Rules, func(a, b incentive.Rule) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
}

func notFound(id string) error {
	return ierr.Newf("rule set %s not found", id).
		WithHint("The requested rule set does not exist").
		Mark(ierr.ErrNotFound)
}

// InMemoryStore implements Store using an in-memory map.
// Stored values are copied on the way in and out.
type InMemoryStore struct {
	sets map[string]*incentive.RuleSet
	mu   sync.RWMutex
}

// NewInMemoryStore creates a new in-memory rule set store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sets: make(map[string]*incentive.RuleSet),
	}
}

// Add adds a new rule set to the store and sets its timestamps
func (s *InMemoryStore) Add(_ context.Context, rs *incentive.RuleSet) error {
	if err := prepare(rs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sets[rs.ID]; exists {
		return ierr.Newf("rule set with ID %s already exists", rs.ID).Mark(ierr.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	rs.CreatedAt = now
	rs.UpdatedAt = now
	stored := rs.Clone()
	sortRules(stored)
	s.sets[rs.ID] = stored
	return nil
}

// Get retrieves a rule set by ID
func (s *InMemoryStore) Get(_ context.Context, id string) (*incentive.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, exists := s.sets[id]
	if !exists {
		return nil, notFound(id)
	}
	return rs.Clone(), nil
}

// List returns every rule set ordered by creation time
func (s *InMemoryStore) List(_ context.Context) ([]*incentive.RuleSet, error) {
	return s.list(func(*incentive.RuleSet) bool { return true }), nil
}

// ListActive returns all active rule sets
func (s *InMemoryStore) ListActive(_ context.Context) ([]*incentive.RuleSet, error) {
	return s.list(func(rs *incentive.RuleSet) bool { return rs.IsActive }), nil
}

func (s *InMemoryStore) list(keep func(*incentive.RuleSet) bool) []*incentive.RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incentive.RuleSet
	for _, rs := range s.sets {
		if keep(rs) {
			out = append(out, rs.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Update replaces an existing rule set, preserving CreatedAt
func (s *InMemoryStore) Update(_ context.Context, rs *incentive.RuleSet) error {
	if err := prepare(rs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sets[rs.ID]
	if !exists {
		return notFound(rs.ID)
	}

	rs.CreatedAt = existing.CreatedAt
	rs.UpdatedAt = time.Now().UTC()
	stored := rs.Clone()
	sortRules(stored)
	s.sets[rs.ID] = stored
	return nil
}

// SetActive flips the active flag of a rule set
func (s *InMemoryStore) SetActive(_ context.Context, id string, active bool) (*incentive.RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, exists := s.sets[id]
	if !exists {
		return nil, notFound(id)
	}
	rs.IsActive = active
	rs.UpdatedAt = time.Now().UTC()
	return rs.Clone(), nil
}

// Delete removes a rule set from the store
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sets[id]; !exists {
		return notFound(id)
	}
	delete(s.sets, id)
	return nil
}
