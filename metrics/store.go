package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	ierr "github.com/liamcoop/incentives/internal/errors"
)

// Store persists raw performance sessions.
type Store interface {
	// Add validates and stores a session. An empty ID is assigned.
	Add(ctx context.Context, s *Session) error

	// ListBySeller returns one seller's sessions that started inside the period.
	ListBySeller(ctx context.Context, sellerID string, p Period) ([]*Session, error)

	// ListByPeriod returns every session that started inside the period.
	ListByPeriod(ctx context.Context, p Period) ([]*Session, error)
}

// prepare validates s and fills the store-managed fields.
func prepare(s *Session) error {
	if err := s.Validate(); err != nil {
		return ierr.WithError(err).WithHint(err.Error()).Mark(ierr.ErrValidation)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now().UTC()
	return nil
}

// InMemoryStore implements Store using an in-memory slice.
type InMemoryStore struct {
	sessions []*Session
	ids      map[string]struct{}
	mu       sync.RWMutex
}

// NewInMemoryStore creates a new in-memory session store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{ids: make(map[string]struct{})}
}

func (s *InMemoryStore) Add(_ context.Context, session *Session) error {
	if err := prepare(session); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[session.ID]; exists {
		return ierr.Newf("session with ID %s already exists", session.ID).Mark(ierr.ErrAlreadyExists)
	}
	cp := *session
	s.sessions = append(s.sessions, &cp)
	s.ids[session.ID] = struct{}{}
	return nil
}

func (s *InMemoryStore) ListBySeller(_ context.Context, sellerID string, p Period) ([]*Session, error) {
	return s.filter(func(sess *Session) bool {
		return sess.SellerID == sellerID && p.Contains(sess.StartedAt)
	}), nil
}

func (s *InMemoryStore) ListByPeriod(_ context.Context, p Period) ([]*Session, error) {
	return s.filter(func(sess *Session) bool {
		return p.Contains(sess.StartedAt)
	}), nil
}

func (s *InMemoryStore) filter(keep func(*Session) bool) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, sess := range s.sessions {
		if keep(sess) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sortSessions(out)
	return out
}

// sortSessions orders sessions by start time, then id.
func sortSessions(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
