package metrics

import (
	"context"
	"fmt"
	"time"

	supa "github.com/nedpals/supabase-go"

	ierr "github.com/liamcoop/incentives/internal/errors"
)

const sessionsTable = "performance_sessions"

// SupabaseStore implements Store on the hosted performance_sessions table
// through the PostgREST API.
type SupabaseStore struct {
	client *supa.Client
}

// NewSupabaseStore creates a session store using an existing Supabase client
func NewSupabaseStore(client *supa.Client) *SupabaseStore {
	return &SupabaseStore{client: client}
}

func (s *SupabaseStore) Add(ctx context.Context, session *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepare(session); err != nil {
		return err
	}

	var inserted []Session
	if err := s.client.DB.From(sessionsTable).Insert(session).Execute(&inserted); err != nil {
		return ierr.WithError(err).WithMessage("failed to insert session").Mark(ierr.ErrUnavailable)
	}
	return nil
}

func (s *SupabaseStore) ListBySeller(ctx context.Context, sellerID string, p Period) ([]*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := s.client.DB.From(sessionsTable).Select("*").Eq("seller_id", sellerID)
	if !p.From.IsZero() {
		q = q.Gte("started_at", p.From.UTC().Format(time.RFC3339Nano))
	}
	if !p.To.IsZero() {
		q = q.Lt("started_at", p.To.UTC().Format(time.RFC3339Nano))
	}

	var rows []Session
	if err := q.Execute(&rows); err != nil {
		return nil, ierr.WithError(err).WithMessage(fmt.Sprintf("failed to list sessions of %s", sellerID)).Mark(ierr.ErrUnavailable)
	}
	return toSessions(rows), nil
}

func (s *SupabaseStore) ListByPeriod(ctx context.Context, p Period) ([]*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// An open lower bound still needs a filter to start the chain.
	q := s.client.DB.From(sessionsTable).Select("*").
		Gte("started_at", p.From.UTC().Format(time.RFC3339Nano))
	if !p.To.IsZero() {
		q = q.Lt("started_at", p.To.UTC().Format(time.RFC3339Nano))
	}

	var rows []Session
	if err := q.Execute(&rows); err != nil {
		return nil, ierr.WithError(err).WithMessage("failed to list sessions").Mark(ierr.ErrUnavailable)
	}
	return toSessions(rows), nil
}

func toSessions(rows []Session) []*Session {
	out := make([]*Session, 0, len(rows))
	for i := range rows {
		out = append(out, &rows[i])
	}
	sortSessions(out)
	return out
}
