package metrics

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	ierr "github.com/liamcoop/incentives/internal/errors"
)

// uniqueViolation is the postgres error code for a duplicate key.
const uniqueViolation = "23505"

const sessionColumns = `id, seller_id, started_at, ended_at, live_duration_hours,
	branded_items_sold, free_size_items_sold, total_revenue, created_at`

// PostgresStore implements Store backed by the performance_sessions table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Add inserts a new session
func (s *PostgresStore) Add(ctx context.Context, session *Session) error {
	if err := prepare(session); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO performance_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, session.ID, session.SellerID, session.StartedAt, session.EndedAt,
		session.LiveDurationHours, session.BrandedItemsSold, session.FreeSizeItemsSold,
		session.TotalRevenue, session.CreatedAt)

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		return ierr.Newf("session with ID %s already exists", session.ID).Mark(ierr.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// ListBySeller returns one seller's sessions in the period
func (s *PostgresStore) ListBySeller(ctx context.Context, sellerID string, p Period) ([]*Session, error) {
	from, to := bounds(p)
	return s.query(ctx, `
		SELECT `+sessionColumns+`
		FROM performance_sessions
		WHERE seller_id = $1
		  AND ($2::timestamptz IS NULL OR started_at >= $2)
		  AND ($3::timestamptz IS NULL OR started_at < $3)
		ORDER BY started_at ASC, id ASC
	`, sellerID, from, to)
}

// ListByPeriod returns all sessions in the period
func (s *PostgresStore) ListByPeriod(ctx context.Context, p Period) ([]*Session, error) {
	from, to := bounds(p)
	return s.query(ctx, `
		SELECT `+sessionColumns+`
		FROM performance_sessions
		WHERE ($1::timestamptz IS NULL OR started_at >= $1)
		  AND ($2::timestamptz IS NULL OR started_at < $2)
		ORDER BY started_at ASC, id ASC
	`, from, to)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var ended sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.SellerID, &sess.StartedAt, &ended,
			&sess.LiveDurationHours, &sess.BrandedItemsSold, &sess.FreeSizeItemsSold,
			&sess.TotalRevenue, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if ended.Valid {
			sess.EndedAt = &ended.Time
		}
		sessions = append(sessions, &sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// bounds turns open period ends into NULL parameters.
func bounds(p Period) (sql.NullTime, sql.NullTime) {
	return sql.NullTime{Time: p.From, Valid: !p.From.IsZero()},
		sql.NullTime{Time: p.To, Valid: !p.To.IsZero()}
}
