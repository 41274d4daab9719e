package ruleset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/incentives/incentive"
	ierr "github.com/liamcoop/incentives/internal/errors"
)

const uniqueViolation = "23505"

const ruleSetColumns = `id, name, description, is_active, effective_start_date, effective_end_date, created_at, updated_at`

// PostgresStore implements Store backed by the rule_sets and rules tables.
// A rule set and its rules are always written in one transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rule set store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Add inserts a new rule set and its rules
func (s *PostgresStore) Add(ctx context.Context, rs *incentive.RuleSet) error {
	if err := prepare(rs); err != nil {
		return err
	}

	now := time.Now().UTC()
	rs.CreatedAt = now
	rs.UpdatedAt = now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rule_sets (`+ruleSetColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, rs.ID, rs.Name, rs.Description, rs.IsActive, rs.EffectiveStartDate,
			rs.EffectiveEndDate, rs.CreatedAt, rs.UpdatedAt)

		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return ierr.Newf("rule set with ID %s already exists", rs.ID).Mark(ierr.ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("failed to insert rule set: %w", err)
		}
		return insertRules(ctx, tx, rs)
	})
}

// Get retrieves a rule set by ID with its rules in priority order
func (s *PostgresStore) Get(ctx context.Context, id string) (*incentive.RuleSet, error) {
	sets, err := s.query(ctx, `
		SELECT `+ruleSetColumns+`
		FROM rule_sets
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, notFound(id)
	}
	return sets[0], nil
}

// List returns every rule set
func (s *PostgresStore) List(ctx context.Context) ([]*incentive.RuleSet, error) {
	return s.query(ctx, `
		SELECT `+ruleSetColumns+`
		FROM rule_sets
		ORDER BY created_at ASC, id ASC
	`)
}

// ListActive returns all rule sets flagged active
func (s *PostgresStore) ListActive(ctx context.Context) ([]*incentive.RuleSet, error) {
	return s.query(ctx, `
		SELECT `+ruleSetColumns+`
		FROM rule_sets
		WHERE is_active = true
		ORDER BY created_at ASC, id ASC
	`)
}

// Update replaces the rule set row and all of its rules
func (s *PostgresStore) Update(ctx context.Context, rs *incentive.RuleSet) error {
	if err := prepare(rs); err != nil {
		return err
	}

	rs.UpdatedAt = time.Now().UTC()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE rule_sets
			SET name = $1, description = $2, is_active = $3,
			    effective_start_date = $4, effective_end_date = $5, updated_at = $6
			WHERE id = $7
			RETURNING created_at
		`, rs.Name, rs.Description, rs.IsActive, rs.EffectiveStartDate,
			rs.EffectiveEndDate, rs.UpdatedAt, rs.ID).Scan(&rs.CreatedAt)

		if err == sql.ErrNoRows {
			return notFound(rs.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to update rule set: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE rule_set_id = $1`, rs.ID); err != nil {
			return fmt.Errorf("failed to replace rules: %w", err)
		}
		return insertRules(ctx, tx, rs)
	})
}

// SetActive flips the active flag of a rule set
func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool) (*incentive.RuleSet, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rule_sets
		SET is_active = $1, updated_at = $2
		WHERE id = $3
	`, active, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule set: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, notFound(id)
	}

	return s.Get(ctx, id)
}

// Delete removes a rule set; its rules go with it through the foreign key
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rule_sets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule set: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertRules(ctx context.Context, tx *sql.Tx, rs *incentive.RuleSet) error {
	for i, r := range rs.Rules {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rules (id, rule_set_id, criteria_field, operator, target_value,
			                   payout_type, payout_value, priority, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, r.ID, rs.ID, r.CriteriaField, string(r.Operator), r.TargetValue,
			string(r.PayoutType), r.PayoutValue, r.Priority, i)

		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return ierr.Newf("rule with ID %s already exists", r.ID).Mark(ierr.ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", r.ID, err)
		}
	}
	return nil
}

// query loads rule sets and then their rules in a single follow-up query.
func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*incentive.RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	defer rows.Close()

	var sets []*incentive.RuleSet
	byID := make(map[string]*incentive.RuleSet)
	for rows.Next() {
		var rs incentive.RuleSet
		var end sql.NullTime
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.Description, &rs.IsActive,
			&rs.EffectiveStartDate, &end, &rs.CreatedAt, &rs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		if end.Valid {
			rs.EffectiveEndDate = &end.Time
		}
		sets = append(sets, &rs)
		byID[rs.ID] = &rs
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule sets: %w", err)
	}
	if len(sets) == 0 {
		return sets, nil
	}

	ids := make([]string, 0, len(sets))
	for _, rs := range sets {
		ids = append(ids, rs.ID)
	}

	ruleRows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_set_id, criteria_field, operator, target_value,
		       payout_type, payout_value, priority
		FROM rules
		WHERE rule_set_id = ANY($1)
		ORDER BY priority ASC, position ASC
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer ruleRows.Close()

	for ruleRows.Next() {
		var r incentive.Rule
		var op, payoutType string
		if err := ruleRows.Scan(&r.ID, &r.RuleSetID, &r.CriteriaField, &op, &r.TargetValue,
			&payoutType, &r.PayoutValue, &r.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		// Stored values are passed through as-is; the engine rejects unknown ones.
		r.Operator = incentive.Operator(op)
		r.PayoutType = incentive.PayoutType(payoutType)
		if rs, ok := byID[r.RuleSetID]; ok {
			rs.Rules = append(rs.Rules, r)
		}
	}
	if err := ruleRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return sets, nil
}
