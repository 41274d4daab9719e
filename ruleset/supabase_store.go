package ruleset

import (
	"context"
	"fmt"
	"sort"
	"time"

	supa "github.com/nedpals/supabase-go"
	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/incentive"
	ierr "github.com/liamcoop/incentives/internal/errors"
)

const (
	ruleSetsTable = "rule_sets"
	rulesTable    = "rules"
	// embeds each set's rules through the rules.rule_set_id foreign key
	ruleSetSelect = "*,rules(*)"
)

// supabaseRuleSet is the PostgREST row shape of rule_sets. Date columns come
// back as plain dates, not timestamps.
type supabaseRuleSet struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	IsActive           bool           `json:"is_active"`
	EffectiveStartDate string         `json:"effective_start_date"`
	EffectiveEndDate   *string        `json:"effective_end_date"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	Rules              []supabaseRule `json:"rules,omitempty"`
}

type supabaseRule struct {
	ID            string          `json:"id"`
	RuleSetID     string          `json:"rule_set_id"`
	CriteriaField string          `json:"criteria_field"`
	Operator      string          `json:"operator"`
	TargetValue   decimal.Decimal `json:"target_value"`
	PayoutType    string          `json:"payout_type"`
	PayoutValue   decimal.Decimal `json:"payout_value"`
	Priority      int             `json:"priority"`
	Position      int             `json:"position"`
}

// SupabaseStore implements Store on the hosted rule_sets and rules tables.
// PostgREST has no multi-request transactions, so the set row is written
// before its rules and a failed rule write leaves the set without rules.
type SupabaseStore struct {
	client *supa.Client
}

// NewSupabaseStore creates a rule set store using an existing Supabase client
func NewSupabaseStore(client *supa.Client) *SupabaseStore {
	return &SupabaseStore{client: client}
}

func (s *SupabaseStore) Add(ctx context.Context, rs *incentive.RuleSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepare(rs); err != nil {
		return err
	}

	if _, err := s.Get(ctx, rs.ID); err == nil {
		return ierr.Newf("rule set with ID %s already exists", rs.ID).Mark(ierr.ErrAlreadyExists)
	} else if !ierr.IsNotFound(err) {
		return err
	}

	now := time.Now().UTC()
	rs.CreatedAt = now
	rs.UpdatedAt = now

	var inserted []supabaseRuleSet
	if err := s.client.DB.From(ruleSetsTable).Insert(toRow(rs)).Execute(&inserted); err != nil {
		return unavailable(err, "failed to insert rule set")
	}
	return s.insertRules(rs)
}

func (s *SupabaseStore) Get(ctx context.Context, id string) (*incentive.RuleSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []supabaseRuleSet
	if err := s.client.DB.From(ruleSetsTable).Select(ruleSetSelect).Eq("id", id).Execute(&rows); err != nil {
		return nil, unavailable(err, "failed to get rule set")
	}
	if len(rows) == 0 {
		return nil, notFound(id)
	}
	return fromRow(rows[0])
}

func (s *SupabaseStore) List(ctx context.Context) ([]*incentive.RuleSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []supabaseRuleSet
	if err := s.client.DB.From(ruleSetsTable).Select(ruleSetSelect).Execute(&rows); err != nil {
		return nil, unavailable(err, "failed to list rule sets")
	}
	return fromRows(rows)
}

func (s *SupabaseStore) ListActive(ctx context.Context) ([]*incentive.RuleSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []supabaseRuleSet
	if err := s.client.DB.From(ruleSetsTable).Select(ruleSetSelect).Eq("is_active", "true").Execute(&rows); err != nil {
		return nil, unavailable(err, "failed to list active rule sets")
	}
	return fromRows(rows)
}

func (s *SupabaseStore) Update(ctx context.Context, rs *incentive.RuleSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepare(rs); err != nil {
		return err
	}

	existing, err := s.Get(ctx, rs.ID)
	if err != nil {
		return err
	}
	rs.CreatedAt = existing.CreatedAt
	rs.UpdatedAt = time.Now().UTC()

	row := toRow(rs)
	var updated []supabaseRuleSet
	if err := s.client.DB.From(ruleSetsTable).Update(row).Eq("id", rs.ID).Execute(&updated); err != nil {
		return unavailable(err, "failed to update rule set")
	}

	var deleted []supabaseRule
	if err := s.client.DB.From(rulesTable).Delete().Eq("rule_set_id", rs.ID).Execute(&deleted); err != nil {
		return unavailable(err, "failed to replace rules")
	}
	return s.insertRules(rs)
}

func (s *SupabaseStore) SetActive(ctx context.Context, id string, active bool) (*incentive.RuleSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	patch := map[string]any{"is_active": active, "updated_at": time.Now().UTC()}
	var updated []supabaseRuleSet
	if err := s.client.DB.From(ruleSetsTable).Update(patch).Eq("id", id).Execute(&updated); err != nil {
		return nil, unavailable(err, "failed to update rule set")
	}
	if len(updated) == 0 {
		return nil, notFound(id)
	}
	return s.Get(ctx, id)
}

func (s *SupabaseStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var deleted []supabaseRuleSet
	if err := s.client.DB.From(ruleSetsTable).Delete().Eq("id", id).Execute(&deleted); err != nil {
		return unavailable(err, "failed to delete rule set")
	}
	if len(deleted) == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SupabaseStore) insertRules(rs *incentive.RuleSet) error {
	if len(rs.Rules) == 0 {
		return nil
	}
	rows := make([]supabaseRule, 0, len(rs.Rules))
	for i, r := range rs.Rules {
		rows = append(rows, supabaseRule{
			ID:            r.ID,
			RuleSetID:     rs.ID,
			CriteriaField: r.CriteriaField,
			Operator:      string(r.Operator),
			TargetValue:   r.TargetValue,
			PayoutType:    string(r.PayoutType),
			PayoutValue:   r.PayoutValue,
			Priority:      r.Priority,
			Position:      i,
		})
	}

	var inserted []supabaseRule
	if err := s.client.DB.From(rulesTable).Insert(rows).Execute(&inserted); err != nil {
		return unavailable(err, fmt.Sprintf("failed to insert rules of %s", rs.ID))
	}
	return nil
}

func unavailable(err error, msg string) error {
	return ierr.WithError(err).WithMessage(msg).Mark(ierr.ErrUnavailable)
}

func toRow(rs *incentive.RuleSet) supabaseRuleSet {
	row := supabaseRuleSet{
		ID:                 rs.ID,
		Name:               rs.Name,
		Description:        rs.Description,
		IsActive:           rs.IsActive,
		EffectiveStartDate: rs.EffectiveStartDate.Format(time.DateOnly),
		CreatedAt:          rs.CreatedAt,
		UpdatedAt:          rs.UpdatedAt,
	}
	if rs.EffectiveEndDate != nil {
		end := rs.EffectiveEndDate.Format(time.DateOnly)
		row.EffectiveEndDate = &end
	}
	return row
}

func fromRows(rows []supabaseRuleSet) ([]*incentive.RuleSet, error) {
	out := make([]*incentive.RuleSet, 0, len(rows))
	for _, row := range rows {
		rs, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func fromRow(row supabaseRuleSet) (*incentive.RuleSet, error) {
	start, err := time.Parse(time.DateOnly, row.EffectiveStartDate)
	if err != nil {
		return nil, fmt.Errorf("rule set %s: invalid effective_start_date: %w", row.ID, err)
	}
	rs := &incentive.RuleSet{
		ID:                 row.ID,
		Name:               row.Name,
		Description:        row.Description,
		IsActive:           row.IsActive,
		EffectiveStartDate: start,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if row.EffectiveEndDate != nil {
		end, err := time.Parse(time.DateOnly, *row.EffectiveEndDate)
		if err != nil {
			return nil, fmt.Errorf("rule set %s: invalid effective_end_date: %w", row.ID, err)
		}
		rs.EffectiveEndDate = &end
	}

	sort.SliceStable(row.Rules, func(i, j int) bool { return row.Rules[i].Position < row.Rules[j].Position })
	for _, r := range row.Rules {
		rs.Rules = append(rs.Rules, incentive.Rule{
			ID:            r.ID,
			RuleSetID:     row.ID,
			CriteriaField: r.CriteriaField,
			Operator:      incentive.Operator(r.Operator),
			TargetValue:   r.TargetValue,
			PayoutType:    incentive.PayoutType(r.PayoutType),
			PayoutValue:   r.PayoutValue,
			Priority:      r.Priority,
		})
	}
	sortRules(rs)
	return rs, nil
}
