package incentive

import (
	"time"

	"github.com/shopspring/decimal"
)

// Well-known metric names produced by the session aggregator.
const (
	MetricLiveHours     = "live_hours"
	MetricBrandedItems  = "branded_items"
	MetricFreeSizeItems = "free_size_items"
	MetricTotalRevenue  = "total_revenue"
	MetricTotalItems    = "total_items"
	MetricSessions      = "sessions"
)

// Operator is the comparison a Rule applies between a metric and its target.
type Operator string

const (
	OpGreaterOrEqual Operator = ">="
	OpGreater        Operator = ">"
	OpEqual          Operator = "="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
)

// PayoutType selects the formula that turns a Rule's payout value into currency.
type PayoutType string

const (
	PayoutFixedAmount PayoutType = "fixed_amount"
	PayoutPercentage  PayoutType = "percentage"
	PayoutPerUnit     PayoutType = "per_unit"
)

// MetricSet maps a metric name to the accumulated value for a seller and period.
// The engine never mutates a MetricSet it is given.
type MetricSet map[string]decimal.Decimal

// Get returns the named metric, or zero when the seller has no activity for it.
func (m MetricSet) Get(name string) decimal.Decimal {
	if v, ok := m[name]; ok {
		return v
	}
	return decimal.Zero
}

// Clone returns an independent copy of the set.
func (m MetricSet) Clone() MetricSet {
	out := make(MetricSet, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Rule maps one metric threshold to a payout contribution.
type Rule struct {
	ID            string          `json:"id" yaml:"id"`
	RuleSetID     string          `json:"rule_set_id" yaml:"-"`
	CriteriaField string          `json:"criteria_field" yaml:"criteria_field"`
	Operator      Operator        `json:"operator" yaml:"operator"`
	TargetValue   decimal.Decimal `json:"target_value" yaml:"target_value"`
	PayoutType    PayoutType      `json:"payout_type" yaml:"payout_type"`
	PayoutValue   decimal.Decimal `json:"payout_value" yaml:"payout_value"`
	Priority      int             `json:"priority" yaml:"priority"`
}

// RuleSet is an AND-group of rules sharing an activation window.
// A RuleSet exclusively owns its Rules.
type RuleSet struct {
	ID                 string     `json:"id" yaml:"id"`
	Name               string     `json:"name" yaml:"name"`
	Description        string     `json:"description,omitempty" yaml:"description,omitempty"`
	IsActive           bool       `json:"is_active" yaml:"is_active"`
	EffectiveStartDate time.Time  `json:"effective_start_date" yaml:"effective_start_date"`
	EffectiveEndDate   *time.Time `json:"effective_end_date,omitempty" yaml:"effective_end_date,omitempty"`
	Rules              []Rule     `json:"rules" yaml:"rules"`
	CreatedAt          time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt          time.Time  `json:"updated_at" yaml:"-"`
}

// RuleOutcome records how a single rule fared during evaluation.
type RuleOutcome struct {
	RuleID       string          `json:"rule_id"`
	Condition    string          `json:"condition"`
	MetricValue  decimal.Decimal `json:"metric_value"`
	Met          bool            `json:"met"`
	Contribution decimal.Decimal `json:"contribution"`
}

// EvaluationResult is the outcome of evaluating one RuleSet.
type EvaluationResult struct {
	RuleSetID    string          `json:"rule_set_id"`
	RuleSetName  string          `json:"rule_set_name"`
	AllRulesMet  bool            `json:"all_rules_met"`
	PayoutAmount decimal.Decimal `json:"payout_amount"`
	Rules        []RuleOutcome   `json:"rules"`
}

// Evaluation is the combined outcome over all rule sets of one call.
type Evaluation struct {
	TotalPayout decimal.Decimal              `json:"total_payout"`
	PerRuleSet  map[string]*EvaluationResult `json:"per_rule_set"`
	// Results holds the same entries as PerRuleSet in input order.
	Results []*EvaluationResult `json:"-"`
}

// Clone returns a deep copy of the rule set.
func (rs *RuleSet) Clone() *RuleSet {
	if rs == nil {
		return nil
	}
	out := *rs
	if rs.EffectiveEndDate != nil {
		end := *rs.EffectiveEndDate
		out.EffectiveEndDate = &end
	}
	if rs.Rules != nil {
		out.Rules = append([]Rule(nil), rs.Rules...)
	}
	return &out
}
