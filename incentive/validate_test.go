package incentive

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validRuleSet() *RuleSet {
	return &RuleSet{
		ID:                 "rs-1",
		Name:               "Weekly live bonus",
		IsActive:           true,
		EffectiveStartDate: date(2024, 1, 1),
		Rules: []Rule{
			{ID: "r-1", CriteriaField: MetricLiveHours, Operator: OpGreaterOrEqual, TargetValue: d("20"), PayoutType: PayoutFixedAmount, PayoutValue: d("100")},
		},
	}
}

func TestValidateRuleSet_Valid(t *testing.T) {
	if err := ValidateRuleSet(validRuleSet()); err != nil {
		t.Errorf("expected valid rule set, got error: %v", err)
	}
}

func TestValidateRuleSet_EmptyName(t *testing.T) {
	rs := validRuleSet()
	rs.Name = "   "

	err := ValidateRuleSet(rs)
	if err == nil || !strings.Contains(err.Error(), "name") {
		t.Errorf("expected error about empty name, got: %v", err)
	}
}

func TestValidateRuleSet_MissingStartDate(t *testing.T) {
	rs := validRuleSet()
	rs.EffectiveStartDate = time.Time{}

	if err := ValidateRuleSet(rs); err == nil {
		t.Error("expected error for missing start date")
	}
}

func TestValidateRuleSet_EndBeforeStart(t *testing.T) {
	rs := validRuleSet()
	end := date(2023, 12, 31)
	rs.EffectiveEndDate = &end

	err := ValidateRuleSet(rs)
	if err == nil || !strings.Contains(err.Error(), "before it starts") {
		t.Errorf("expected window error, got: %v", err)
	}
}

func TestValidateRuleSet_TooManyRules(t *testing.T) {
	rs := validRuleSet()
	for len(rs.Rules) <= 200 {
		rs.Rules = append(rs.Rules, rs.Rules[0])
	}

	err := ValidateRuleSet(rs)
	if err == nil || !strings.Contains(err.Error(), "200") {
		t.Errorf("expected error about max 200 rules, got: %v", err)
	}
}

func TestValidateRuleSet_NoRulesAllowed(t *testing.T) {
	rs := validRuleSet()
	rs.Rules = nil

	// An empty set can be stored; it simply never pays out.
	if err := ValidateRuleSet(rs); err != nil {
		t.Errorf("expected empty rule list to validate, got: %v", err)
	}
}

func TestValidateRuleSet_UnknownOperator(t *testing.T) {
	rs := validRuleSet()
	rs.Rules[0].Operator = "!="

	err := ValidateRuleSet(rs)
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if ce.RuleSetID != "rs-1" || ce.Field != "operator" {
		t.Errorf("unexpected error details: %+v", ce)
	}
}

func TestValidateRuleSet_UnknownPayoutType(t *testing.T) {
	rs := validRuleSet()
	rs.Rules[0].PayoutType = "tiered"

	if err := ValidateRuleSet(rs); !IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestValidateRuleSet_NegativePayout(t *testing.T) {
	rs := validRuleSet()
	rs.Rules[0].PayoutValue = d("-5")

	err := ValidateRuleSet(rs)
	if err == nil || !strings.Contains(err.Error(), "negative") {
		t.Errorf("expected negative payout error, got: %v", err)
	}
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"live_hours", "_private", "A", "metric2", strings.Repeat("a", 100)}
	for _, name := range valid {
		if err := ValidateIdentifier(name); err != nil {
			t.Errorf("expected %q to be valid, got: %v", name, err)
		}
	}

	invalid := []string{"", "2fast", "live-hours", "live hours", "hours!", strings.Repeat("a", 101)}
	for _, name := range invalid {
		if err := ValidateIdentifier(name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestParseOperatorAndPayoutType(t *testing.T) {
	for _, s := range []string{">=", ">", "=", "<", "<="} {
		if _, err := ParseOperator(s); err != nil {
			t.Errorf("ParseOperator(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseOperator("=="); !IsConfigurationError(err) {
		t.Errorf("ParseOperator(==) should be a configuration error, got %v", err)
	}

	for _, s := range []string{"fixed_amount", "percentage", "per_unit"} {
		if _, err := ParsePayoutType(s); err != nil {
			t.Errorf("ParsePayoutType(%q) failed: %v", s, err)
		}
	}
	if _, err := ParsePayoutType("Fixed_Amount"); !IsConfigurationError(err) {
		t.Errorf("payout types are case-sensitive, got %v", err)
	}
}

func TestRuleCondition(t *testing.T) {
	r := Rule{CriteriaField: MetricBrandedItems, Operator: OpGreaterOrEqual, TargetValue: d("10"), PayoutType: PayoutPercentage, PayoutValue: d("2.5")}

	if got := r.Condition(); got != "branded_items >= 10" {
		t.Errorf("Condition() = %q", got)
	}
	if got := r.PayoutDescription(); got != "2.5% of total_revenue" {
		t.Errorf("PayoutDescription() = %q", got)
	}

	rs := &RuleSet{Rules: []Rule{
		{Priority: 2, CriteriaField: "b", Operator: OpLess, TargetValue: d("1")},
		{Priority: 1, CriteriaField: "a", Operator: OpEqual, TargetValue: d("3")},
	}}
	conds := rs.Conditions()
	if len(conds) != 2 || conds[0] != "a = 3" || conds[1] != "b < 1" {
		t.Errorf("Conditions() = %v", conds)
	}
}
