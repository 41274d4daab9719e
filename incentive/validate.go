package incentive

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	maxRulesPerSet   = 200
	maxIdentifierLen = 100
	maxNameLen       = 200
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateRuleSet checks a rule set before it is stored.
// Unknown operators and payout types are reported as *ConfigurationError so the
// caller can tell them apart from plain shape problems.
func ValidateRuleSet(rs *RuleSet) error {
	if rs == nil {
		return errors.New("rule set is required")
	}

	name := strings.TrimSpace(rs.Name)
	if name == "" {
		return errors.New("rule set name cannot be empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("rule set name length %d exceeds maximum of %d characters", len(name), maxNameLen)
	}

	if rs.EffectiveStartDate.IsZero() {
		return fmt.Errorf("rule set %q must have an effective start date", rs.Name)
	}
	if rs.EffectiveEndDate != nil && rs.EffectiveEndDate.Before(rs.EffectiveStartDate) {
		return fmt.Errorf("rule set %q ends (%s) before it starts (%s)",
			rs.Name, rs.EffectiveEndDate.Format("2006-01-02"), rs.EffectiveStartDate.Format("2006-01-02"))
	}

	if len(rs.Rules) > maxRulesPerSet {
		return fmt.Errorf("rule set %q contains %d rules, maximum allowed is %d", rs.Name, len(rs.Rules), maxRulesPerSet)
	}

	for i, r := range rs.Rules {
		if err := ValidateRule(r); err != nil {
			var ce *ConfigurationError
			if errors.As(err, &ce) {
				ce.RuleSetID = rs.ID
				return ce
			}
			return fmt.Errorf("rule %d of %q: %w", i+1, rs.Name, err)
		}
	}

	return nil
}

// ValidateRule checks a single rule definition.
func ValidateRule(r Rule) error {
	if err := ValidateIdentifier(r.CriteriaField); err != nil {
		return fmt.Errorf("invalid criteria field %q: %w", r.CriteriaField, err)
	}
	if !r.Operator.Valid() {
		return &ConfigurationError{RuleID: r.ID, Field: "operator", Value: string(r.Operator)}
	}
	if !r.PayoutType.Valid() {
		return &ConfigurationError{RuleID: r.ID, Field: "payout_type", Value: string(r.PayoutType)}
	}
	if r.PayoutValue.IsNegative() {
		return fmt.Errorf("payout value %s cannot be negative", r.PayoutValue.String())
	}
	return nil
}

// ValidateIdentifier checks a metric name: 1-100 characters matching ^[a-zA-Z_][a-zA-Z0-9_]*$.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return errors.New("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLen)
	}
	if !identifierPattern.MatchString(name) {
		return errors.New("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	return nil
}
