package incentive

import (
	"errors"
	"fmt"
)

// ErrDuplicateRuleSet is returned when two rule sets of one evaluation share an ID.
var ErrDuplicateRuleSet = errors.New("duplicate rule set id")

// ConfigurationError reports a rule whose operator or payout type is not recognized.
// It voids the evaluation call that encountered it.
type ConfigurationError struct {
	RuleSetID string
	RuleID    string
	Field     string // "operator" or "payout_type"
	Value     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule set %s rule %s: unrecognized %s %q", e.RuleSetID, e.RuleID, e.Field, e.Value)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ParseOperator converts a stored operator string into an Operator.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	if !op.Valid() {
		return "", &ConfigurationError{Field: "operator", Value: s}
	}
	return op, nil
}

// ParsePayoutType converts a stored payout type string into a PayoutType.
func ParsePayoutType(s string) (PayoutType, error) {
	pt := PayoutType(s)
	if !pt.Valid() {
		return "", &ConfigurationError{Field: "payout_type", Value: s}
	}
	return pt, nil
}

// Valid reports whether op is one of the supported comparisons.
func (op Operator) Valid() bool {
	switch op {
	case OpGreaterOrEqual, OpGreater, OpEqual, OpLess, OpLessOrEqual:
		return true
	}
	return false
}

// Valid reports whether pt is one of the supported payout formulas.
func (pt PayoutType) Valid() bool {
	switch pt {
	case PayoutFixedAmount, PayoutPercentage, PayoutPerUnit:
		return true
	}
	return false
}
