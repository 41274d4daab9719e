package incentive

import "fmt"

// Condition renders the rule's test the way the dashboard tooltip shows it,
// e.g. "branded_items >= 10".
func (r Rule) Condition() string {
	return fmt.Sprintf("%s %s %s", r.CriteriaField, r.Operator, r.TargetValue.String())
}

// PayoutDescription renders the payout formula in a short human form.
func (r Rule) PayoutDescription() string {
	switch r.PayoutType {
	case PayoutFixedAmount:
		return "fixed " + r.PayoutValue.String()
	case PayoutPercentage:
		return fmt.Sprintf("%s%% of %s", r.PayoutValue.String(), MetricTotalRevenue)
	case PayoutPerUnit:
		return r.PayoutValue.String() + " per item"
	default:
		return "unknown payout " + string(r.PayoutType)
	}
}

// Conditions lists the condition of every rule in the set, in evaluation order.
func (rs *RuleSet) Conditions() []string {
	out := make([]string, 0, len(rs.Rules))
	for _, r := range orderedRules(rs.Rules) {
		out = append(out, r.Condition())
	}
	return out
}
