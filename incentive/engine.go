package incentive

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate matches metrics against every rule set and aggregates the payouts.
//
// ruleSets must already be restricted to the sets that are current at the
// evaluation time (see FilterCurrent); Evaluate does not look at activation
// flags or effective dates. Every rule of every set is checked, so an
// unrecognized operator or payout type is reported even when an earlier rule
// of the same set was not met. Any configuration error voids the whole call:
// the returned error joins all of them and the Evaluation is nil.
//
// Evaluate holds no state and never mutates its inputs; it is safe to call
// concurrently.
func Evaluate(metrics MetricSet, ruleSets []*RuleSet) (*Evaluation, error) {
	ev := &Evaluation{
		TotalPayout: decimal.Zero,
		PerRuleSet:  make(map[string]*EvaluationResult, len(ruleSets)),
		Results:     make([]*EvaluationResult, 0, len(ruleSets)),
	}

	seen := make(map[string]struct{}, len(ruleSets))
	var errs []error
	for _, rs := range ruleSets {
		if rs == nil {
			continue
		}
		if _, dup := seen[rs.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRuleSet, rs.ID)
		}
		seen[rs.ID] = struct{}{}

		res, err := EvaluateRuleSet(metrics, rs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ev.PerRuleSet[rs.ID] = res
		ev.Results = append(ev.Results, res)
		ev.TotalPayout = ev.TotalPayout.Add(res.PayoutAmount)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return ev, nil
}

// EvaluateRuleSet evaluates a single rule set. A set without rules is never met.
func EvaluateRuleSet(metrics MetricSet, rs *RuleSet) (*EvaluationResult, error) {
	res := &EvaluationResult{
		RuleSetID:    rs.ID,
		RuleSetName:  rs.Name,
		PayoutAmount: decimal.Zero,
		Rules:        make([]RuleOutcome, 0, len(rs.Rules)),
	}
	if len(rs.Rules) == 0 {
		return res, nil
	}

	allMet := true
	payoutForThisSet := decimal.Zero
	var errs []error

	for _, r := range orderedRules(rs.Rules) {
		value := metrics.Get(r.CriteriaField)
		met, err := compare(value, r.Operator, r.TargetValue)
		if err != nil {
			errs = append(errs, &ConfigurationError{RuleSetID: rs.ID, RuleID: r.ID, Field: "operator", Value: string(r.Operator)})
		}
		if !r.PayoutType.Valid() {
			errs = append(errs, &ConfigurationError{RuleSetID: rs.ID, RuleID: r.ID, Field: "payout_type", Value: string(r.PayoutType)})
			continue
		}
		if err != nil {
			continue
		}

		outcome := RuleOutcome{
			RuleID:       r.ID,
			Condition:    r.Condition(),
			MetricValue:  value,
			Met:          met,
			Contribution: decimal.Zero,
		}
		if !met {
			allMet = false
		} else {
			outcome.Contribution = contribution(metrics, r)
			payoutForThisSet = payoutForThisSet.Add(outcome.Contribution)
		}
		res.Rules = append(res.Rules, outcome)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	res.AllRulesMet = allMet
	if allMet {
		res.PayoutAmount = payoutForThisSet
	}
	return res, nil
}

// orderedRules returns the rules sorted by priority; equal priorities keep their stored order.
func orderedRules(rules []Rule) []Rule {
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b Rule) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return out
}

// compare applies op exactly; there is no tolerance on equality.
func compare(value decimal.Decimal, op Operator, target decimal.Decimal) (bool, error) {
	switch op {
	case OpGreaterOrEqual:
		return value.GreaterThanOrEqual(target), nil
	case OpGreater:
		return value.GreaterThan(target), nil
	case OpEqual:
		return value.Equal(target), nil
	case OpLess:
		return value.LessThan(target), nil
	case OpLessOrEqual:
		return value.LessThanOrEqual(target), nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

// contribution computes what a met rule adds to its set. The payout type has
// already been validated by the caller.
func contribution(metrics MetricSet, r Rule) decimal.Decimal {
	switch r.PayoutType {
	case PayoutPercentage:
		return metrics.Get(MetricTotalRevenue).Mul(r.PayoutValue).Div(hundred)
	case PayoutPerUnit:
		units := metrics.Get(MetricBrandedItems).Add(metrics.Get(MetricFreeSizeItems))
		return units.Mul(r.PayoutValue)
	case PayoutFixedAmount:
		return r.PayoutValue
	}
	return decimal.Zero
}
