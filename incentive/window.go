package incentive

import (
	"time"

	"github.com/samber/lo"
)

// IsCurrent reports whether the set is active and its effective window covers at.
// Effective dates are calendar days in UTC and both ends are inclusive, so a set
// ending on 2024-03-31 is still current at any time on that day.
func (rs *RuleSet) IsCurrent(at time.Time) bool {
	if rs == nil || !rs.IsActive {
		return false
	}
	day := dayOf(at)
	if dayOf(rs.EffectiveStartDate).After(day) {
		return false
	}
	if rs.EffectiveEndDate != nil && dayOf(*rs.EffectiveEndDate).Before(day) {
		return false
	}
	return true
}

// FilterCurrent returns the sets that are current at the given time, keeping input order.
func FilterCurrent(ruleSets []*RuleSet, at time.Time) []*RuleSet {
	return lo.Filter(ruleSets, func(rs *RuleSet, _ int) bool {
		return rs.IsCurrent(at)
	})
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
