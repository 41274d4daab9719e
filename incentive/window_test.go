package incentive

import (
	"testing"
	"time"
)

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestRuleSetIsCurrent(t *testing.T) {
	end := date(2024, 3, 31)

	testCases := []struct {
		name string
		rs   *RuleSet
		at   time.Time
		want bool
	}{
		{"Active open ended", &RuleSet{IsActive: true, EffectiveStartDate: date(2024, 1, 1)}, date(2030, 1, 1), true},
		{"Inactive", &RuleSet{IsActive: false, EffectiveStartDate: date(2024, 1, 1)}, date(2024, 2, 1), false},
		{"Not started", &RuleSet{IsActive: true, EffectiveStartDate: date(2024, 5, 1)}, date(2024, 4, 30), false},
		{"Starts today", &RuleSet{IsActive: true, EffectiveStartDate: date(2024, 5, 1)}, time.Date(2024, 5, 1, 0, 0, 1, 0, time.UTC), true},
		{"Ends today late in the day", &RuleSet{IsActive: true, EffectiveStartDate: date(2024, 1, 1), EffectiveEndDate: &end}, time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC), true},
		{"Ended", &RuleSet{IsActive: true, EffectiveStartDate: date(2024, 1, 1), EffectiveEndDate: &end}, date(2024, 4, 1), false},
		{"Nil", nil, date(2024, 1, 1), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rs.IsCurrent(tc.at); got != tc.want {
				t.Errorf("IsCurrent(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestFilterCurrent(t *testing.T) {
	end := date(2024, 2, 1)
	sets := []*RuleSet{
		{ID: "a", IsActive: true, EffectiveStartDate: date(2024, 1, 1)},
		{ID: "b", IsActive: false, EffectiveStartDate: date(2024, 1, 1)},
		{ID: "c", IsActive: true, EffectiveStartDate: date(2024, 1, 1), EffectiveEndDate: &end},
		{ID: "d", IsActive: true, EffectiveStartDate: date(2023, 6, 1)},
	}

	got := FilterCurrent(sets, date(2024, 3, 15))
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "d" {
		ids := make([]string, 0, len(got))
		for _, rs := range got {
			ids = append(ids, rs.ID)
		}
		t.Errorf("FilterCurrent() = %v, want [a d]", ids)
	}
}
