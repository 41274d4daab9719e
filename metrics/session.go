// Package metrics turns raw performance sessions into the MetricSet the
// incentive engine evaluates.
package metrics

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Session is one raw performance record of a seller's live session.
type Session struct {
	ID                string          `json:"id"`
	SellerID          string          `json:"seller_id"`
	StartedAt         time.Time       `json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	LiveDurationHours decimal.Decimal `json:"live_duration_hours"`
	BrandedItemsSold  int64           `json:"branded_items_sold"`
	FreeSizeItemsSold int64           `json:"free_size_items_sold"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Validate checks that a session can be stored.
func (s *Session) Validate() error {
	if s.SellerID == "" {
		return fmt.Errorf("seller_id is required")
	}
	if s.StartedAt.IsZero() {
		return fmt.Errorf("started_at is required")
	}
	if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
		return fmt.Errorf("session ends before it starts")
	}
	if s.LiveDurationHours.IsNegative() || s.TotalRevenue.IsNegative() {
		return fmt.Errorf("duration and revenue cannot be negative")
	}
	if s.BrandedItemsSold < 0 || s.FreeSizeItemsSold < 0 {
		return fmt.Errorf("item counts cannot be negative")
	}
	return nil
}

// fields exposes the session to CEL expressions as the "session" variable.
func (s *Session) fields() map[string]any {
	return map[string]any{
		"id":                   s.ID,
		"seller_id":            s.SellerID,
		"started_at":           s.StartedAt,
		"live_duration_hours":  s.LiveDurationHours.InexactFloat64(),
		"branded_items_sold":   float64(s.BrandedItemsSold),
		"free_size_items_sold": float64(s.FreeSizeItemsSold),
		"total_revenue":        s.TotalRevenue.InexactFloat64(),
	}
}

// number returns a numeric field by its expression name without rounding.
func (s *Session) number(field string) (decimal.Decimal, bool) {
	switch field {
	case "live_duration_hours":
		return s.LiveDurationHours, true
	case "branded_items_sold":
		return decimal.NewFromInt(s.BrandedItemsSold), true
	case "free_size_items_sold":
		return decimal.NewFromInt(s.FreeSizeItemsSold), true
	case "total_revenue":
		return s.TotalRevenue, true
	}
	return decimal.Zero, false
}

// SellerIDs returns the distinct seller ids of the sessions in first-seen order.
func SellerIDs(sessions []*Session) []string {
	return lo.Uniq(lo.Map(sessions, func(s *Session, _ int) string {
		return s.SellerID
	}))
}

// Period is a half-open time range [From, To). A zero bound is open.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	if !p.From.IsZero() && t.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && !t.Before(p.To) {
		return false
	}
	return true
}

// ParsePeriod builds a Period from query-string style bounds. Each bound may be
// empty, a date (2006-01-02) or an RFC 3339 timestamp. A date upper bound
// covers that whole day.
func ParsePeriod(from, to string) (Period, error) {
	var p Period
	if from != "" {
		t, _, err := parseBound(from)
		if err != nil {
			return Period{}, fmt.Errorf("invalid from: %w", err)
		}
		p.From = t
	}
	if to != "" {
		t, dateOnly, err := parseBound(to)
		if err != nil {
			return Period{}, fmt.Errorf("invalid to: %w", err)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		p.To = t
	}
	if !p.From.IsZero() && !p.To.IsZero() && !p.From.Before(p.To) {
		return Period{}, fmt.Errorf("period start %s is not before end %s", p.From.Format(time.RFC3339), p.To.Format(time.RFC3339))
	}
	return p, nil
}

func parseBound(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, false, nil
}
