package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/incentives/incentive"
	"github.com/liamcoop/incentives/metrics"
)

// Numbers are read as strings so decimals keep their exact value.

type rulesFile struct {
	RuleSets []ruleSetEntry `yaml:"rule_sets"`
}

type ruleSetEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// IsActive defaults to true for sets listed in a file.
	IsActive           *bool       `yaml:"is_active"`
	EffectiveStartDate string      `yaml:"effective_start_date"`
	EffectiveEndDate   string      `yaml:"effective_end_date"`
	Rules              []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ID            string `yaml:"id"`
	CriteriaField string `yaml:"criteria_field"`
	Operator      string `yaml:"operator"`
	TargetValue   string `yaml:"target_value"`
	PayoutType    string `yaml:"payout_type"`
	PayoutValue   string `yaml:"payout_value"`
	Priority      int    `yaml:"priority"`
}

type metricsFile struct {
	SellerID string            `yaml:"seller_id"`
	From     string            `yaml:"from"`
	To       string            `yaml:"to"`
	Metrics  map[string]string `yaml:"metrics"`
	Sessions []sessionEntry    `yaml:"sessions"`
}

type sessionEntry struct {
	StartedAt         string `yaml:"started_at"`
	LiveDurationHours string `yaml:"live_duration_hours"`
	BrandedItemsSold  int64  `yaml:"branded_items_sold"`
	FreeSizeItemsSold int64  `yaml:"free_size_items_sold"`
	TotalRevenue      string `yaml:"total_revenue"`
}

// metricsInput is a parsed metrics file.
type metricsInput struct {
	SellerID string
	Period   metrics.Period
	Sessions []*metrics.Session
	Metrics  incentive.MetricSet
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadRuleSets reads a rules file. Sets without an id are named after the
// file and their position.
func loadRuleSets(path string) ([]*incentive.RuleSet, error) {
	var f rulesFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}

	sets := make([]*incentive.RuleSet, 0, len(f.RuleSets))
	for i, e := range f.RuleSets {
		rs, err := e.toRuleSet()
		if err != nil {
			return nil, fmt.Errorf("%s: rule set %d: %w", path, i+1, err)
		}
		if rs.ID == "" {
			rs.ID = fmt.Sprintf("%s#%d", filepath.Base(path), i+1)
		}
		sets = append(sets, rs)
	}
	return sets, nil
}

func (e ruleSetEntry) toRuleSet() (*incentive.RuleSet, error) {
	start, err := parseDay(e.EffectiveStartDate)
	if err != nil {
		return nil, fmt.Errorf("effective_start_date: %w", err)
	}
	rs := &incentive.RuleSet{
		ID:                 e.ID,
		Name:               e.Name,
		Description:        e.Description,
		IsActive:           e.IsActive == nil || *e.IsActive,
		EffectiveStartDate: start,
	}
	if e.EffectiveEndDate != "" {
		end, err := parseDay(e.EffectiveEndDate)
		if err != nil {
			return nil, fmt.Errorf("effective_end_date: %w", err)
		}
		rs.EffectiveEndDate = &end
	}

	for i, r := range e.Rules {
		target, err := parseAmount(r.TargetValue)
		if err != nil {
			return nil, fmt.Errorf("rule %d target_value: %w", i+1, err)
		}
		value, err := parseAmount(r.PayoutValue)
		if err != nil {
			return nil, fmt.Errorf("rule %d payout_value: %w", i+1, err)
		}
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("rule-%d", i+1)
		}
		rs.Rules = append(rs.Rules, incentive.Rule{
			ID:            id,
			RuleSetID:     rs.ID,
			CriteriaField: r.CriteriaField,
			Operator:      incentive.Operator(r.Operator),
			TargetValue:   target,
			PayoutType:    incentive.PayoutType(r.PayoutType),
			PayoutValue:   value,
			Priority:      r.Priority,
		})
	}
	return rs, nil
}

// loadMetrics reads a metrics file. Sessions are aggregated with agg and
// explicit metrics are applied on top.
func loadMetrics(path string, agg *metrics.Aggregator) (*metricsInput, error) {
	var f metricsFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}

	period, err := metrics.ParsePeriod(f.From, f.To)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	in := &metricsInput{SellerID: f.SellerID, Period: period, Metrics: incentive.MetricSet{}}

	for i, e := range f.Sessions {
		s, err := e.toSession(f.SellerID)
		if err != nil {
			return nil, fmt.Errorf("%s: session %d: %w", path, i+1, err)
		}
		if !period.Contains(s.StartedAt) {
			continue
		}
		in.Sessions = append(in.Sessions, s)
	}
	if len(in.Sessions) > 0 {
		m, err := agg.Aggregate(in.Sessions)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		in.Metrics = m
	}

	for name, raw := range f.Metrics {
		v, err := parseAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: metric %s: %w", path, name, err)
		}
		in.Metrics[name] = v
	}
	return in, nil
}

func (e sessionEntry) toSession(sellerID string) (*metrics.Session, error) {
	started, err := time.Parse(time.RFC3339, e.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("started_at: %w", err)
	}
	hours, err := parseAmount(e.LiveDurationHours)
	if err != nil {
		return nil, fmt.Errorf("live_duration_hours: %w", err)
	}
	revenue, err := parseAmount(e.TotalRevenue)
	if err != nil {
		return nil, fmt.Errorf("total_revenue: %w", err)
	}
	if sellerID == "" {
		sellerID = "seller"
	}
	s := &metrics.Session{
		SellerID:          sellerID,
		StartedAt:         started,
		LiveDurationHours: hours,
		BrandedItemsSold:  e.BrandedItemsSold,
		FreeSizeItemsSold: e.FreeSizeItemsSold,
		TotalRevenue:      revenue,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// parseAmount reads a decimal; an empty value is zero.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// parseDay accepts a date or an RFC 3339 timestamp and returns the UTC day.
func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", s)
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
