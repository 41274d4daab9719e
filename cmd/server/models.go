package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/incentive"
	"github.com/liamcoop/incentives/metrics"
	"github.com/liamcoop/incentives/payout"
)

// API request and response models

// RuleRequest is one rule of a rule set in create and update requests
type RuleRequest struct {
	ID            string          `json:"id,omitempty"`
	CriteriaField string          `json:"criteria_field" validate:"required"`
	Operator      string          `json:"operator" validate:"required"`
	TargetValue   decimal.Decimal `json:"target_value"`
	PayoutType    string          `json:"payout_type" validate:"required"`
	PayoutValue   decimal.Decimal `json:"payout_value"`
	Priority      int             `json:"priority"`
}

// RuleSetRequest is the body of rule set create and update requests
type RuleSetRequest struct {
	ID                 string        `json:"id,omitempty"`
	Name               string        `json:"name" validate:"required,max=200"`
	Description        string        `json:"description"`
	IsActive           bool          `json:"is_active"`
	EffectiveStartDate string        `json:"effective_start_date" validate:"required"`
	EffectiveEndDate   *string       `json:"effective_end_date,omitempty"`
	Rules              []RuleRequest `json:"rules" validate:"max=200,dive"`
}

// toRuleSet converts the request; a non-empty id overrides the body's.
// Operator and payout type strings are kept as sent so unknown values
// surface as configuration errors.
func (r RuleSetRequest) toRuleSet(id string) (*incentive.RuleSet, error) {
	if id == "" {
		id = r.ID
	}
	start, err := parseDate(r.EffectiveStartDate)
	if err != nil {
		return nil, fmt.Errorf("effective_start_date: %w", err)
	}
	rs := &incentive.RuleSet{
		ID:                 id,
		Name:               strings.TrimSpace(r.Name),
		Description:        r.Description,
		IsActive:           r.IsActive,
		EffectiveStartDate: start,
	}
	if r.EffectiveEndDate != nil && *r.EffectiveEndDate != "" {
		end, err := parseDate(*r.EffectiveEndDate)
		if err != nil {
			return nil, fmt.Errorf("effective_end_date: %w", err)
		}
		rs.EffectiveEndDate = &end
	}
	for _, rr := range r.Rules {
		rs.Rules = append(rs.Rules, incentive.Rule{
			ID:            rr.ID,
			CriteriaField: rr.CriteriaField,
			Operator:      incentive.Operator(rr.Operator),
			TargetValue:   rr.TargetValue,
			PayoutType:    incentive.PayoutType(rr.PayoutType),
			PayoutValue:   rr.PayoutValue,
			Priority:      rr.Priority,
		})
	}
	return rs, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp and returns the UTC day.
func parseDate(s string) (time.Time, error) {
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

// RuleSetResponse is a rule set with the human readable form of its rules
type RuleSetResponse struct {
	*incentive.RuleSet
	Conditions []string `json:"conditions"`
	IsCurrent  bool     `json:"is_current"`
}

func newRuleSetResponse(rs *incentive.RuleSet, now time.Time) RuleSetResponse {
	return RuleSetResponse{RuleSet: rs, Conditions: rs.Conditions(), IsCurrent: rs.IsCurrent(now)}
}

// RuleSetsListResponse represents the response for listing rule sets
type RuleSetsListResponse struct {
	RuleSets []RuleSetResponse `json:"rule_sets"`
}

// EvaluateRequest evaluates a MetricSet against inline or stored rule sets
type EvaluateRequest struct {
	Metrics  incentive.MetricSet `json:"metrics" validate:"required"`
	RuleSets []RuleSetRequest    `json:"rule_sets,omitempty" validate:"dive"`
	// SkipWindow evaluates inline rule sets without the active/window filter
	SkipWindow bool `json:"skip_window"`
	// At overrides the evaluation time used for the window filter
	At *time.Time `json:"at,omitempty"`
}

// EvaluateResponse is the engine output plus timing
type EvaluateResponse struct {
	TotalPayout    decimal.Decimal               `json:"total_payout"`
	PerRuleSet     []*incentive.EvaluationResult `json:"per_rule_set"`
	EvaluatedAt    time.Time                     `json:"evaluated_at"`
	EvaluationTime string                        `json:"evaluation_time"`
}

// CreateSessionRequest records one live session
type CreateSessionRequest struct {
	ID                string          `json:"id,omitempty"`
	SellerID          string          `json:"seller_id" validate:"required"`
	StartedAt         time.Time       `json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	LiveDurationHours decimal.Decimal `json:"live_duration_hours"`
	BrandedItemsSold  int64           `json:"branded_items_sold" validate:"gte=0"`
	FreeSizeItemsSold int64           `json:"free_size_items_sold" validate:"gte=0"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
}

func (r CreateSessionRequest) toSession() *metrics.Session {
	return &metrics.Session{
		ID:                r.ID,
		SellerID:          r.SellerID,
		StartedAt:         r.StartedAt,
		EndedAt:           r.EndedAt,
		LiveDurationHours: r.LiveDurationHours,
		BrandedItemsSold:  r.BrandedItemsSold,
		FreeSizeItemsSold: r.FreeSizeItemsSold,
		TotalRevenue:      r.TotalRevenue,
	}
}

// SessionsListResponse represents the response for listing sessions
type SessionsListResponse struct {
	Sessions []*metrics.Session `json:"sessions"`
}

// SellerMetricsResponse is a seller's aggregated metrics for a period
type SellerMetricsResponse struct {
	SellerID     string              `json:"seller_id"`
	Period       metrics.Period      `json:"period"`
	SessionCount int                 `json:"session_count"`
	Metrics      incentive.MetricSet `json:"metrics"`
}

// PayoutsListResponse is the cohort leaderboard
type PayoutsListResponse struct {
	Period     metrics.Period      `json:"period"`
	Statements []*payout.Statement `json:"statements"`
}
