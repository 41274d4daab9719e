// Package payout computes seller pay from stored sessions and the rule sets
// that are current at evaluation time.
package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/liamcoop/incentives/incentive"
	"github.com/liamcoop/incentives/internal/logger"
	"github.com/liamcoop/incentives/metrics"
	"github.com/liamcoop/incentives/ruleset"
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	// DefaultBasePay is used when a call does not supply a base pay.
	DefaultBasePay decimal.Decimal
	// Concurrency bounds parallel seller evaluations in a cohort. Default 8.
	Concurrency int
	// Clock returns the evaluation time. Default time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// Service fetches rules and sessions, builds metrics and runs the engine.
// Every call works on a fresh snapshot; the Service keeps no evaluation state.
type Service struct {
	rules    ruleset.Store
	sessions metrics.Store
	agg      *metrics.Aggregator
	opts     Options
}

// NewService wires a payout service
func NewService(rules ruleset.Store, sessions metrics.Store, agg *metrics.Aggregator, opts Options) *Service {
	if opts.Concurrency < 1 {
		opts.Concurrency = 8
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{rules: rules, sessions: sessions, agg: agg, opts: opts}
}

// Now returns the service's evaluation time.
func (s *Service) Now() time.Time {
	return s.opts.Clock()
}

// CurrentRuleSets returns the active rule sets whose window covers now.
func (s *Service) CurrentRuleSets(ctx context.Context) ([]*incentive.RuleSet, error) {
	active, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rule sets: %w", err)
	}
	return incentive.FilterCurrent(active, s.opts.Clock()), nil
}

// Evaluate runs the current rule sets against an already built MetricSet.
func (s *Service) Evaluate(ctx context.Context, m incentive.MetricSet) (*incentive.Evaluation, error) {
	current, err := s.CurrentRuleSets(ctx)
	if err != nil {
		return nil, err
	}
	eval, err := incentive.Evaluate(m, current)
	logger.RecordEvaluation(err, "rule_sets", len(current))
	return eval, err
}

// SellerMetrics aggregates one seller's sessions in the period.
func (s *Service) SellerMetrics(ctx context.Context, sellerID string, period metrics.Period) (incentive.MetricSet, []*metrics.Session, error) {
	sessions, err := s.sessions.ListBySeller(ctx, sellerID, period)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load sessions of %s: %w", sellerID, err)
	}
	m, err := s.agg.Aggregate(sessions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to aggregate sessions of %s: %w", sellerID, err)
	}
	return m, sessions, nil
}

// SellerStatement computes one seller's pay for the period. A null basePay
// falls back to the configured default.
func (s *Service) SellerStatement(ctx context.Context, sellerID string, period metrics.Period, basePay decimal.NullDecimal) (*Statement, error) {
	m, sessions, err := s.SellerMetrics(ctx, sellerID, period)
	if err != nil {
		return nil, err
	}

	current, err := s.CurrentRuleSets(ctx)
	if err != nil {
		return nil, err
	}

	at := s.opts.Clock()
	eval, err := incentive.Evaluate(m, current)
	logger.RecordEvaluation(err, "seller_id", sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %s: %w", sellerID, err)
	}

	st := NewStatement(sellerID, period, len(sessions), m, eval, s.basePay(basePay), at)
	s.opts.Logger.Debug("Seller statement computed",
		"seller_id", sellerID, "sessions", len(sessions), "final_pay", st.FinalPay.String())
	return st, nil
}

// CohortStatements computes a statement for every seller with sessions in
// the period, ranked by final pay. Rules and sessions are read once so the
// whole cohort is evaluated against the same snapshot. A single failure
// fails the cohort.
func (s *Service) CohortStatements(ctx context.Context, period metrics.Period, basePay decimal.NullDecimal) ([]*Statement, error) {
	current, err := s.CurrentRuleSets(ctx)
	if err != nil {
		return nil, err
	}

	all, err := s.sessions.ListByPeriod(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	bySeller := lo.GroupBy(all, func(sess *metrics.Session) string { return sess.SellerID })

	at := s.opts.Clock()
	base := s.basePay(basePay)

	p := pool.NewWithResults[*Statement]().
		WithContext(ctx).
		WithMaxGoroutines(s.opts.Concurrency).
		WithCancelOnError()

	for _, sellerID := range metrics.SellerIDs(all) {
		sessions := bySeller[sellerID]
		p.Go(func(ctx context.Context) (*Statement, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			m, err := s.agg.Aggregate(sessions)
			if err != nil {
				return nil, fmt.Errorf("failed to aggregate sessions of %s: %w", sellerID, err)
			}
			eval, err := incentive.Evaluate(m, current)
			logger.RecordEvaluation(err, "seller_id", sellerID)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate %s: %w", sellerID, err)
			}
			return NewStatement(sellerID, period, len(sessions), m, eval, base, at), nil
		})
	}

	statements, err := p.Wait()
	if err != nil {
		return nil, err
	}
	rank(statements)

	s.opts.Logger.Info("Cohort statements computed", "sellers", len(statements), "rule_sets", len(current))
	return statements, nil
}

func (s *Service) basePay(v decimal.NullDecimal) decimal.Decimal {
	if v.Valid {
		return v.Decimal
	}
	return s.opts.DefaultBasePay
}
