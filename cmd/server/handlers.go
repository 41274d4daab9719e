package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/liamcoop/incentives/incentive"
	ierr "github.com/liamcoop/incentives/internal/errors"
	"github.com/liamcoop/incentives/internal/logger"
	"github.com/liamcoop/incentives/live"
	"github.com/liamcoop/incentives/metrics"
	"github.com/liamcoop/incentives/payout"
)

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"backend": s.deps.Backend,
	})
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, logger.Snapshot())
}

// Evaluation handler. Inline rule sets are evaluated instead of the stored
// ones; they pass the same active/window filter unless skip_window is set.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !s.decode(w, r, &req) {
		return
	}

	at := s.deps.Payouts.Now()
	if req.At != nil {
		at = *req.At
	}

	startTime := time.Now()
	var (
		eval *incentive.Evaluation
		err  error
	)
	if len(req.RuleSets) > 0 {
		sets := make([]*incentive.RuleSet, 0, len(req.RuleSets))
		for i, rr := range req.RuleSets {
			rs, err := rr.toRuleSet("")
			if err != nil {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid rule set %d", i+1), err)
				return
			}
			if rs.ID == "" {
				rs.ID = fmt.Sprintf("inline-%d", i+1)
			}
			sets = append(sets, rs)
		}
		if !req.SkipWindow {
			sets = incentive.FilterCurrent(sets, at)
		}
		eval, err = incentive.Evaluate(req.Metrics, sets)
		logger.RecordEvaluation(err, "source", "inline")
	} else {
		eval, err = s.deps.Payouts.Evaluate(r.Context(), req.Metrics)
	}
	if err != nil {
		respondErr(w, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		TotalPayout:    eval.TotalPayout,
		PerRuleSet:     eval.Results,
		EvaluatedAt:    at,
		EvaluationTime: time.Since(startTime).String(),
	})
}

// List rule sets handler
func (s *Server) handleListRuleSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.deps.Rules.List(r.Context())
	if err != nil {
		respondErr(w, "failed to list rule sets", err)
		return
	}
	s.respondRuleSets(w, sets)
}

func (s *Server) handleCurrentRuleSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.deps.Payouts.CurrentRuleSets(r.Context())
	if err != nil {
		respondErr(w, "failed to list current rule sets", err)
		return
	}
	s.respondRuleSets(w, sets)
}

func (s *Server) respondRuleSets(w http.ResponseWriter, sets []*incentive.RuleSet) {
	now := s.deps.Payouts.Now()
	resp := RuleSetsListResponse{RuleSets: make([]RuleSetResponse, 0, len(sets))}
	for _, rs := range sets {
		resp.RuleSets = append(resp.RuleSets, newRuleSetResponse(rs, now))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Create rule set handler
func (s *Server) handleCreateRuleSet(w http.ResponseWriter, r *http.Request) {
	var req RuleSetRequest
	if !s.decode(w, r, &req) {
		return
	}

	rs, err := req.toRuleSet("")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule set", err)
		return
	}

	if err := s.deps.Rules.Add(r.Context(), rs); err != nil {
		respondErr(w, "failed to create rule set", err)
		return
	}
	s.publish("rule_sets", "INSERT", rs.ID)

	respondJSON(w, http.StatusCreated, newRuleSetResponse(rs, s.deps.Payouts.Now()))
}

// Get rule set handler
func (s *Server) handleGetRuleSet(w http.ResponseWriter, r *http.Request) {
	rs, err := s.deps.Rules.Get(r.Context(), chi.URLParam(r, "ruleSetId"))
	if err != nil {
		respondErr(w, "rule set not found", err)
		return
	}
	respondJSON(w, http.StatusOK, newRuleSetResponse(rs, s.deps.Payouts.Now()))
}

// Update rule set handler
func (s *Server) handleUpdateRuleSet(w http.ResponseWriter, r *http.Request) {
	var req RuleSetRequest
	if !s.decode(w, r, &req) {
		return
	}

	rs, err := req.toRuleSet(chi.URLParam(r, "ruleSetId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule set", err)
		return
	}

	if err := s.deps.Rules.Update(r.Context(), rs); err != nil {
		respondErr(w, "failed to update rule set", err)
		return
	}
	s.publish("rule_sets", "UPDATE", rs.ID)

	respondJSON(w, http.StatusOK, newRuleSetResponse(rs, s.deps.Payouts.Now()))
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs, err := s.deps.Rules.SetActive(r.Context(), chi.URLParam(r, "ruleSetId"), active)
		if err != nil {
			respondErr(w, "failed to change rule set state", err)
			return
		}
		s.publish("rule_sets", "UPDATE", rs.ID)
		respondJSON(w, http.StatusOK, newRuleSetResponse(rs, s.deps.Payouts.Now()))
	}
}

// Delete rule set handler
func (s *Server) handleDeleteRuleSet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleSetId")
	if err := s.deps.Rules.Delete(r.Context(), id); err != nil {
		respondErr(w, "failed to delete rule set", err)
		return
	}
	s.publish("rule_sets", "DELETE", id)

	w.WriteHeader(http.StatusNoContent)
}

// Create session handler
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	session := req.toSession()
	if err := s.deps.Sessions.Add(r.Context(), session); err != nil {
		respondErr(w, "failed to record session", err)
		return
	}
	s.publish("performance_sessions", "INSERT", session.ID)

	respondJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(w, r)
	if !ok {
		return
	}

	sessions, err := s.deps.Sessions.ListBySeller(r.Context(), chi.URLParam(r, "sellerId"), period)
	if err != nil {
		respondErr(w, "failed to list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []*metrics.Session{}
	}
	respondJSON(w, http.StatusOK, SessionsListResponse{Sessions: sessions})
}

func (s *Server) handleSellerMetrics(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(w, r)
	if !ok {
		return
	}

	sellerID := chi.URLParam(r, "sellerId")
	m, sessions, err := s.deps.Payouts.SellerMetrics(r.Context(), sellerID, period)
	if err != nil {
		respondErr(w, "failed to compute metrics", err)
		return
	}
	respondJSON(w, http.StatusOK, SellerMetricsResponse{
		SellerID:     sellerID,
		Period:       period,
		SessionCount: len(sessions),
		Metrics:      m,
	})
}

func (s *Server) handleSellerPayout(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(w, r)
	if !ok {
		return
	}
	basePay, ok := parseBasePay(w, r)
	if !ok {
		return
	}

	st, err := s.deps.Payouts.SellerStatement(r.Context(), chi.URLParam(r, "sellerId"), period, basePay)
	if err != nil {
		respondErr(w, "failed to compute payout", err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleCohortPayouts(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(w, r)
	if !ok {
		return
	}
	basePay, ok := parseBasePay(w, r)
	if !ok {
		return
	}

	statements, err := s.deps.Payouts.CohortStatements(r.Context(), period, basePay)
	if err != nil {
		respondErr(w, "failed to compute payouts", err)
		return
	}
	if statements == nil {
		statements = []*payout.Statement{}
	}
	respondJSON(w, http.StatusOK, PayoutsListResponse{Period: period, Statements: statements})
}

// handleLivePayout serves the seller's statement for the current month from
// a view that the watcher refreshes whenever rules or sessions change.
// Without a watcher, or once the month has rolled over, the view is
// recomputed on the request.
func (s *Server) handleLivePayout(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerId")
	view, created, err := s.liveView(r.Context(), sellerID)
	if err != nil {
		respondErr(w, "failed to compute payout", err)
		return
	}

	month := currentMonth(s.deps.Payouts.Now())
	snap, ok := view.Get()
	if !ok || s.deps.Watcher == nil || !snap.Value.Period.From.Equal(month.From) {
		if _, err := view.Refresh(r.Context()); err != nil {
			if created {
				s.dropView(sellerID)
			}
			respondErr(w, "failed to compute payout", err)
			return
		}
		snap, ok = view.Get()
	}
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "payout not computed yet", nil)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// liveView returns the seller's view, creating it on first use. Sellers
// without any recorded session get a not-found error and no view.
func (s *Server) liveView(ctx context.Context, sellerID string) (*live.View[*payout.Statement], bool, error) {
	s.viewsMu.Lock()
	v, ok := s.views[sellerID]
	s.viewsMu.Unlock()
	if ok {
		return v, false, nil
	}

	sessions, err := s.deps.Sessions.ListBySeller(ctx, sellerID, metrics.Period{})
	if err != nil {
		return nil, false, err
	}
	if len(sessions) == 0 {
		return nil, false, ierr.Newf("seller %s has no sessions", sellerID).
			WithHint("Record a session for the seller first").
			Mark(ierr.ErrNotFound)
	}

	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()
	if v, ok := s.views[sellerID]; ok {
		return v, false, nil
	}
	v = live.NewView("seller:"+sellerID, func(ctx context.Context) (*payout.Statement, error) {
		return s.deps.Payouts.SellerStatement(ctx, sellerID, currentMonth(s.deps.Payouts.Now()), decimal.NullDecimal{})
	})
	s.views[sellerID] = v
	if s.deps.Watcher != nil {
		s.deps.Watcher.Register(v)
	}
	return v, true, nil
}

func (s *Server) dropView(sellerID string) {
	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()
	v, ok := s.views[sellerID]
	if !ok {
		return
	}
	delete(s.views, sellerID)
	if s.deps.Watcher != nil {
		s.deps.Watcher.Unregister(v.Name())
	}
}

func currentMonth(now time.Time) metrics.Period {
	now = now.UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return metrics.Period{From: from, To: from.AddDate(0, 1, 0)}
}

func parsePeriod(w http.ResponseWriter, r *http.Request) (metrics.Period, bool) {
	q := r.URL.Query()
	p, err := metrics.ParsePeriod(q.Get("from"), q.Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid period", err)
		return metrics.Period{}, false
	}
	return p, true
}

func parseBasePay(w http.ResponseWriter, r *http.Request) (decimal.NullDecimal, bool) {
	raw := r.URL.Query().Get("basePay")
	if raw == "" {
		return decimal.NullDecimal{}, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		respondError(w, http.StatusBadRequest, "invalid basePay",
			ierr.NewError(fmt.Sprintf("basePay must be a non-negative number, got %q", raw)).Mark(ierr.ErrValidation))
		return decimal.NullDecimal{}, false
	}
	return decimal.NewNullDecimal(d), true
}
