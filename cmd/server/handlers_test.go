package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/incentives/incentive"
	"github.com/liamcoop/incentives/live"
	"github.com/liamcoop/incentives/metrics"
	"github.com/liamcoop/incentives/payout"
	"github.com/liamcoop/incentives/ruleset"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testServer struct {
	*Server
	rules    *ruleset.CachedStore
	sessions *metrics.InMemoryStore
	clock    *testClock
}

func newTestServer(t *testing.T, realtime bool) *testServer {
	t.Helper()

	rules := ruleset.NewCachedStore(ruleset.NewInMemoryStore(),
		ruleset.NewInMemoryCache(ruleset.DefaultCacheConfig()), nil)
	sessions := metrics.NewInMemoryStore()
	agg, err := metrics.NewAggregator()
	require.NoError(t, err)
	clock := &testClock{now: testNow}

	deps := Deps{
		Rules:    rules,
		Sessions: sessions,
		Payouts: payout.NewService(rules, sessions, agg, payout.Options{
			DefaultBasePay: decimal.NewFromInt(1000),
			Clock:          clock.Now,
		}),
		Backend: "memory",
	}

	if realtime {
		ctx, cancel := context.WithCancel(context.Background())
		feed := live.NewFeed(16, nil)
		watcher := live.NewWatcher(feed, rules, 2, nil)
		require.NoError(t, watcher.Start(ctx))
		t.Cleanup(func() {
			cancel()
			watcher.Wait()
			feed.Close()
		})
		deps.Feed = feed
		deps.Watcher = watcher
		deps.PublishChanges = true
	}

	return &testServer{Server: NewServer(deps), rules: rules, sessions: sessions, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func liveHoursBonus() map[string]any {
	return map[string]any{
		"id":                   "live-hours",
		"name":                 "Live hours bonus",
		"is_active":            true,
		"effective_start_date": "2024-01-01",
		"rules": []map[string]any{
			{"criteria_field": "live_hours", "operator": ">=", "target_value": "5", "payout_type": "fixed_amount", "payout_value": "100"},
			{"criteria_field": "branded_items", "operator": ">=", "target_value": "10", "payout_type": "percentage", "payout_value": "2.5", "priority": 1},
		},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "memory", body["backend"])
}

func TestRuleSetLifecycle(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/v1/rule-sets", liveHoursBonus())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[RuleSetResponse](t, rec)
	assert.Equal(t, "live-hours", created.ID)
	assert.True(t, created.IsCurrent)
	assert.Equal(t, []string{"live_hours >= 5", "branded_items >= 10"}, created.Conditions)

	rec = s.do(t, http.MethodPost, "/api/v1/rule-sets", liveHoursBonus())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/rule-sets/live-hours", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[RuleSetResponse](t, rec).Rules, 2)

	rec = s.do(t, http.MethodPost, "/api/v1/rule-sets/live-hours/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[RuleSetResponse](t, rec).IsActive)

	rec = s.do(t, http.MethodGet, "/api/v1/rule-sets/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[RuleSetsListResponse](t, rec).RuleSets)

	rec = s.do(t, http.MethodGet, "/api/v1/rule-sets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[RuleSetsListResponse](t, rec).RuleSets, 1)

	update := liveHoursBonus()
	update["name"] = "Renamed"
	rec = s.do(t, http.MethodPut, "/api/v1/rule-sets/live-hours", update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Renamed", decodeBody[RuleSetResponse](t, rec).Name)

	rec = s.do(t, http.MethodGet, "/api/v1/rule-sets/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[RuleSetsListResponse](t, rec).RuleSets, 1)

	rec = s.do(t, http.MethodDelete, "/api/v1/rule-sets/live-hours", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/rule-sets/live-hours", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/rule-sets/live-hours", update)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRuleSetRejectsBadInput(t *testing.T) {
	s := newTestServer(t, false)

	missingName := liveHoursBonus()
	delete(missingName, "name")
	rec := s.do(t, http.MethodPost, "/api/v1/rule-sets", missingName)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	badDate := liveHoursBonus()
	badDate["effective_start_date"] = "first of June"
	rec = s.do(t, http.MethodPost, "/api/v1/rule-sets", badDate)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	badOperator := liveHoursBonus()
	badOperator["rules"] = []map[string]any{
		{"criteria_field": "live_hours", "operator": "!=", "target_value": "5", "payout_type": "fixed_amount", "payout_value": "100"},
	}
	rec = s.do(t, http.MethodPost, "/api/v1/rule-sets", badOperator)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/rule-sets", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateInline(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/v1/evaluate", map[string]any{
		"metrics":   map[string]string{"live_hours": "6", "branded_items": "12", "total_revenue": "2000"},
		"rule_sets": []map[string]any{liveHoursBonus()},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[EvaluateResponse](t, rec)
	assert.True(t, decimal.NewFromInt(150).Equal(resp.TotalPayout), resp.TotalPayout.String())
	require.Len(t, resp.PerRuleSet, 1)
	assert.True(t, resp.PerRuleSet[0].AllRulesMet)
	assert.True(t, testNow.Equal(resp.EvaluatedAt))
}

func TestEvaluateInlineNotMet(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/v1/evaluate", map[string]any{
		"metrics":   map[string]string{"live_hours": "6", "branded_items": "9"},
		"rule_sets": []map[string]any{liveHoursBonus()},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[EvaluateResponse](t, rec)
	assert.True(t, resp.TotalPayout.IsZero())
	require.Len(t, resp.PerRuleSet, 1)
	assert.False(t, resp.PerRuleSet[0].AllRulesMet)
}

func TestEvaluateInlineWindow(t *testing.T) {
	s := newTestServer(t, false)

	future := liveHoursBonus()
	future["effective_start_date"] = "2024-07-01"
	body := map[string]any{
		"metrics":   map[string]string{"live_hours": "6", "branded_items": "12", "total_revenue": "2000"},
		"rule_sets": []map[string]any{future},
	}

	rec := s.do(t, http.MethodPost, "/api/v1/evaluate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[EvaluateResponse](t, rec).PerRuleSet)

	body["skip_window"] = true
	rec = s.do(t, http.MethodPost, "/api/v1/evaluate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[EvaluateResponse](t, rec).PerRuleSet, 1)

	delete(body, "skip_window")
	body["at"] = "2024-07-02T00:00:00Z"
	rec = s.do(t, http.MethodPost, "/api/v1/evaluate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[EvaluateResponse](t, rec).PerRuleSet, 1)
}

func TestEvaluateErrors(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/v1/evaluate", map[string]any{
		"metrics":   map[string]string{"live_hours": "6"},
		"rule_sets": []map[string]any{liveHoursBonus(), liveHoursBonus()},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	bad := liveHoursBonus()
	bad["rules"] = []map[string]any{
		{"criteria_field": "live_hours", "operator": ">=", "target_value": "1", "payout_type": "tiered", "payout_value": "1"},
	}
	rec = s.do(t, http.MethodPost, "/api/v1/evaluate", map[string]any{
		"metrics":   map[string]string{"live_hours": "6"},
		"rule_sets": []map[string]any{bad},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/evaluate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateStoredRuleSets(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/v1/rule-sets", liveHoursBonus())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/evaluate", map[string]any{
		"metrics": map[string]string{"live_hours": "5", "branded_items": "10", "total_revenue": "400"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(110).Equal(decodeBody[EvaluateResponse](t, rec).TotalPayout))
}

func addSession(t *testing.T, s *testServer, seller string, day int, hours string, branded int64, revenue string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{
		"seller_id":           seller,
		"started_at":          time.Date(2024, 6, day, 18, 0, 0, 0, time.UTC),
		"live_duration_hours": hours,
		"branded_items_sold":  branded,
		"total_revenue":       revenue,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestSellerEndpoints(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/v1/rule-sets", liveHoursBonus())
	require.Equal(t, http.StatusCreated, rec.Code)

	addSession(t, s, "alice", 3, "3", 6, "1200")
	addSession(t, s, "alice", 4, "3", 4, "800")
	addSession(t, s, "bob", 5, "2", 20, "500")

	rec = s.do(t, http.MethodGet, "/api/v1/sellers/alice/sessions?from=2024-06-01&to=2024-06-30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[SessionsListResponse](t, rec).Sessions, 2)

	rec = s.do(t, http.MethodGet, "/api/v1/sellers/alice/metrics?from=2024-06-01&to=2024-06-30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeBody[SellerMetricsResponse](t, rec)
	assert.Equal(t, 2, m.SessionCount)
	assert.True(t, decimal.NewFromInt(10).Equal(m.Metrics["branded_items"]))

	rec = s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout?from=2024-06-01&to=2024-06-30", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decodeBody[payout.Statement](t, rec)
	assert.True(t, decimal.NewFromInt(150).Equal(st.TotalPayout), st.TotalPayout.String())
	assert.True(t, decimal.NewFromInt(1150).Equal(st.FinalPay), st.FinalPay.String())

	rec = s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout?from=2024-06-01&to=2024-06-30&basePay=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decimal.NewFromInt(150).Equal(decodeBody[payout.Statement](t, rec).FinalPay))

	rec = s.do(t, http.MethodGet, "/api/v1/payouts?from=2024-06-01&to=2024-06-30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cohort := decodeBody[PayoutsListResponse](t, rec)
	require.Len(t, cohort.Statements, 2)
	assert.Equal(t, "alice", cohort.Statements[0].SellerID)
	assert.Equal(t, "bob", cohort.Statements[1].SellerID)
}

func TestSellerEndpointsRejectBadQuery(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout?from=2024-06-30&to=2024-06-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/payouts?basePay=-5", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "non-negative")

	rec = s.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{"started_at": testNow})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLivePayoutFollowsChanges(t *testing.T) {
	s := newTestServer(t, true)

	rec := s.do(t, http.MethodPost, "/api/v1/rule-sets", liveHoursBonus())
	require.Equal(t, http.StatusCreated, rec.Code)
	addSession(t, s, "alice", 3, "3", 6, "1200")

	rec = s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout/live", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[live.Snapshot[*payout.Statement]](t, rec)
	assert.True(t, first.Value.TotalPayout.IsZero())

	addSession(t, s, "alice", 4, "3", 4, "800")

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout/live", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		snap := decodeBody[live.Snapshot[*payout.Statement]](t, rec)
		return snap.Version > first.Version && decimal.NewFromInt(150).Equal(snap.Value.TotalPayout)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLivePayoutWithoutRealtime(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/v1/rule-sets", liveHoursBonus())
	require.Equal(t, http.StatusCreated, rec.Code)
	addSession(t, s, "alice", 3, "3", 6, "1200")

	rec = s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout/live", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[live.Snapshot[*payout.Statement]](t, rec)
	assert.True(t, first.Value.TotalPayout.IsZero())

	addSession(t, s, "alice", 4, "3", 4, "800")

	rec = s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout/live", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decodeBody[live.Snapshot[*payout.Statement]](t, rec)
	assert.Greater(t, second.Version, first.Version)
	assert.True(t, decimal.NewFromInt(150).Equal(second.Value.TotalPayout), second.Value.TotalPayout.String())
	assert.Equal(t, 2, second.Value.SessionCount)
}

func TestLivePayoutMonthRollover(t *testing.T) {
	s := newTestServer(t, true)

	rec := s.do(t, http.MethodPost, "/api/v1/rule-sets", liveHoursBonus())
	require.Equal(t, http.StatusCreated, rec.Code)
	addSession(t, s, "alice", 3, "3", 6, "1200")
	rec = s.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{
		"seller_id":           "alice",
		"started_at":          time.Date(2024, 7, 2, 18, 0, 0, 0, time.UTC),
		"live_duration_hours": "6",
		"branded_items_sold":  12,
		"total_revenue":       "2000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout/live", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	june := decodeBody[live.Snapshot[*payout.Statement]](t, rec)
	assert.True(t, june.Value.TotalPayout.IsZero())
	assert.Equal(t, 1, june.Value.SessionCount)

	s.clock.Set(time.Date(2024, 7, 5, 9, 0, 0, 0, time.UTC))

	rec = s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout/live", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	july := decodeBody[live.Snapshot[*payout.Statement]](t, rec)
	assert.True(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC).Equal(july.Value.Period.From))
	assert.True(t, decimal.NewFromInt(150).Equal(july.Value.TotalPayout), july.Value.TotalPayout.String())
	assert.Equal(t, 1, july.Value.SessionCount)
}

func TestLivePayoutUnknownSeller(t *testing.T) {
	s := newTestServer(t, true)

	rec := s.do(t, http.MethodGet, "/api/v1/sellers/nobody/payout/live", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, s.views)
}

type failingRuleStore struct {
	ruleset.Store
	mu    sync.Mutex
	fails int
}

func (f *failingRuleStore) ListActive(ctx context.Context) ([]*incentive.RuleSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, assert.AnError
	}
	return f.Store.ListActive(ctx)
}

func TestLivePayoutFailedFirstRefresh(t *testing.T) {
	rules := &failingRuleStore{Store: ruleset.NewInMemoryStore(), fails: 1}
	sessions := metrics.NewInMemoryStore()
	agg, err := metrics.NewAggregator()
	require.NoError(t, err)
	s := &testServer{Server: NewServer(Deps{
		Rules:    rules,
		Sessions: sessions,
		Payouts: payout.NewService(rules, sessions, agg, payout.Options{
			Clock: func() time.Time { return testNow },
		}),
		Backend: "memory",
	}), sessions: sessions}
	addSession(t, s, "alice", 3, "3", 6, "1200")

	rec := s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout/live", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, s.views)

	rec = s.do(t, http.MethodGet, "/api/v1/sellers/alice/payout/live", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, s.views, 1)
}

func TestCountersEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	s.do(t, http.MethodGet, "/api/v1/rule-sets/missing", nil)

	rec := s.do(t, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	counters := decodeBody[map[string]int64](t, rec)
	assert.Positive(t, counters["http_404"])
}
