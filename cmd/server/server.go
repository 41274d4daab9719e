package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	ierr "github.com/liamcoop/incentives/internal/errors"
	"github.com/liamcoop/incentives/internal/logger"
	"github.com/liamcoop/incentives/live"
	"github.com/liamcoop/incentives/metrics"
	"github.com/liamcoop/incentives/payout"
	"github.com/liamcoop/incentives/ruleset"
)

const slowRequestThreshold = 2 * time.Second

// Deps are the collaborators a Server is built from.
type Deps struct {
	Rules    ruleset.Store
	Sessions metrics.Store
	Payouts  *payout.Service
	Feed     *live.Feed
	Watcher  *live.Watcher
	// Health reports backend reachability; nil means always healthy.
	Health func(ctx context.Context) error
	// PublishChanges makes handlers announce their own writes on Feed.
	// Off when the database already notifies through triggers.
	PublishChanges bool
	Backend        string
	RequestTimeout time.Duration
}

type Server struct {
	deps     Deps
	validate *validator.Validate
	router   *chi.Mux

	viewsMu sync.Mutex
	views   map[string]*live.View[*payout.Statement]
}

func NewServer(deps Deps) *Server {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		deps:     deps,
		validate: validator.New(),
		views:    make(map[string]*live.View[*payout.Statement]),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(countStatus)
	r.Use(middleware.Timeout(s.deps.RequestTimeout))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/metrics", s.handleCounters)

	// Evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	// Rule set administration
	r.Route("/api/v1/rule-sets", func(r chi.Router) {
		r.Get("/", s.handleListRuleSets)
		r.Post("/", s.handleCreateRuleSet)
		r.Get("/current", s.handleCurrentRuleSets)

		r.Route("/{ruleSetId}", func(r chi.Router) {
			r.Get("/", s.handleGetRuleSet)
			r.Put("/", s.handleUpdateRuleSet)
			r.Delete("/", s.handleDeleteRuleSet)
			r.Post("/activate", s.handleSetActive(true))
			r.Post("/deactivate", s.handleSetActive(false))
		})
	})

	// Performance data and payouts
	r.Post("/api/v1/sessions", s.handleCreateSession)
	r.Route("/api/v1/sellers/{sellerId}", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Get("/metrics", s.handleSellerMetrics)
		r.Get("/payout", s.handleSellerPayout)
		r.Get("/payout/live", s.handleLivePayout)
	})
	r.Get("/api/v1/payouts", s.handleCohortPayouts)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// countStatus feeds the logger's HTTP counters.
func countStatus(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		switch status := ww.Status(); {
		case status >= 500:
			logger.ErrorHttp5xx()
		case status >= 400:
			logger.WarnHttp4xx(status)
		}
		if elapsed := time.Since(start); elapsed > slowRequestThreshold {
			logger.WarnSlowRequest()
			logger.Warn("Slow request", "method", r.Method, "path", r.URL.Path, "elapsed", elapsed.String())
		}
	})
}

// publish announces a write when the database does not do it for us.
func (s *Server) publish(table, op, id string) {
	if !s.deps.PublishChanges || s.deps.Feed == nil {
		return
	}
	if err := s.deps.Feed.PublishChange(live.Event{Table: table, Op: op, ID: id}); err != nil {
		logger.Error("Failed to publish change", "table", table, "error", err)
	}
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
		if hint := ierr.Hint(err); hint != "" {
			response["hint"] = hint
		}
	}
	respondJSON(w, status, response)
}

// respondErr picks the status from the error's kind.
func respondErr(w http.ResponseWriter, message string, err error) {
	status := ierr.HTTPStatusFromErr(err)
	if status >= 500 {
		logger.Error(message, "error", err)
	}
	respondError(w, status, message, err)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err)
		return false
	}
	return true
}
