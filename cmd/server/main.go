package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	supa "github.com/nedpals/supabase-go"

	"github.com/liamcoop/incentives/internal/config"
	"github.com/liamcoop/incentives/internal/logger"
	"github.com/liamcoop/incentives/live"
	"github.com/liamcoop/incentives/metrics"
	"github.com/liamcoop/incentives/payout"
	"github.com/liamcoop/incentives/ruleset"
)

// backend is the storage a server runs on.
type backend struct {
	rules    ruleset.Store
	sessions metrics.Store
	health   func(ctx context.Context) error
	db       *sql.DB
}

func openBackend(cfg *config.Configuration) (*backend, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if cfg.Postgres.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		}
		return &backend{
			rules:    ruleset.NewPostgresStore(db),
			sessions: metrics.NewPostgresStore(db),
			health:   db.PingContext,
			db:       db,
		}, nil

	case config.BackendSupabase:
		client := supa.CreateClient(cfg.Supabase.URL, cfg.Supabase.Key)
		return &backend{
			rules:    ruleset.NewSupabaseStore(client),
			sessions: metrics.NewSupabaseStore(client),
		}, nil

	default:
		return &backend{
			rules:    ruleset.NewInMemoryStore(),
			sessions: metrics.NewInMemoryStore(),
		}, nil
	}
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:           cfg.Logging.Level,
		ErrorSampleRate: cfg.Logging.ErrorSampleRate,
		OTELEnabled:     cfg.Logging.OTELEnabled,
		ServiceName:     cfg.Logging.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	be, err := openBackend(cfg)
	if err != nil {
		logger.Fatal("Failed to open store", "backend", cfg.Store.Backend, "error", err)
	}
	if be.db != nil {
		defer be.db.Close()
	}

	rules := ruleset.NewCachedStore(be.rules,
		ruleset.NewInMemoryCache(ruleset.CacheConfig{TTL: cfg.Cache.TTL}), logger.Logger)

	agg, err := metrics.NewAggregator()
	if err != nil {
		logger.Fatal("Failed to build metric aggregator", "error", err)
	}

	payouts := payout.NewService(rules, be.sessions, agg, payout.Options{
		DefaultBasePay: cfg.Payout.BasePay(),
		Concurrency:    cfg.Payout.CohortConcurrency,
		Logger:         logger.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := Deps{
		Rules:          rules,
		Sessions:       be.sessions,
		Payouts:        payouts,
		Health:         be.health,
		Backend:        cfg.Store.Backend,
		RequestTimeout: cfg.Server.RequestTimeout,
	}

	if cfg.Realtime.Enabled {
		feed := live.NewFeed(cfg.Realtime.Buffer, logger.Logger)
		defer feed.Close()

		watcher := live.NewWatcher(feed, rules, cfg.Payout.CohortConcurrency, logger.Logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Fatal("Failed to start change watcher", "error", err)
		}
		deps.Feed = feed
		deps.Watcher = watcher
		deps.PublishChanges = true

		if cfg.Store.Backend == config.BackendPostgres {
			bridge := live.NewPGBridge(cfg.Postgres.URL, cfg.Postgres.NotifyChannel, feed, logger.Logger)
			deps.PublishChanges = false
			go func() {
				if err := bridge.Run(ctx); err != nil {
					logger.Error("Change notification bridge stopped", "error", err)
				}
			}()
		}
	}

	server := NewServer(deps)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Address, "backend", cfg.Store.Backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if deps.Watcher != nil {
		deps.Watcher.Wait()
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Logger shutdown error: %v\n", err)
	}

	logger.Info("Server stopped")
}
