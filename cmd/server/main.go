package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/PariazaInteligent/fund-engine/internal/api"
	"github.com/PariazaInteligent/fund-engine/internal/config"
	"github.com/PariazaInteligent/fund-engine/internal/deposit"
	"github.com/PariazaInteligent/fund-engine/internal/distribution"
	"github.com/PariazaInteligent/fund-engine/internal/ledger"
	"github.com/PariazaInteligent/fund-engine/internal/metrics"
	"github.com/PariazaInteligent/fund-engine/internal/store"
	"github.com/PariazaInteligent/fund-engine/internal/trade"
	"github.com/PariazaInteligent/fund-engine/internal/withdrawal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	navInitial, _ := cfg.NAVInitial()
	feeFixedPct, _ := cfg.FeeFixedPct()
	perfFeeRate, _ := cfg.PerformanceFeeRate()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := cfg.Database.URL; dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.EnsureSchema(context.Background(), pool); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL)
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if err := ledger.SeedAccounts(context.Background(), st); err != nil {
		slog.Error("chart of accounts seeding failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	hub := api.NewWSHub()
	go hub.Run()

	// --- Workflow services ---
	depositSvc := deposit.NewService(st, navInitial, nil)
	withdrawalSvc := withdrawal.NewService(st, withdrawal.Config{
		NAVInitial:  navInitial,
		FeeFixedPct: feeFixedPct,
		Cooldown:    cfg.Fund.WithdrawalCooldown,
		RiskFlag:    func(context.Context) bool { return cfg.Fund.RiskFlag },
	})
	tradeSvc := trade.NewService(st, nil)
	distributionSvc := distribution.NewService(st, navInitial, perfFeeRate, nil)

	srv := api.NewServer(st, depositSvc, withdrawalSvc, tradeSvc, distributionSvc, navInitial, hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor-ID")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/", srv.Routes())

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		slog.Info("fund-engine listening", "addr", cfg.Addr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down fund-engine...")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("fund-engine stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
