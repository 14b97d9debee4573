package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/investomania/trading-engine/internal/api"
	"github.com/investomania/trading-engine/internal/config"
	"github.com/investomania/trading-engine/internal/engine"
	"github.com/investomania/trading-engine/internal/ledger"
	"github.com/investomania/trading-engine/internal/pricegen"
	"github.com/investomania/trading-engine/internal/pubsub"
	"github.com/investomania/trading-engine/internal/sched"
	"github.com/investomania/trading-engine/internal/session"
	"github.com/investomania/trading-engine/internal/store"
	"github.com/investomania/trading-engine/internal/stream"
	"github.com/investomania/trading-engine/internal/valuation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Core services ---
	bus := pubsub.NewBus()
	locks := ledger.NewLocks()

	eng := engine.NewService(st, bus, locks)
	sess := session.NewService(st, locks)
	val := valuation.NewService(st)
	gen := pricegen.New(st, bus, cfg.MaxStepPct)
	hub := stream.NewHub(bus)

	// --- Background scheduler ---
	if cfg.SchedulerEnabled {
		scheduler, err := sched.New(context.Background(), st, gen, sess, cfg.TickInterval)
		if err != nil {
			slog.Error("scheduler setup failed", "err", err)
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
	} else {
		slog.Info("scheduler disabled; ticks come only from the simulate endpoint")
	}

	// --- HTTP server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewServer(st, eng, sess, val, gen, hub).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
