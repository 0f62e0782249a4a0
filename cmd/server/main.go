package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/coincross/exchange/internal/api"
	"github.com/coincross/exchange/internal/audit"
	"github.com/coincross/exchange/internal/bank"
	"github.com/coincross/exchange/internal/candlestick"
	"github.com/coincross/exchange/internal/config"
	"github.com/coincross/exchange/internal/exchange"
	"github.com/coincross/exchange/internal/metrics"
	"github.com/coincross/exchange/internal/model"
	"github.com/coincross/exchange/internal/store"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if cfg.Database.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				slog.Error("schema migration failed", "err", err)
				os.Exit(1)
			}
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Snapshot cache ---
	var snapshots *store.SnapshotCache
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		snapshots = store.NewSnapshotCache(rdb, 1*time.Second)
		slog.Info("Redis snapshot cache enabled")
	}

	// --- External services ---
	if cfg.Bank.Endpoint == "" {
		slog.Error("BANK_ENDPOINT not set")
		os.Exit(1)
	}
	bk := bank.NewClient(cfg.Bank.Endpoint, cfg.Bank.AppID)

	var auditor audit.Logger = audit.Nop{}
	if cfg.Audit.Endpoint != "" {
		ac := audit.NewClient(cfg.Audit.Endpoint, cfg.Audit.AppID, logger)
		cleanup = append(cleanup, ac.Close)
		auditor = ac
	} else {
		slog.Warn("LOG_ENDPOINT not set, audit events discarded")
	}

	// --- Engine ---
	candles := candlestick.NewCache()
	eng := exchange.New(st, bk, auditor, candles, logger)
	if err := eng.Initialize(ctx); err != nil {
		slog.Error("engine warm-up failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- API surface ---
	srvAPI := api.NewServer(eng, snapshots, wsHub, logger)

	eng.OnTrade = func(t model.Trade) {
		wsHub.BroadcastTrade(t)
		srvAPI.InvalidateSnapshots()
	}
	eng.OnBookChange = srvAPI.InvalidateSnapshots
	eng.OnFatal = func(err error) {
		slog.Error("engine halted, mutations now rejected", "err", err)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := "ok"
		if eng.Halted() {
			status = "halted"
		}
		fmt.Fprintf(w, `{"status":%q,"service":"exchange"}`, status)
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/", srvAPI.Routes())

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("exchange listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down exchange...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("exchange stopped")
}
