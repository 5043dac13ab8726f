// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command api is the entry point for the MangaTrack HTTP API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire HTTP handlers.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taibuivan/mangatrack/internal/activity"
	"github.com/taibuivan/mangatrack/internal/api"
	"github.com/taibuivan/mangatrack/internal/breaker"
	"github.com/taibuivan/mangatrack/internal/crawl"
	"github.com/taibuivan/mangatrack/internal/feed"
	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/library"
	"github.com/taibuivan/mangatrack/internal/negcache"
	"github.com/taibuivan/mangatrack/internal/platform/config"
	"github.com/taibuivan/mangatrack/internal/platform/constants"
	"github.com/taibuivan/mangatrack/internal/platform/migration"
	pgstore "github.com/taibuivan/mangatrack/internal/platform/postgres"
	redisstore "github.com/taibuivan/mangatrack/internal/platform/redis"
	"github.com/taibuivan/mangatrack/internal/platform/sec"
	"github.com/taibuivan/mangatrack/internal/progress"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/internal/search"
	"github.com/taibuivan/mangatrack/internal/series"
	"github.com/taibuivan/mangatrack/internal/trust"
	"github.com/taibuivan/mangatrack/internal/users/account"
	"github.com/taibuivan/mangatrack/internal/users/auth"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "mangatrack"))
	slog.SetDefault(log)

	log.Info("[MangaTrack] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "mangatrack"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Platform Services ──────────────────────────────────────────────
	jwtSvc, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, constants.AuthIssuer)
	must(log, err, "initialize jwt service")

	kv := kvs.NewRedisStore(rdb)
	queues := queue.NewManager(rdb, log)
	breakers := breaker.NewRegistry(log)
	negative := negcache.New(kv)

	// ── 7. Health Handler ─────────────────────────────────────────────────
	healthHandler := api.NewHealthHandler(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
		Queues: queues,
		GaugedQueues: []string{
			queue.QueueSyncSource,
			queue.QueueChapterIngest,
			queue.QueueFeedFanout,
			queue.QueueNotification,
			queue.QueueLibraryImport,
			queue.QueueSearch,
		},
	}, log)

	// ── 8. Domain Wiring ──────────────────────────────────────────────────
	recorder := activity.NewRecorder(activity.NewPostgresStore(pool), log)
	guard := trust.NewGuard(kv, trust.NewPostgresStore(pool), log)
	engine := progress.NewEngine(progress.NewPostgresStore(pool), guard, kv, recorder, log)
	gatekeeper := crawl.NewGatekeeper(queues, breakers, negative, cfg.CrawlBoostFollows)
	storm := search.NewController(search.NewPostgresStore(pool), queues, kv, log)

	userRepository := auth.NewUserRepository(pool)
	sessionRepository := auth.NewSessionRepository(pool)
	authService := auth.NewService(userRepository, sessionRepository, jwtSvc)
	authHandler := auth.NewHandler(authService)

	accountService := account.NewService(userRepository, account.NewSessionRepository(pool), log)
	accountHandler := account.NewHandler(accountService)

	libraryService := library.NewService(
		library.NewPostgresStore(pool), queues, kv, recorder, engine, guard, log,
	)
	libraryHandler := library.NewHandler(libraryService)

	seriesService := series.NewService(
		series.NewPostgresStore(pool), crawl.NewPostgresStore(pool),
		gatekeeper, storm, recorder, cfg.AllowedSourceHosts, log,
	)
	seriesHandler := series.NewHandler(seriesService)

	feedHandler := feed.NewHandler(feed.NewPostgresStore(pool), kv)
	progressHandler := progress.NewHandler(engine)

	// ── 9. HTTP Server ────────────────────────────────────────────────────
	handlers := api.Handlers{
		Health:   healthHandler,
		Auth:     authHandler,
		Account:  accountHandler,
		Library:  libraryHandler,
		Progress: progressHandler,
		Feed:     feedHandler,
		Series:   seriesHandler,
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	server := api.NewServer(serverCtx, cfg, log, jwtSvc, handlers)

	// ── 10. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
