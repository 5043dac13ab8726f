// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command worker runs the queue consumers and the master crawl scheduler.
//
// # Process Model
//
// Every worker instance starts the full consumer set plus a scheduler
// candidate; the distributed lock decides which instance's scheduler is
// active. Scaling out adds consumer capacity without adding scheduler
// ticks.
//
// # Shutdown
//
// SIGTERM stops job claiming immediately and drains in-flight handlers.
// A hard 25s deadline bounds the drain; whatever is still running is
// abandoned to the queue's retry machinery.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taibuivan/mangatrack/internal/activity"
	"github.com/taibuivan/mangatrack/internal/breaker"
	"github.com/taibuivan/mangatrack/internal/cleanup"
	"github.com/taibuivan/mangatrack/internal/crawl"
	"github.com/taibuivan/mangatrack/internal/feed"
	"github.com/taibuivan/mangatrack/internal/ingest"
	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/library"
	"github.com/taibuivan/mangatrack/internal/limiter"
	"github.com/taibuivan/mangatrack/internal/negcache"
	"github.com/taibuivan/mangatrack/internal/platform/config"
	pgstore "github.com/taibuivan/mangatrack/internal/platform/postgres"
	redisstore "github.com/taibuivan/mangatrack/internal/platform/redis"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/internal/search"
	"github.com/taibuivan/mangatrack/internal/source"
	"github.com/taibuivan/mangatrack/internal/trust"
)

// drainDeadline is the hard bound on shutdown after SIGTERM.
const drainDeadline = 25 * time.Second

// cleanupEvery throttles the retention sweep; the scheduler ticks far
// more often than pruning needs to run.
const cleanupEvery = 1 * time.Hour

func main() {
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	log := rawLog.With(slog.String("app", "mangatrack-worker"))
	slog.SetDefault(log)

	log.Info("[MangaTrack] worker_initializing")

	cfg, err := config.Load()
	must(log, err, "load configuration")

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer pool.Close()

	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() { _ = rdb.Close() }()

	// ── Platform Services ─────────────────────────────────────────────────
	kv := kvs.NewRedisStore(rdb)
	queues := queue.NewManager(rdb, log)
	breakers := breaker.NewRegistry(log)
	negative := negcache.New(kv)
	limits := limiter.New(kv, nil, log)
	failures := queue.NewPostgresFailureStore(pool)

	// Source adapters. The scrape allow-list covers both page hosts and
	// the API host the adapter actually talks to.
	scrapeHosts := append(append([]string{}, cfg.AllowedSourceHosts...), "api.mangadex.org")
	mangadex := source.NewMangadexClient(cfg.MangadexAPIURL, scrapeHosts)
	sources := source.NewRegistry(mangadex)

	// ── Domain Wiring ─────────────────────────────────────────────────────
	crawlStore := crawl.NewPostgresStore(pool)
	recorder := activity.NewRecorder(activity.NewPostgresStore(pool), log)
	guard := trust.NewGuard(kv, trust.NewPostgresStore(pool), log)
	gatekeeper := crawl.NewGatekeeper(queues, breakers, negative, cfg.CrawlBoostFollows)
	storm := search.NewController(search.NewPostgresStore(pool), queues, kv, log)

	pollWorker := crawl.NewPollWorker(
		crawlStore, sources, limits, breakers, negative, queues,
		cfg.AllowedSourceHosts, log,
	)
	checkWorker := crawl.NewCheckWorker(crawlStore, sources, limits, breakers, queues, log)
	gapWorker := crawl.NewGapWorker(crawlStore, gatekeeper, log)
	latestWorker := crawl.NewLatestWorker(crawlStore, sources, limits, gatekeeper, log)

	ingestWorker := ingest.NewWorker(ingest.NewPostgresStore(pool), recorder, queues, kv, log)

	feedStore := feed.NewPostgresStore(pool)
	fanoutWorker := feed.NewFanoutWorker(feedStore, log)
	deliveryWorker := feed.NewDeliveryWorker(feedStore, &feed.LogSender{Log: log}, log)

	libraryWorker := library.NewWorker(library.NewPostgresStore(pool), queues, log)
	searchWorker := search.NewWorker(
		search.NewPostgresStore(pool), crawlStore, gatekeeper,
		search.NewSourceProvider(mangadex), recorder, log,
	)

	cleanupRunner := cleanup.NewRunner(cleanup.NewPostgresStore(pool), log)
	maintainer := activity.NewTierMaintainer(activity.NewPostgresStore(pool), log)

	scheduler := crawl.NewScheduler(crawlStore, gatekeeper, kv, []crawl.SubScheduler{
		latestWorker.Sub(),
		checkWorker.Sub(),
		{Name: "trust-restore", Run: guard.RestoreTrust},
		{Name: "search-promote", Run: storm.PromoteDeferred},
		{Name: "tier-maintenance", Run: maintainer.Run},
		{Name: "cleanup", Run: throttled(cleanupEvery, cleanupRunner.Run)},
	}, cfg.CrawlBoostFollows, log)

	// ── Queue Consumers ───────────────────────────────────────────────────
	workers := []*queue.Worker{
		queue.NewWorker(queue.Config{
			Name:        queue.QueueSyncSource,
			Concurrency: 20,
			RateMax:     10,
			RatePer:     time.Second,
			JobTimeout:  2 * time.Minute,
		}, pollWorker.Handle, rdb, failures, log),

		queue.NewWorker(queue.Config{
			Name:        queue.QueueChapterIngest,
			Concurrency: 10,
			JobTimeout:  30 * time.Second,
		}, ingestWorker.Handle, rdb, failures, log),

		queue.NewWorker(queue.Config{
			Name:        queue.QueueCheckSource,
			Concurrency: 2,
			RateMax:     3,
			RatePer:     time.Second,
			JobTimeout:  time.Minute,
		}, checkWorker.Handle, rdb, failures, log),

		queue.NewWorker(queue.Config{
			Name:        queue.QueueGapRecovery,
			Concurrency: 2,
			JobTimeout:  time.Minute,
		}, gapWorker.Handle, rdb, failures, log),

		queue.NewWorker(queue.Config{
			Name:        queue.QueueFeedFanout,
			Concurrency: 5,
			JobTimeout:  30 * time.Second,
		}, fanoutWorker.Handle, rdb, failures, log),

		queue.NewWorker(queue.Config{
			Name:        queue.QueueNotification,
			Concurrency: 5,
			JobTimeout:  30 * time.Second,
		}, deliveryWorker.Handle, rdb, failures, log),

		queue.NewWorker(queue.Config{
			Name:        queue.QueueLibraryImport,
			Concurrency: 2,
			JobTimeout:  5 * time.Minute,
		}, libraryWorker.HandleImport, rdb, failures, log),

		queue.NewWorker(queue.Config{
			Name:        queue.QueueMetadata,
			Concurrency: 2,
			JobTimeout:  time.Minute,
		}, libraryWorker.HandleMetadata, rdb, failures, log),

		queue.NewWorker(queue.Config{
			Name:        queue.QueueSearch,
			Concurrency: 2,
			JobTimeout:  time.Minute,
		}, searchWorker.Handle, rdb, failures, log),
	}

	// ── Run ───────────────────────────────────────────────────────────────
	runCtx, stop := context.WithCancel(context.Background())

	for _, worker := range workers {
		worker.Start(runCtx)
	}
	go func() {
		_ = scheduler.Run(runCtx)
	}()

	log.Info("worker_started", slog.Int("queues", len(workers)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	sig := <-quit
	log.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Stop claiming and drain in-flight handlers under the hard deadline.
	stop()

	drained := make(chan struct{})
	go func() {
		for _, worker := range workers {
			worker.Wait()
		}
		close(drained)
	}()

	select {
	case <-drained:
		log.Info("worker stopped cleanly")
	case <-time.After(drainDeadline):
		log.Warn("drain deadline exceeded, abandoning in-flight jobs")
		os.Exit(1)
	}
}

// throttled wraps a sub-task so it runs at most once per interval even
// though the scheduler ticks more often.
func throttled(interval time.Duration, run func(context.Context) error) func(context.Context) error {
	var lastRun time.Time
	return func(ctx context.Context) error {
		if time.Since(lastRun) < interval {
			return nil
		}
		lastRun = time.Now()
		return run(ctx)
	}
}

// must logs a structured fatal error and terminates the process if err is non-nil.
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
