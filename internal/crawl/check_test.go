// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/breaker"
	"github.com/taibuivan/mangatrack/internal/crawl"
	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/limiter"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/internal/source"
)

type checkHarness struct {
	worker *crawl.CheckWorker
	store  *fakeCrawlStore
	client *scriptedClient
	queues *queue.Manager
}

func newCheckHarness(t *testing.T) *checkHarness {
	t.Helper()
	server := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	kv := kvs.NewRedisStore(redisClient)
	store := newFakeCrawlStore()
	client := &scriptedClient{name: "mangadex"}

	harness := &checkHarness{
		store:  store,
		client: client,
		queues: queue.NewManager(redisClient, slog.Default()),
	}
	harness.worker = crawl.NewCheckWorker(
		store,
		source.NewRegistry(client),
		limiter.New(kv, nil, slog.Default()),
		breaker.NewRegistry(slog.Default()),
		harness.queues,
		slog.Default(),
	)
	return harness
}

func brokenSource() *crawl.SeriesSource {
	src := activeSource()
	src.SourceStatus = crawl.StatusBroken
	horizon := time.Now().Add(-time.Minute)
	src.NextCheckAt = &horizon
	return src
}

func checkJob(seriesSourceID string) *queue.Job {
	return &queue.Job{
		ID:      crawl.CheckJobID(seriesSourceID),
		Name:    "check-source",
		Queue:   queue.QueueCheckSource,
		Payload: queue.MustPayload(crawl.CheckPayload{SeriesSourceID: seriesSourceID}),
	}
}

func TestCheckWorker_SchedulesDueParkedSources(t *testing.T) {
	harness := newCheckHarness(t)
	ctx := context.Background()
	harness.store.sources["ss-1"] = brokenSource()

	require.NoError(t, harness.worker.Schedule(ctx))

	counts, err := harness.queues.GetJobCounts(ctx, queue.QueueCheckSource)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)

	// A second pass dedups on the jobId.
	require.NoError(t, harness.worker.Schedule(ctx))
	counts, err = harness.queues.GetJobCounts(ctx, queue.QueueCheckSource)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
}

func TestCheckWorker_AnsweringSourceReturnsToRotation(t *testing.T) {
	harness := newCheckHarness(t)
	harness.store.sources["ss-1"] = brokenSource()
	harness.client.result = &source.ScrapeResult{SourceID: "md-1"}

	require.NoError(t, harness.worker.Handle(context.Background(), checkJob("ss-1")))

	assert.Equal(t, crawl.StatusActive, harness.store.statuses["ss-1"])
	assert.Equal(t, []string{"ss-1"}, harness.store.successes)
}

func TestCheckWorker_GoneListingStaysParked(t *testing.T) {
	harness := newCheckHarness(t)
	harness.store.sources["ss-1"] = brokenSource()
	harness.client.err = source.ErrNotFound

	require.NoError(t, harness.worker.Handle(context.Background(), checkJob("ss-1")))

	assert.Equal(t, crawl.StatusInactive, harness.store.statuses["ss-1"])
	assert.Empty(t, harness.store.successes)
}

func TestCheckWorker_ActiveSourceIsNoop(t *testing.T) {
	harness := newCheckHarness(t)
	harness.store.sources["ss-1"] = activeSource()

	require.NoError(t, harness.worker.Handle(context.Background(), checkJob("ss-1")))

	assert.Empty(t, harness.store.statuses)
	assert.Empty(t, harness.store.successes)
}
