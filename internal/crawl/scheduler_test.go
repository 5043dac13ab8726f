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
	"github.com/taibuivan/mangatrack/internal/negcache"
	"github.com/taibuivan/mangatrack/internal/queue"
)

type schedulerHarness struct {
	scheduler *crawl.Scheduler
	store     *fakeCrawlStore
	queues    *queue.Manager
	kv        kvs.Store
	subRuns   *int
}

func newSchedulerHarness(t *testing.T) *schedulerHarness {
	t.Helper()
	server := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	kv := kvs.NewRedisStore(redisClient)
	store := newFakeCrawlStore()
	queues := queue.NewManager(redisClient, slog.Default())
	gatekeeper := crawl.NewGatekeeper(queues, breaker.NewRegistry(slog.Default()), negcache.New(kv), 0)

	subRuns := 0
	subs := []crawl.SubScheduler{
		{Name: "counting", Run: func(context.Context) error {
			subRuns++
			return nil
		}},
		{Name: "failing", Run: func(context.Context) error {
			return assert.AnError
		}},
	}

	return &schedulerHarness{
		scheduler: crawl.NewScheduler(store, gatekeeper, kv, subs, 0, slog.Default()),
		store:     store,
		queues:    queues,
		kv:        kv,
		subRuns:   &subRuns,
	}
}

func TestScheduler_TickSchedulesDueSources(t *testing.T) {
	harness := newSchedulerHarness(t)
	ctx := context.Background()

	due := activeSource()
	harness.store.sources[due.ID] = due

	future := time.Now().Add(time.Hour)
	notDue := activeSource()
	notDue.ID = "ss-2"
	notDue.NextCheckAt = &future
	harness.store.sources[notDue.ID] = notDue

	harness.scheduler.Tick(ctx)

	pending, err := harness.queues.IsPending(ctx, queue.QueueSyncSource, crawl.SyncJobID("ss-1"))
	require.NoError(t, err)
	assert.True(t, pending)

	pending, err = harness.queues.IsPending(ctx, queue.QueueSyncSource, crawl.SyncJobID("ss-2"))
	require.NoError(t, err)
	assert.False(t, pending)

	// Tier B + WARM cadence persisted for the scheduled source.
	next, found := harness.store.nextChecks["ss-1"]
	require.True(t, found)
	assert.InDelta(t, 9*time.Hour, time.Until(next), float64(time.Minute))
}

func TestScheduler_SubSchedulerFailureDoesNotBlockOthers(t *testing.T) {
	harness := newSchedulerHarness(t)

	harness.scheduler.Tick(context.Background())
	assert.Equal(t, 1, *harness.subRuns, "counting sub ran despite failing sibling")
}

func TestScheduler_TickIsIdempotentAcrossRounds(t *testing.T) {
	harness := newSchedulerHarness(t)
	ctx := context.Background()

	src := activeSource()
	harness.store.sources[src.ID] = src

	harness.scheduler.Tick(ctx)
	// The source stays "due" in the fake; the dedup jobId absorbs the
	// second round.
	harness.scheduler.Tick(ctx)

	counts, err := harness.queues.GetJobCounts(ctx, queue.QueueSyncSource)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
}
