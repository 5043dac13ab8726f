// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package search_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/internal/search"
)

// memoryStats is an in-memory [search.Store] for controller tests.
type memoryStats struct {
	mu    sync.Mutex
	stats map[string]*search.Stats
}

func newMemoryStats() *memoryStats {
	return &memoryStats{stats: map[string]*search.Stats{}}
}

func (store *memoryStats) RecordSearch(_ context.Context, key string, _ time.Time) (*search.Stats, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	entry, found := store.stats[key]
	if !found {
		entry = &search.Stats{NormalizedKey: key}
		store.stats[key] = entry
	}
	entry.TotalSearches++
	snapshot := *entry
	return &snapshot, nil
}

func (store *memoryStats) MarkEnqueued(_ context.Context, key string, now time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if entry, found := store.stats[key]; found {
		stamp := now
		entry.LastEnqueuedAt = &stamp
	}
	return nil
}

func (store *memoryStats) MarkDeferred(_ context.Context, key string, now time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if entry, found := store.stats[key]; found {
		stamp := now
		entry.LastDeferredAt = &stamp
	}
	return nil
}

func (store *memoryStats) AttachDiscovery(_ context.Context, _ *search.DiscoveredSeries) (string, bool, error) {
	return "", false, nil
}

type stormHarness struct {
	controller *search.Controller
	queues     *queue.Manager
	stats      *memoryStats
	kv         kvs.Store
}

func newStormHarness(t *testing.T) *stormHarness {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stats := newMemoryStats()
	queues := queue.NewManager(client, slog.Default())
	kv := kvs.NewRedisStore(client)
	return &stormHarness{
		controller: search.NewController(stats, queues, kv, slog.Default()),
		queues:     queues,
		stats:      stats,
		kv:         kv,
	}
}

// warm pushes a query past the lifetime threshold without enqueueing.
func (harness *stormHarness) warm(t *testing.T, query string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < search.StormThreshold-1; i++ {
		decision, err := harness.controller.Evaluate(ctx, query, search.ClassFree)
		require.NoError(t, err)
		assert.False(t, decision.ShouldEnqueue)
		assert.Equal(t, search.ReasonBelowThreshold, decision.Reason)
	}
}

func TestController_ThresholdThenEnqueue(t *testing.T) {
	harness := newStormHarness(t)
	harness.warm(t, "One Piece")

	decision, err := harness.controller.Evaluate(context.Background(), "One Piece", search.ClassFree)
	require.NoError(t, err)
	assert.True(t, decision.ShouldEnqueue)
	assert.Equal(t, search.ReasonEnqueued, decision.Reason)

	counts, err := harness.queues.GetJobCounts(context.Background(), queue.QueueSearch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
}

func TestController_NormalizationCollapsesVariants(t *testing.T) {
	harness := newStormHarness(t)
	ctx := context.Background()

	variants := []string{"One Piece", "  one   PIECE ", "one piece"}
	for i, variant := range variants {
		decision, err := harness.controller.Evaluate(ctx, variant, search.ClassFree)
		require.NoError(t, err)
		if i == len(variants)-1 {
			assert.True(t, decision.ShouldEnqueue, "variants share one counter")
		}
	}
}

func TestController_ActiveJobDenies(t *testing.T) {
	harness := newStormHarness(t)
	harness.warm(t, "naruto")
	ctx := context.Background()

	first, err := harness.controller.Evaluate(ctx, "naruto", search.ClassFree)
	require.NoError(t, err)
	require.True(t, first.ShouldEnqueue)

	// Force the cooldown aside: the dedup check must fire on its own.
	harness.stats.stats["naruto"].LastEnqueuedAt = nil

	second, err := harness.controller.Evaluate(ctx, "naruto", search.ClassFree)
	require.NoError(t, err)
	assert.False(t, second.ShouldEnqueue)
	assert.Equal(t, search.ReasonActiveJob, second.Reason)
}

func TestController_CooldownDenies(t *testing.T) {
	harness := newStormHarness(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < search.StormThreshold; i++ {
		_, err := harness.stats.RecordSearch(ctx, "bleach", now)
		require.NoError(t, err)
	}
	require.NoError(t, harness.stats.MarkEnqueued(ctx, "bleach", now.Add(-10*time.Second)))

	decision, err := harness.controller.Evaluate(ctx, "bleach", search.ClassFree)
	require.NoError(t, err)
	assert.False(t, decision.ShouldEnqueue)
	assert.Equal(t, search.ReasonCooldown, decision.Reason)
}

func TestController_UnhealthyQueueDefers(t *testing.T) {
	harness := newStormHarness(t)
	ctx := context.Background()

	// Flood the queue past the health threshold.
	for i := 0; i < search.UnhealthyWaiting+1; i++ {
		_, err := harness.queues.Add(ctx, queue.QueueSearch, "discover",
			search.Payload{Query: fmt.Sprintf("filler-%d", i)}, queue.Options{})
		require.NoError(t, err)
	}

	harness.warm(t, "jujutsu kaisen")
	decision, err := harness.controller.Evaluate(ctx, "jujutsu kaisen", search.ClassPremium)
	require.NoError(t, err)
	assert.False(t, decision.ShouldEnqueue)
	assert.Equal(t, search.ReasonQueueUnhealthy, decision.Reason)

	require.NotNil(t, harness.stats.stats["jujutsu kaisen"].LastDeferredAt)
}

func TestController_PromoteDeferredFairShare(t *testing.T) {
	harness := newStormHarness(t)
	ctx := context.Background()
	past := float64(time.Now().Add(-time.Second).UnixMilli())

	// Ten ready entries on each side; one promotion run takes 7 + 3.
	for i := 0; i < 10; i++ {
		require.NoError(t, harness.kv.ZAdd(ctx, "search:deferred:priority", past, fmt.Sprintf("prio-%d", i)))
		require.NoError(t, harness.kv.ZAdd(ctx, "search:deferred:standard", past, fmt.Sprintf("std-%d", i)))
	}
	// Seed stats so promoted queries can be stamped.
	for i := 0; i < 10; i++ {
		_, err := harness.stats.RecordSearch(ctx, fmt.Sprintf("prio-%d", i), time.Now())
		require.NoError(t, err)
		_, err = harness.stats.RecordSearch(ctx, fmt.Sprintf("std-%d", i), time.Now())
		require.NoError(t, err)
	}

	require.NoError(t, harness.controller.PromoteDeferred(ctx))

	counts, err := harness.queues.GetJobCounts(ctx, queue.QueueSearch)
	require.NoError(t, err)
	assert.Equal(t, int64(10), counts.Waiting)

	remainingPriority, err := harness.kv.ZCard(ctx, "search:deferred:priority")
	require.NoError(t, err)
	remainingStandard, err := harness.kv.ZCard(ctx, "search:deferred:standard")
	require.NoError(t, err)
	assert.Equal(t, int64(3), remainingPriority, "7 of 10 priority promoted")
	assert.Equal(t, int64(7), remainingStandard, "3 of 10 standard promoted")
}

func TestController_PromoteAbsorbsEmptyPrioritySet(t *testing.T) {
	harness := newStormHarness(t)
	ctx := context.Background()
	past := float64(time.Now().Add(-time.Second).UnixMilli())

	for i := 0; i < 10; i++ {
		require.NoError(t, harness.kv.ZAdd(ctx, "search:deferred:standard", past, fmt.Sprintf("std-%d", i)))
		_, err := harness.stats.RecordSearch(ctx, fmt.Sprintf("std-%d", i), time.Now())
		require.NoError(t, err)
	}

	require.NoError(t, harness.controller.PromoteDeferred(ctx))

	counts, err := harness.queues.GetJobCounts(ctx, queue.QueueSearch)
	require.NoError(t, err)
	assert.Equal(t, int64(10), counts.Waiting, "standard absorbs unused priority slots")
}
