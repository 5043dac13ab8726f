// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

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

type gateHarness struct {
	gatekeeper *crawl.Gatekeeper
	queues     *queue.Manager
	breakers   *breaker.Registry
	negative   *negcache.Cache
}

func newGateHarness(t *testing.T) *gateHarness {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := kvs.NewRedisStore(client)
	queues := queue.NewManager(client, slog.Default())
	breakers := breaker.NewRegistry(slog.Default())
	negative := negcache.New(store)

	return &gateHarness{
		gatekeeper: crawl.NewGatekeeper(queues, breakers, negative, 0),
		queues:     queues,
		breakers:   breakers,
		negative:   negative,
	}
}

func coldSource() *crawl.SeriesSource {
	return &crawl.SeriesSource{
		ID:         "ss-1",
		SeriesID:   "series-1",
		SourceName: "mangadex",
		SeriesTier: crawl.TierB,
	}
}

func TestGatekeeper_AllowsWithReasonPriority(t *testing.T) {
	harness := newGateHarness(t)
	ctx := context.Background()

	cases := []struct {
		reason crawl.Reason
		want   int
	}{
		{crawl.ReasonUserRequest, queue.PriorityCritical},
		{crawl.ReasonGapRecovery, queue.PriorityHigh},
		{crawl.ReasonPeriodic, queue.PriorityStandard},
		{crawl.ReasonBackfill, queue.PriorityLow},
	}
	for _, testCase := range cases {
		decision, err := harness.gatekeeper.ShouldEnqueue(ctx, coldSource(), testCase.reason)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, testCase.want, decision.Priority, "reason %s", testCase.reason)
	}
}

func TestGatekeeper_BoostsTierAAndPopularSeries(t *testing.T) {
	harness := newGateHarness(t)
	ctx := context.Background()

	tierA := coldSource()
	tierA.SeriesTier = crawl.TierA
	decision, err := harness.gatekeeper.ShouldEnqueue(ctx, tierA, crawl.ReasonPeriodic)
	require.NoError(t, err)
	assert.Equal(t, queue.PriorityHigh, decision.Priority)

	popular := coldSource()
	popular.TotalFollows = crawl.DefaultBoostFollows + 1
	decision, err = harness.gatekeeper.ShouldEnqueue(ctx, popular, crawl.ReasonGapRecovery)
	require.NoError(t, err)
	assert.Equal(t, queue.PriorityCritical, decision.Priority)

	// Critical cannot be boosted further.
	decision, err = harness.gatekeeper.ShouldEnqueue(ctx, tierA, crawl.ReasonUserRequest)
	require.NoError(t, err)
	assert.Equal(t, queue.PriorityCritical, decision.Priority)
}

func TestGatekeeper_DeniesWhenSyncAlreadyQueued(t *testing.T) {
	harness := newGateHarness(t)
	ctx := context.Background()
	src := coldSource()

	decision, err := harness.gatekeeper.ShouldEnqueue(ctx, src, crawl.ReasonPeriodic)
	require.NoError(t, err)
	added, err := harness.gatekeeper.Enqueue(ctx, src, crawl.ReasonPeriodic, decision, nil)
	require.NoError(t, err)
	require.True(t, added)

	decision, err = harness.gatekeeper.ShouldEnqueue(ctx, src, crawl.ReasonUserRequest)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, crawl.DenyDuplicate, decision.DenyCode)
}

func TestGatekeeper_DeniesWhenCircuitOpen(t *testing.T) {
	harness := newGateHarness(t)
	ctx := context.Background()
	upstreamErr := errors.New("http 503")

	for i := 0; i < 5; i++ {
		_ = harness.breakers.Execute("mangadex", func() error { return upstreamErr })
	}

	decision, err := harness.gatekeeper.ShouldEnqueue(ctx, coldSource(), crawl.ReasonPeriodic)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, crawl.DenyCircuitOpen, decision.DenyCode)
}

func TestGatekeeper_DeniesWhenNegativeCached(t *testing.T) {
	harness := newGateHarness(t)
	ctx := context.Background()
	src := coldSource()

	for i := 0; i < negcache.DefaultThreshold; i++ {
		require.NoError(t, harness.negative.RecordResult(ctx, src.ID, true))
	}

	decision, err := harness.gatekeeper.ShouldEnqueue(ctx, src, crawl.ReasonPeriodic)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, crawl.DenyNegativeCache, decision.DenyCode)
}

func TestInterval_TableAndFallback(t *testing.T) {
	assert.Equal(t, "30m0s", crawl.Interval(crawl.TierA, crawl.PriorityHot).String())
	assert.Equal(t, "45m0s", crawl.Interval(crawl.TierA, crawl.PriorityWarm).String())
	assert.Equal(t, "1h0m0s", crawl.Interval(crawl.TierA, crawl.PriorityCold).String())
	assert.Equal(t, "6h0m0s", crawl.Interval(crawl.TierB, crawl.PriorityHot).String())
	assert.Equal(t, "12h0m0s", crawl.Interval(crawl.TierB, crawl.PriorityCold).String())
	assert.Equal(t, "48h0m0s", crawl.Interval(crawl.TierC, crawl.PriorityHot).String())
	assert.Equal(t, "168h0m0s", crawl.Interval(crawl.TierC, crawl.PriorityCold).String())

	// Corrupt data falls back to the slowest cadence.
	assert.Equal(t, "168h0m0s", crawl.Interval("Z", "??").String())
}
