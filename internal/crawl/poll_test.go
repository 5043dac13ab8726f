// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl_test

import (
	"context"
	"errors"
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
	"github.com/taibuivan/mangatrack/internal/negcache"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/internal/source"
)

// fakeCrawlStore is an in-memory crawl.Store.
type fakeCrawlStore struct {
	sources     map[string]*crawl.SeriesSource
	nextChecks  map[string]time.Time
	statuses    map[string]string
	successes   []string
	failures    []string
	missing     []float64
	maintenance crawl.MaintenanceResult
}

func newFakeCrawlStore() *fakeCrawlStore {
	return &fakeCrawlStore{
		sources:    make(map[string]*crawl.SeriesSource),
		nextChecks: make(map[string]time.Time),
		statuses:   make(map[string]string),
	}
}

func (store *fakeCrawlStore) FindSeriesSource(_ context.Context, id string) (*crawl.SeriesSource, error) {
	return store.sources[id], nil
}

func (store *fakeCrawlStore) FindSourcesForSeries(_ context.Context, seriesID string) ([]*crawl.SeriesSource, error) {
	var matches []*crawl.SeriesSource
	for _, src := range store.sources {
		if src.SeriesID == seriesID {
			matches = append(matches, src)
		}
	}
	return matches, nil
}

func (store *fakeCrawlStore) FindSeriesBySourceKey(_ context.Context, sourceName, sourceID string) (*crawl.SeriesSource, error) {
	for _, src := range store.sources {
		if src.SourceName == sourceName && src.SourceID == sourceID {
			return src, nil
		}
	}
	return nil, nil
}

func (store *fakeCrawlStore) DueSources(_ context.Context, now time.Time, limit int) ([]*crawl.SeriesSource, error) {
	var due []*crawl.SeriesSource
	for _, src := range store.sources {
		if src.SourceStatus == crawl.StatusBroken {
			continue
		}
		if src.NextCheckAt == nil || !src.NextCheckAt.After(now) {
			due = append(due, src)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (store *fakeCrawlStore) RecheckCandidates(_ context.Context, now time.Time, limit int) ([]*crawl.SeriesSource, error) {
	var parked []*crawl.SeriesSource
	for _, src := range store.sources {
		if src.SourceStatus != crawl.StatusBroken && src.SourceStatus != crawl.StatusInactive {
			continue
		}
		if src.NextCheckAt != nil && !src.NextCheckAt.After(now) {
			parked = append(parked, src)
		}
		if len(parked) == limit {
			break
		}
	}
	return parked, nil
}

func (store *fakeCrawlStore) SetNextCheck(_ context.Context, id string, nextCheckAt time.Time) error {
	store.nextChecks[id] = nextCheckAt
	return nil
}

func (store *fakeCrawlStore) RecordSuccess(_ context.Context, id string, _ time.Time) error {
	store.successes = append(store.successes, id)
	return nil
}

func (store *fakeCrawlStore) RecordFailure(_ context.Context, id string, _, nextCheckAt time.Time) error {
	store.failures = append(store.failures, id)
	store.nextChecks[id] = nextCheckAt
	return nil
}

func (store *fakeCrawlStore) SetStatus(_ context.Context, id, status string, nextCheckAt time.Time) error {
	store.statuses[id] = status
	store.nextChecks[id] = nextCheckAt
	return nil
}

func (store *fakeCrawlStore) MissingChapterNumbers(context.Context, string, float64) ([]float64, error) {
	return store.missing, nil
}

func (store *fakeCrawlStore) RunPriorityMaintenance(context.Context, time.Time, int) (crawl.MaintenanceResult, error) {
	return store.maintenance, nil
}

// scriptedClient returns a fixed result or error per ScrapeSeries call.
type scriptedClient struct {
	name    string
	result  *source.ScrapeResult
	err     error
	targets [][]string
}

func (client *scriptedClient) Name() string { return client.name }

func (client *scriptedClient) ScrapeSeries(_ context.Context, _ string, targetChapters []string) (*source.ScrapeResult, error) {
	client.targets = append(client.targets, targetChapters)
	return client.result, client.err
}

func (client *scriptedClient) ScrapeLatestUpdates(context.Context) source.LatestIterator {
	return sliceIterator{}
}

type sliceIterator struct {
	updates []*source.LatestUpdate
}

func (iterator sliceIterator) Next(context.Context) (*source.LatestUpdate, bool, error) {
	if len(iterator.updates) == 0 {
		return nil, false, nil
	}
	return iterator.updates[0], true, nil
}

type pollHarness struct {
	worker   *crawl.PollWorker
	store    *fakeCrawlStore
	client   *scriptedClient
	queues   *queue.Manager
	breakers *breaker.Registry
	negative *negcache.Cache
}

func newPollHarness(t *testing.T) *pollHarness {
	t.Helper()
	server := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	kv := kvs.NewRedisStore(redisClient)
	store := newFakeCrawlStore()
	client := &scriptedClient{name: "mangadex"}

	harness := &pollHarness{
		store:    store,
		client:   client,
		queues:   queue.NewManager(redisClient, slog.Default()),
		breakers: breaker.NewRegistry(slog.Default()),
		negative: negcache.New(kv),
	}
	harness.worker = crawl.NewPollWorker(
		store,
		source.NewRegistry(client),
		limiter.New(kv, nil, slog.Default()),
		harness.breakers,
		harness.negative,
		harness.queues,
		[]string{"mangadex.org"},
		slog.Default(),
	)
	return harness
}

func (harness *pollHarness) addSource(src *crawl.SeriesSource) {
	harness.store.sources[src.ID] = src
}

func activeSource() *crawl.SeriesSource {
	return &crawl.SeriesSource{
		ID:           "ss-1",
		SeriesID:     "series-1",
		SourceName:   "mangadex",
		SourceID:     "md-1",
		SourceURL:    "https://mangadex.org/title/md-1",
		SyncPriority: crawl.PriorityWarm,
		SourceStatus: crawl.StatusActive,
		SeriesTier:   crawl.TierB,
	}
}

func syncJob(payload crawl.SyncPayload) *queue.Job {
	return &queue.Job{
		ID:      crawl.SyncJobID(payload.SeriesSourceID),
		Name:    "sync-source",
		Queue:   queue.QueueSyncSource,
		Payload: queue.MustPayload(payload),
	}
}

func TestPollWorker_FansChaptersOutToIngest(t *testing.T) {
	harness := newPollHarness(t)
	ctx := context.Background()
	harness.addSource(activeSource())
	harness.client.result = &source.ScrapeResult{
		SourceID: "md-1",
		Chapters: []source.ScrapedChapter{
			{Label: "Chapter 1", URL: "https://mangadex.org/chapter/c1"},
			{Label: "Chapter 2", URL: "https://mangadex.org/chapter/c2"},
		},
	}

	require.NoError(t, harness.worker.Handle(ctx, syncJob(crawl.SyncPayload{
		SeriesSourceID: "ss-1",
		Reason:         crawl.ReasonPeriodic,
	})))

	counts, err := harness.queues.GetJobCounts(ctx, queue.QueueChapterIngest)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Waiting)
	assert.Equal(t, []string{"ss-1"}, harness.store.successes)
}

func TestPollWorker_VanishedSourceIsNoop(t *testing.T) {
	harness := newPollHarness(t)

	require.NoError(t, harness.worker.Handle(context.Background(), syncJob(crawl.SyncPayload{
		SeriesSourceID: "gone",
	})))
	assert.Empty(t, harness.store.successes)
	assert.Empty(t, harness.store.failures)
}

func TestPollWorker_EmptyResultFeedsNegativeCache(t *testing.T) {
	harness := newPollHarness(t)
	ctx := context.Background()
	harness.addSource(activeSource())
	harness.client.result = &source.ScrapeResult{SourceID: "md-1"}

	for i := 0; i < negcache.DefaultThreshold; i++ {
		require.NoError(t, harness.worker.Handle(ctx, syncJob(crawl.SyncPayload{
			SeriesSourceID: "ss-1",
		})))
	}

	skip, err := harness.negative.ShouldSkip(ctx, "ss-1")
	require.NoError(t, err)
	assert.True(t, skip)
	assert.Len(t, harness.store.successes, negcache.DefaultThreshold)
}

func TestPollWorker_RateLimitedSourcePushedOneHour(t *testing.T) {
	harness := newPollHarness(t)
	ctx := context.Background()
	harness.addSource(activeSource())
	harness.client.err = source.ErrRateLimited

	require.NoError(t, harness.worker.Handle(ctx, syncJob(crawl.SyncPayload{
		SeriesSourceID: "ss-1",
	})))

	assert.Equal(t, []string{"ss-1"}, harness.store.failures)
	next := harness.store.nextChecks["ss-1"]
	assert.InDelta(t, time.Hour, time.Until(next), float64(time.Minute))
}

func TestPollWorker_NotImplementedParksSource(t *testing.T) {
	harness := newPollHarness(t)
	ctx := context.Background()
	harness.addSource(activeSource())
	harness.client.err = source.ErrNotImplemented

	require.NoError(t, harness.worker.Handle(ctx, syncJob(crawl.SyncPayload{
		SeriesSourceID: "ss-1",
	})))

	assert.Equal(t, crawl.StatusInactive, harness.store.statuses["ss-1"])
	next := harness.store.nextChecks["ss-1"]
	assert.InDelta(t, 7*24*time.Hour, time.Until(next), float64(time.Minute))
}

func TestPollWorker_TransientErrorPropagatesForRetry(t *testing.T) {
	harness := newPollHarness(t)
	ctx := context.Background()
	harness.addSource(activeSource())
	harness.client.err = errors.New("connection reset")

	err := harness.worker.Handle(ctx, syncJob(crawl.SyncPayload{SeriesSourceID: "ss-1"}))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.Equal(t, []string{"ss-1"}, harness.store.failures)
}

func TestPollWorker_DisallowedHostParksSource(t *testing.T) {
	harness := newPollHarness(t)
	ctx := context.Background()
	src := activeSource()
	src.SourceURL = "https://evil.example.com/title/md-1"
	harness.addSource(src)

	require.NoError(t, harness.worker.Handle(ctx, syncJob(crawl.SyncPayload{
		SeriesSourceID: "ss-1",
	})))
	assert.Equal(t, crawl.StatusInactive, harness.store.statuses["ss-1"])
}

func TestPollWorker_OpenCircuitMarksSourceBroken(t *testing.T) {
	harness := newPollHarness(t)
	ctx := context.Background()
	harness.addSource(activeSource())

	upstreamErr := errors.New("http 503")
	for i := 0; i < 5; i++ {
		_ = harness.breakers.Execute("mangadex", func() error { return upstreamErr })
	}

	require.NoError(t, harness.worker.Handle(ctx, syncJob(crawl.SyncPayload{
		SeriesSourceID: "ss-1",
	})))
	assert.Equal(t, crawl.StatusBroken, harness.store.statuses["ss-1"])
}

func TestGapWorker_RequestsTargetedSyncs(t *testing.T) {
	harness := newPollHarness(t)
	ctx := context.Background()
	harness.addSource(activeSource())
	harness.store.missing = []float64{2, 3}

	gatekeeper := crawl.NewGatekeeper(harness.queues, harness.breakers, harness.negative, 0)
	gapWorker := crawl.NewGapWorker(harness.store, gatekeeper, slog.Default())

	require.NoError(t, gapWorker.Handle(ctx, &queue.Job{
		ID:    "gap-recovery-series-1",
		Queue: queue.QueueGapRecovery,
		Payload: queue.MustPayload(map[string]any{
			"series_id":     "series-1",
			"missing_below": 4,
		}),
	}))

	job, err := harness.queues.GetJob(ctx, queue.QueueSyncSource, crawl.SyncJobID("ss-1"))
	require.NoError(t, err)
	require.NotNil(t, job)

	var payload crawl.SyncPayload
	require.NoError(t, queue.Unmarshal(job, &payload))
	assert.Equal(t, crawl.ReasonGapRecovery, payload.Reason)
	assert.Equal(t, []string{"2", "3"}, payload.TargetChapters)
	assert.Equal(t, queue.PriorityHigh, job.Priority)
}

func TestGapWorker_ClosedGapIsNoop(t *testing.T) {
	harness := newPollHarness(t)
	ctx := context.Background()
	harness.addSource(activeSource())
	harness.store.missing = nil

	gatekeeper := crawl.NewGatekeeper(harness.queues, harness.breakers, harness.negative, 0)
	gapWorker := crawl.NewGapWorker(harness.store, gatekeeper, slog.Default())

	require.NoError(t, gapWorker.Handle(ctx, &queue.Job{
		ID:    "gap-recovery-series-1",
		Queue: queue.QueueGapRecovery,
		Payload: queue.MustPayload(map[string]any{
			"series_id":     "series-1",
			"missing_below": 4,
		}),
	}))

	pending, err := harness.queues.IsPending(ctx, queue.QueueSyncSource, crawl.SyncJobID("ss-1"))
	require.NoError(t, err)
	assert.False(t, pending)
}
