// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/activity"
	"github.com/taibuivan/mangatrack/internal/breaker"
	"github.com/taibuivan/mangatrack/internal/crawl"
	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/negcache"
	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/internal/search"
	"github.com/taibuivan/mangatrack/internal/series"
)

// fakeStore is an in-memory [series.Store].
type fakeStore struct {
	mu        sync.Mutex
	existing  map[string]bool
	attached  map[string]string
	summaries []series.Summary
	chapters  []series.ChapterGroup
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing: map[string]bool{"series-1": true},
		attached: map[string]string{},
	}
}

func (store *fakeStore) Exists(_ context.Context, seriesID string) (bool, error) {
	return store.existing[seriesID], nil
}

func (store *fakeStore) Chapters(_ context.Context, _ string, _, _ int) ([]series.ChapterGroup, int, error) {
	return store.chapters, len(store.chapters), nil
}

func (store *fakeStore) AttachSource(_ context.Context, seriesID string, input series.AttachInput) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if !store.existing[seriesID] {
		return "", apperr.NotFound("Series")
	}
	key := input.SourceName + "/" + input.SourceID
	if _, found := store.attached[key]; found {
		return "", apperr.Conflict("Source is already attached to a series")
	}
	store.attached[key] = "ss-" + input.SourceID
	return store.attached[key], nil
}

func (store *fakeStore) Search(_ context.Context, _ string, _, _ int) ([]series.Summary, int, error) {
	return store.summaries, len(store.summaries), nil
}

func (store *fakeStore) Discover(_ context.Context, _ int) ([]series.Summary, error) {
	return store.summaries, nil
}

func (store *fakeStore) Trending(_ context.Context, _ int) ([]series.Summary, error) {
	return store.summaries, nil
}

// fakeCrawlStore serves FindSeriesSource; the rest is unused here.
type fakeCrawlStore struct {
	crawl.Store
	source *crawl.SeriesSource
}

func (store *fakeCrawlStore) FindSeriesSource(_ context.Context, _ string) (*crawl.SeriesSource, error) {
	return store.source, nil
}

// nullActivityStore records appended event types.
type nullActivityStore struct {
	mu     sync.Mutex
	events []string
}

func (store *nullActivityStore) AppendEvent(_ context.Context, event *activity.Event) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.events = append(store.events, event.EventType)
	return nil
}

func (store *nullActivityStore) RefreshScore(_ context.Context, _ string, _ time.Time) (float64, error) {
	return 0, nil
}

func (store *nullActivityStore) ApplyTierRules(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// memoryStats is an in-memory [search.Store] backing the storm controller.
type memoryStats struct {
	mu    sync.Mutex
	stats map[string]*search.Stats
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

func (store *memoryStats) MarkDeferred(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (store *memoryStats) AttachDiscovery(_ context.Context, _ *search.DiscoveredSeries) (string, bool, error) {
	return "", false, nil
}

type serviceHarness struct {
	service  *series.Service
	store    *fakeStore
	queues   *queue.Manager
	activity *nullActivityStore
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	kv := kvs.NewRedisStore(client)
	queues := queue.NewManager(client, slog.Default())
	gatekeeper := crawl.NewGatekeeper(queues, breaker.NewRegistry(slog.Default()), negcache.New(kv), 0)
	storm := search.NewController(&memoryStats{stats: map[string]*search.Stats{}}, queues, kv, slog.Default())

	store := newFakeStore()
	events := &nullActivityStore{}
	crawlStore := &fakeCrawlStore{source: &crawl.SeriesSource{
		ID:         "ss-1",
		SeriesID:   "series-1",
		SourceName: "mangadex",
		SeriesTier: crawl.TierC,
	}}

	service := series.NewService(store, crawlStore, gatekeeper, storm,
		activity.NewRecorder(events, slog.Default()),
		[]string{"mangadex.org"}, slog.Default())
	return &serviceHarness{service: service, store: store, queues: queues, activity: events}
}

func TestService_AttachSourceRejectsUnknownHost(t *testing.T) {
	harness := newServiceHarness(t)

	_, err := harness.service.AttachSource(context.Background(), "series-1", series.AttachInput{
		SourceName: "mangadex",
		SourceID:   "abc",
		SourceURL:  "https://evil.example.com/title/abc",
	})
	require.Error(t, err)
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "FORBIDDEN", appErr.Code)
	assert.Empty(t, harness.store.attached)
}

func TestService_AttachSourceQueuesFirstSync(t *testing.T) {
	harness := newServiceHarness(t)
	ctx := context.Background()

	sourceID, err := harness.service.AttachSource(ctx, "series-1", series.AttachInput{
		SourceName: "mangadex",
		SourceID:   "abc",
		SourceURL:  "https://mangadex.org/title/abc",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sourceID)

	counts, err := harness.queues.GetJobCounts(ctx, queue.QueueSyncSource)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting, "first sync queued at user-request priority")
}

func TestService_AttachSourceUnknownSeries(t *testing.T) {
	harness := newServiceHarness(t)

	_, err := harness.service.AttachSource(context.Background(), "missing", series.AttachInput{
		SourceName: "mangadex",
		SourceID:   "abc",
		SourceURL:  "https://mangadex.org/title/abc",
	})
	require.Error(t, err)
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestService_SearchRecordsImpressions(t *testing.T) {
	harness := newServiceHarness(t)
	harness.store.summaries = []series.Summary{
		{ID: "series-1", Title: "One Piece"},
		{ID: "series-2", Title: "One Punch Man"},
	}

	result, err := harness.service.Search(context.Background(), "one", search.ClassFree, 20, 0)
	require.NoError(t, err)
	assert.Len(t, result.Series, 2)
	assert.Equal(t, 2, result.Total)
	assert.False(t, result.External.ShouldEnqueue, "first search is below the storm threshold")
	assert.Equal(t,
		[]string{activity.EventSearchImpression, activity.EventSearchImpression},
		harness.activity.events)
}

func TestService_SearchTriggersExternalAfterThreshold(t *testing.T) {
	harness := newServiceHarness(t)
	ctx := context.Background()

	var result *series.SearchResult
	var err error
	for i := 0; i < search.StormThreshold; i++ {
		result, err = harness.service.Search(ctx, "obscure title", search.ClassFree, 20, 0)
		require.NoError(t, err)
	}
	assert.True(t, result.External.ShouldEnqueue)

	counts, err := harness.queues.GetJobCounts(ctx, queue.QueueSearch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
}
