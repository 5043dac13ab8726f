// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ingest_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/ingest"
	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/queue"
)

// fakeStore is an in-memory Store for worker tests.
type fakeStore struct {
	chapters       map[string]string // seriesID+"/"+number -> chapterID
	detectedAt     map[string]time.Time
	deleted        map[string]bool // soft-deleted chapter keys
	links          map[string]bool // seriesSourceID+"/"+chapterID
	hotSources     []string
	feedUpserts    []ingest.FeedEntryUpsert
	followers     []string
	lastChapterAt map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chapters:      make(map[string]string),
		detectedAt:    make(map[string]time.Time),
		deleted:       make(map[string]bool),
		links:         make(map[string]bool),
		lastChapterAt: make(map[string]time.Time),
	}
}

// UpsertChapter mirrors the Postgres store: a re-ingested soft-deleted
// chapter comes back to life.
func (store *fakeStore) UpsertChapter(_ context.Context, chapter *ingest.Chapter) (string, bool, error) {
	key := chapter.SeriesID + "/" + chapter.Number
	if id, found := store.chapters[key]; found {
		delete(store.deleted, key)
		return id, false, nil
	}
	id := chapter.SeriesID + "-ch-" + chapter.Number
	store.chapters[key] = id
	store.detectedAt[key] = chapter.FirstDetectedAt
	return id, true, nil
}

func (store *fakeStore) HasChapter(_ context.Context, seriesID, number string) (bool, error) {
	key := seriesID + "/" + number
	_, found := store.chapters[key]
	return found && !store.deleted[key], nil
}

func (store *fakeStore) EarliestDetectedAfter(_ context.Context, seriesID string, number float64) (*time.Time, error) {
	var earliest *time.Time
	for key, detected := range store.detectedAt {
		normalized := ingest.Normalize(keyNumber(key), "")
		if normalized.Number == nil || *normalized.Number <= number {
			continue
		}
		value := detected
		if earliest == nil || value.Before(*earliest) {
			earliest = &value
		}
	}
	return earliest, nil
}

func (store *fakeStore) UpsertChapterSource(_ context.Context, link *ingest.ChapterSourceLink) (bool, error) {
	key := link.SeriesSourceID + "/" + link.ChapterID
	if store.links[key] {
		return false, nil
	}
	store.links[key] = true
	return true, nil
}

func (store *fakeStore) MarkSourceHot(_ context.Context, seriesSourceID string, _ time.Time) error {
	store.hotSources = append(store.hotSources, seriesSourceID)
	return nil
}

func (store *fakeStore) AdvanceSeriesLastChapter(_ context.Context, seriesID string, publishedAt time.Time) error {
	if current, found := store.lastChapterAt[seriesID]; !found || current.Before(publishedAt) {
		store.lastChapterAt[seriesID] = publishedAt
	}
	return nil
}

func (store *fakeStore) UpsertFeedEntry(_ context.Context, upsert ingest.FeedEntryUpsert) error {
	store.feedUpserts = append(store.feedUpserts, upsert)
	return nil
}

func (store *fakeStore) FollowerIDs(context.Context, string) ([]string, error) {
	return store.followers, nil
}

func keyNumber(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}

type fakeActivity struct {
	events []string
}

func (activity *fakeActivity) Record(_ context.Context, _, _, _, eventType string) error {
	activity.events = append(activity.events, eventType)
	return nil
}

type ingestHarness struct {
	worker   *ingest.Worker
	store    *fakeStore
	activity *fakeActivity
	queues   *queue.Manager
	kv       kvs.Store
}

func newIngestHarness(t *testing.T) *ingestHarness {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeStore()
	activity := &fakeActivity{}
	queues := queue.NewManager(client, slog.Default())
	kv := kvs.NewRedisStore(client)

	return &ingestHarness{
		worker:   ingest.NewWorker(store, activity, queues, kv, slog.Default()),
		store:    store,
		activity: activity,
		queues:   queues,
		kv:       kv,
	}
}

func ingestJob(payload ingest.ChapterPayload) *queue.Job {
	return &queue.Job{
		ID:      payload.JobID(),
		Name:    "chapter-ingest",
		Queue:   queue.QueueChapterIngest,
		Payload: queue.MustPayload(payload),
	}
}

func TestWorker_IngestsNewChapter(t *testing.T) {
	harness := newIngestHarness(t)
	ctx := context.Background()
	harness.store.followers = []string{"user-1", "user-2"}

	publishedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	err := harness.worker.Handle(ctx, ingestJob(ingest.ChapterPayload{
		SeriesID:       "series-1",
		SeriesSourceID: "ss-1",
		SourceName:     "mangadex",
		Label:          "Chapter 1",
		URL:            "https://mangadex.org/chapter/c1",
		PublishedAt:    &publishedAt,
	}))
	require.NoError(t, err)

	assert.Contains(t, harness.store.chapters, "series-1/1")
	assert.Contains(t, harness.store.hotSources, "ss-1")
	assert.Equal(t, []string{"chapter_detected", "chapter_source_added"}, harness.activity.events)
	assert.Equal(t, publishedAt, harness.store.lastChapterAt["series-1"])

	require.Len(t, harness.store.feedUpserts, 1)
	assert.Equal(t, "1", harness.store.feedUpserts[0].ChapterNumber)
	assert.Equal(t, "mangadex", harness.store.feedUpserts[0].Source.Name)

	// Follower cache versions were bumped.
	for _, user := range harness.store.followers {
		value, err := harness.kv.Get(ctx, "feed:v:"+user)
		require.NoError(t, err)
		assert.Equal(t, "1", value)
	}

	// Fan-out queued immediately; notification delayed.
	counts, err := harness.queues.GetJobCounts(ctx, queue.QueueFeedFanout)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)

	counts, err = harness.queues.GetJobCounts(ctx, queue.QueueNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)
}

func TestWorker_ReplayIsIdempotent(t *testing.T) {
	harness := newIngestHarness(t)
	ctx := context.Background()

	payload := ingest.ChapterPayload{
		SeriesID:       "series-1",
		SeriesSourceID: "ss-1",
		SourceName:     "mangadex",
		Label:          "Chapter 1",
	}
	require.NoError(t, harness.worker.Handle(ctx, ingestJob(payload)))
	require.NoError(t, harness.worker.Handle(ctx, ingestJob(payload)))

	// Second delivery adds no activity, no duplicate hot bump.
	assert.Equal(t, []string{"chapter_detected", "chapter_source_added"}, harness.activity.events)
	assert.Len(t, harness.store.hotSources, 1)
	// Feed upsert runs every time; the store keeps it converged.
	assert.Len(t, harness.store.feedUpserts, 2)
}

func TestWorker_LabelsWithSameNumberShareOneChapter(t *testing.T) {
	harness := newIngestHarness(t)
	ctx := context.Background()

	// "Chapter 5" and "Extra 5" normalize to the same identity key.
	for _, label := range []string{"Chapter 5", "Extra 5"} {
		require.NoError(t, harness.worker.Handle(ctx, ingestJob(ingest.ChapterPayload{
			SeriesID:       "series-1",
			SeriesSourceID: "ss-1",
			SourceName:     "mangadex",
			Label:          label,
		})))
	}

	assert.Len(t, harness.store.chapters, 1)
	assert.Contains(t, harness.store.chapters, "series-1/5")
}

func TestWorker_LabelsWithSameNumberContendOnOneLock(t *testing.T) {
	harness := newIngestHarness(t)
	ctx := context.Background()

	// Hold the lock for chapter 5 of the series, as a worker mid-ingest
	// of "Chapter 5" would.
	lock, err := kvs.AcquireLock(ctx, harness.kv, "ingest:lock:series-1:5", time.Minute)
	require.NoError(t, err)
	defer func() { _ = lock.Release(ctx) }()

	// A differently typed label for the same number must wait for it.
	err = harness.worker.Handle(ctx, ingestJob(ingest.ChapterPayload{
		SeriesID:       "series-1",
		SeriesSourceID: "ss-1",
		SourceName:     "mangadex",
		Label:          "Extra 5",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
}

func TestWorker_ReingestRevivesSoftDeletedChapter(t *testing.T) {
	harness := newIngestHarness(t)
	ctx := context.Background()

	for _, label := range []string{"Chapter 1", "Chapter 2"} {
		require.NoError(t, harness.worker.Handle(ctx, ingestJob(ingest.ChapterPayload{
			SeriesID:       "series-1",
			SeriesSourceID: "ss-1",
			SourceName:     "mangadex",
			Label:          label,
		})))
	}

	harness.store.deleted["series-1/1"] = true
	has, err := harness.store.HasChapter(ctx, "series-1", "1")
	require.NoError(t, err)
	require.False(t, has)

	// The source still lists chapter 1; re-ingest brings the row back so
	// gap detection sees it again instead of re-flagging the series.
	require.NoError(t, harness.worker.Handle(ctx, ingestJob(ingest.ChapterPayload{
		SeriesID:       "series-1",
		SeriesSourceID: "ss-1",
		SourceName:     "mangadex",
		Label:          "Chapter 1",
	})))

	has, err = harness.store.HasChapter(ctx, "series-1", "1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestWorker_SchedulesGapRecoveryWhenPredecessorMissing(t *testing.T) {
	harness := newIngestHarness(t)
	ctx := context.Background()

	err := harness.worker.Handle(ctx, ingestJob(ingest.ChapterPayload{
		SeriesID:       "series-1",
		SeriesSourceID: "ss-1",
		SourceName:     "mangadex",
		Label:          "Chapter 10",
	}))
	require.NoError(t, err)

	pending, err := harness.queues.IsPending(ctx, queue.QueueGapRecovery, "gap-recovery-series-1")
	require.NoError(t, err)
	assert.True(t, pending)

	counts, err := harness.queues.GetJobCounts(ctx, queue.QueueGapRecovery)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed, "gap recovery is delayed, not immediate")
}

func TestWorker_NoGapRecoveryWhenPredecessorExists(t *testing.T) {
	harness := newIngestHarness(t)
	ctx := context.Background()

	for _, label := range []string{"Chapter 1", "Chapter 2"} {
		require.NoError(t, harness.worker.Handle(ctx, ingestJob(ingest.ChapterPayload{
			SeriesID:       "series-1",
			SeriesSourceID: "ss-1",
			SourceName:     "mangadex",
			Label:          label,
		})))
	}

	pending, err := harness.queues.IsPending(ctx, queue.QueueGapRecovery, "gap-recovery-series-1")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestWorker_GapRecoveryBackfillSlotsBeforeNextChapter(t *testing.T) {
	harness := newIngestHarness(t)
	ctx := context.Background()

	// Chapter 3 arrives first, normally.
	require.NoError(t, harness.worker.Handle(ctx, ingestJob(ingest.ChapterPayload{
		SeriesID:       "series-1",
		SeriesSourceID: "ss-1",
		SourceName:     "mangadex",
		Label:          "Chapter 3",
	})))
	anchor := harness.store.detectedAt["series-1/3"]

	// Chapter 2 backfills through gap recovery.
	require.NoError(t, harness.worker.Handle(ctx, ingestJob(ingest.ChapterPayload{
		SeriesID:       "series-1",
		SeriesSourceID: "ss-1",
		SourceName:     "mangadex",
		Label:          "Chapter 2",
		GapRecovery:    true,
	})))

	backfilled := harness.store.detectedAt["series-1/2"]
	assert.Equal(t, anchor.Add(-time.Millisecond), backfilled)
}

func TestWorker_GapRecoveryIngestDoesNotRetrigger(t *testing.T) {
	harness := newIngestHarness(t)
	ctx := context.Background()

	require.NoError(t, harness.worker.Handle(ctx, ingestJob(ingest.ChapterPayload{
		SeriesID:       "series-1",
		SeriesSourceID: "ss-1",
		SourceName:     "mangadex",
		Label:          "Chapter 7",
		GapRecovery:    true,
	})))

	pending, err := harness.queues.IsPending(ctx, queue.QueueGapRecovery, "gap-recovery-series-1")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestWorker_MalformedPayloadIsPermanent(t *testing.T) {
	harness := newIngestHarness(t)

	err := harness.worker.Handle(context.Background(), &queue.Job{
		ID:      "bad",
		Queue:   queue.QueueChapterIngest,
		Payload: []byte("{not json"),
	})
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}
