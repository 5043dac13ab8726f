// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package feed_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/feed"
	"github.com/taibuivan/mangatrack/internal/ingest"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/pkg/cursor"
)

// fakeFeedStore is an in-memory feed.Store.
type fakeFeedStore struct {
	entries       []feed.Entry
	followers     []string
	title         string
	notifications map[string]feed.Notification // userID+"/"+chapterID
	watermark     time.Time
	listCalls     int
}

func newFakeFeedStore() *fakeFeedStore {
	return &fakeFeedStore{notifications: make(map[string]feed.Notification)}
}

func (store *fakeFeedStore) ListActivity(_ context.Context, query feed.ListQuery) ([]feed.Entry, *cursor.Cursor, error) {
	store.listCalls++
	page := store.entries
	if len(page) > query.Limit {
		page = page[:query.Limit]
		last := page[len(page)-1]
		return page, &cursor.Cursor{Time: last.FirstDiscoveredAt, ID: last.ID}, nil
	}
	return page, nil, nil
}

func (store *fakeFeedStore) AdvanceSeenWatermark(_ context.Context, _ string, seenAt time.Time) (time.Time, error) {
	if seenAt.After(store.watermark) {
		store.watermark = seenAt
	}
	return store.watermark, nil
}

func (store *fakeFeedStore) InsertNotifications(_ context.Context, notifications []feed.Notification) (int64, error) {
	var created int64
	for _, row := range notifications {
		key := row.UserID + "/" + row.ChapterID
		if _, found := store.notifications[key]; found {
			continue
		}
		store.notifications[key] = row
		created++
	}
	return created, nil
}

func (store *fakeFeedStore) FollowerIDs(context.Context, string) ([]string, error) {
	return store.followers, nil
}

func (store *fakeFeedStore) SeriesTitle(context.Context, string) (string, error) {
	return store.title, nil
}

func fanoutJob(payload ingest.FanoutPayload) *queue.Job {
	return &queue.Job{
		ID:      "fanout-" + payload.SeriesSourceID + "-" + payload.ChapterID,
		Queue:   queue.QueueFeedFanout,
		Payload: queue.MustPayload(payload),
	}
}

func TestFanoutWorker_NotifiesEveryFollowerOnce(t *testing.T) {
	store := newFakeFeedStore()
	store.followers = []string{"user-1", "user-2", "user-3"}
	store.title = "Solo Camping"
	worker := feed.NewFanoutWorker(store, slog.Default())

	payload := ingest.FanoutPayload{
		SeriesID:       "series-1",
		SeriesSourceID: "ss-1",
		ChapterID:      "ch-10",
		ChapterNumber:  "10",
	}
	require.NoError(t, worker.Handle(context.Background(), fanoutJob(payload)))
	assert.Len(t, store.notifications, 3)
	assert.Equal(t, "Solo Camping", store.notifications["user-1/ch-10"].SeriesTitle)

	// Replay converges: no duplicate notifications.
	require.NoError(t, worker.Handle(context.Background(), fanoutJob(payload)))
	assert.Len(t, store.notifications, 3)
}

func TestFanoutWorker_SecondSourceSameChapterIsAbsorbed(t *testing.T) {
	store := newFakeFeedStore()
	store.followers = []string{"user-1"}
	worker := feed.NewFanoutWorker(store, slog.Default())

	require.NoError(t, worker.Handle(context.Background(), fanoutJob(ingest.FanoutPayload{
		SeriesID: "series-1", SeriesSourceID: "ss-1", ChapterID: "ch-10", ChapterNumber: "10",
	})))
	require.NoError(t, worker.Handle(context.Background(), fanoutJob(ingest.FanoutPayload{
		SeriesID: "series-1", SeriesSourceID: "ss-2", ChapterID: "ch-10", ChapterNumber: "10",
	})))

	assert.Len(t, store.notifications, 1)
}

func TestFanoutWorker_NoFollowersIsNoop(t *testing.T) {
	store := newFakeFeedStore()
	worker := feed.NewFanoutWorker(store, slog.Default())

	require.NoError(t, worker.Handle(context.Background(), fanoutJob(ingest.FanoutPayload{
		SeriesID: "series-1", SeriesSourceID: "ss-1", ChapterID: "ch-1",
	})))
	assert.Empty(t, store.notifications)
}

func TestStore_WatermarkIsStrictGreater(t *testing.T) {
	store := newFakeFeedStore()
	ctx := context.Background()

	first := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	stored, err := store.AdvanceSeenWatermark(ctx, "user-1", first)
	require.NoError(t, err)
	assert.Equal(t, first, stored)

	earlier := first.Add(-time.Hour)
	stored, err = store.AdvanceSeenWatermark(ctx, "user-1", earlier)
	require.NoError(t, err)
	assert.Equal(t, first, stored, "earlier timestamp is a no-op")
}
