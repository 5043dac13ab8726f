// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package feed_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/feed"
	"github.com/taibuivan/mangatrack/internal/ingest"
	"github.com/taibuivan/mangatrack/internal/queue"
)

// recordingSender captures deliveries and can fail selected users.
type recordingSender struct {
	delivered []feed.Notification
	failFor   map[string]bool
}

func (sender *recordingSender) Deliver(_ context.Context, notification feed.Notification) error {
	if sender.failFor[notification.UserID] {
		return errors.New("channel down")
	}
	sender.delivered = append(sender.delivered, notification)
	return nil
}

func notifyJob(payload ingest.NotificationPayload) *queue.Job {
	return &queue.Job{
		ID:      "notify-" + payload.SeriesID + "-" + payload.ChapterNumber,
		Queue:   queue.QueueNotification,
		Payload: queue.MustPayload(payload),
	}
}

func TestDeliveryWorker_DeliversToEveryFollower(t *testing.T) {
	store := newFakeFeedStore()
	store.followers = []string{"user-1", "user-2"}
	store.title = "Solo Camping"
	sender := &recordingSender{}
	worker := feed.NewDeliveryWorker(store, sender, slog.Default())

	require.NoError(t, worker.Handle(context.Background(), notifyJob(ingest.NotificationPayload{
		SeriesID:      "series-1",
		ChapterID:     "ch-10",
		ChapterNumber: "10",
		SourceName:    "mangadex",
	})))

	require.Len(t, sender.delivered, 2)
	assert.Equal(t, "Solo Camping", sender.delivered[0].SeriesTitle)
	assert.Equal(t, "10", sender.delivered[0].ChapterNumber)
}

func TestDeliveryWorker_NoFollowersIsNoOp(t *testing.T) {
	store := newFakeFeedStore()
	sender := &recordingSender{}
	worker := feed.NewDeliveryWorker(store, sender, slog.Default())

	require.NoError(t, worker.Handle(context.Background(), notifyJob(ingest.NotificationPayload{
		SeriesID: "series-1", ChapterID: "ch-10", ChapterNumber: "10",
	})))
	assert.Empty(t, sender.delivered)
}

func TestDeliveryWorker_ChannelFailureSkipsUserOnly(t *testing.T) {
	store := newFakeFeedStore()
	store.followers = []string{"user-1", "user-2", "user-3"}
	sender := &recordingSender{failFor: map[string]bool{"user-2": true}}
	worker := feed.NewDeliveryWorker(store, sender, slog.Default())

	require.NoError(t, worker.Handle(context.Background(), notifyJob(ingest.NotificationPayload{
		SeriesID: "series-1", ChapterID: "ch-10", ChapterNumber: "10",
	})))

	require.Len(t, sender.delivered, 2)
	assert.Equal(t, "user-1", sender.delivered[0].UserID)
	assert.Equal(t, "user-3", sender.delivered[1].UserID)
}
