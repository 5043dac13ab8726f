// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package feed

import (
	stdctx "context"
	"log/slog"

	"github.com/taibuivan/mangatrack/internal/ingest"
	"github.com/taibuivan/mangatrack/internal/queue"
)

// Sender pushes one rendered notification to a delivery channel. The
// in-app feed rows already exist by the time this runs; senders cover
// out-of-band channels.
type Sender interface {
	Deliver(context stdctx.Context, notification Notification) error
}

// LogSender is the default delivery channel: it only logs. Push and
// email senders plug in behind the same interface.
type LogSender struct {
	Log *slog.Logger
}

// Deliver writes the notification to the structured log.
func (sender *LogSender) Deliver(_ stdctx.Context, notification Notification) error {
	sender.Log.Info("notification_delivered",
		slog.String("user_id", notification.UserID),
		slog.String("series_id", notification.SeriesID),
		slog.String("chapter_number", notification.ChapterNumber),
	)
	return nil
}

// DeliveryWorker consumes notification-delivery jobs. The job was
// enqueued with a delay and a per-(series, chapter) dedup id, so a burst
// of source discoveries collapses into one delivery per chapter.
type DeliveryWorker struct {
	store  Store
	sender Sender
	log    *slog.Logger
}

// NewDeliveryWorker wires the delivery worker.
func NewDeliveryWorker(store Store, sender Sender, log *slog.Logger) *DeliveryWorker {
	return &DeliveryWorker{store: store, sender: sender, log: log}
}

/*
Handle delivers one chapter notification to every follower.

Description: Loads the follower set and series title at delivery time,
not enqueue time, so unfollows during the collapse window drop out.
Per-follower delivery failures are logged and skipped; the in-app
notification row already exists, so a failed push is a degraded
delivery, not a lost one.
*/
func (worker *DeliveryWorker) Handle(context stdctx.Context, job *queue.Job) error {
	var payload ingest.NotificationPayload
	if err := queue.Unmarshal(job, &payload); err != nil {
		return err
	}

	followers, err := worker.store.FollowerIDs(context, payload.SeriesID)
	if err != nil {
		return err
	}
	if len(followers) == 0 {
		return nil
	}

	title, err := worker.store.SeriesTitle(context, payload.SeriesID)
	if err != nil {
		return err
	}

	delivered := 0
	for _, userID := range followers {
		if err := context.Err(); err != nil {
			return err
		}
		err := worker.sender.Deliver(context, Notification{
			UserID:        userID,
			SeriesID:      payload.SeriesID,
			ChapterID:     payload.ChapterID,
			ChapterNumber: payload.ChapterNumber,
			SeriesTitle:   title,
		})
		if err != nil {
			worker.log.Warn("notification_delivery_failed",
				slog.String("user_id", userID),
				slog.String("series_id", payload.SeriesID),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
	}

	worker.log.Info("notifications_dispatched",
		slog.String("series_id", payload.SeriesID),
		slog.String("chapter_number", payload.ChapterNumber),
		slog.Int("followers", len(followers)),
		slog.Int("delivered", delivered),
	)
	return nil
}
