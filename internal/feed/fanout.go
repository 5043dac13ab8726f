// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package feed

import (
	stdctx "context"
	"log/slog"

	"github.com/taibuivan/mangatrack/internal/ingest"
	"github.com/taibuivan/mangatrack/internal/queue"
)

// FanoutWorker consumes feed-fanout jobs: one per (source, chapter)
// discovery. It materializes per-follower notification rows; the unique
// (user, chapter) key absorbs replays and multi-source duplicates.
type FanoutWorker struct {
	store Store
	log   *slog.Logger
}

// NewFanoutWorker wires the fan-out worker.
func NewFanoutWorker(store Store, log *slog.Logger) *FanoutWorker {
	return &FanoutWorker{store: store, log: log}
}

// Handle fans one discovered chapter out to every follower.
func (worker *FanoutWorker) Handle(context stdctx.Context, job *queue.Job) error {
	var payload ingest.FanoutPayload
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

	notifications := make([]Notification, 0, len(followers))
	for _, userID := range followers {
		notifications = append(notifications, Notification{
			UserID:        userID,
			SeriesID:      payload.SeriesID,
			ChapterID:     payload.ChapterID,
			ChapterNumber: payload.ChapterNumber,
			SeriesTitle:   title,
		})
	}

	created, err := worker.store.InsertNotifications(context, notifications)
	if err != nil {
		return err
	}

	worker.log.Info("feed_fanned_out",
		slog.String("series_id", payload.SeriesID),
		slog.String("chapter_id", payload.ChapterID),
		slog.Int("followers", len(followers)),
		slog.Int64("created", created),
	)
	return nil
}
