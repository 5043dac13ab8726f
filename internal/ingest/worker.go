// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ingest

import (
	stdctx "context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/queue"
)

const (
	// ingestLockTTL bounds the per-(series,identity) critical section.
	ingestLockTTL = 30 * time.Second

	// gapRecoveryDelay lets a burst of out-of-order ingests settle before
	// the rescrape fires.
	gapRecoveryDelay = 60 * time.Second

	// hotRecheckInterval is how soon a source is re-polled after it
	// produced a fresh chapter.
	hotRecheckInterval = 15 * time.Minute

	// Notification delays collapse rapid bursts into one event per series.
	notifyDelayNormal      = 10 * time.Minute
	notifyDelayGapRecovery = 1 * time.Minute
)

const (
	eventChapterDetected    = "chapter_detected"
	eventChapterSourceAdded = "chapter_source_added"
)

// Worker handles chapter-ingest jobs.
type Worker struct {
	store    Store
	activity ActivityRecorder
	queues   *queue.Manager
	kv       kvs.Store
	log      *slog.Logger
	now      func() time.Time
}

// NewWorker wires the ingest worker.
func NewWorker(store Store, activity ActivityRecorder, queues *queue.Manager, kv kvs.Store, log *slog.Logger) *Worker {
	return &Worker{
		store:    store,
		activity: activity,
		queues:   queues,
		kv:       kv,
		log:      log,
		now:      time.Now,
	}
}

/*
Handle processes one chapter-ingest job.

Description: Normalizes the chapter label, then under a short distributed
lock upserts the logical chapter, detects integer gaps, links the source,
advances series freshness, upserts the feed entry, schedules notification
and fan-out, and bumps follower cache versions. Every write is an upsert;
replays converge.

Parameters:
  - context: context.Context
  - job: *queue.Job (ChapterPayload body)

Returns:
  - error: transient failures retry; malformed payloads dead-letter
*/
func (worker *Worker) Handle(context stdctx.Context, job *queue.Job) error {
	var payload ChapterPayload
	if err := queue.Unmarshal(job, &payload); err != nil {
		return err
	}

	normalized := Normalize(payload.Label, payload.Title)

	// Lock on the chapter's identity key, not the slug: differently typed
	// labels ("Chapter 5", "Extra 5") share the key and upsert one row.
	lockKey := fmt.Sprintf("ingest:lock:%s:%s", payload.SeriesID, normalized.Key)
	lock, err := kvs.AcquireLock(context, worker.kv, lockKey, ingestLockTTL)
	if err != nil {
		if errors.Is(err, kvs.ErrLockHeld) {
			// Another worker owns this logical chapter right now; retry
			// later rather than racing it.
			return fmt.Errorf("ingest: %s locked", lockKey)
		}
		return fmt.Errorf("ingest: acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.Release(context); releaseErr != nil {
			worker.log.Warn("ingest_lock_release_failed", slog.String("key", lockKey))
		}
	}()

	detectedAt, err := worker.resolveDetectedAt(context, &payload, normalized)
	if err != nil {
		return err
	}

	chapterID, chapterCreated, err := worker.store.UpsertChapter(context, &Chapter{
		SeriesID:        payload.SeriesID,
		Number:          normalized.Key,
		Slug:            normalized.Slug,
		Title:           payload.Title,
		PublishedAt:     payload.PublishedAt,
		FirstDetectedAt: detectedAt,
	})
	if err != nil {
		return err
	}

	if chapterCreated {
		if err := worker.activity.Record(context, payload.SeriesID, chapterID, payload.SourceName, eventChapterDetected); err != nil {
			worker.log.Warn("ingest_activity_record_failed",
				slog.String("series_id", payload.SeriesID),
				slog.String("event", eventChapterDetected),
			)
		}
		if err := worker.maybeScheduleGapRecovery(context, &payload, normalized); err != nil {
			return err
		}
	}

	linkCreated, err := worker.store.UpsertChapterSource(context, &ChapterSourceLink{
		SeriesSourceID:  payload.SeriesSourceID,
		ChapterID:       chapterID,
		SourceName:      payload.SourceName,
		SourceChapterID: payload.SourceChapterID,
		URL:             payload.URL,
		PublishedAt:     payload.PublishedAt,
		DetectedAt:      detectedAt,
	})
	if err != nil {
		return err
	}

	if linkCreated {
		if err := worker.store.MarkSourceHot(context, payload.SeriesSourceID, worker.now().Add(hotRecheckInterval)); err != nil {
			return err
		}
		if err := worker.activity.Record(context, payload.SeriesID, chapterID, payload.SourceName, eventChapterSourceAdded); err != nil {
			worker.log.Warn("ingest_activity_record_failed",
				slog.String("series_id", payload.SeriesID),
				slog.String("event", eventChapterSourceAdded),
			)
		}
	}

	if payload.PublishedAt != nil {
		if err := worker.store.AdvanceSeriesLastChapter(context, payload.SeriesID, *payload.PublishedAt); err != nil {
			return err
		}
	}

	if err := worker.store.UpsertFeedEntry(context, FeedEntryUpsert{
		SeriesID:         payload.SeriesID,
		ChapterNumber:    normalized.Key,
		LogicalChapterID: chapterID,
		Source: FeedSource{
			Name:         payload.SourceName,
			URL:          payload.URL,
			DiscoveredAt: detectedAt,
		},
		DiscoveredAt: detectedAt,
	}); err != nil {
		return err
	}

	if err := worker.scheduleFollowups(context, &payload, normalized, chapterID); err != nil {
		return err
	}

	worker.bumpFollowerCaches(context, payload.SeriesID)

	worker.log.Info("chapter_ingested",
		slog.String("series_id", payload.SeriesID),
		slog.String("chapter_number", normalized.Key),
		slog.String("source", payload.SourceName),
		slog.Bool("created", chapterCreated),
		slog.Bool("gap_recovery", payload.GapRecovery),
	)
	return nil
}

// resolveDetectedAt picks the chapter's detection timestamp. Normal ingests
// use now; gap-recovery backfills slot in just before the next existing
// chapter so feed ordering stays monotonic.
func (worker *Worker) resolveDetectedAt(context stdctx.Context, payload *ChapterPayload, normalized Normalized) (time.Time, error) {
	if !payload.GapRecovery || normalized.Number == nil {
		return worker.now(), nil
	}

	anchor, err := worker.store.EarliestDetectedAfter(context, payload.SeriesID, *normalized.Number)
	if err != nil {
		return time.Time{}, err
	}
	if anchor == nil {
		return worker.now(), nil
	}
	return anchor.Add(-time.Millisecond), nil
}

// maybeScheduleGapRecovery enqueues a delayed rescrape when the chapter's
// preceding integer chapter is missing. Recovery-originated ingests never
// re-trigger it.
func (worker *Worker) maybeScheduleGapRecovery(context stdctx.Context, payload *ChapterPayload, normalized Normalized) error {
	if payload.GapRecovery || normalized.Number == nil || *normalized.Number <= 1 {
		return nil
	}

	// Preceding integer chapter: 10 -> 9, 10.5 -> 10.
	number := *normalized.Number
	previous := math.Floor(number)
	if previous == number {
		previous = number - 1
	}

	exists, err := worker.store.HasChapter(context, payload.SeriesID, CanonicalNumber(previous))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	added, err := worker.queues.Add(context, queue.QueueGapRecovery, "gap-recovery", GapRecoveryPayload{
		SeriesID:       payload.SeriesID,
		SeriesSourceID: payload.SeriesSourceID,
		MissingBelow:   *normalized.Number,
	}, queue.Options{
		JobID:    "gap-recovery-" + payload.SeriesID,
		Priority: queue.PriorityHigh,
		Delay:    gapRecoveryDelay,
	})
	if err != nil {
		return err
	}
	if added {
		worker.log.Info("gap_recovery_scheduled",
			slog.String("series_id", payload.SeriesID),
			slog.Float64("missing_below", *normalized.Number),
		)
	}
	return nil
}

// scheduleFollowups enqueues the delayed notification and the feed fan-out.
func (worker *Worker) scheduleFollowups(context stdctx.Context, payload *ChapterPayload, normalized Normalized, chapterID string) error {
	notifyDelay := notifyDelayNormal
	if payload.GapRecovery {
		notifyDelay = notifyDelayGapRecovery
	}

	// One notification per (series, chapter); bursts collapse on the jobId.
	_, err := worker.queues.Add(context, queue.QueueNotification, "chapter-notification", NotificationPayload{
		SeriesID:      payload.SeriesID,
		ChapterID:     chapterID,
		ChapterNumber: normalized.Key,
		SourceName:    payload.SourceName,
	}, queue.Options{
		JobID: fmt.Sprintf("notify-%s-%s", payload.SeriesID, normalized.Key),
		Delay: notifyDelay,
	})
	if err != nil {
		return err
	}

	_, err = worker.queues.Add(context, queue.QueueFeedFanout, "feed-fanout", FanoutPayload{
		SeriesID:       payload.SeriesID,
		SeriesSourceID: payload.SeriesSourceID,
		ChapterID:      chapterID,
		ChapterNumber:  normalized.Key,
	}, queue.Options{
		JobID:    fmt.Sprintf("fanout-%s-%s", payload.SeriesSourceID, chapterID),
		Priority: queue.PriorityHigh,
	})
	return err
}

// bumpFollowerCaches invalidates follower feeds by advancing their cache
// version keys. Best effort: a stale cache self-heals at TTL expiry.
func (worker *Worker) bumpFollowerCaches(context stdctx.Context, seriesID string) {
	followers, err := worker.store.FollowerIDs(context, seriesID)
	if err != nil {
		worker.log.Warn("ingest_follower_lookup_failed", slog.String("series_id", seriesID))
		return
	}
	for _, userID := range followers {
		if _, err := worker.kv.Incr(context, "feed:v:"+userID); err != nil {
			worker.log.Warn("ingest_cache_bump_failed", slog.String("user_id", userID))
			return
		}
	}
}
