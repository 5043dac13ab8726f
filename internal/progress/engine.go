// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package progress

import (
	stdctx "context"
	"log/slog"
	"time"

	"github.com/taibuivan/mangatrack/internal/activity"
	"github.com/taibuivan/mangatrack/internal/ingest"
	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/platform/constants"
)

// AbuseGuard is the trust-layer surface the engine consults. Implemented
// by trust.Guard.
type AbuseGuard interface {
	CheckProgress(context stdctx.Context, userID string) error
	PermitXP(context stdctx.Context, userID string) (bool, error)
	Suspected(context stdctx.Context, userID string) bool
	RepeatedChapter(context stdctx.Context, userID, entryID, identity string)
	ValidateReadTime(context stdctx.Context, userID string, current, target float64, readingSeconds int)
}

// Engine applies progress mutations under the monotone-progress and
// at-most-once XP contract.
type Engine struct {
	store    Store
	guard    AbuseGuard
	kv       kvs.Store
	activity *activity.Recorder
	log      *slog.Logger
	now      func() time.Time
}

// NewEngine wires the progress [Engine].
func NewEngine(store Store, guard AbuseGuard, kv kvs.Store, recorder *activity.Recorder, log *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		guard:    guard,
		kv:       kv,
		activity: recorder,
		log:      log,
		now:      time.Now,
	}
}

/*
UpdateProgress applies one progress mutation to a library entry.

Description: The target chapter is resolved from the explicit number,
falling back to a slug lookup within the entry's series, falling back to
the current position. When the mutation marks reading and the target is a
real chapter, every chapter of the series from 1 to the target is
bulk-marked read with last-writer-wins upserts, the entry's
last_read_chapter advances monotonically, and XP is considered. XP lands
at most once per call and only when the call makes new progress on an
unread target from a user who is neither flagged as a bot nor over the XP
window; the XP window is a soft block, so a withheld grant still saves
the progress. Replaying the identical request is a no-op apart from
refreshed LWW timestamps.

Parameters:
  - context: context.Context
  - userID: string
  - entryID: string
  - input: the mutation

Returns:
  - *Result: what moved, including any XP award
  - error: apperr.RateLimited over the progress window, apperr.NotFound
    for a foreign entry, or execution failure
*/
func (engine *Engine) UpdateProgress(context stdctx.Context, userID, entryID string, input UpdateInput) (*Result, error) {
	if err := engine.guard.CheckProgress(context, userID); err != nil {
		return nil, err
	}

	entry, err := engine.store.Entry(context, userID, entryID)
	if err != nil {
		return nil, err
	}
	current := entry.LastReadChapter

	// ── 1. Target Resolution ──────────────────────────────────────────
	target, err := engine.resolveTarget(context, entry, input)
	if err != nil {
		return nil, err
	}
	isNewProgress := target > current

	stamp := engine.now()
	if input.Timestamp != nil {
		stamp = *input.Timestamp
	}

	// ── 2. Heuristic Signals ──────────────────────────────────────────
	identity := ingest.CanonicalNumber(target)
	if input.IsRead && !isNewProgress && target > 0 {
		engine.guard.RepeatedChapter(context, userID, entryID, identity)
	}
	engine.guard.ValidateReadTime(context, userID, current, target, input.ReadingTimeSeconds)

	// ── 3. Already-Read Lookup ────────────────────────────────────────
	alreadyRead := false
	if entry.SeriesID != "" && target >= 1 {
		chapterID, found, err := engine.store.ChapterID(context, entry.SeriesID, identity)
		if err != nil {
			return nil, err
		}
		if found {
			alreadyRead, err = engine.store.IsRead(context, userID, chapterID)
			if err != nil {
				return nil, err
			}
		}
	}

	result := &Result{EntryID: entryID, LastReadChapter: current, NewProgress: isNewProgress}

	// ── 4. Bulk Mark ──────────────────────────────────────────────────
	if input.IsRead && target >= 1 && entry.SeriesID != "" {
		marked, err := engine.store.BulkMarkRead(context, userID, entry.SeriesID, target, ReadStamp{
			At:           stamp,
			DeviceID:     input.DeviceID,
			SourceUsedID: input.SourceID,
		})
		if err != nil {
			return nil, err
		}
		result.ChaptersMarked = marked
	}

	// ── 5. XP Grant ───────────────────────────────────────────────────
	if input.IsRead && isNewProgress && !alreadyRead && !engine.guard.Suspected(context, userID) {
		permitted, err := engine.guard.PermitXP(context, userID)
		if err != nil {
			return nil, err
		}
		if permitted {
			award, err := engine.store.AwardReadXP(context, userID, XPPerChapter, stamp)
			if err != nil {
				return nil, err
			}
			result.XPAwarded = award.Amount
			result.TotalXP = award.TotalXP
			result.Level = award.Level
			result.StreakDays = award.StreakDays

			if entry.SeriesID != "" {
				if err := engine.activity.RecordUser(context, entry.SeriesID, userID, activity.EventChapterRead); err != nil {
					engine.log.Warn("progress_read_activity_failed",
						slog.String("series_id", entry.SeriesID), slog.String("error", err.Error()))
				}
			}
		}
	}

	// ── 6. Monotone Advance ───────────────────────────────────────────
	if input.IsRead && isNewProgress {
		advanced, err := engine.store.AdvanceEntry(context, userID, entryID, target, stamp)
		if err != nil {
			return nil, err
		}
		if advanced {
			result.LastReadChapter = target
		}
	}

	engine.bumpFeedVersion(context, userID)

	engine.log.Info("progress_updated",
		slog.String("user_id", userID),
		slog.String("entry_id", entryID),
		slog.Float64("target", target),
		slog.Bool("new_progress", isNewProgress),
		slog.Int("xp_awarded", result.XPAwarded),
	)
	return result, nil
}

// resolveTarget picks the target chapter: explicit number, then slug
// lookup, then the current position.
func (engine *Engine) resolveTarget(context stdctx.Context, entry *Entry, input UpdateInput) (float64, error) {
	if input.ChapterNumber != nil {
		return *input.ChapterNumber, nil
	}
	if input.ChapterSlug != "" && entry.SeriesID != "" {
		number, found, err := engine.store.ChapterNumberBySlug(context, entry.SeriesID, input.ChapterSlug)
		if err != nil {
			return 0, err
		}
		if found {
			return number, nil
		}
	}
	return entry.LastReadChapter, nil
}

/*
AwardSeriesCompletion grants the one-time completion reward for an entry.

Description: The grant is gated by the one-way series_completion_xp_granted
flag; the flag flip and the XP credit are the only effects, so a repeated
completion (or a completed→reading→completed bounce) awards nothing. The
reward is flat — streak and read counters stay put.

Returns:
  - bool: true when this call granted the reward
  - error: execution failure
*/
func (engine *Engine) AwardSeriesCompletion(context stdctx.Context, userID, entryID string) (bool, error) {
	granted, seriesID, err := engine.store.GrantCompletionFlag(context, userID, entryID)
	if err != nil {
		return false, err
	}
	if !granted {
		return false, nil
	}

	award, err := engine.store.AddXP(context, userID, XPSeriesCompleted, engine.now())
	if err != nil {
		return false, err
	}
	engine.bumpFeedVersion(context, userID)

	engine.log.Info("series_completion_awarded",
		slog.String("user_id", userID),
		slog.String("entry_id", entryID),
		slog.String("series_id", seriesID),
		slog.Int("xp", award.Amount),
	)
	return true, nil
}

func (engine *Engine) bumpFeedVersion(context stdctx.Context, userID string) {
	if _, err := engine.kv.Incr(context, constants.RedisPrefixFeedVersion+userID); err != nil {
		engine.log.Warn("progress_feed_version_bump_failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}
