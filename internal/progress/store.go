// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package progress

import (
	stdctx "context"
	"time"
)

// Entry is the progress-relevant slice of a library entry.
type Entry struct {
	ID              string
	UserID          string
	SeriesID        string
	Status          string
	LastReadChapter float64
	LastReadAt      *time.Time
	CompletionXP    bool
}

// Store is the persistence contract for the progress engine.
type Store interface {
	// Entry loads the user's live entry or apperr.NotFound.
	Entry(context stdctx.Context, userID, entryID string) (*Entry, error)

	// ChapterNumberBySlug resolves a chapter slug to its numeric value
	// within a series. found is false for unknown slugs and for slugs of
	// numberless chapters.
	ChapterNumberBySlug(context stdctx.Context, seriesID, slug string) (number float64, found bool, err error)

	// ChapterID resolves the logical chapter for a canonical number
	// string. found is false when the chapter is not in the graph yet.
	ChapterID(context stdctx.Context, seriesID, numberKey string) (chapterID string, found bool, err error)

	// IsRead reports whether the user already has a read record for the
	// chapter.
	IsRead(context stdctx.Context, userID, chapterID string) (bool, error)

	// BulkMarkRead upserts read records for every chapter of the series
	// with 1 <= chapter_number <= target (numeric comparison). Existing
	// records only move when the stamp is not older (last-writer-wins on
	// updated_at). Returns how many rows were written.
	BulkMarkRead(context stdctx.Context, userID, seriesID string, target float64, stamp ReadStamp) (int64, error)

	// AdvanceEntry moves last_read_chapter/last_read_at forward, guarded
	// so the column never decreases. Returns false when a concurrent
	// update already passed the target.
	AdvanceEntry(context stdctx.Context, userID, entryID string, target float64, readAt time.Time) (bool, error)

	// AwardReadXP grants base XP plus the streak bonus in one
	// transaction: streak bookkeeping, level, season XP with rollover
	// carry-over, chapters_read and last_read_at all move together.
	AwardReadXP(context stdctx.Context, userID string, base int, readAt time.Time) (*Award, error)

	// GrantCompletionFlag flips series_completion_xp_granted false→true.
	// Returns false when the flag was already set; the flag never clears.
	GrantCompletionFlag(context stdctx.Context, userID, entryID string) (granted bool, seriesID string, err error)

	// AddXP grants a flat amount (completion rewards) without touching
	// streak or read counters.
	AddXP(context stdctx.Context, userID string, amount int, at time.Time) (*Award, error)
}
