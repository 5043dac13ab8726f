// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ingest

import (
	stdctx "context"
	"time"
)

// Chapter is the logical chapter row, deduped across sources by
// (series, canonical number).
type Chapter struct {
	ID              string
	SeriesID        string
	Number          string
	Slug            string
	Title           string
	PublishedAt     *time.Time
	FirstDetectedAt time.Time
}

// FeedSource is one source attribution inside a feed entry's JSONB list.
type FeedSource struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// FeedEntryUpsert carries one discovery into the public feed.
type FeedEntryUpsert struct {
	SeriesID         string
	ChapterNumber    string
	LogicalChapterID string
	Source           FeedSource
	// DiscoveredAt becomes first_discovered_at on create; existing entries
	// keep theirs untouched.
	DiscoveredAt time.Time
}

// Store is the persistence contract for the ingest worker.
type Store interface {
	// UpsertChapter inserts or refreshes the logical chapter keyed on
	// (series_id, number). Returns the chapter id and whether a new row
	// was created.
	UpsertChapter(context stdctx.Context, chapter *Chapter) (id string, created bool, err error)

	// HasChapter reports whether the series already has a chapter with
	// the given canonical number.
	HasChapter(context stdctx.Context, seriesID, number string) (bool, error)

	// EarliestDetectedAfter returns the smallest first_detected_at among
	// the series' chapters with a numeric chapter number strictly greater
	// than number, or nil when none exist.
	EarliestDetectedAfter(context stdctx.Context, seriesID string, number float64) (*time.Time, error)

	// UpsertChapterSource links a source listing to a logical chapter,
	// keyed on (series_source_id, chapter_id).
	UpsertChapterSource(context stdctx.Context, link *ChapterSourceLink) (created bool, err error)

	// MarkSourceHot bumps the source to HOT sync priority, advances its
	// chapter count and pulls next_check_at forward.
	MarkSourceHot(context stdctx.Context, seriesSourceID string, nextCheckAt time.Time) error

	// AdvanceSeriesLastChapter moves core.series.lastchapterat forward,
	// never backward.
	AdvanceSeriesLastChapter(context stdctx.Context, seriesID string, publishedAt time.Time) error

	// UpsertFeedEntry creates the feed entry or appends this source to its
	// sources list; first_discovered_at is immutable after creation.
	UpsertFeedEntry(context stdctx.Context, upsert FeedEntryUpsert) error

	// FollowerIDs lists the user ids with a live library entry on the
	// series, for cache-version bumps.
	FollowerIDs(context stdctx.Context, seriesID string) ([]string, error)
}

// ChapterSourceLink is one source's view of a logical chapter.
type ChapterSourceLink struct {
	SeriesSourceID  string
	ChapterID       string
	SourceName      string
	SourceChapterID string
	URL             string
	PublishedAt     *time.Time
	DetectedAt      time.Time
}

// ActivityRecorder decouples ingest from the activity-score pipeline.
type ActivityRecorder interface {
	// Record appends an activity event and refreshes the series score.
	Record(context stdctx.Context, seriesID, chapterID, sourceName, eventType string) error
}
