// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package ingest turns scraped chapters into the canonical chapter graph.

Architecture:

  - Normalize: label -> {number, type, slug} identity derivation.
  - Store: upsert layer over core.chapter, crawler.chaptersource,
    core.series and feed.entry.
  - Worker: the chapter-ingest job handler; idempotent under replay.

Every write is an upsert keyed on the dedup invariants, so the same job
delivered any number of times converges to the same state. Cross-worker
races on one logical chapter are excluded by a short per-(series,identity)
distributed lock.
*/
package ingest

import (
	"time"
)

// ChapterPayload is the body of a chapter-ingest job, one scraped chapter
// from one source.
type ChapterPayload struct {
	SeriesID        string     `json:"series_id"`
	SeriesSourceID  string     `json:"series_source_id"`
	SourceName      string     `json:"source_name"`
	Label           string     `json:"label"`
	Title           string     `json:"title"`
	URL             string     `json:"url"`
	SourceChapterID string     `json:"source_chapter_id"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	// GapRecovery marks chapters backfilled by gap recovery; they get a
	// synthetic detected_at so feed ordering stays monotonic.
	GapRecovery bool `json:"gap_recovery,omitempty"`
}

// JobID builds the dedup id for this chapter's ingest job.
func (payload ChapterPayload) JobID() string {
	normalized := Normalize(payload.Label, payload.Title)
	return "ingest-" + payload.SeriesSourceID + "-" + normalized.Key
}

// FanoutPayload is the body of a feed fan-out job emitted after ingest.
type FanoutPayload struct {
	SeriesID       string `json:"series_id"`
	SeriesSourceID string `json:"series_source_id"`
	ChapterID      string `json:"chapter_id"`
	ChapterNumber  string `json:"chapter_number"`
}

// NotificationPayload is the body of a delayed notification job. The delay
// collapses rapid multi-chapter bursts into one user-visible event.
type NotificationPayload struct {
	SeriesID      string `json:"series_id"`
	ChapterID     string `json:"chapter_id"`
	ChapterNumber string `json:"chapter_number"`
	SourceName    string `json:"source_name"`
}

// GapRecoveryPayload is the body of a gap-recovery job. The handler (in the
// crawl package) rescrapes the series and re-enqueues the missing chapters
// with GapRecovery set.
type GapRecoveryPayload struct {
	SeriesID       string `json:"series_id"`
	SeriesSourceID string `json:"series_source_id"`
	// MissingBelow is the chapter number whose predecessor was absent.
	MissingBelow float64 `json:"missing_below"`
}
