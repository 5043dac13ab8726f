// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package feed serves per-user discovery feeds.

Architecture:

  - Store: keyset-paginated reads over feed.entry joined with the user's
    library, plus the notification fan-out writes.
  - FanoutWorker: materializes one notification row per follower for every
    newly discovered chapter.
  - Handler: GET /api/feed/activity (cursor + short KVS cache) and
    POST /api/feed/seen (strict-greater watermark).

Feed responses are cached in the KVS for a short TTL under a per-user
version counter; ingest bumps the counter so a fresh chapter invalidates
every cached page at once.
*/
package feed

import (
	"time"
)

// cacheTTL is the lifetime of one cached activity-feed page.
const cacheTTL = 60 * time.Second

// Filter selects which feed entries a listing returns.
const (
	FilterAll    = "all"
	FilterUnread = "unread"
)

// Source is one source attribution on a feed entry.
type Source struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Entry is one activity-feed row: a chapter discovery on a followed series.
type Entry struct {
	ID                string    `json:"id"`
	SeriesID          string    `json:"series_id"`
	SeriesTitle       string    `json:"series_title"`
	ChapterNumber     string    `json:"chapter_number"`
	LogicalChapterID  string    `json:"logical_chapter_id,omitempty"`
	Sources           []Source  `json:"sources"`
	FirstDiscoveredAt time.Time `json:"first_discovered_at"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
	Unread            bool      `json:"unread"`
}
