// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package series exposes the public catalog surface.

It serves chapter listings with their per-source availability, catalog
discovery and trending rankings, the storm-controlled search endpoint, and
user-requested source attachment.

# Architecture

	HTTP Handler → Service → Store (Postgres)
	                 ├→ search.Controller (external discovery admission)
	                 ├→ crawl.Gatekeeper (first sync for attached sources)
	                 └→ activity.Recorder (search_impression)
*/
package series

import "time"

// Request size caps.
const (
	MaxSearchLimit   = 50
	MaxChaptersLimit = 500
	MaxSourceURLLen  = 500
)

// Summary is one catalog row in search, discover and trending listings.
type Summary struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	CatalogTier   string     `json:"catalog_tier"`
	ActivityScore float64    `json:"activity_score"`
	TotalFollows  int        `json:"total_follows"`
	LastChapterAt *time.Time `json:"last_chapter_at,omitempty"`
	ContentRating string     `json:"content_rating,omitempty"`
}

// ChapterGroup is one logical chapter with its ordered source list.
type ChapterGroup struct {
	ID              string      `json:"id"`
	Number          string      `json:"number"`
	Slug            string      `json:"slug"`
	Title           string      `json:"title,omitempty"`
	PublishedAt     *time.Time  `json:"published_at,omitempty"`
	FirstDetectedAt time.Time   `json:"first_detected_at"`
	Sources         []SourceRef `json:"sources"`
}

// SourceRef is one source's availability record for a chapter, ordered by
// detection time within the group.
type SourceRef struct {
	SourceName  string    `json:"source_name"`
	URL         string    `json:"url"`
	DetectedAt  time.Time `json:"detected_at"`
	IsAvailable bool      `json:"is_available"`
}

// AttachInput is the POST /api/series/{id}/sources payload.
type AttachInput struct {
	SourceName string `json:"source_name"`
	SourceID   string `json:"source_id"`
	SourceURL  string `json:"source_url"`
}
