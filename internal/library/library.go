// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package library manages the user's tracked-series collection.

It owns the library entry lifecycle (add with soft-delete restore, partial
updates, bulk updates, soft delete with follower-count bookkeeping), the
bulk import pipeline, and metadata resolution retries.

# Architecture

	HTTP Handler → Service → Store (Postgres)
	                 ├→ queue.Manager (import + metadata jobs)
	                 ├→ activity.Recorder (series_followed)
	                 └→ kvs.Store (feed cache version bumps)

Read-progress mutations on entries are handled by the progress engine, not
here; this package only raises the series-completion reward hook when a
status change marks an entry completed.
*/
package library

import "time"

// Entry statuses.
const (
	StatusReading   = "reading"
	StatusCompleted = "completed"
	StatusPlanning  = "planning"
	StatusDropped   = "dropped"
	StatusPaused    = "paused"
)

// Statuses enumerates the valid entry statuses for validation.
var Statuses = []string{StatusReading, StatusCompleted, StatusPlanning, StatusDropped, StatusPaused}

// Metadata resolution states.
const (
	MetadataPending     = "pending"
	MetadataEnriched    = "enriched"
	MetadataUnavailable = "unavailable"
	MetadataFailed      = "failed"
)

// Import job states.
const (
	ImportPending    = "pending"
	ImportProcessing = "processing"
	ImportCompleted  = "completed"
	ImportFailed     = "failed"
)

// Request size caps.
const (
	MaxBulkUpdates        = 50
	MaxImportEntries      = 500
	MaxPreferredSourceLen = 50
	MaxListLimit          = 200
)

// Entry is one tracked series in a user's library.
type Entry struct {
	ID              string     `json:"id"`
	UserID          string     `json:"-"`
	SeriesID        string     `json:"series_id,omitempty"`
	SeriesTitle     string     `json:"series_title,omitempty"`
	SourceURL       string     `json:"source_url,omitempty"`
	SourceName      string     `json:"source_name,omitempty"`
	Status          string     `json:"status"`
	LastReadChapter float64    `json:"last_read_chapter"`
	LastReadAt      *time.Time `json:"last_read_at,omitempty"`
	UserRating      *int       `json:"user_rating,omitempty"`
	PreferredSource string     `json:"preferred_source,omitempty"`
	MetadataStatus  string     `json:"metadata_status"`
	CompletionXP    bool       `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Patch is a partial update to an entry. Nil fields are untouched.
type Patch struct {
	Status          *string
	Rating          *int
	PreferredSource *string
}

// ImportJob tracks one bulk import through its lifecycle.
type ImportJob struct {
	ID           string    `json:"id"`
	UserID       string    `json:"-"`
	Source       string    `json:"source"`
	Status       string    `json:"status"`
	TotalEntries int       `json:"total_entries"`
	Processed    int       `json:"processed"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ImportEntry is one row of a bulk import request.
type ImportEntry struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	ExternalID string `json:"external_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

// ImportPayload is the queue payload for a queued bulk import.
type ImportPayload struct {
	ImportJobID string        `json:"import_job_id"`
	UserID      string        `json:"user_id"`
	Source      string        `json:"source"`
	Entries     []ImportEntry `json:"entries"`
}

// MetadataPayload is the queue payload for a metadata resolution attempt.
type MetadataPayload struct {
	EntryID   string `json:"entry_id"`
	UserID    string `json:"user_id"`
	SourceURL string `json:"source_url"`
}

// MetadataJobID is the dedup key for an entry's resolution job.
func MetadataJobID(entryID string) string {
	return "metadata-" + entryID
}
