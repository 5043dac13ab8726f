// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package library

import (
	stdctx "context"
)

// Sort keys accepted by List.
const (
	SortUpdated       = "updated"
	SortLatestChapter = "latest_chapter"
	SortTitle         = "title"
	SortRating        = "rating"
	SortAdded         = "added"
)

// SortKeys enumerates the valid list orderings for validation.
var SortKeys = []string{SortUpdated, SortLatestChapter, SortTitle, SortRating, SortAdded}

// ListOptions filters and pages a library listing.
type ListOptions struct {
	Query  string
	Status string
	Sort   string
	Limit  int
	Offset int
}

// Stats summarizes a user's library by status.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// Store is the persistence contract for library entries and import jobs.
//
// Upsert and SoftDelete own their follower-count side effects
// transactionally: an add that creates or restores an entry increments
// core.series.totalfollows in the same transaction, and a soft delete
// decrements it clamped at zero.
type Store interface {
	// Upsert adds an entry, restoring a soft-deleted one in place.
	// Returns apperr.Conflict when a live entry already exists and
	// apperr.NotFound when the series does not.
	Upsert(context stdctx.Context, entry *Entry) (*Entry, error)

	// Find returns the user's live entry or apperr.NotFound.
	Find(context stdctx.Context, userID, entryID string) (*Entry, error)

	// Update applies a partial update and returns the new state.
	Update(context stdctx.Context, userID, entryID string, patch Patch) (*Entry, error)

	// SoftDelete hides the entry and decrements the series follower
	// count, clamped at zero.
	SoftDelete(context stdctx.Context, userID, entryID string) (*Entry, error)

	// List returns one page plus library-wide stats and the total count
	// matching the filter.
	List(context stdctx.Context, userID string, opts ListOptions) ([]Entry, Stats, int, error)

	// ExistingURLs reports which of the given source URLs the user
	// already tracks (live entries only).
	ExistingURLs(context stdctx.Context, userID string, urls []string) (map[string]bool, error)

	// CreateImportJob records a queued bulk import.
	CreateImportJob(context stdctx.Context, job *ImportJob) error

	// ImportJob loads one import job or apperr.NotFound.
	ImportJob(context stdctx.Context, jobID string) (*ImportJob, error)

	// UpdateImportJob stamps progress counters and status.
	UpdateImportJob(context stdctx.Context, job *ImportJob) error

	// SetMetadataStatus moves the entry's resolution state.
	SetMetadataStatus(context stdctx.Context, userID, entryID, status string) error

	// ResolveSeriesByURL finds the series attached to a known crawl
	// source with this URL. Returns "" when the URL is unknown.
	ResolveSeriesByURL(context stdctx.Context, sourceURL string) (string, error)

	// LinkSeries binds an entry to a resolved series and finishes its
	// metadata resolution.
	LinkSeries(context stdctx.Context, entryID, seriesID, metadataStatus string) error
}
