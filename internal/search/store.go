// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package search

import (
	stdctx "context"
	"time"
)

// Stats is one query's lifetime counters.
type Stats struct {
	NormalizedKey  string
	TotalSearches  int
	LastEnqueuedAt *time.Time
	LastDeferredAt *time.Time
}

// DiscoveredSeries is one catalog hit returned by a discovery provider.
type DiscoveredSeries struct {
	SourceName     string
	SourceSeriesID string
	SourceURL      string
	Title          string
	ContentRating  string
}

// Store is the persistence contract for storm control and discovery.
type Store interface {
	// RecordSearch bumps the query's lifetime counter and returns the
	// updated stats.
	RecordSearch(context stdctx.Context, normalizedKey string, now time.Time) (*Stats, error)

	// MarkEnqueued stamps last_enqueued_at.
	MarkEnqueued(context stdctx.Context, normalizedKey string, now time.Time) error

	// MarkDeferred stamps last_deferred_at.
	MarkDeferred(context stdctx.Context, normalizedKey string, now time.Time) error

	// AttachDiscovery upserts the series and its source listing for one
	// discovery hit, keyed on (source_name, source_id). Returns the
	// series-source id and whether this call created the listing.
	AttachDiscovery(context stdctx.Context, hit *DiscoveredSeries) (seriesSourceID string, created bool, err error)
}
