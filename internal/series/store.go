// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import stdctx "context"

// Store is the persistence contract for the catalog surface.
type Store interface {
	// Exists reports whether the series is live.
	Exists(context stdctx.Context, seriesID string) (bool, error)

	// Chapters lists the series' logical chapters newest first, each with
	// its sources ordered by detection time, plus the total count.
	Chapters(context stdctx.Context, seriesID string, limit, offset int) ([]ChapterGroup, int, error)

	// AttachSource inserts a source listing for the series. Returns
	// apperr.Conflict when (source_name, source_id) is already attached
	// and apperr.NotFound for an unknown series.
	AttachSource(context stdctx.Context, seriesID string, input AttachInput) (seriesSourceID string, err error)

	// Search matches live series by title, ranked by follower count.
	Search(context stdctx.Context, query string, limit, offset int) ([]Summary, int, error)

	// Discover lists recently active series, newest chapter first.
	Discover(context stdctx.Context, limit int) ([]Summary, error)

	// Trending ranks live series by activity score.
	Trending(context stdctx.Context, limit int) ([]Summary, error)
}
