// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package feed

import (
	stdctx "context"
	"time"

	"github.com/taibuivan/mangatrack/pkg/cursor"
)

// ListQuery shapes one activity-feed page request.
type ListQuery struct {
	UserID string
	Filter string
	Limit  int
	After  *cursor.Cursor
}

// Notification is one fan-out row awaiting delivery.
type Notification struct {
	UserID        string
	SeriesID      string
	ChapterID     string
	ChapterNumber string
	SeriesTitle   string
}

// Store is the persistence contract for the feed surface.
type Store interface {
	// ListActivity returns one keyset page of the user's feed, newest
	// first, plus the cursor for the next page (nil when exhausted).
	ListActivity(context stdctx.Context, query ListQuery) ([]Entry, *cursor.Cursor, error)

	// AdvanceSeenWatermark moves users.account.feedlastseenat forward
	// only; earlier timestamps are a no-op. Returns the stored watermark.
	AdvanceSeenWatermark(context stdctx.Context, userID string, seenAt time.Time) (time.Time, error)

	// InsertNotifications writes one notification per follower, deduped
	// on (user, chapter). Returns how many rows were actually new.
	InsertNotifications(context stdctx.Context, notifications []Notification) (int64, error)

	// FollowerIDs lists users with a live library entry on the series.
	FollowerIDs(context stdctx.Context, seriesID string) ([]string, error)

	// SeriesTitle resolves a series title for notification rendering.
	SeriesTitle(context stdctx.Context, seriesID string) (string, error)
}
