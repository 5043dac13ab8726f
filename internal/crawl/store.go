// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl

import (
	stdctx "context"
	"time"
)

// SeriesSource is one series listing on one external source, joined with
// the scheduling-relevant series columns.
type SeriesSource struct {
	ID                 string
	SeriesID           string
	SourceName         string
	SourceID           string
	SourceURL          string
	SyncPriority       string
	SourceStatus       string
	FailureCount       int
	LastCheckedAt      *time.Time
	LastSuccessAt      *time.Time
	NextCheckAt        *time.Time
	SourceChapterCount int

	// Joined from core.series.
	SeriesTitle  string
	SeriesTier   string
	TotalFollows int
}

// MaintenanceResult reports what priority maintenance changed.
type MaintenanceResult struct {
	PromotedHot  int64
	DemotedWarm  int64
	DemotedCold  int64
}

// Store is the persistence contract for the crawl scheduler and workers.
type Store interface {
	// FindSeriesSource loads one source with its series columns joined.
	FindSeriesSource(context stdctx.Context, id string) (*SeriesSource, error)

	// FindSourcesForSeries lists the live sources of one series.
	FindSourcesForSeries(context stdctx.Context, seriesID string) ([]*SeriesSource, error)

	// FindSeriesBySourceKey resolves (source_name, source_id) to the
	// series source, for latest-feed matching.
	FindSeriesBySourceKey(context stdctx.Context, sourceName, sourceID string) (*SeriesSource, error)

	// DueSources selects up to limit sources whose next_check_at is due
	// (or null), skipping broken sources and deleted series.
	DueSources(context stdctx.Context, now time.Time, limit int) ([]*SeriesSource, error)

	// RecheckCandidates selects up to limit broken or inactive sources
	// whose next_check_at passed, oldest horizon first.
	RecheckCandidates(context stdctx.Context, now time.Time, limit int) ([]*SeriesSource, error)

	// SetNextCheck persists the next poll time.
	SetNextCheck(context stdctx.Context, id string, nextCheckAt time.Time) error

	// RecordSuccess stamps last_checked/last_success and clears the
	// failure count.
	RecordSuccess(context stdctx.Context, id string, now time.Time) error

	// RecordFailure stamps last_checked, bumps failure_count and pushes
	// next_check_at.
	RecordFailure(context stdctx.Context, id string, now, nextCheckAt time.Time) error

	// SetStatus marks the source broken or inactive with a next check.
	SetStatus(context stdctx.Context, id, status string, nextCheckAt time.Time) error

	// MissingChapterNumbers lists the integer chapter numbers in
	// [1, below) that the series has no live chapter for.
	MissingChapterNumbers(context stdctx.Context, seriesID string, below float64) ([]float64, error)

	// RunPriorityMaintenance applies the promotion/demotion rules:
	// readers > promoteFollows forces HOT; HOT falls to WARM after a day
	// without success when readers are at or below promoteFollows; WARM
	// falls to COLD after a week without success.
	RunPriorityMaintenance(context stdctx.Context, now time.Time, promoteFollows int) (MaintenanceResult, error)
}
