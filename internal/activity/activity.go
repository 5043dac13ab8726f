// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package activity maintains per-series demand signals and catalog tiers.

Architecture:

  - Recorder: appends weighted activity events and refreshes the series'
    time-decayed score.
  - TierMaintainer: the scheduler sub-task applying the tier predicates,
    weekly decay and the hard 90-day demotion.

Tiers drive crawl cadence: A is actively read or freshly publishing, B has
some demand, C is the long tail.
*/
package activity

import (
	stdctx "context"
	"fmt"
	"log/slog"
	"time"
)

// Event types and their score weights.
const (
	EventChapterDetected    = "chapter_detected"
	EventChapterSourceAdded = "chapter_source_added"
	EventSearchImpression   = "search_impression"
	EventChapterRead        = "chapter_read"
	EventSeriesFollowed     = "series_followed"
)

// Weights per event type; unknown types count zero.
var weights = map[string]int{
	EventChapterDetected:    1,
	EventChapterSourceAdded: 2,
	EventSearchImpression:   5,
	EventChapterRead:        50,
	EventSeriesFollowed:     100,
}

// Weight returns the score weight of an event type.
func Weight(eventType string) int {
	return weights[eventType]
}

// Tier thresholds.
const (
	TierAScore       = 5000
	TierAReaders     = 10
	TierAChapterDays = 30
	TierBScore       = 1000
	TierBReaders     = 1

	// weeklyDecay is subtracted from the score per week of inactivity.
	weeklyDecay = 5

	// hardDemotionDays forces A down to B after sustained silence,
	// unless the series is seeded.
	hardDemotionDays = 90
)

// Event is one append-only activity record.
type Event struct {
	SeriesID   string
	ChapterID  string
	UserID     string
	SourceName string
	EventType  string
	Weight     int
}

// Store is the persistence contract for the activity pipeline.
type Store interface {
	// AppendEvent writes one event row.
	AppendEvent(context stdctx.Context, event *Event) error

	// RefreshScore recomputes the series' time-decayed activity score
	// from its event history and stamps last_activity_at.
	RefreshScore(context stdctx.Context, seriesID string, now time.Time) (float64, error)

	// ApplyTierRules reevaluates every live series' tier and applies the
	// weekly decay; returns how many rows changed tier.
	ApplyTierRules(context stdctx.Context, now time.Time) (int64, error)
}

// Recorder appends events and keeps scores fresh. It satisfies the ingest
// and progress packages' recording contracts.
type Recorder struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewRecorder wires the activity recorder.
func NewRecorder(store Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log, now: time.Now}
}

// Record appends a crawl-side event (no user attribution).
func (recorder *Recorder) Record(context stdctx.Context, seriesID, chapterID, sourceName, eventType string) error {
	return recorder.record(context, &Event{
		SeriesID:   seriesID,
		ChapterID:  chapterID,
		SourceName: sourceName,
		EventType:  eventType,
	})
}

// RecordUser appends a user-attributed event (reads, follows, searches).
func (recorder *Recorder) RecordUser(context stdctx.Context, seriesID, userID, eventType string) error {
	return recorder.record(context, &Event{
		SeriesID:  seriesID,
		UserID:    userID,
		EventType: eventType,
	})
}

func (recorder *Recorder) record(context stdctx.Context, event *Event) error {
	event.Weight = Weight(event.EventType)
	if event.Weight == 0 {
		return fmt.Errorf("activity: unknown event type %q", event.EventType)
	}

	if err := recorder.store.AppendEvent(context, event); err != nil {
		return err
	}

	score, err := recorder.store.RefreshScore(context, event.SeriesID, recorder.now())
	if err != nil {
		return err
	}

	recorder.log.Debug("activity_recorded",
		slog.String("series_id", event.SeriesID),
		slog.String("event", event.EventType),
		slog.Float64("score", score),
	)
	return nil
}

// TierMaintainer is the scheduler sub-task that reevaluates tiers.
type TierMaintainer struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewTierMaintainer wires tier maintenance.
func NewTierMaintainer(store Store, log *slog.Logger) *TierMaintainer {
	return &TierMaintainer{store: store, log: log, now: time.Now}
}

// Run applies decay and the tier predicates across the catalog.
func (maintainer *TierMaintainer) Run(context stdctx.Context) error {
	changed, err := maintainer.store.ApplyTierRules(context, maintainer.now())
	if err != nil {
		return err
	}
	if changed > 0 {
		maintainer.log.Info("catalog_tiers_maintained", slog.Int64("changed", changed))
	}
	return nil
}
