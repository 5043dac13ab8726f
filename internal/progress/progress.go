// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package progress is the read-progress engine.

It applies user progress mutations to library entries under a strict
contract: last_read_chapter only moves forward, chapters 1..target are
bulk-marked read with last-writer-wins upserts, and XP is granted at most
once per call — gated on new progress, an unread target, a clean bot
record, and the XP rate window. Suspicious signals lower trust, they never
block the write.

# Architecture

	HTTP Handler → Engine → Store (Postgres)
	                 ├→ trust.Guard (rate windows, heuristics)
	                 ├→ activity.Recorder (chapter_read on award)
	                 └→ kvs.Store (feed cache version bumps)

The engine also owns the one-time series-completion reward used by the
library service when a status change marks an entry completed.
*/
package progress

import (
	"fmt"
	"time"
)

// # XP Contract
const (
	// XPPerChapter is the flat award per progressed chapter. No bulk
	// multipliers: marking 500 chapters in one call still grants one.
	XPPerChapter = 1

	// XPSeriesCompleted is granted once per entry, gated by the one-way
	// series_completion_xp_granted flag.
	XPSeriesCompleted = 10

	// streakBonusPerWeek adds one XP per full week of the current streak,
	// capped at streakBonusCap.
	streakBonusPerWeek = 7
	streakBonusCap     = 3

	// seasonCarryoverDivisor: on season rollover one tenth of the old
	// season's XP carries into the new one.
	seasonCarryoverDivisor = 10
)

// UpdateInput is one progress mutation request.
type UpdateInput struct {
	ChapterNumber      *float64   `json:"chapter_number,omitempty"`
	ChapterSlug        string     `json:"chapter_slug,omitempty"`
	IsRead             bool       `json:"is_read"`
	Timestamp          *time.Time `json:"timestamp,omitempty"`
	SourceID           string     `json:"source_id,omitempty"`
	DeviceID           string     `json:"device_id,omitempty"`
	ReadingTimeSeconds int        `json:"reading_time_seconds,omitempty"`
}

// Result reports what one progress mutation did.
type Result struct {
	EntryID         string  `json:"entry_id"`
	LastReadChapter float64 `json:"last_read_chapter"`
	NewProgress     bool    `json:"new_progress"`
	ChaptersMarked  int64   `json:"chapters_marked"`
	XPAwarded       int     `json:"xp_awarded"`
	TotalXP         int     `json:"total_xp,omitempty"`
	Level           int     `json:"level,omitempty"`
	StreakDays      int     `json:"streak_days,omitempty"`
}

// Award is the gamification outcome of one XP grant.
type Award struct {
	Amount     int
	TotalXP    int
	SeasonXP   int
	Level      int
	StreakDays int
}

// ReadStamp carries the LWW metadata for bulk-mark upserts.
type ReadStamp struct {
	At           time.Time
	DeviceID     string
	SourceUsedID string
}

// levelFor maps lifetime XP to a level: each level costs quadratically
// more (100, 400, 900, ... XP).
func levelFor(xp int) int {
	level := 1
	for xp >= 100*level*level {
		level++
	}
	return level
}

// streakBonus is the additive XP bonus for the current streak length.
func streakBonus(streakDays int) int {
	bonus := streakDays / streakBonusPerWeek
	if bonus > streakBonusCap {
		bonus = streakBonusCap
	}
	return bonus
}

// seasonFor renders the quarterly season key ("2026-Q3") for a point in
// time.
func seasonFor(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%d-Q%d", at.Year(), (int(at.Month())-1)/3+1)
}
