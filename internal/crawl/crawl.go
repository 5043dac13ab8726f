// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package crawl schedules and executes source polling.

Architecture:

  - Gatekeeper: the single admission point for sync jobs (dedup, breaker,
    negative cache, reason-based priority).
  - Scheduler: the master loop; one active instance cluster-wide, elected
    by a distributed lock. Runs priority maintenance, the sub-schedulers
    and due-source selection every tick.
  - PollWorker: consumes sync-source jobs, scrapes, and fans chapters out
    to the ingest queue.
  - GapWorker: rescrapes a series to backfill missing integer chapters.
  - LatestWorker: walks each source's cross-series recent-updates feed and
    requests targeted syncs for series we track.

Sync cadence is the product of catalog tier (A/B/C, demand) and sync
priority (HOT/WARM/COLD, freshness); the interval table in Interval is the
only coupling between the two.
*/
package crawl

import (
	"time"
)

// # Sync Priorities

const (
	PriorityHot  = "HOT"
	PriorityWarm = "WARM"
	PriorityCold = "COLD"
)

// # Catalog Tiers

const (
	TierA = "A"
	TierB = "B"
	TierC = "C"
)

// # Source Statuses

const (
	StatusActive   = "active"
	StatusBroken   = "broken"
	StatusInactive = "inactive"
)

// Reason states why a sync is being requested; it maps to job priority.
type Reason string

const (
	ReasonUserRequest Reason = "USER_REQUEST"
	ReasonGapRecovery Reason = "GAP_RECOVERY"
	ReasonPeriodic    Reason = "PERIODIC"
	ReasonBackfill    Reason = "BACKFILL"
)

// SyncPayload is the body of a sync-source job.
type SyncPayload struct {
	SeriesSourceID string `json:"series_source_id"`
	Reason         Reason `json:"reason"`
	// TargetChapters restricts gap-recovery scrapes when the protocol
	// supports per-chapter fetch.
	TargetChapters []string `json:"target_chapters,omitempty"`
}

// SyncJobID builds the cluster-wide dedup id for a source's sync job.
func SyncJobID(seriesSourceID string) string {
	return "sync-" + seriesSourceID
}

// intervals is the tier x priority cadence table.
var intervals = map[string]map[string]time.Duration{
	TierA: {
		PriorityHot:  30 * time.Minute,
		PriorityWarm: 45 * time.Minute,
		PriorityCold: 60 * time.Minute,
	},
	TierB: {
		PriorityHot:  6 * time.Hour,
		PriorityWarm: 9 * time.Hour,
		PriorityCold: 12 * time.Hour,
	},
	TierC: {
		PriorityHot:  48 * time.Hour,
		PriorityWarm: 72 * time.Hour,
		PriorityCold: 7 * 24 * time.Hour,
	},
}

// Interval returns the poll cadence for a tier and sync priority. Unknown
// values fall back to the slowest cell so bad data cannot cause a poll storm.
func Interval(tier, priority string) time.Duration {
	if row, found := intervals[tier]; found {
		if interval, found := row[priority]; found {
			return interval
		}
	}
	return intervals[TierC][PriorityCold]
}
