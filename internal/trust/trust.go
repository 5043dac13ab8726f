// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package trust implements the anti-abuse layer for the read-progress side.

It owns the per-user rate windows, the bot heuristics, and the trust score
stored on the account row. The score lives in [0,1]; violations lower it,
a periodic restore step raises it back for users who stay clean. Effective
ranking XP is floor(xp * trust_score), applied at leaderboard read time,
never at award time.

Architecture:

  - Guard: rate checks + heuristics, windows counted in the KVS so every
    API instance shares them.
  - Store: Postgres access for score adjustment and the periodic restore.
  - Violations are score events, not blocks: apart from the hard progress
    and status windows, abuse signals only lower trust.
*/
package trust

import "time"

// # Rate Windows
//
// Per-user request budgets. Exceeding progress or status windows rejects
// the request; the XP window is a soft block (progress saves, XP withheld).
const (
	ProgressPerMinute = 10
	ProgressBurst     = 3
	ProgressBurstSpan = 5 * time.Second

	StatusPerMinute = 5

	XPGrantsPerMinute = 5
)

// # Violations

// Violation kinds recognized by the heuristics.
const (
	ViolationAPISpam        = "api_spam"
	ViolationRapidReads     = "rapid_reads"
	ViolationRepeatedChapt  = "repeated_same_chapter"
	ViolationStatusToggle   = "status_toggle"
	ViolationSuspiciousTime = "suspicious_read_time"
)

// penalties maps each violation kind to the trust score it costs.
var penalties = map[string]float64{
	ViolationAPISpam:        0.10,
	ViolationRapidReads:     0.10,
	ViolationRepeatedChapt:  0.05,
	ViolationStatusToggle:   0.05,
	ViolationSuspiciousTime: 0.02,
}

// # Heuristic Thresholds
const (
	// toggleWindow bounds the rapid status toggle heuristic: more than
	// toggleLimit status changes on the same entry inside the window is a
	// violation.
	toggleWindow = 5 * time.Minute
	toggleLimit  = 3

	// repeatWindow bounds the repeated-same-chapter heuristic.
	repeatWindow = 10 * time.Minute
	repeatLimit  = 3

	// minSecondsPerChapter is the fastest plausible single-chapter read.
	// Only consulted when the progress delta is a normal 1-2 chapter step;
	// first progress and bulk jumps are trusted.
	minSecondsPerChapter = 20

	// flagThreshold violations inside flagWindow mark the user as a
	// suspected bot; the flag withholds XP until it expires.
	flagThreshold = 3
	flagWindow    = 10 * time.Minute
)

// # Restore
const (
	// restoreStep is how much trust a clean user regains per restore run.
	restoreStep = 0.01

	// restoreFloor: accounts at or below this never auto-restore; they
	// need moderator review.
	restoreFloor = 0.1
)
