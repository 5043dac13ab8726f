// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package trust

import (
	stdctx "context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/platform/constants"
)

// Guard applies the per-user rate windows and bot heuristics.
//
// # Fail Policy
//
// Rate checks fail open: a KVS error lets the request through rather than
// taking the progress path down with the cache. Violations that cannot be
// persisted are logged and dropped.
type Guard struct {
	kv    kvs.Store
	store Store
	log   *slog.Logger
}

// NewGuard constructs the trust [Guard].
func NewGuard(kv kvs.Store, store Store, log *slog.Logger) *Guard {
	return &Guard{kv: kv, store: store, log: log}
}

// # Rate Checks

/*
CheckProgress enforces the progress-update budget for one user.

Description: Two windows apply: a per-minute budget and a short burst
window. Tripping either returns a 429 with a Retry-After hint; tripping
the burst window repeatedly records an api_spam violation.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - error: apperr.RateLimited when over budget, nil otherwise (including
    when the KVS is unreachable)
*/
func (guard *Guard) CheckProgress(context stdctx.Context, userID string) error {
	burst, err := guard.countWindow(context, userID, "progress-burst", ProgressBurstSpan)
	if err != nil {
		return guard.failOpen(userID, "progress-burst", err)
	}
	if burst > ProgressBurst {
		if burst == ProgressBurst+1 {
			guard.RecordViolation(context, userID, ViolationAPISpam, map[string]string{"window": "burst"})
		}
		return apperr.RateLimited(guard.retryAfter(context, userID, "progress-burst", ProgressBurstSpan))
	}

	count, err := guard.countWindow(context, userID, "progress", time.Minute)
	if err != nil {
		return guard.failOpen(userID, "progress", err)
	}
	if count > ProgressPerMinute {
		return apperr.RateLimited(guard.retryAfter(context, userID, "progress", time.Minute))
	}
	return nil
}

// CheckStatus enforces the status-change budget (5/min).
func (guard *Guard) CheckStatus(context stdctx.Context, userID string) error {
	count, err := guard.countWindow(context, userID, "status", time.Minute)
	if err != nil {
		return guard.failOpen(userID, "status", err)
	}
	if count > StatusPerMinute {
		return apperr.RateLimited(guard.retryAfter(context, userID, "status", time.Minute))
	}
	return nil
}

// PermitXP consumes one slot of the XP-grant window. Exceeding it is a
// soft block: the caller saves progress but withholds the grant.
func (guard *Guard) PermitXP(context stdctx.Context, userID string) (bool, error) {
	count, err := guard.countWindow(context, userID, "xp", time.Minute)
	if err != nil {
		guard.failOpen(userID, "xp", err)
		return true, nil
	}
	return count <= XPGrantsPerMinute, nil
}

// # Bot Heuristics

// Suspected reports whether the user tripped enough violations recently
// to be treated as a bot. A suspected user still saves progress but earns
// no XP until the flag expires.
func (guard *Guard) Suspected(context stdctx.Context, userID string) bool {
	value, err := guard.kv.Get(context, guard.key(userID, "flag"))
	if err != nil {
		return false
	}
	return value != "" && value != "0"
}

// StatusToggled feeds the rapid status toggle heuristic. More than
// toggleLimit changes on the same entry inside the window is a violation.
func (guard *Guard) StatusToggled(context stdctx.Context, userID, entryID string) error {
	key := guard.key(userID, "toggle:"+entryID)
	count, err := guard.kv.IncrWithTTL(context, key, toggleWindow)
	if err != nil {
		return fmt.Errorf("trust: toggle counter: %w", err)
	}
	if count == toggleLimit+1 {
		guard.RecordViolation(context, userID, ViolationStatusToggle, map[string]string{"entry_id": entryID})
	}
	return nil
}

// RepeatedChapter feeds the repeated-same-chapter heuristic: the same
// target resubmitted repeatWindow-many times in the window is a violation.
func (guard *Guard) RepeatedChapter(context stdctx.Context, userID, entryID, identity string) {
	key := guard.key(userID, "repeat:"+entryID+":"+identity)
	count, err := guard.kv.IncrWithTTL(context, key, repeatWindow)
	if err != nil {
		guard.failOpen(userID, "repeat", err)
		return
	}
	if count == repeatLimit+1 {
		guard.RecordViolation(context, userID, ViolationRepeatedChapt, map[string]string{
			"entry_id": entryID,
			"chapter":  identity,
		})
	}
}

/*
ValidateReadTime applies the suspicious read-time heuristic.

Description: Only consulted for normal forward steps — currentLastRead > 0
and a delta of one or two chapters. First progress and bulk jumps carry no
timing signal and are trusted. A too-fast read lowers trust; it never
blocks the progress write or the XP grant on its own.
*/
func (guard *Guard) ValidateReadTime(context stdctx.Context, userID string, current, target float64, readingSeconds int) {
	if current <= 0 || readingSeconds <= 0 {
		return
	}
	delta := target - current
	if delta < 1 || delta > 2 {
		return
	}
	if readingSeconds < int(delta)*minSecondsPerChapter {
		guard.RecordViolation(context, userID, ViolationSuspiciousTime, map[string]string{
			"seconds": fmt.Sprintf("%d", readingSeconds),
			"delta":   fmt.Sprintf("%.1f", delta),
		})
	}
}

// # Violations

/*
RecordViolation lowers the user's trust score for one abuse signal.

Description: The penalty for the violation kind is subtracted from the
account's trust score (clamped to [0,1]). Violations accumulate in a
rolling KVS window; crossing flagThreshold marks the user as a suspected
bot for the remainder of the window. Persistence failures are logged and
swallowed so abuse handling never breaks the request path.
*/
func (guard *Guard) RecordViolation(context stdctx.Context, userID, kind string, metadata map[string]string) {
	penalty, known := penalties[kind]
	if !known {
		penalty = penalties[ViolationAPISpam]
	}

	score, err := guard.store.AdjustTrustScore(context, userID, -penalty)
	if err != nil {
		guard.log.Warn("trust_violation_persist_failed",
			slog.String("user_id", userID),
			slog.String("violation", kind),
			slog.String("error", err.Error()),
		)
		return
	}

	attrs := []any{
		slog.String("user_id", userID),
		slog.String("violation", kind),
		slog.Float64("trust_score", score),
	}
	for key, value := range metadata {
		attrs = append(attrs, slog.String(key, value))
	}
	guard.log.Info("trust_violation_recorded", attrs...)

	count, err := guard.kv.IncrWithTTL(context, guard.key(userID, "violations"), flagWindow)
	if err != nil {
		return
	}
	if count >= flagThreshold {
		if err := guard.kv.Set(context, guard.key(userID, "flag"), "1", flagWindow); err == nil && count == flagThreshold {
			guard.log.Warn("trust_user_flagged",
				slog.String("user_id", userID),
				slog.Int64("violations", count),
			)
		}
	}
}

// # Restore

// RestoreTrust is the periodic decay-restore step run by the scheduler.
// Well-behaved users regain a small amount of trust per run; accounts at
// or below the floor stay put for moderator review.
func (guard *Guard) RestoreTrust(context stdctx.Context) error {
	restored, err := guard.store.RestoreTrustScores(context, restoreStep, restoreFloor)
	if err != nil {
		return fmt.Errorf("trust: restore: %w", err)
	}
	if restored > 0 {
		guard.log.Info("trust_scores_restored", slog.Int64("accounts", restored))
	}
	return nil
}

// # Window Plumbing

// countWindow consumes one slot of the user's fixed window for an action.
func (guard *Guard) countWindow(context stdctx.Context, userID, action string, span time.Duration) (int64, error) {
	window := time.Now().UnixMilli() / span.Milliseconds()
	key := guard.key(userID, fmt.Sprintf("%s:%d", action, window))
	return guard.kv.IncrWithTTL(context, key, span)
}

// retryAfter reports the seconds left in the user's current window,
// rounded up, falling back to the full span when the TTL is unreadable.
func (guard *Guard) retryAfter(context stdctx.Context, userID, action string, span time.Duration) int {
	window := time.Now().UnixMilli() / span.Milliseconds()
	key := guard.key(userID, fmt.Sprintf("%s:%d", action, window))

	remaining, err := guard.kv.TTL(context, key)
	if err != nil || remaining <= 0 {
		remaining = span
	}
	seconds := int((remaining + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (guard *Guard) key(userID, suffix string) string {
	return constants.RedisPrefixUserLimit + userID + ":" + suffix
}

// failOpen logs a KVS failure on a rate window and lets the request pass.
func (guard *Guard) failOpen(userID, action string, err error) error {
	guard.log.Warn("trust_window_unavailable",
		slog.String("user_id", userID),
		slog.String("action", action),
		slog.String("error", err.Error()),
	)
	return nil
}
