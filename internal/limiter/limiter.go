// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package limiter provides per-source request budgets for the crawl pipeline.

Architecture:

  - SourceLimiter: token acquisition keyed by source name.
  - Distributed counters: millisecond TTL windows in the KVS shared by all
    worker processes.
  - Fail-open fallback: when the KVS is unreachable the limiter degrades to
    per-process token buckets (golang.org/x/time/rate) so polling continues
    with best-effort limiting instead of stalling.
*/
package limiter

import (
	stdctx "context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/taibuivan/mangatrack/internal/kvs"
)

// Limit is a per-source request budget.
type Limit struct {
	// Requests allowed per Window.
	Requests int
	// Window is the budget interval.
	Window time.Duration
}

// DefaultLimit applies to sources without an explicit budget:
// catalog-scale sources tolerate 5 req/s.
var DefaultLimit = Limit{Requests: 5, Window: time.Second}

// SourceLimiter hands out request tokens per source name.
type SourceLimiter struct {
	store  kvs.Store
	limits map[string]Limit
	log    *slog.Logger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// New constructs a [SourceLimiter]. limits may be nil; unknown sources get
// [DefaultLimit].
func New(store kvs.Store, limits map[string]Limit, log *slog.Logger) *SourceLimiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &SourceLimiter{
		store:  store,
		limits: limits,
		log:    log,
		local:  make(map[string]*rate.Limiter),
	}
}

/*
Acquire blocks until a token for the source is available or the timeout
elapses.

Description: Tokens are counted in rolling KVS windows so the budget is
shared across every worker process. If the KVS errors, the call falls back
to an in-process bucket (trust-but-verify: limiting degrades to per-process
granularity rather than blocking the crawl).

Parameters:
  - context: context.Context
  - source: string (source name, the budget key)
  - timeout: time.Duration (maximum wait)

Returns:
  - bool: true when a token was acquired
  - error: Context cancellation only; budget exhaustion is the false return
*/
func (limiter *SourceLimiter) Acquire(context stdctx.Context, source string, timeout time.Duration) (bool, error) {
	limit := limiter.limitFor(source)
	deadline := time.Now().Add(timeout)

	for {
		allowed, err := limiter.tryWindow(context, source, limit)
		if err != nil {
			// KVS down: fail open to the local bucket.
			limiter.log.Warn("rate_limiter_falling_back_local",
				slog.String("source", source),
				slog.Any("error", err),
			)
			return limiter.acquireLocal(context, source, limit, deadline)
		}
		if allowed {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		// Wait out the remainder of the window before re-probing.
		wait := limit.Window / 4
		if wait < 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-context.Done():
			timer.Stop()
			return false, context.Err()
		case <-timer.C:
		}
	}
}

// tryWindow consumes one slot of the source's current KVS window.
func (limiter *SourceLimiter) tryWindow(context stdctx.Context, source string, limit Limit) (bool, error) {
	window := time.Now().UnixMilli() / limit.Window.Milliseconds()
	key := fmt.Sprintf("ratelimit:%s:%d", source, window)

	count, err := limiter.store.IncrWithTTL(context, key, limit.Window)
	if err != nil {
		return false, err
	}
	return count <= int64(limit.Requests), nil
}

// acquireLocal waits on the per-process fallback bucket.
func (limiter *SourceLimiter) acquireLocal(context stdctx.Context, source string, limit Limit, deadline time.Time) (bool, error) {
	limiter.mu.Lock()
	bucket, found := limiter.local[source]
	if !found {
		perSecond := float64(limit.Requests) / limit.Window.Seconds()
		bucket = rate.NewLimiter(rate.Limit(perSecond), limit.Requests)
		limiter.local[source] = bucket
	}
	limiter.mu.Unlock()

	waitCtx, cancel := stdctx.WithDeadline(context, deadline)
	defer cancel()

	if err := bucket.Wait(waitCtx); err != nil {
		if context.Err() != nil {
			return false, context.Err()
		}
		return false, nil
	}
	return true, nil
}

// limitFor resolves the configured budget for a source.
func (limiter *SourceLimiter) limitFor(source string) Limit {
	if limit, found := limiter.limits[source]; found {
		return limit
	}
	return DefaultLimit
}
