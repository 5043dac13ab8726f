// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl

import (
	stdctx "context"
	"fmt"

	"github.com/taibuivan/mangatrack/internal/breaker"
	"github.com/taibuivan/mangatrack/internal/negcache"
	"github.com/taibuivan/mangatrack/internal/queue"
)

// DefaultBoostFollows is the follower count above which a source's sync
// priority is boosted one step.
const DefaultBoostFollows = 100

// Denial reasons surfaced in Decision for logging and tests.
const (
	DenyDuplicate     = "duplicate_job"
	DenyCircuitOpen   = "circuit_open"
	DenyNegativeCache = "negative_cache"
)

// Decision is the gatekeeper's verdict for one sync request.
type Decision struct {
	Allowed  bool
	DenyCode string
	Priority int
}

// Gatekeeper is the single admission point for sync-source jobs. Every
// path that wants a source polled goes through ShouldEnqueue.
type Gatekeeper struct {
	queues       *queue.Manager
	breakers     *breaker.Registry
	negative     *negcache.Cache
	boostFollows int
}

// NewGatekeeper wires the admission chain.
func NewGatekeeper(queues *queue.Manager, breakers *breaker.Registry, negative *negcache.Cache, boostFollows int) *Gatekeeper {
	if boostFollows <= 0 {
		boostFollows = DefaultBoostFollows
	}
	return &Gatekeeper{
		queues:       queues,
		breakers:     breakers,
		negative:     negative,
		boostFollows: boostFollows,
	}
}

/*
ShouldEnqueue decides whether a sync for the source may enter the queue.

Description: Checks run in fixed order: an already-pending sync job denies
first, then an open circuit, then the negative cache. Allowed requests get a
priority from the reason, boosted one step for tier A series or follower
counts above the threshold.

Parameters:
  - context: context.Context
  - src: *SeriesSource
  - reason: Reason

Returns:
  - Decision: verdict plus job priority when allowed
  - error: queue or KVS failure (the caller treats it as deny)
*/
func (gatekeeper *Gatekeeper) ShouldEnqueue(context stdctx.Context, src *SeriesSource, reason Reason) (Decision, error) {
	pending, err := gatekeeper.queues.IsPending(context, queue.QueueSyncSource, SyncJobID(src.ID))
	if err != nil {
		return Decision{}, fmt.Errorf("crawl: gatekeeper pending check: %w", err)
	}
	if pending {
		return Decision{DenyCode: DenyDuplicate}, nil
	}

	if gatekeeper.breakers.IsOpen(src.SourceName) {
		return Decision{DenyCode: DenyCircuitOpen}, nil
	}

	skip, err := gatekeeper.negative.ShouldSkip(context, src.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("crawl: gatekeeper negcache check: %w", err)
	}
	if skip {
		return Decision{DenyCode: DenyNegativeCache}, nil
	}

	priority := priorityForReason(reason)
	if src.SeriesTier == TierA || src.TotalFollows > gatekeeper.boostFollows {
		priority = boostOneStep(priority)
	}
	return Decision{Allowed: true, Priority: priority}, nil
}

// Enqueue pushes an admitted sync job. The jobId keeps one sync in flight
// per source regardless of how many callers ask.
func (gatekeeper *Gatekeeper) Enqueue(context stdctx.Context, src *SeriesSource, reason Reason, decision Decision, targetChapters []string) (bool, error) {
	return gatekeeper.queues.Add(context, queue.QueueSyncSource, "sync-source", SyncPayload{
		SeriesSourceID: src.ID,
		Reason:         reason,
		TargetChapters: targetChapters,
	}, queue.Options{
		JobID:    SyncJobID(src.ID),
		Priority: decision.Priority,
	})
}

func priorityForReason(reason Reason) int {
	switch reason {
	case ReasonUserRequest:
		return queue.PriorityCritical
	case ReasonGapRecovery:
		return queue.PriorityHigh
	case ReasonPeriodic:
		return queue.PriorityStandard
	default:
		return queue.PriorityLow
	}
}

// boostOneStep moves a priority one class up the ladder.
func boostOneStep(priority int) int {
	switch priority {
	case queue.PriorityLow:
		return queue.PriorityStandard
	case queue.PriorityStandard:
		return queue.PriorityHigh
	case queue.PriorityHigh:
		return queue.PriorityCritical
	default:
		return priority
	}
}
