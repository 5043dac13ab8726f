// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package search

import (
	stdctx "context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/queue"
)

// Controller is the storm-control admission point for external searches.
type Controller struct {
	store  Store
	queues *queue.Manager
	kv     kvs.Store
	log    *slog.Logger
	now    func() time.Time
}

// NewController wires the storm [Controller].
func NewController(store Store, queues *queue.Manager, kv kvs.Store, log *slog.Logger) *Controller {
	return &Controller{
		store:  store,
		queues: queues,
		kv:     kv,
		log:    log,
		now:    time.Now,
	}
}

/*
Evaluate decides whether one search request earns an external lookup.

Description: The gates run in order — lifetime threshold, per-query
cooldown, a live job under the same dedup id, then queue health. A query
denied only by queue health is deferred onto the weighted replay queue
(premium immediately eligible, logged-in +2 min, free +10 min); every
other denial is final for this request. An allowed query stamps
last_enqueued_at and enqueues the job with the normalized key as its
dedup id, so racing instances collapse onto one job.

Parameters:
  - context: context.Context
  - query: string (raw user input)
  - class: the requesting user's deferral class

Returns:
  - Decision: verdict plus the reason
  - error: execution failure
*/
func (controller *Controller) Evaluate(context stdctx.Context, query string, class Class) (Decision, error) {
	key := NormalizeKey(query)
	if key == "" {
		return Decision{Reason: ReasonBelowThreshold}, nil
	}
	now := controller.now()

	stats, err := controller.store.RecordSearch(context, key, now)
	if err != nil {
		return Decision{}, err
	}

	// ── 1. Lifetime Threshold ─────────────────────────────────────────
	if stats.TotalSearches < StormThreshold {
		return Decision{Reason: ReasonBelowThreshold}, nil
	}

	// ── 2. Cooldown ───────────────────────────────────────────────────
	if stats.LastEnqueuedAt != nil && now.Sub(*stats.LastEnqueuedAt) < EnqueueCooldown {
		return Decision{Reason: ReasonCooldown}, nil
	}

	// ── 3. Active Job ─────────────────────────────────────────────────
	pending, err := controller.queues.IsPending(context, queue.QueueSearch, JobID(key))
	if err != nil {
		return Decision{}, err
	}
	if pending {
		return Decision{Reason: ReasonActiveJob}, nil
	}

	// ── 4. Queue Health ───────────────────────────────────────────────
	counts, err := controller.queues.GetJobCounts(context, queue.QueueSearch)
	if err != nil {
		return Decision{}, err
	}
	if counts.Waiting > UnhealthyWaiting {
		if err := controller.deferQuery(context, key, class, now); err != nil {
			return Decision{}, err
		}
		return Decision{Reason: ReasonQueueUnhealthy}, nil
	}

	// ── 5. Allow ──────────────────────────────────────────────────────
	if err := controller.enqueue(context, key, now); err != nil {
		return Decision{}, err
	}
	return Decision{ShouldEnqueue: true, Reason: ReasonEnqueued}, nil
}

// deferQuery parks the query on the weighted replay queue.
func (controller *Controller) deferQuery(context stdctx.Context, key string, class Class, now time.Time) error {
	setKey := deferredStandardKey
	delay := DeferFree
	switch class {
	case ClassPremium:
		setKey, delay = deferredPriorityKey, DeferPremium
	case ClassLoggedIn:
		setKey, delay = deferredPriorityKey, DeferLoggedIn
	}

	eligible := now.Add(delay)
	if err := controller.kv.ZAdd(context, setKey, float64(eligible.UnixMilli()), key); err != nil {
		return fmt.Errorf("search: defer query: %w", err)
	}
	if err := controller.store.MarkDeferred(context, key, now); err != nil {
		return err
	}

	controller.log.Info("search_query_deferred",
		slog.String("query", key),
		slog.Int("class", int(class)),
		slog.Time("eligible_at", eligible),
	)
	return nil
}

// enqueue stamps the stats row and adds the search job.
func (controller *Controller) enqueue(context stdctx.Context, key string, now time.Time) error {
	if err := controller.store.MarkEnqueued(context, key, now); err != nil {
		return err
	}
	_, err := controller.queues.Add(context, queue.QueueSearch, "discover", Payload{Query: key},
		queue.Options{JobID: JobID(key), Priority: queue.PriorityStandard})
	if err != nil {
		return fmt.Errorf("search: enqueue: %w", err)
	}

	controller.log.Info("search_enqueued", slog.String("query", key))
	return nil
}

/*
PromoteDeferred replays deferred queries whose eligibility time passed.

Description: Runs as a scheduler sub-task. Each run fills a batch of ten
slots, seven from the priority set and three from standard; when one side
has fewer ready entries than its share, the other absorbs the slack, so a
quiet priority set cannot starve free users and vice versa. Promoted
queries re-enter through the normal enqueue path (cooldown and dedup
still apply via jobId).
*/
func (controller *Controller) PromoteDeferred(context stdctx.Context) error {
	now := controller.now()
	max := float64(now.UnixMilli())

	priority, err := controller.kv.ZPopByScore(context, deferredPriorityKey, max, promoteBatch)
	if err != nil {
		return fmt.Errorf("search: pop priority deferred: %w", err)
	}
	standard, err := controller.kv.ZPopByScore(context, deferredStandardKey, max, promoteBatch)
	if err != nil {
		return fmt.Errorf("search: pop standard deferred: %w", err)
	}

	selected, overflowPriority, overflowStandard := fairShare(priority, standard)

	// Anything beyond this run's batch goes back where it came from,
	// immediately eligible.
	for _, key := range overflowPriority {
		if err := controller.kv.ZAdd(context, deferredPriorityKey, max, key); err != nil {
			return fmt.Errorf("search: requeue deferred: %w", err)
		}
	}
	for _, key := range overflowStandard {
		if err := controller.kv.ZAdd(context, deferredStandardKey, max, key); err != nil {
			return fmt.Errorf("search: requeue deferred: %w", err)
		}
	}

	for _, key := range selected {
		if err := controller.enqueue(context, key, now); err != nil {
			controller.log.Warn("search_promote_failed",
				slog.String("query", key), slog.String("error", err.Error()))
		}
	}

	if len(selected) > 0 {
		controller.log.Info("search_deferred_promoted",
			slog.Int("promoted", len(selected)),
			slog.Int("requeued", len(overflowPriority)+len(overflowStandard)),
		)
	}
	return nil
}

// fairShare splits the promotion batch 70/30 between the two sets, each
// side absorbing the other's unused slots.
func fairShare(priority, standard []string) (selected, overflowPriority, overflowStandard []string) {
	fromPriority := prioritySlots
	fromStandard := standardSlots
	if len(standard) < fromStandard {
		fromPriority += fromStandard - len(standard)
		fromStandard = len(standard)
	}
	if len(priority) < fromPriority {
		fromStandard += fromPriority - len(priority)
		fromPriority = len(priority)
	}
	if fromStandard > len(standard) {
		fromStandard = len(standard)
	}

	selected = append(selected, priority[:fromPriority]...)
	selected = append(selected, standard[:fromStandard]...)
	return selected, priority[fromPriority:], standard[fromStandard:]
}
