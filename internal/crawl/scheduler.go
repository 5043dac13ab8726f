// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl

import (
	stdctx "context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/mangatrack/internal/kvs"
)

const (
	// tickInterval is the master scheduling cadence.
	tickInterval = 5 * time.Minute

	// Lock election: one active scheduler cluster-wide.
	schedulerLockKey = "workers:global"
	schedulerLockTTL = 60 * time.Second
	lockRenewEvery   = 30 * time.Second

	// heartbeatKey carries the active scheduler's last-alive timestamp;
	// standbys probe for the lock once it goes stale.
	heartbeatKey      = "workers:heartbeat"
	heartbeatStaleAge = 45 * time.Second

	// Due-source selection window per tick.
	selectionLimit = 500
	batchSize      = 50
)

// SubScheduler is one isolated maintenance task run on every tick. A
// failing sub-scheduler never blocks the others.
type SubScheduler struct {
	Name string
	Run  func(context stdctx.Context) error
}

// Scheduler is the master crawl scheduler. Construct one per worker
// process; the distributed lock decides which instance is active.
type Scheduler struct {
	store          Store
	gatekeeper     *Gatekeeper
	kv             kvs.Store
	subs           []SubScheduler
	promoteFollows int
	log            *slog.Logger
	now            func() time.Time

	lock *kvs.Lock
}

// NewScheduler wires the master scheduler.
func NewScheduler(store Store, gatekeeper *Gatekeeper, kv kvs.Store, subs []SubScheduler, promoteFollows int, log *slog.Logger) *Scheduler {
	if promoteFollows <= 0 {
		promoteFollows = DefaultBoostFollows
	}
	return &Scheduler{
		store:          store,
		gatekeeper:     gatekeeper,
		kv:             kv,
		subs:           subs,
		promoteFollows: promoteFollows,
		log:            log,
		now:            time.Now,
	}
}

/*
Run drives the scheduler loop until the context is canceled.

Description: Every lockRenewEvery the instance renews its lock or, when
standby, probes for leadership once the active heartbeat is stale or the
lock is free. The holder runs a full tick every tickInterval.

Parameters:
  - context: context.Context

Returns:
  - error: context cancellation only
*/
func (scheduler *Scheduler) Run(context stdctx.Context) error {
	electionTicker := time.NewTicker(lockRenewEvery)
	defer electionTicker.Stop()
	workTicker := time.NewTicker(tickInterval)
	defer workTicker.Stop()

	// Try for leadership immediately on startup.
	scheduler.maintainLock(context)
	if scheduler.lock != nil {
		scheduler.Tick(context)
	}

	for {
		select {
		case <-context.Done():
			scheduler.releaseLock()
			return context.Err()
		case <-electionTicker.C:
			scheduler.maintainLock(context)
		case <-workTicker.C:
			if scheduler.lock != nil {
				scheduler.Tick(context)
			}
		}
	}
}

// maintainLock renews held leadership or campaigns for it.
func (scheduler *Scheduler) maintainLock(context stdctx.Context) {
	now := scheduler.now()

	if scheduler.lock != nil {
		if err := scheduler.lock.Renew(context); err != nil {
			scheduler.log.Warn("scheduler_lock_lost")
			scheduler.lock = nil
			return
		}
		scheduler.beat(context, now)
		return
	}

	if !scheduler.heartbeatStale(context, now) {
		return
	}

	lock, err := kvs.AcquireLock(context, scheduler.kv, schedulerLockKey, schedulerLockTTL)
	if err != nil {
		if !errors.Is(err, kvs.ErrLockHeld) {
			scheduler.log.Warn("scheduler_lock_acquire_failed")
		}
		return
	}

	scheduler.lock = lock
	scheduler.beat(context, now)
	scheduler.log.Info("scheduler_became_active")
}

// heartbeatStale reports whether the active scheduler's heartbeat is old
// enough (or absent) to justify a takeover probe.
func (scheduler *Scheduler) heartbeatStale(context stdctx.Context, now time.Time) bool {
	value, err := scheduler.kv.Get(context, heartbeatKey)
	if err != nil {
		return true
	}
	beatMillis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return true
	}
	return now.Sub(time.UnixMilli(beatMillis)) > heartbeatStaleAge
}

func (scheduler *Scheduler) beat(context stdctx.Context, now time.Time) {
	if err := scheduler.kv.Set(context, heartbeatKey, strconv.FormatInt(now.UnixMilli(), 10), 2*schedulerLockTTL); err != nil {
		scheduler.log.Warn("scheduler_heartbeat_write_failed")
	}
}

func (scheduler *Scheduler) releaseLock() {
	if scheduler.lock == nil {
		return
	}
	releaseCtx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Second)
	defer cancel()
	_ = scheduler.lock.Release(releaseCtx)
	scheduler.lock = nil
}

/*
Tick runs one full scheduling round: priority maintenance, the isolated
sub-schedulers, then due-source sync scheduling. Exported so the worker
binary can force a round on demand.
*/
func (scheduler *Scheduler) Tick(context stdctx.Context) {
	now := scheduler.now()

	maintenance, err := scheduler.store.RunPriorityMaintenance(context, now, scheduler.promoteFollows)
	if err != nil {
		scheduler.log.Error("scheduler_maintenance_failed", slog.String("error", err.Error()))
	} else if maintenance.PromotedHot+maintenance.DemotedWarm+maintenance.DemotedCold > 0 {
		scheduler.log.Info("scheduler_priorities_maintained",
			slog.Int64("promoted_hot", maintenance.PromotedHot),
			slog.Int64("demoted_warm", maintenance.DemotedWarm),
			slog.Int64("demoted_cold", maintenance.DemotedCold),
		)
	}

	scheduler.runSubSchedulers(context)
	scheduler.scheduleDueSources(context, now)
}

// runSubSchedulers executes every sub-task concurrently; each failure is
// logged and contained.
func (scheduler *Scheduler) runSubSchedulers(context stdctx.Context) {
	group, groupCtx := errgroup.WithContext(context)
	group.SetLimit(4)

	for _, sub := range scheduler.subs {
		group.Go(func() error {
			if err := sub.Run(groupCtx); err != nil {
				scheduler.log.Error("sub_scheduler_failed",
					slog.String("name", sub.Name),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = group.Wait()
}

// scheduleDueSources selects due sources and pushes admitted syncs, in
// batches so one tick cannot monopolize the queue backplane.
func (scheduler *Scheduler) scheduleDueSources(context stdctx.Context, now time.Time) {
	due, err := scheduler.store.DueSources(context, now, selectionLimit)
	if err != nil {
		scheduler.log.Error("scheduler_selection_failed", slog.String("error", err.Error()))
		return
	}

	var enqueued, denied int
	for start := 0; start < len(due); start += batchSize {
		end := min(start+batchSize, len(due))
		for _, src := range due[start:end] {
			decision, err := scheduler.gatekeeper.ShouldEnqueue(context, src, ReasonPeriodic)
			if err != nil {
				scheduler.log.Warn("scheduler_gatekeeper_error", slog.String("series_source_id", src.ID))
				continue
			}

			if decision.Allowed {
				if _, err := scheduler.gatekeeper.Enqueue(context, src, ReasonPeriodic, decision, nil); err != nil {
					scheduler.log.Warn("scheduler_enqueue_failed", slog.String("series_source_id", src.ID))
					continue
				}
				enqueued++
			} else {
				denied++
			}

			// Denied sources get a fresh horizon too, so the next tick
			// does not reselect the same contested rows.
			nextCheckAt := now.Add(Interval(src.SeriesTier, src.SyncPriority))
			if err := scheduler.store.SetNextCheck(context, src.ID, nextCheckAt); err != nil {
				scheduler.log.Warn("scheduler_next_check_failed", slog.String("series_source_id", src.ID))
			}
		}
	}

	if enqueued+denied > 0 {
		scheduler.log.Info("scheduler_tick_complete",
			slog.Int("selected", len(due)),
			slog.Int("enqueued", enqueued),
			slog.Int("denied", denied),
		)
	}
}
