// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package cleanup

import (
	stdctx "context"
	"log/slog"
	"time"
)

// Runner executes the retention tasks in sequence.
type Runner struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewRunner constructs the cleanup [Runner].
func NewRunner(store Store, log *slog.Logger) *Runner {
	return &Runner{store: store, log: log, now: time.Now}
}

/*
Run executes every retention task once.

Description: Tasks are independent; a failure is logged under
cleanup_task_failed and the run continues. The scheduler calls this on a
slow cadence, so there is no batching: each statement sweeps the whole
table.
*/
func (runner *Runner) Run(context stdctx.Context) error {
	now := runner.now()

	tasks := []struct {
		name string
		run  func(stdctx.Context) (int64, error)
	}{
		{"fail_stuck_imports", func(ctx stdctx.Context) (int64, error) {
			return runner.store.FailStuckImportJobs(ctx, now.Add(-ImportJobTimeout))
		}},
		{"purge_deleted_entries", func(ctx stdctx.Context) (int64, error) {
			return runner.store.PurgeDeletedEntries(ctx, now.Add(-EntryRetention))
		}},
		{"prune_feed_entries", func(ctx stdctx.Context) (int64, error) {
			return runner.store.PruneFeedEntries(ctx, now.Add(-FeedRetention))
		}},
		{"prune_notifications", func(ctx stdctx.Context) (int64, error) {
			return runner.store.PruneNotifications(ctx, now.Add(-FeedRetention))
		}},
		{"prune_audit_logs", func(ctx stdctx.Context) (int64, error) {
			return runner.store.PruneAuditLogs(ctx, now.Add(-FeedRetention))
		}},
		{"prune_activity_events", func(ctx stdctx.Context) (int64, error) {
			return runner.store.PruneActivityEvents(ctx, now.Add(-FeedRetention))
		}},
		{"prune_worker_failures", func(ctx stdctx.Context) (int64, error) {
			return runner.store.PruneWorkerFailures(ctx, now.Add(-FailureRetention))
		}},
		{"prune_expired_sessions", func(ctx stdctx.Context) (int64, error) {
			return runner.store.PruneExpiredSessions(ctx, now)
		}},
		{"reconcile_chapters_read", runner.store.ReconcileChaptersRead},
	}

	for _, task := range tasks {
		if err := context.Err(); err != nil {
			return err
		}
		affected, err := task.run(context)
		if err != nil {
			runner.log.Error("cleanup_task_failed",
				slog.String("task", task.name), slog.String("error", err.Error()))
			continue
		}
		if affected > 0 {
			runner.log.Info("cleanup_task_done",
				slog.String("task", task.name), slog.Int64("rows", affected))
		}
	}
	return nil
}
