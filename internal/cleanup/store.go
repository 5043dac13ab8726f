// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package cleanup

import (
	stdctx "context"
	"time"
)

// Store is the persistence contract for the retention tasks. Every
// method returns how many rows it touched.
type Store interface {
	// FailStuckImportJobs marks pending/processing jobs older than the
	// cutoff as failed.
	FailStuckImportJobs(context stdctx.Context, cutoff time.Time) (int64, error)

	// PurgeDeletedEntries hard-deletes library entries soft-deleted
	// before the cutoff, together with nothing else: chapter reads are
	// kept so progress survives a re-add.
	PurgeDeletedEntries(context stdctx.Context, cutoff time.Time) (int64, error)

	// PruneFeedEntries deletes feed entries not updated since the cutoff.
	PruneFeedEntries(context stdctx.Context, cutoff time.Time) (int64, error)

	// PruneNotifications deletes notifications created before the cutoff.
	PruneNotifications(context stdctx.Context, cutoff time.Time) (int64, error)

	// PruneAuditLogs deletes audit rows created before the cutoff.
	PruneAuditLogs(context stdctx.Context, cutoff time.Time) (int64, error)

	// PruneActivityEvents deletes raw demand events created before the
	// cutoff; scores are already folded into core.series.
	PruneActivityEvents(context stdctx.Context, cutoff time.Time) (int64, error)

	// PruneWorkerFailures deletes dead-letter rows created before the
	// cutoff.
	PruneWorkerFailures(context stdctx.Context, cutoff time.Time) (int64, error)

	// PruneExpiredSessions deletes sessions past their expiry.
	PruneExpiredSessions(context stdctx.Context, now time.Time) (int64, error)

	// ReconcileChaptersRead recomputes users.account.chaptersread from
	// the read ledger for accounts where the counter drifted.
	ReconcileChaptersRead(context stdctx.Context) (int64, error)
}
