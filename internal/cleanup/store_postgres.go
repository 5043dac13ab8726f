// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package cleanup

import (
	stdctx "context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/library"
	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
)

// PostgresStore implements [Store] with one statement per task.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the Postgres retention store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (store *PostgresStore) exec(context stdctx.Context, task, query string, args ...any) (int64, error) {
	tag, err := store.pool.Exec(context, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %s: %w", task, err)
	}
	return tag.RowsAffected(), nil
}

// FailStuckImportJobs times out jobs the worker never finished.
func (store *PostgresStore) FailStuckImportJobs(context stdctx.Context, cutoff time.Time) (int64, error) {
	job := schema.LibraryImportJob
	query := fmt.Sprintf(`
		UPDATE %s
		SET %s = '%s', %s = 'import timed out', %s = NOW()
		WHERE %s IN ('%s', '%s') AND %s < $1`,
		job.Table,
		job.Status, library.ImportFailed, job.Error, job.UpdatedAt,
		job.Status, library.ImportPending, library.ImportProcessing, job.UpdatedAt,
	)
	return store.exec(context, "fail stuck imports", query, cutoff)
}

// PurgeDeletedEntries hard-deletes entries past the soft-delete grace.
func (store *PostgresStore) PurgeDeletedEntries(context stdctx.Context, cutoff time.Time) (int64, error) {
	entry := schema.LibraryEntry
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IS NOT NULL AND %s < $1",
		entry.Table, entry.DeletedAt, entry.DeletedAt)
	return store.exec(context, "purge deleted entries", query, cutoff)
}

// PruneFeedEntries drops feed rows with no recent source updates.
func (store *PostgresStore) PruneFeedEntries(context stdctx.Context, cutoff time.Time) (int64, error) {
	feed := schema.FeedEntry
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < $1", feed.Table, feed.LastUpdatedAt)
	return store.exec(context, "prune feed entries", query, cutoff)
}

// PruneNotifications drops aged notifications, read or not.
func (store *PostgresStore) PruneNotifications(context stdctx.Context, cutoff time.Time) (int64, error) {
	notification := schema.FeedNotification
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < $1", notification.Table, notification.CreatedAt)
	return store.exec(context, "prune notifications", query, cutoff)
}

// PruneAuditLogs drops aged audit rows.
func (store *PostgresStore) PruneAuditLogs(context stdctx.Context, cutoff time.Time) (int64, error) {
	audit := schema.SystemAuditLog
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < $1", audit.Table, audit.CreatedAt)
	return store.exec(context, "prune audit logs", query, cutoff)
}

// PruneActivityEvents drops raw demand events already folded into scores.
func (store *PostgresStore) PruneActivityEvents(context stdctx.Context, cutoff time.Time) (int64, error) {
	event := schema.SystemActivityEvent
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < $1", event.Table, event.CreatedAt)
	return store.exec(context, "prune activity events", query, cutoff)
}

// PruneWorkerFailures drops aged dead-letter rows.
func (store *PostgresStore) PruneWorkerFailures(context stdctx.Context, cutoff time.Time) (int64, error) {
	failure := schema.SystemWorkerFailure
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < $1", failure.Table, failure.CreatedAt)
	return store.exec(context, "prune worker failures", query, cutoff)
}

// PruneExpiredSessions drops sessions past expiry; revoked sessions stay
// until they expire so token reuse keeps failing loudly.
func (store *PostgresStore) PruneExpiredSessions(context stdctx.Context, now time.Time) (int64, error) {
	session := schema.UserSession
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < $1", session.Table, session.ExpiresAt)
	return store.exec(context, "prune expired sessions", query, now)
}

/*
ReconcileChaptersRead repairs counter drift.

Description: chaptersread on users.account is a denormalized counter
bumped on each award; crashes between the ledger write and the counter
update can leave it behind. This recomputes the true count from
library.chapterread for every drifted account in one statement.
*/
func (store *PostgresStore) ReconcileChaptersRead(context stdctx.Context) (int64, error) {
	account := schema.UserAccount
	read := schema.LibraryChapterRead
	query := fmt.Sprintf(`
		UPDATE %s AS account
		SET %s = ledger.count, %s = NOW()
		FROM (
			SELECT %s AS userid, COUNT(*) AS count
			FROM %s
			WHERE %s = TRUE
			GROUP BY %s
		) AS ledger
		WHERE account.%s = ledger.userid
		  AND account.%s <> ledger.count
		  AND account.%s IS NULL`,
		account.Table,
		account.ChaptersRead, account.UpdatedAt,
		read.UserID,
		read.Table,
		read.IsRead,
		read.UserID,
		account.ID,
		account.ChaptersRead,
		account.DeletedAt,
	)
	return store.exec(context, "reconcile chapters read", query)
}
