// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package library

import (
	stdctx "context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
	"github.com/taibuivan/mangatrack/pkg/uuid"
)

// PostgresStore implements [Store] using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the Postgres library store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// entryColumns is the SELECT list shared by every entry read, with the
// series title joined in for display.
func entryColumns() string {
	entry := schema.LibraryEntry
	series := schema.CoreSeries
	return fmt.Sprintf(`
		le.%s, le.%s, COALESCE(le.%s::text, ''), COALESCE(s.%s, ''),
		COALESCE(le.%s, ''), COALESCE(le.%s, ''), le.%s,
		COALESCE(le.%s, 0), le.%s, le.%s, COALESCE(le.%s, ''),
		le.%s, le.%s, le.%s, le.%s`,
		entry.ID, entry.UserID, entry.SeriesID, series.Title,
		entry.SourceURL, entry.SourceName, entry.Status,
		entry.LastReadChapter, entry.LastReadAt, entry.UserRating, entry.PreferredSource,
		entry.MetadataStatus, entry.SeriesCompletionXPGranted, entry.CreatedAt, entry.UpdatedAt,
	)
}

func entryFrom() string {
	entry := schema.LibraryEntry
	series := schema.CoreSeries
	return fmt.Sprintf(
		"%s le LEFT JOIN %s s ON s.%s = le.%s AND s.%s IS NULL",
		entry.Table, series.Table, series.ID, entry.SeriesID, series.DeletedAt,
	)
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var item Entry
	err := row.Scan(
		&item.ID, &item.UserID, &item.SeriesID, &item.SeriesTitle,
		&item.SourceURL, &item.SourceName, &item.Status,
		&item.LastReadChapter, &item.LastReadAt, &item.UserRating, &item.PreferredSource,
		&item.MetadataStatus, &item.CompletionXP, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

/*
Upsert adds an entry for the user, restoring a soft-deleted one.

Description: The insert conflicts on (userid, sourceurl). A soft-deleted
conflict row is revived in place, keeping its id and read progress. A live
conflict row yields apperr.Conflict. When the entry is bound to a series,
the follower count is incremented in the same transaction, so a crashed add
never leaves the counter out of step.

Parameters:
  - context: context.Context
  - input: *Entry with UserID, SourceURL, Status set; SeriesID optional

Returns:
  - *Entry: the stored entry
  - error: apperr.Conflict, apperr.NotFound (unknown series), or execution failure
*/
func (store *PostgresStore) Upsert(context stdctx.Context, input *Entry) (*Entry, error) {
	entry := schema.LibraryEntry
	series := schema.CoreSeries

	transaction, err := store.pool.Begin(context)
	if err != nil {
		return nil, fmt.Errorf("library: begin upsert: %w", err)
	}
	defer transaction.Rollback(context)

	if input.SeriesID != "" {
		check := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s IS NULL)",
			series.Table, series.ID, series.DeletedAt)
		var found bool
		if err := transaction.QueryRow(context, check, input.SeriesID).Scan(&found); err != nil {
			return nil, fmt.Errorf("library: check series: %w", err)
		}
		if !found {
			return nil, apperr.NotFound("Series")
		}
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s AS le (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, NULLIF($5, ''), $6, $7, NOW(), NOW())
		ON CONFLICT (%s, %s) DO UPDATE
		SET %s = NULL, %s = EXCLUDED.%s, %s = NOW()
		WHERE le.%s IS NOT NULL
		RETURNING le.%s`,
		entry.Table, entry.ID, entry.UserID, entry.SeriesID, entry.SourceURL,
		entry.SourceName, entry.Status, entry.MetadataStatus, entry.CreatedAt, entry.UpdatedAt,
		entry.UserID, entry.SourceURL,
		entry.DeletedAt, entry.Status, entry.Status, entry.UpdatedAt,
		entry.DeletedAt,
		entry.ID,
	)

	var entryID string
	err = transaction.QueryRow(context, insert,
		uuid.New(), input.UserID, input.SeriesID, input.SourceURL,
		input.SourceName, input.Status, input.MetadataStatus,
	).Scan(&entryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Conflict("Series is already in your library")
		}
		return nil, fmt.Errorf("library: upsert entry: %w", err)
	}

	// A fresh insert and a restore both mean the user follows the series
	// again.
	if input.SeriesID != "" {
		bump := fmt.Sprintf("UPDATE %s SET %s = %s + 1, %s = NOW() WHERE %s = $1",
			series.Table, series.TotalFollows, series.TotalFollows, series.UpdatedAt, series.ID)
		if _, err := transaction.Exec(context, bump, input.SeriesID); err != nil {
			return nil, fmt.Errorf("library: bump follows: %w", err)
		}
	}

	read := fmt.Sprintf("SELECT %s FROM %s WHERE le.%s = $1", entryColumns(), entryFrom(), entry.ID)
	stored, err := scanEntry(transaction.QueryRow(context, read, entryID))
	if err != nil {
		return nil, fmt.Errorf("library: read upserted entry: %w", err)
	}

	if err := transaction.Commit(context); err != nil {
		return nil, fmt.Errorf("library: commit upsert: %w", err)
	}
	return stored, nil
}

// Find returns the user's live entry.
func (store *PostgresStore) Find(context stdctx.Context, userID, entryID string) (*Entry, error) {
	entry := schema.LibraryEntry
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE le.%s = $1 AND le.%s = $2 AND le.%s IS NULL",
		entryColumns(), entryFrom(), entry.ID, entry.UserID, entry.DeletedAt)

	stored, err := scanEntry(store.pool.QueryRow(context, sql, entryID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Library entry")
		}
		return nil, fmt.Errorf("library: find entry: %w", err)
	}
	return stored, nil
}

// Update applies a partial update and returns the new state.
func (store *PostgresStore) Update(context stdctx.Context, userID, entryID string, patch Patch) (*Entry, error) {
	entry := schema.LibraryEntry

	clauses := []string{fmt.Sprintf("%s = NOW()", entry.UpdatedAt)}
	args := []any{entryID, userID}
	next := 3

	if patch.Status != nil {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", entry.Status, next))
		args = append(args, *patch.Status)
		next++
	}
	if patch.Rating != nil {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", entry.UserRating, next))
		args = append(args, *patch.Rating)
		next++
	}
	if patch.PreferredSource != nil {
		clauses = append(clauses, fmt.Sprintf("%s = NULLIF($%d, '')", entry.PreferredSource, next))
		args = append(args, *patch.PreferredSource)
		next++
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1 AND %s = $2 AND %s IS NULL",
		entry.Table, strings.Join(clauses, ", "), entry.ID, entry.UserID, entry.DeletedAt)

	tag, err := store.pool.Exec(context, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("library: update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.NotFound("Library entry")
	}
	return store.Find(context, userID, entryID)
}

/*
SoftDelete hides the entry and releases its follower slot.

Description: Marks the row deleted and decrements the series follower count
in the same transaction. The decrement clamps at zero, so replays or
counter drift can never push the count negative.
*/
func (store *PostgresStore) SoftDelete(context stdctx.Context, userID, entryID string) (*Entry, error) {
	entry := schema.LibraryEntry
	series := schema.CoreSeries

	transaction, err := store.pool.Begin(context)
	if err != nil {
		return nil, fmt.Errorf("library: begin delete: %w", err)
	}
	defer transaction.Rollback(context)

	remove := fmt.Sprintf(`
		UPDATE %s SET %s = NOW(), %s = NOW()
		WHERE %s = $1 AND %s = $2 AND %s IS NULL
		RETURNING COALESCE(%s::text, '')`,
		entry.Table, entry.DeletedAt, entry.UpdatedAt,
		entry.ID, entry.UserID, entry.DeletedAt,
		entry.SeriesID,
	)
	var seriesID string
	if err := transaction.QueryRow(context, remove, entryID, userID).Scan(&seriesID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Library entry")
		}
		return nil, fmt.Errorf("library: delete entry: %w", err)
	}

	if seriesID != "" {
		drop := fmt.Sprintf("UPDATE %s SET %s = GREATEST(%s - 1, 0), %s = NOW() WHERE %s = $1",
			series.Table, series.TotalFollows, series.TotalFollows, series.UpdatedAt, series.ID)
		if _, err := transaction.Exec(context, drop, seriesID); err != nil {
			return nil, fmt.Errorf("library: drop follows: %w", err)
		}
	}

	if err := transaction.Commit(context); err != nil {
		return nil, fmt.Errorf("library: commit delete: %w", err)
	}
	return &Entry{ID: entryID, UserID: userID, SeriesID: seriesID}, nil
}

// sortClause maps a sort key to its ORDER BY expression.
func sortClause(sort string) string {
	entry := schema.LibraryEntry
	series := schema.CoreSeries
	switch sort {
	case SortLatestChapter:
		return fmt.Sprintf("s.%s DESC NULLS LAST", series.LastChapterAt)
	case SortTitle:
		return fmt.Sprintf("s.%s ASC NULLS LAST", series.Title)
	case SortRating:
		return fmt.Sprintf("le.%s DESC NULLS LAST", entry.UserRating)
	case SortAdded:
		return fmt.Sprintf("le.%s DESC", entry.CreatedAt)
	default:
		return fmt.Sprintf("le.%s DESC", entry.UpdatedAt)
	}
}

/*
List returns one page of the user's library plus status stats.

Description: Filters by free-text query (series title or source URL) and
status, orders by the requested sort key, and computes two aggregates: the
total row count under the current filter (for pagination) and the per-status
breakdown of the whole library (unfiltered, for the sidebar).
*/
func (store *PostgresStore) List(context stdctx.Context, userID string, opts ListOptions) ([]Entry, Stats, int, error) {
	entry := schema.LibraryEntry
	series := schema.CoreSeries

	conditions := fmt.Sprintf("le.%s = $1 AND le.%s IS NULL", entry.UserID, entry.DeletedAt)
	args := []any{userID}

	if opts.Query != "" {
		conditions += fmt.Sprintf(" AND (s.%s ILIKE $%d OR le.%s ILIKE $%d)",
			series.Title, len(args)+1, entry.SourceURL, len(args)+1)
		args = append(args, "%"+opts.Query+"%")
	}
	if opts.Status != "" {
		conditions += fmt.Sprintf(" AND le.%s = $%d", entry.Status, len(args)+1)
		args = append(args, opts.Status)
	}

	count := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", entryFrom(), conditions)
	var total int
	if err := store.pool.QueryRow(context, count, args...).Scan(&total); err != nil {
		return nil, Stats{}, 0, fmt.Errorf("library: count entries: %w", err)
	}

	page := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		entryColumns(), entryFrom(), conditions, sortClause(opts.Sort), len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := store.pool.Query(context, page, args...)
	if err != nil {
		return nil, Stats{}, 0, fmt.Errorf("library: list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		item, err := scanEntry(rows)
		if err != nil {
			return nil, Stats{}, 0, fmt.Errorf("library: scan entry: %w", err)
		}
		entries = append(entries, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, Stats{}, 0, err
	}

	stats, err := store.stats(context, userID)
	if err != nil {
		return nil, Stats{}, 0, err
	}
	return entries, stats, total, nil
}

func (store *PostgresStore) stats(context stdctx.Context, userID string) (Stats, error) {
	entry := schema.LibraryEntry
	sql := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s WHERE %s = $1 AND %s IS NULL GROUP BY %s",
		entry.Status, entry.Table, entry.UserID, entry.DeletedAt, entry.Status)

	rows, err := store.pool.Query(context, sql, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("library: stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{ByStatus: make(map[string]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("library: scan stats: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

// ExistingURLs reports which of the given URLs the user already tracks.
func (store *PostgresStore) ExistingURLs(context stdctx.Context, userID string, urls []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(urls) == 0 {
		return existing, nil
	}
	entry := schema.LibraryEntry
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND %s = ANY($2) AND %s IS NULL",
		entry.SourceURL, entry.Table, entry.UserID, entry.SourceURL, entry.DeletedAt)

	rows, err := store.pool.Query(context, sql, userID, urls)
	if err != nil {
		return nil, fmt.Errorf("library: existing urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("library: scan url: %w", err)
		}
		existing[url] = true
	}
	return existing, rows.Err()
}

// CreateImportJob records a queued bulk import.
func (store *PostgresStore) CreateImportJob(context stdctx.Context, job *ImportJob) error {
	importJob := schema.LibraryImportJob
	sql := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		importJob.Table, importJob.ID, importJob.UserID, importJob.Source,
		importJob.Status, importJob.TotalEntries, importJob.CreatedAt, importJob.UpdatedAt,
	)
	if _, err := store.pool.Exec(context, sql, job.ID, job.UserID, job.Source, job.Status, job.TotalEntries); err != nil {
		return fmt.Errorf("library: create import job: %w", err)
	}
	return nil
}

// ImportJob loads one import job.
func (store *PostgresStore) ImportJob(context stdctx.Context, jobID string) (*ImportJob, error) {
	importJob := schema.LibraryImportJob
	sql := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s, COALESCE(%s, ''), %s, %s
		FROM %s WHERE %s = $1`,
		importJob.ID, importJob.UserID, importJob.Source, importJob.Status,
		importJob.TotalEntries, importJob.Processed, importJob.Skipped, importJob.Failed,
		importJob.Error, importJob.CreatedAt, importJob.UpdatedAt,
		importJob.Table, importJob.ID,
	)

	var job ImportJob
	err := store.pool.QueryRow(context, sql, jobID).Scan(
		&job.ID, &job.UserID, &job.Source, &job.Status,
		&job.TotalEntries, &job.Processed, &job.Skipped, &job.Failed,
		&job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Import job")
		}
		return nil, fmt.Errorf("library: load import job: %w", err)
	}
	return &job, nil
}

// UpdateImportJob stamps progress counters and status.
func (store *PostgresStore) UpdateImportJob(context stdctx.Context, job *ImportJob) error {
	importJob := schema.LibraryImportJob
	sql := fmt.Sprintf(`
		UPDATE %s SET %s = $2, %s = $3, %s = $4, %s = $5, %s = NULLIF($6, ''), %s = NOW()
		WHERE %s = $1`,
		importJob.Table, importJob.Status, importJob.Processed, importJob.Skipped,
		importJob.Failed, importJob.Error, importJob.UpdatedAt, importJob.ID,
	)
	_, err := store.pool.Exec(context, sql, job.ID, job.Status, job.Processed, job.Skipped, job.Failed, job.Error)
	if err != nil {
		return fmt.Errorf("library: update import job: %w", err)
	}
	return nil
}

// SetMetadataStatus moves the entry's resolution state.
func (store *PostgresStore) SetMetadataStatus(context stdctx.Context, userID, entryID, status string) error {
	entry := schema.LibraryEntry
	sql := fmt.Sprintf("UPDATE %s SET %s = $3, %s = NOW() WHERE %s = $1 AND %s = $2 AND %s IS NULL",
		entry.Table, entry.MetadataStatus, entry.UpdatedAt, entry.ID, entry.UserID, entry.DeletedAt)

	tag, err := store.pool.Exec(context, sql, entryID, userID, status)
	if err != nil {
		return fmt.Errorf("library: set metadata status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Library entry")
	}
	return nil
}

// ResolveSeriesByURL finds the series behind a known crawl source URL.
func (store *PostgresStore) ResolveSeriesByURL(context stdctx.Context, sourceURL string) (string, error) {
	source := schema.CrawlerSeriesSource
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		source.SeriesID, source.Table, source.SourceURL)

	var seriesID string
	err := store.pool.QueryRow(context, sql, sourceURL).Scan(&seriesID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("library: resolve series: %w", err)
	}
	return seriesID, nil
}

/*
LinkSeries binds an entry to a resolved series.

Description: Sets seriesid and the final metadata status, and counts the
new follower on the series. Linking is the moment an import-created entry
starts to count as a follow; direct adds were counted at Upsert time.
*/
func (store *PostgresStore) LinkSeries(context stdctx.Context, entryID, seriesID, metadataStatus string) error {
	entry := schema.LibraryEntry
	series := schema.CoreSeries

	transaction, err := store.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("library: begin link: %w", err)
	}
	defer transaction.Rollback(context)

	link := fmt.Sprintf(`
		UPDATE %s SET %s = $2, %s = $3, %s = NOW()
		WHERE %s = $1 AND %s IS NULL AND %s IS NULL`,
		entry.Table, entry.SeriesID, entry.MetadataStatus, entry.UpdatedAt,
		entry.ID, entry.SeriesID, entry.DeletedAt,
	)
	tag, err := transaction.Exec(context, link, entryID, seriesID, metadataStatus)
	if err != nil {
		return fmt.Errorf("library: link series: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already linked or gone; nothing to count.
		return nil
	}

	bump := fmt.Sprintf("UPDATE %s SET %s = %s + 1, %s = NOW() WHERE %s = $1",
		series.Table, series.TotalFollows, series.TotalFollows, series.UpdatedAt, series.ID)
	if _, err := transaction.Exec(context, bump, seriesID); err != nil {
		return fmt.Errorf("library: bump follows on link: %w", err)
	}

	return transaction.Commit(context)
}
