// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl

import (
	stdctx "context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
)

// PostgresStore implements [Store] using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the Postgres crawl store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// selectSourceQuery joins the scheduling-relevant series columns onto the
// source row. Shared by every Find* method.
func selectSourceQuery(where string) string {
	ss := schema.CrawlerSeriesSource
	series := schema.CoreSeries
	return fmt.Sprintf(`
		SELECT ss.%s, ss.%s, ss.%s, ss.%s, ss.%s, ss.%s, ss.%s, ss.%s,
		       ss.%s, ss.%s, ss.%s, ss.%s,
		       s.%s, s.%s, s.%s
		FROM %s ss
		JOIN %s s ON s.%s = ss.%s
		WHERE s.%s IS NULL AND %s`,
		ss.ID, ss.SeriesID, ss.SourceName, ss.SourceID, ss.SourceURL,
		ss.SyncPriority, ss.SourceStatus, ss.FailureCount,
		ss.LastCheckedAt, ss.LastSuccessAt, ss.NextCheckAt, ss.SourceChapterCount,
		series.Title, series.CatalogTier, series.TotalFollows,
		ss.Table,
		series.Table, series.ID, ss.SeriesID,
		series.DeletedAt, where,
	)
}

func scanSource(row pgx.Row) (*SeriesSource, error) {
	var src SeriesSource
	err := row.Scan(
		&src.ID, &src.SeriesID, &src.SourceName, &src.SourceID, &src.SourceURL,
		&src.SyncPriority, &src.SourceStatus, &src.FailureCount,
		&src.LastCheckedAt, &src.LastSuccessAt, &src.NextCheckAt, &src.SourceChapterCount,
		&src.SeriesTitle, &src.SeriesTier, &src.TotalFollows,
	)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// FindSeriesSource loads one source; missing rows return (nil, nil) so the
// poll worker can treat vanished sources as a no-op.
func (store *PostgresStore) FindSeriesSource(context stdctx.Context, id string) (*SeriesSource, error) {
	query := selectSourceQuery("ss." + schema.CrawlerSeriesSource.ID + " = $1")
	src, err := scanSource(store.pool.QueryRow(context, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("crawl: find source: %w", err)
	}
	return src, nil
}

// FindSourcesForSeries lists every source listing of the series.
func (store *PostgresStore) FindSourcesForSeries(context stdctx.Context, seriesID string) ([]*SeriesSource, error) {
	query := selectSourceQuery("ss." + schema.CrawlerSeriesSource.SeriesID + " = $1")
	rows, err := store.pool.Query(context, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("crawl: sources for series: %w", err)
	}
	defer rows.Close()
	return collectSources(rows)
}

// FindSeriesBySourceKey resolves the (source_name, source_id) uniqueness
// pair, for latest-feed matching.
func (store *PostgresStore) FindSeriesBySourceKey(context stdctx.Context, sourceName, sourceID string) (*SeriesSource, error) {
	ss := schema.CrawlerSeriesSource
	query := selectSourceQuery(fmt.Sprintf("ss.%s = $1 AND ss.%s = $2", ss.SourceName, ss.SourceID))
	src, err := scanSource(store.pool.QueryRow(context, query, sourceName, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("crawl: find by source key: %w", err)
	}
	return src, nil
}

// DueSources selects the poll candidates for one scheduler tick, oldest
// horizon first.
func (store *PostgresStore) DueSources(context stdctx.Context, now time.Time, limit int) ([]*SeriesSource, error) {
	ss := schema.CrawlerSeriesSource
	where := fmt.Sprintf(
		"ss.%s <> '%s' AND (ss.%s IS NULL OR ss.%s <= $1)",
		ss.SourceStatus, StatusBroken, ss.NextCheckAt, ss.NextCheckAt,
	)
	query := selectSourceQuery(where) + fmt.Sprintf(
		" ORDER BY ss.%s ASC NULLS FIRST LIMIT $2", ss.NextCheckAt,
	)

	rows, err := store.pool.Query(context, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("crawl: due sources: %w", err)
	}
	defer rows.Close()
	return collectSources(rows)
}

// RecheckCandidates selects the parked sources due for a probe.
func (store *PostgresStore) RecheckCandidates(context stdctx.Context, now time.Time, limit int) ([]*SeriesSource, error) {
	ss := schema.CrawlerSeriesSource
	where := fmt.Sprintf(
		"ss.%s IN ('%s', '%s') AND ss.%s IS NOT NULL AND ss.%s <= $1",
		ss.SourceStatus, StatusBroken, StatusInactive, ss.NextCheckAt, ss.NextCheckAt,
	)
	query := selectSourceQuery(where) + fmt.Sprintf(
		" ORDER BY ss.%s ASC LIMIT $2", ss.NextCheckAt,
	)

	rows, err := store.pool.Query(context, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("crawl: recheck candidates: %w", err)
	}
	defer rows.Close()
	return collectSources(rows)
}

func collectSources(rows pgx.Rows) ([]*SeriesSource, error) {
	var sources []*SeriesSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("crawl: scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// SetNextCheck persists the next poll horizon.
func (store *PostgresStore) SetNextCheck(context stdctx.Context, id string, nextCheckAt time.Time) error {
	ss := schema.CrawlerSeriesSource
	query := fmt.Sprintf(
		"UPDATE %s SET %s = $2, %s = NOW() WHERE %s = $1",
		ss.Table, ss.NextCheckAt, ss.UpdatedAt, ss.ID,
	)
	if _, err := store.pool.Exec(context, query, id, nextCheckAt); err != nil {
		return fmt.Errorf("crawl: set next check: %w", err)
	}
	return nil
}

// RecordSuccess stamps the poll success and clears the failure streak. A
// broken source that answers again goes back to active.
func (store *PostgresStore) RecordSuccess(context stdctx.Context, id string, now time.Time) error {
	ss := schema.CrawlerSeriesSource
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = $2,
			%s = $2,
			%s = 0,
			%s = '%s',
			%s = NOW()
		WHERE %s = $1`,
		ss.Table,
		ss.LastCheckedAt,
		ss.LastSuccessAt,
		ss.FailureCount,
		ss.SourceStatus, StatusActive,
		ss.UpdatedAt,
		ss.ID,
	)
	if _, err := store.pool.Exec(context, query, id, now); err != nil {
		return fmt.Errorf("crawl: record success: %w", err)
	}
	return nil
}

// RecordFailure bumps the failure streak and pushes the horizon out.
func (store *PostgresStore) RecordFailure(context stdctx.Context, id string, now, nextCheckAt time.Time) error {
	ss := schema.CrawlerSeriesSource
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = $2,
			%s = %s + 1,
			%s = $3,
			%s = NOW()
		WHERE %s = $1`,
		ss.Table,
		ss.LastCheckedAt,
		ss.FailureCount, ss.FailureCount,
		ss.NextCheckAt,
		ss.UpdatedAt,
		ss.ID,
	)
	if _, err := store.pool.Exec(context, query, id, now, nextCheckAt); err != nil {
		return fmt.Errorf("crawl: record failure: %w", err)
	}
	return nil
}

// SetStatus parks a source as broken or inactive until nextCheckAt.
func (store *PostgresStore) SetStatus(context stdctx.Context, id, status string, nextCheckAt time.Time) error {
	ss := schema.CrawlerSeriesSource
	query := fmt.Sprintf(
		"UPDATE %s SET %s = $2, %s = $3, %s = NOW() WHERE %s = $1",
		ss.Table, ss.SourceStatus, ss.NextCheckAt, ss.UpdatedAt, ss.ID,
	)
	if _, err := store.pool.Exec(context, query, id, status, nextCheckAt); err != nil {
		return fmt.Errorf("crawl: set status: %w", err)
	}
	return nil
}

// MissingChapterNumbers computes the integer gaps in [1, below) with a
// generate_series anti-join.
func (store *PostgresStore) MissingChapterNumbers(context stdctx.Context, seriesID string, below float64) ([]float64, error) {
	chapter := schema.CoreChapter
	query := fmt.Sprintf(`
		SELECT candidate.number::float8
		FROM generate_series(1, CEIL($2::numeric) - 1) AS candidate(number)
		WHERE NOT EXISTS (
			SELECT 1 FROM %s c
			WHERE c.%s = $1
			  AND c.%s <> '-1'
			  AND c.%s::numeric = candidate.number
			  AND c.%s IS NULL
		)
		ORDER BY candidate.number`,
		chapter.Table,
		chapter.SeriesID,
		chapter.ChapterNumber,
		chapter.ChapterNumber,
		chapter.DeletedAt,
	)

	rows, err := store.pool.Query(context, query, seriesID, below)
	if err != nil {
		return nil, fmt.Errorf("crawl: missing chapters: %w", err)
	}
	defer rows.Close()

	var missing []float64
	for rows.Next() {
		var number float64
		if err := rows.Scan(&number); err != nil {
			return nil, fmt.Errorf("crawl: scan missing chapter: %w", err)
		}
		missing = append(missing, number)
	}
	return missing, rows.Err()
}

/*
RunPriorityMaintenance applies the scheduler's promotion and demotion rules
in three statements.

Description: Sources whose series cleared the follower threshold go HOT.
HOT sources quiet for a day on modest series fall to WARM; WARM sources
quiet for a week fall to COLD.

Parameters:
  - context: context.Context
  - now: time.Time
  - promoteFollows: int (follower threshold for forced HOT)

Returns:
  - MaintenanceResult: affected row counts per rule
  - error: database execution failure
*/
func (store *PostgresStore) RunPriorityMaintenance(context stdctx.Context, now time.Time, promoteFollows int) (MaintenanceResult, error) {
	ss := schema.CrawlerSeriesSource
	series := schema.CoreSeries
	var result MaintenanceResult

	promote := fmt.Sprintf(`
		UPDATE %s ss SET %s = '%s', %s = NOW()
		FROM %s s
		WHERE s.%s = ss.%s
		  AND s.%s IS NULL
		  AND ss.%s <> '%s'
		  AND s.%s > $1`,
		ss.Table, ss.SyncPriority, PriorityHot, ss.UpdatedAt,
		series.Table,
		series.ID, ss.SeriesID,
		series.DeletedAt,
		ss.SyncPriority, PriorityHot,
		series.TotalFollows,
	)
	tag, err := store.pool.Exec(context, promote, promoteFollows)
	if err != nil {
		return result, fmt.Errorf("crawl: promote hot: %w", err)
	}
	result.PromotedHot = tag.RowsAffected()

	demoteWarm := fmt.Sprintf(`
		UPDATE %s ss SET %s = '%s', %s = NOW()
		FROM %s s
		WHERE s.%s = ss.%s
		  AND ss.%s = '%s'
		  AND (ss.%s IS NULL OR ss.%s < $1)
		  AND s.%s <= $2`,
		ss.Table, ss.SyncPriority, PriorityWarm, ss.UpdatedAt,
		series.Table,
		series.ID, ss.SeriesID,
		ss.SyncPriority, PriorityHot,
		ss.LastSuccessAt, ss.LastSuccessAt,
		series.TotalFollows,
	)
	tag, err = store.pool.Exec(context, demoteWarm, now.Add(-24*time.Hour), promoteFollows)
	if err != nil {
		return result, fmt.Errorf("crawl: demote warm: %w", err)
	}
	result.DemotedWarm = tag.RowsAffected()

	demoteCold := fmt.Sprintf(`
		UPDATE %s SET %s = '%s', %s = NOW()
		WHERE %s = '%s'
		  AND (%s IS NULL OR %s < $1)`,
		ss.Table, ss.SyncPriority, PriorityCold, ss.UpdatedAt,
		ss.SyncPriority, PriorityWarm,
		ss.LastSuccessAt, ss.LastSuccessAt,
	)
	tag, err = store.pool.Exec(context, demoteCold, now.Add(-7*24*time.Hour))
	if err != nil {
		return result, fmt.Errorf("crawl: demote cold: %w", err)
	}
	result.DemotedCold = tag.RowsAffected()

	return result, nil
}
