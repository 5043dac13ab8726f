// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package search

import (
	stdctx "context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/crawl"
	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
	"github.com/taibuivan/mangatrack/pkg/slug"
	"github.com/taibuivan/mangatrack/pkg/uuid"
)

// PostgresStore implements [Store] using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the Postgres search store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// RecordSearch bumps the query's lifetime counter.
func (store *PostgresStore) RecordSearch(context stdctx.Context, normalizedKey string, now time.Time) (*Stats, error) {
	stats := schema.SystemQueryStats
	query := fmt.Sprintf(`
		INSERT INTO %s AS qs (%s, %s, %s, %s)
		VALUES ($1, 1, NOW(), NOW())
		ON CONFLICT (%s) DO UPDATE
		SET %s = qs.%s + 1, %s = NOW()
		RETURNING qs.%s, qs.%s, qs.%s`,
		stats.Table, stats.NormalizedKey, stats.TotalSearches, stats.CreatedAt, stats.UpdatedAt,
		stats.NormalizedKey,
		stats.TotalSearches, stats.TotalSearches, stats.UpdatedAt,
		stats.TotalSearches, stats.LastEnqueuedAt, stats.LastDeferredAt,
	)

	loaded := &Stats{NormalizedKey: normalizedKey}
	err := store.pool.QueryRow(context, query, normalizedKey).Scan(
		&loaded.TotalSearches, &loaded.LastEnqueuedAt, &loaded.LastDeferredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("search: record search: %w", err)
	}
	return loaded, nil
}

// MarkEnqueued stamps last_enqueued_at.
func (store *PostgresStore) MarkEnqueued(context stdctx.Context, normalizedKey string, now time.Time) error {
	return store.stamp(context, normalizedKey, schema.SystemQueryStats.LastEnqueuedAt, now)
}

// MarkDeferred stamps last_deferred_at.
func (store *PostgresStore) MarkDeferred(context stdctx.Context, normalizedKey string, now time.Time) error {
	return store.stamp(context, normalizedKey, schema.SystemQueryStats.LastDeferredAt, now)
}

func (store *PostgresStore) stamp(context stdctx.Context, normalizedKey, column string, now time.Time) error {
	stats := schema.SystemQueryStats
	query := fmt.Sprintf(
		"UPDATE %s SET %s = $2, %s = NOW() WHERE %s = $1",
		stats.Table, column, stats.UpdatedAt, stats.NormalizedKey,
	)
	if _, err := store.pool.Exec(context, query, normalizedKey, now); err != nil {
		return fmt.Errorf("search: stamp %s: %w", column, err)
	}
	return nil
}

/*
AttachDiscovery upserts one discovery hit into the catalog.

Description: A listing already known under (source_name, source_id) is
returned untouched. A new listing gets a fresh tier-C series (tier reason
"discovery") and a WARM source scheduled for an immediate first sync, in
one transaction.
*/
func (store *PostgresStore) AttachDiscovery(context stdctx.Context, hit *DiscoveredSeries) (string, bool, error) {
	src := schema.CrawlerSeriesSource
	series := schema.CoreSeries

	transaction, err := store.pool.Begin(context)
	if err != nil {
		return "", false, fmt.Errorf("search: begin attach: %w", err)
	}
	defer transaction.Rollback(context)

	lookup := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND %s = $2",
		src.ID, src.Table, src.SourceName, src.SourceID)

	var existingID string
	err = transaction.QueryRow(context, lookup, hit.SourceName, hit.SourceSeriesID).Scan(&existingID)
	if err == nil {
		return existingID, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("search: lookup listing: %w", err)
	}

	seriesID := uuid.New()
	insertSeries := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, '%s', 'discovery', 0, 0, NULLIF($4, ''), NOW())`,
		series.Table,
		series.ID, series.Title, series.Slug, series.CatalogTier, series.TierReason,
		series.ActivityScore, series.TotalFollows, series.ContentRating, series.CreatedAt,
		crawl.TierC,
	)
	_, err = transaction.Exec(context, insertSeries,
		seriesID, hit.Title, slug.From(hit.Title), hit.ContentRating)
	if err != nil {
		return "", false, fmt.Errorf("search: insert series: %w", err)
	}

	sourceID := uuid.New()
	insertSource := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, '%s', '%s', 0, NOW(), NOW())`,
		src.Table,
		src.ID, src.SeriesID, src.SourceName, src.SourceID, src.SourceURL,
		src.SyncPriority, src.SourceStatus, src.FailureCount, src.NextCheckAt, src.CreatedAt,
		crawl.PriorityWarm, crawl.StatusActive,
	)
	_, err = transaction.Exec(context, insertSource,
		sourceID, seriesID, hit.SourceName, hit.SourceSeriesID, hit.SourceURL)
	if err != nil {
		return "", false, fmt.Errorf("search: insert listing: %w", err)
	}

	if err := transaction.Commit(context); err != nil {
		return "", false, fmt.Errorf("search: commit attach: %w", err)
	}
	return sourceID, true, nil
}
