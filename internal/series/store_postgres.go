// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import (
	stdctx "context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/crawl"
	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
	"github.com/taibuivan/mangatrack/internal/platform/dberr"
	"github.com/taibuivan/mangatrack/pkg/uuid"
)

// PostgresStore implements [Store] using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the Postgres catalog store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Exists reports whether the series is live.
func (store *PostgresStore) Exists(context stdctx.Context, seriesID string) (bool, error) {
	series := schema.CoreSeries
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s IS NULL)",
		series.Table, series.ID, series.DeletedAt)

	var found bool
	if err := store.pool.QueryRow(context, query, seriesID).Scan(&found); err != nil {
		return false, fmt.Errorf("series: exists: %w", err)
	}
	return found, nil
}

/*
Chapters lists the series' logical chapters with their source groups.

Description: One page of chapters (newest detection first), then a single
pass over crawler.chaptersource for the page's ids, ordered by detection
time so the first source in each group is the one that discovered the
chapter.
*/
func (store *PostgresStore) Chapters(context stdctx.Context, seriesID string, limit, offset int) ([]ChapterGroup, int, error) {
	chapter := schema.CoreChapter

	var total int
	count := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1 AND %s IS NULL",
		chapter.Table, chapter.SeriesID, chapter.DeletedAt)
	if err := store.pool.QueryRow(context, count, seriesID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("series: count chapters: %w", err)
	}

	page := fmt.Sprintf(`
		SELECT %s, %s, %s, COALESCE(%s, ''), %s, %s
		FROM %s
		WHERE %s = $1 AND %s IS NULL
		ORDER BY %s DESC, %s DESC
		LIMIT $2 OFFSET $3`,
		chapter.ID, chapter.ChapterNumber, chapter.ChapterSlug, chapter.ChapterTitle,
		chapter.PublishedAt, chapter.FirstDetectedAt,
		chapter.Table,
		chapter.SeriesID, chapter.DeletedAt,
		chapter.FirstDetectedAt, chapter.ID,
	)
	rows, err := store.pool.Query(context, page, seriesID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("series: list chapters: %w", err)
	}
	defer rows.Close()

	groups := make([]ChapterGroup, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var group ChapterGroup
		if err := rows.Scan(&group.ID, &group.Number, &group.Slug, &group.Title,
			&group.PublishedAt, &group.FirstDetectedAt); err != nil {
			return nil, 0, fmt.Errorf("series: scan chapter: %w", err)
		}
		group.Sources = []SourceRef{}
		groups = append(groups, group)
		ids = append(ids, group.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("series: iterate chapters: %w", err)
	}
	if len(ids) == 0 {
		return groups, total, nil
	}

	if err := store.fillSources(context, groups, ids); err != nil {
		return nil, 0, err
	}
	return groups, total, nil
}

// fillSources loads the availability records for one page of chapters.
func (store *PostgresStore) fillSources(context stdctx.Context, groups []ChapterGroup, ids []string) error {
	cs := schema.CrawlerChapterSource
	query := fmt.Sprintf(`
		SELECT %s, %s, COALESCE(%s, ''), %s, %s
		FROM %s
		WHERE %s = ANY($1)
		ORDER BY %s ASC`,
		cs.ChapterID, cs.SourceName, cs.SourceChapterURL, cs.DetectedAt, cs.IsAvailable,
		cs.Table,
		cs.ChapterID,
		cs.DetectedAt,
	)

	rows, err := store.pool.Query(context, query, ids)
	if err != nil {
		return fmt.Errorf("series: list chapter sources: %w", err)
	}
	defer rows.Close()

	byChapter := make(map[string]int, len(groups))
	for index, group := range groups {
		byChapter[group.ID] = index
	}

	for rows.Next() {
		var chapterID string
		var ref SourceRef
		if err := rows.Scan(&chapterID, &ref.SourceName, &ref.URL, &ref.DetectedAt, &ref.IsAvailable); err != nil {
			return fmt.Errorf("series: scan chapter source: %w", err)
		}
		if index, found := byChapter[chapterID]; found {
			groups[index].Sources = append(groups[index].Sources, ref)
		}
	}
	return rows.Err()
}

// AttachSource inserts a new source listing for the series.
func (store *PostgresStore) AttachSource(context stdctx.Context, seriesID string, input AttachInput) (string, error) {
	exists, err := store.Exists(context, seriesID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", apperr.NotFound("Series")
	}

	src := schema.CrawlerSeriesSource
	insert := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, '%s', '%s', 0, NOW(), NOW())`,
		src.Table,
		src.ID, src.SeriesID, src.SourceName, src.SourceID, src.SourceURL,
		src.SyncPriority, src.SourceStatus, src.FailureCount, src.NextCheckAt, src.CreatedAt,
		crawl.PriorityWarm, crawl.StatusActive,
	)

	sourceID := uuid.New()
	_, err = store.pool.Exec(context, insert,
		sourceID, seriesID, input.SourceName, input.SourceID, input.SourceURL)
	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return "", apperr.Conflict("Source is already attached to a series")
		}
		return "", fmt.Errorf("series: attach source: %w", err)
	}
	return sourceID, nil
}

// summaryColumns is the shared projection for catalog listings.
func summaryColumns() string {
	series := schema.CoreSeries
	return fmt.Sprintf("%s, %s, %s, %s, %s, %s, %s, COALESCE(%s, '')",
		series.ID, series.Title, series.Slug, series.CatalogTier,
		series.ActivityScore, series.TotalFollows, series.LastChapterAt, series.ContentRating)
}

func scanSummaries(rows pgx.Rows) ([]Summary, error) {
	defer rows.Close()
	summaries := []Summary{}
	for rows.Next() {
		var summary Summary
		if err := rows.Scan(&summary.ID, &summary.Title, &summary.Slug, &summary.CatalogTier,
			&summary.ActivityScore, &summary.TotalFollows, &summary.LastChapterAt,
			&summary.ContentRating); err != nil {
			return nil, fmt.Errorf("series: scan summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// Search matches live series by title, most followed first.
func (store *PostgresStore) Search(context stdctx.Context, query string, limit, offset int) ([]Summary, int, error) {
	series := schema.CoreSeries
	pattern := "%" + query + "%"

	var total int
	count := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s ILIKE $1 AND %s IS NULL",
		series.Table, series.Title, series.DeletedAt)
	if err := store.pool.QueryRow(context, count, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("series: count search: %w", err)
	}

	page := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s ILIKE $1 AND %s IS NULL
		ORDER BY %s DESC, %s ASC
		LIMIT $2 OFFSET $3`,
		summaryColumns(), series.Table,
		series.Title, series.DeletedAt,
		series.TotalFollows, series.Title,
	)
	rows, err := store.pool.Query(context, page, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("series: search: %w", err)
	}
	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

// Discover lists series with the freshest chapters.
func (store *PostgresStore) Discover(context stdctx.Context, limit int) ([]Summary, error) {
	series := schema.CoreSeries
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s IS NULL AND %s IS NOT NULL
		ORDER BY %s DESC
		LIMIT $1`,
		summaryColumns(), series.Table,
		series.DeletedAt, series.LastChapterAt,
		series.LastChapterAt,
	)
	rows, err := store.pool.Query(context, query, limit)
	if err != nil {
		return nil, fmt.Errorf("series: discover: %w", err)
	}
	return scanSummaries(rows)
}

// Trending ranks live series by activity score.
func (store *PostgresStore) Trending(context stdctx.Context, limit int) ([]Summary, error) {
	series := schema.CoreSeries
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s IS NULL AND %s > 0
		ORDER BY %s DESC, %s DESC
		LIMIT $1`,
		summaryColumns(), series.Table,
		series.DeletedAt, series.ActivityScore,
		series.ActivityScore, series.TotalFollows,
	)
	rows, err := store.pool.Query(context, query, limit)
	if err != nil {
		return nil, fmt.Errorf("series: trending: %w", err)
	}
	return scanSummaries(rows)
}
