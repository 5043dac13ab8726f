// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ingest

import (
	stdctx "context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
	"github.com/taibuivan/mangatrack/pkg/uuid"
)

// PostgresStore implements [Store] using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the Postgres ingest store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

/*
UpsertChapter inserts or refreshes a logical chapter.

Description: Keyed on (seriesid, chapternumber). On conflict the title and
published_at are refreshed when the incoming values are non-empty, but
firstdetectedat never moves. A soft-deleted row is revived: the source
still lists the chapter, and leaving deletedat set would make gap
detection re-enqueue recovery for it forever. xmax = 0 distinguishes
insert from update.

Parameters:
  - context: context.Context
  - chapter: *Chapter

Returns:
  - string: the chapter id (existing or new)
  - bool: true when a new row was created
  - error: database execution failure
*/
func (store *PostgresStore) UpsertChapter(context stdctx.Context, chapter *Chapter) (string, bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (%s, %s) DO UPDATE SET
			%s = COALESCE(NULLIF(EXCLUDED.%s, ''), %s.%s),
			%s = COALESCE(EXCLUDED.%s, %s.%s),
			%s = NULL,
			%s = NOW()
		RETURNING %s, (xmax = 0)`,
		schema.CoreChapter.Table,
		schema.CoreChapter.ID, schema.CoreChapter.SeriesID, schema.CoreChapter.ChapterNumber,
		schema.CoreChapter.ChapterSlug, schema.CoreChapter.ChapterTitle, schema.CoreChapter.PublishedAt,
		schema.CoreChapter.FirstDetectedAt, schema.CoreChapter.CreatedAt, schema.CoreChapter.UpdatedAt,
		schema.CoreChapter.SeriesID, schema.CoreChapter.ChapterNumber,
		schema.CoreChapter.ChapterTitle, schema.CoreChapter.ChapterTitle, schema.CoreChapter.Table, schema.CoreChapter.ChapterTitle,
		schema.CoreChapter.PublishedAt, schema.CoreChapter.PublishedAt, schema.CoreChapter.Table, schema.CoreChapter.PublishedAt,
		schema.CoreChapter.DeletedAt,
		schema.CoreChapter.UpdatedAt,
		schema.CoreChapter.ID,
	)

	var id string
	var created bool
	err := store.pool.QueryRow(context, query,
		uuid.New(), chapter.SeriesID, chapter.Number, chapter.Slug,
		chapter.Title, chapter.PublishedAt, chapter.FirstDetectedAt,
	).Scan(&id, &created)
	if err != nil {
		return "", false, fmt.Errorf("ingest: upsert chapter: %w", err)
	}
	return id, created, nil
}

// HasChapter reports whether the series has a live chapter with the number.
func (store *PostgresStore) HasChapter(context stdctx.Context, seriesID, number string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s
			WHERE %s = $1 AND %s = $2 AND %s IS NULL
		)`,
		schema.CoreChapter.Table,
		schema.CoreChapter.SeriesID, schema.CoreChapter.ChapterNumber, schema.CoreChapter.DeletedAt,
	)

	var exists bool
	if err := store.pool.QueryRow(context, query, seriesID, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("ingest: has chapter: %w", err)
	}
	return exists, nil
}

// EarliestDetectedAfter finds the backfill anchor for gap recovery: the
// smallest firstdetectedat among chapters numerically above number.
func (store *PostgresStore) EarliestDetectedAfter(context stdctx.Context, seriesID string, number float64) (*time.Time, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s = $1
		  AND %s <> '%s'
		  AND %s::numeric > $2
		  AND %s IS NULL
		ORDER BY %s::numeric ASC
		LIMIT 1`,
		schema.CoreChapter.FirstDetectedAt, schema.CoreChapter.Table,
		schema.CoreChapter.SeriesID,
		schema.CoreChapter.ChapterNumber, NoNumberKey,
		schema.CoreChapter.ChapterNumber,
		schema.CoreChapter.DeletedAt,
		schema.CoreChapter.ChapterNumber,
	)

	var detectedAt time.Time
	err := store.pool.QueryRow(context, query, seriesID, number).Scan(&detectedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ingest: earliest detected after: %w", err)
	}
	return &detectedAt, nil
}

// UpsertChapterSource links the source listing to the logical chapter,
// keyed on (seriessourceid, chapterid).
func (store *PostgresStore) UpsertChapterSource(context stdctx.Context, link *ChapterSourceLink) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, NOW(), NOW())
		ON CONFLICT (%s, %s) DO UPDATE SET
			%s = TRUE,
			%s = NOW()
		RETURNING (xmax = 0)`,
		schema.CrawlerChapterSource.Table,
		schema.CrawlerChapterSource.ID, schema.CrawlerChapterSource.ChapterID,
		schema.CrawlerChapterSource.SeriesSourceID, schema.CrawlerChapterSource.SourceName,
		schema.CrawlerChapterSource.SourceChapterURL, schema.CrawlerChapterSource.SourceChapterID,
		schema.CrawlerChapterSource.SourcePublishedAt, schema.CrawlerChapterSource.DetectedAt,
		schema.CrawlerChapterSource.IsAvailable, schema.CrawlerChapterSource.CreatedAt,
		schema.CrawlerChapterSource.UpdatedAt,
		schema.CrawlerChapterSource.SeriesSourceID, schema.CrawlerChapterSource.ChapterID,
		schema.CrawlerChapterSource.IsAvailable,
		schema.CrawlerChapterSource.UpdatedAt,
	)

	var created bool
	err := store.pool.QueryRow(context, query,
		uuid.New(), link.ChapterID, link.SeriesSourceID, link.SourceName,
		link.URL, link.SourceChapterID, link.PublishedAt, link.DetectedAt,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("ingest: upsert chapter source: %w", err)
	}
	return created, nil
}

// MarkSourceHot promotes the source after a fresh chapter: HOT priority,
// +1 chapter count, near-term recheck.
func (store *PostgresStore) MarkSourceHot(context stdctx.Context, seriesSourceID string, nextCheckAt time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = 'HOT',
			%s = %s + 1,
			%s = LEAST(COALESCE(%s, $2), $2),
			%s = NOW()
		WHERE %s = $1`,
		schema.CrawlerSeriesSource.Table,
		schema.CrawlerSeriesSource.SyncPriority,
		schema.CrawlerSeriesSource.SourceChapterCount, schema.CrawlerSeriesSource.SourceChapterCount,
		schema.CrawlerSeriesSource.NextCheckAt, schema.CrawlerSeriesSource.NextCheckAt,
		schema.CrawlerSeriesSource.UpdatedAt,
		schema.CrawlerSeriesSource.ID,
	)

	if _, err := store.pool.Exec(context, query, seriesSourceID, nextCheckAt); err != nil {
		return fmt.Errorf("ingest: mark source hot: %w", err)
	}
	return nil
}

// AdvanceSeriesLastChapter moves the series' last-chapter timestamp forward
// only; replays and out-of-order sources cannot regress it.
func (store *PostgresStore) AdvanceSeriesLastChapter(context stdctx.Context, seriesID string, publishedAt time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = $2,
			%s = NOW()
		WHERE %s = $1 AND (%s IS NULL OR %s < $2)`,
		schema.CoreSeries.Table,
		schema.CoreSeries.LastChapterAt,
		schema.CoreSeries.UpdatedAt,
		schema.CoreSeries.ID, schema.CoreSeries.LastChapterAt, schema.CoreSeries.LastChapterAt,
	)

	if _, err := store.pool.Exec(context, query, seriesID, publishedAt); err != nil {
		return fmt.Errorf("ingest: advance last chapter: %w", err)
	}
	return nil
}

/*
UpsertFeedEntry creates or extends the public feed entry for a discovery.

Description: Keyed on (seriesid, chapternumber). On create the entry gets one
source and firstdiscoveredat = DiscoveredAt. On conflict the source is
appended only when its name is not already attributed, lastupdatedat is
refreshed, and logicalchapterid is backfilled if unset; firstdiscoveredat is
never touched.

Parameters:
  - context: context.Context
  - upsert: FeedEntryUpsert

Returns:
  - error: database execution failure
*/
func (store *PostgresStore) UpsertFeedEntry(context stdctx.Context, upsert FeedEntryUpsert) error {
	sourceJSON, err := json.Marshal(upsert.Source)
	if err != nil {
		return fmt.Errorf("ingest: marshal feed source: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, jsonb_build_array($5::jsonb), $6, $6, NOW())
		ON CONFLICT (%s, %s) DO UPDATE SET
			%s = CASE
				WHEN EXISTS (
					SELECT 1 FROM jsonb_array_elements(%s.%s) elem
					WHERE elem->>'name' = $7
				) THEN %s.%s
				ELSE %s.%s || $5::jsonb
			END,
			%s = COALESCE(%s.%s, EXCLUDED.%s),
			%s = $6`,
		schema.FeedEntry.Table,
		schema.FeedEntry.ID, schema.FeedEntry.SeriesID, schema.FeedEntry.ChapterNumber,
		schema.FeedEntry.LogicalChapterID, schema.FeedEntry.Sources,
		schema.FeedEntry.FirstDiscoveredAt, schema.FeedEntry.LastUpdatedAt, schema.FeedEntry.CreatedAt,
		schema.FeedEntry.SeriesID, schema.FeedEntry.ChapterNumber,
		schema.FeedEntry.Sources,
		schema.FeedEntry.Table, schema.FeedEntry.Sources,
		schema.FeedEntry.Table, schema.FeedEntry.Sources,
		schema.FeedEntry.Table, schema.FeedEntry.Sources,
		schema.FeedEntry.LogicalChapterID, schema.FeedEntry.Table, schema.FeedEntry.LogicalChapterID, schema.FeedEntry.LogicalChapterID,
		schema.FeedEntry.LastUpdatedAt,
	)

	_, err = store.pool.Exec(context, query,
		uuid.New(), upsert.SeriesID, upsert.ChapterNumber, upsert.LogicalChapterID,
		string(sourceJSON), upsert.DiscoveredAt, upsert.Source.Name,
	)
	if err != nil {
		return fmt.Errorf("ingest: upsert feed entry: %w", err)
	}
	return nil
}

// FollowerIDs lists users with a live library entry on the series.
func (store *PostgresStore) FollowerIDs(context stdctx.Context, seriesID string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT %s FROM %s
		WHERE %s = $1 AND %s IS NULL`,
		schema.LibraryEntry.UserID, schema.LibraryEntry.Table,
		schema.LibraryEntry.SeriesID, schema.LibraryEntry.DeletedAt,
	)

	rows, err := store.pool.Query(context, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("ingest: list followers: %w", err)
	}
	defer rows.Close()

	var followers []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("ingest: scan follower: %w", err)
		}
		followers = append(followers, userID)
	}
	return followers, rows.Err()
}
