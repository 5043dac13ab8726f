// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package feed

import (
	stdctx "context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
	"github.com/taibuivan/mangatrack/pkg/cursor"
	"github.com/taibuivan/mangatrack/pkg/uuid"
)

// PostgresStore implements [Store] using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the Postgres feed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

/*
ListActivity returns one keyset page of the user's activity feed.

Description: Feed entries of followed series, newest discovery first, with
(first_discovered_at, id) as the keyset. The unread filter keeps only
chapters numerically beyond the library entry's last-read chapter. One extra
row is fetched to decide whether a next-page cursor exists.

Parameters:
  - context: context.Context
  - query: ListQuery

Returns:
  - []Entry: the page (possibly empty)
  - *cursor.Cursor: next-page position, nil when exhausted
  - error: database execution failure
*/
func (store *PostgresStore) ListActivity(context stdctx.Context, query ListQuery) ([]Entry, *cursor.Cursor, error) {
	entry := schema.FeedEntry
	library := schema.LibraryEntry
	series := schema.CoreSeries

	conditions := fmt.Sprintf(`
		le.%s = $1 AND le.%s IS NULL AND s.%s IS NULL`,
		library.UserID, library.DeletedAt, series.DeletedAt,
	)
	args := []any{query.UserID}

	if query.After != nil {
		conditions += fmt.Sprintf(" AND (fe.%s, fe.%s) < ($%d, $%d)",
			entry.FirstDiscoveredAt, entry.ID, len(args)+1, len(args)+2)
		args = append(args, query.After.Time, query.After.ID)
	}
	if query.Filter == FilterUnread {
		conditions += fmt.Sprintf(
			" AND fe.%s <> '-1' AND fe.%s::numeric > COALESCE(le.%s, 0)",
			entry.ChapterNumber, entry.ChapterNumber, library.LastReadChapter,
		)
	}

	args = append(args, query.Limit+1)
	sql := fmt.Sprintf(`
		SELECT fe.%s, fe.%s, s.%s, fe.%s, COALESCE(fe.%s::text, ''),
		       fe.%s, fe.%s, fe.%s,
		       (fe.%s <> '-1' AND fe.%s::numeric > COALESCE(le.%s, 0))
		FROM %s fe
		JOIN %s le ON le.%s = fe.%s
		JOIN %s s ON s.%s = fe.%s
		WHERE %s
		ORDER BY fe.%s DESC, fe.%s DESC
		LIMIT $%d`,
		entry.ID, entry.SeriesID, series.Title, entry.ChapterNumber, entry.LogicalChapterID,
		entry.Sources, entry.FirstDiscoveredAt, entry.LastUpdatedAt,
		entry.ChapterNumber, entry.ChapterNumber, library.LastReadChapter,
		entry.Table,
		library.Table, library.SeriesID, entry.SeriesID,
		series.Table, series.ID, entry.SeriesID,
		conditions,
		entry.FirstDiscoveredAt, entry.ID,
		len(args),
	)

	rows, err := store.pool.Query(context, sql, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("feed: list activity: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var item Entry
		var sourcesJSON []byte
		err := rows.Scan(
			&item.ID, &item.SeriesID, &item.SeriesTitle, &item.ChapterNumber,
			&item.LogicalChapterID, &sourcesJSON, &item.FirstDiscoveredAt,
			&item.LastUpdatedAt, &item.Unread,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("feed: scan entry: %w", err)
		}
		if err := json.Unmarshal(sourcesJSON, &item.Sources); err != nil {
			return nil, nil, fmt.Errorf("feed: decode sources: %w", err)
		}
		entries = append(entries, item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *cursor.Cursor
	if len(entries) > query.Limit {
		entries = entries[:query.Limit]
		last := entries[len(entries)-1]
		next = &cursor.Cursor{Time: last.FirstDiscoveredAt, ID: last.ID}
	}
	return entries, next, nil
}

// AdvanceSeenWatermark moves the feed watermark forward only.
func (store *PostgresStore) AdvanceSeenWatermark(context stdctx.Context, userID string, seenAt time.Time) (time.Time, error) {
	account := schema.UserAccount

	update := fmt.Sprintf(`
		UPDATE %s SET %s = $2, %s = NOW()
		WHERE %s = $1 AND %s IS NULL AND (%s IS NULL OR %s < $2)`,
		account.Table, account.FeedLastSeenAt, account.UpdatedAt,
		account.ID, account.DeletedAt, account.FeedLastSeenAt, account.FeedLastSeenAt,
	)
	if _, err := store.pool.Exec(context, update, userID, seenAt); err != nil {
		return time.Time{}, fmt.Errorf("feed: advance watermark: %w", err)
	}

	var stored *time.Time
	read := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND %s IS NULL",
		account.FeedLastSeenAt, account.Table, account.ID, account.DeletedAt)
	if err := store.pool.QueryRow(context, read, userID).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, apperr.NotFound("user")
		}
		return time.Time{}, fmt.Errorf("feed: read watermark: %w", err)
	}
	if stored == nil {
		return time.Time{}, nil
	}
	return *stored, nil
}

// InsertNotifications writes fan-out rows, silently skipping (user,
// chapter) pairs that already exist.
func (store *PostgresStore) InsertNotifications(context stdctx.Context, notifications []Notification) (int64, error) {
	if len(notifications) == 0 {
		return 0, nil
	}
	notification := schema.FeedNotification

	sql := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (%s, %s) DO NOTHING`,
		notification.Table,
		notification.ID, notification.UserID, notification.SeriesID,
		notification.ChapterID, notification.ChapterNumber, notification.SeriesTitle,
		notification.CreatedAt,
		notification.UserID, notification.ChapterID,
	)

	batch := &pgx.Batch{}
	for _, row := range notifications {
		batch.Queue(sql, uuid.New(), row.UserID, row.SeriesID, row.ChapterID, row.ChapterNumber, row.SeriesTitle)
	}

	results := store.pool.SendBatch(context, batch)
	defer results.Close()

	var created int64
	for range notifications {
		tag, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("feed: insert notification: %w", err)
		}
		created += tag.RowsAffected()
	}
	return created, nil
}

// FollowerIDs lists users with a live library entry on the series.
func (store *PostgresStore) FollowerIDs(context stdctx.Context, seriesID string) ([]string, error) {
	library := schema.LibraryEntry
	sql := fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s WHERE %s = $1 AND %s IS NULL",
		library.UserID, library.Table, library.SeriesID, library.DeletedAt,
	)

	rows, err := store.pool.Query(context, sql, seriesID)
	if err != nil {
		return nil, fmt.Errorf("feed: list followers: %w", err)
	}
	defer rows.Close()

	var followers []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("feed: scan follower: %w", err)
		}
		followers = append(followers, userID)
	}
	return followers, rows.Err()
}

// SeriesTitle resolves the series title for notification rendering.
func (store *PostgresStore) SeriesTitle(context stdctx.Context, seriesID string) (string, error) {
	series := schema.CoreSeries
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		series.Title, series.Table, series.ID)

	var title string
	if err := store.pool.QueryRow(context, sql, seriesID).Scan(&title); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.NotFound("series")
		}
		return "", fmt.Errorf("feed: series title: %w", err)
	}
	return title, nil
}
