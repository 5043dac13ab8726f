// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package progress

import (
	stdctx "context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/ingest"
	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
)

// numericChapterPattern filters chapter-number strings castable to
// numeric; the "-1" sentinel and malformed keys fall outside it.
const numericChapterPattern = `^[0-9]+(\.[0-9]+)?$`

// PostgresStore implements [Store] using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the Postgres progress store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Entry loads the progress-relevant slice of a library entry.
func (store *PostgresStore) Entry(context stdctx.Context, userID, entryID string) (*Entry, error) {
	entry := schema.LibraryEntry
	query := fmt.Sprintf(`
		SELECT %s, %s, COALESCE(%s::text, ''), %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s = $2 AND %s IS NULL`,
		entry.ID, entry.UserID, entry.SeriesID, entry.Status,
		entry.LastReadChapter, entry.LastReadAt, entry.SeriesCompletionXPGranted,
		entry.Table,
		entry.ID, entry.UserID, entry.DeletedAt,
	)

	var loaded Entry
	err := store.pool.QueryRow(context, query, entryID, userID).Scan(
		&loaded.ID, &loaded.UserID, &loaded.SeriesID, &loaded.Status,
		&loaded.LastReadChapter, &loaded.LastReadAt, &loaded.CompletionXP,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Library entry")
		}
		return nil, fmt.Errorf("progress: load entry: %w", err)
	}
	return &loaded, nil
}

// ChapterNumberBySlug resolves a slug to its numeric chapter value.
func (store *PostgresStore) ChapterNumberBySlug(context stdctx.Context, seriesID, slug string) (float64, bool, error) {
	chapter := schema.CoreChapter
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1 AND %s = $2 AND %s IS NULL",
		chapter.ChapterNumber, chapter.Table,
		chapter.SeriesID, chapter.ChapterSlug, chapter.DeletedAt,
	)

	var numberKey string
	if err := store.pool.QueryRow(context, query, seriesID, slug).Scan(&numberKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("progress: chapter by slug: %w", err)
	}
	if numberKey == ingest.NoNumberKey {
		return 0, false, nil
	}

	number, err := strconv.ParseFloat(numberKey, 64)
	if err != nil {
		return 0, false, nil
	}
	return number, true, nil
}

// ChapterID resolves a canonical number string to the logical chapter.
func (store *PostgresStore) ChapterID(context stdctx.Context, seriesID, numberKey string) (string, bool, error) {
	chapter := schema.CoreChapter
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1 AND %s = $2 AND %s IS NULL",
		chapter.ID, chapter.Table,
		chapter.SeriesID, chapter.ChapterNumber, chapter.DeletedAt,
	)

	var chapterID string
	if err := store.pool.QueryRow(context, query, seriesID, numberKey).Scan(&chapterID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("progress: chapter by number: %w", err)
	}
	return chapterID, true, nil
}

// IsRead reports whether the user has a live read record for the chapter.
func (store *PostgresStore) IsRead(context stdctx.Context, userID, chapterID string) (bool, error) {
	read := schema.LibraryChapterRead
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1 AND %s = $2",
		read.IsRead, read.Table, read.UserID, read.ChapterID,
	)

	var isRead bool
	if err := store.pool.QueryRow(context, query, userID, chapterID).Scan(&isRead); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("progress: read lookup: %w", err)
	}
	return isRead, nil
}

/*
BulkMarkRead upserts read records for chapters 1..target of a series.

Description: One INSERT .. SELECT covers the whole range; the chapter
number comparison is numeric, so "10.5" sits between 10 and 11 and the
"-1" sentinel never matches. Conflicts resolve last-writer-wins on
updated_at: a stale device replaying an old sync cannot unmark fresher
reads.
*/
func (store *PostgresStore) BulkMarkRead(context stdctx.Context, userID, seriesID string, target float64, stamp ReadStamp) (int64, error) {
	read := schema.LibraryChapterRead
	chapter := schema.CoreChapter

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s)
		SELECT $1, c.%s, TRUE, $3, $3, NULLIF($4, ''), NULLIF($5, '')
		FROM %s c
		WHERE c.%s = $2
		  AND c.%s IS NULL
		  AND c.%s ~ '%s'
		  AND c.%s::numeric BETWEEN 1 AND $6
		ON CONFLICT (%s, %s) DO UPDATE SET
			%s = TRUE,
			%s = EXCLUDED.%s,
			%s = EXCLUDED.%s,
			%s = EXCLUDED.%s,
			%s = EXCLUDED.%s
		WHERE %s.%s <= EXCLUDED.%s`,
		read.Table,
		read.UserID, read.ChapterID, read.IsRead, read.ReadAt, read.UpdatedAt, read.DeviceID, read.SourceUsedID,
		chapter.ID,
		chapter.Table,
		chapter.SeriesID,
		chapter.DeletedAt,
		chapter.ChapterNumber, numericChapterPattern,
		chapter.ChapterNumber,
		read.UserID, read.ChapterID,
		read.IsRead,
		read.ReadAt, read.ReadAt,
		read.UpdatedAt, read.UpdatedAt,
		read.DeviceID, read.DeviceID,
		read.SourceUsedID, read.SourceUsedID,
		read.Table, read.UpdatedAt, read.UpdatedAt,
	)

	tag, err := store.pool.Exec(context, query,
		userID, seriesID, stamp.At, stamp.DeviceID, stamp.SourceUsedID, target,
	)
	if err != nil {
		return 0, fmt.Errorf("progress: bulk mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AdvanceEntry moves the entry's read position forward; the guard keeps
// the column monotone under concurrent updates.
func (store *PostgresStore) AdvanceEntry(context stdctx.Context, userID, entryID string, target float64, readAt time.Time) (bool, error) {
	entry := schema.LibraryEntry
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = $3,
			%s = $4,
			%s = NOW()
		WHERE %s = $1 AND %s = $2 AND %s IS NULL AND %s < $3`,
		entry.Table,
		entry.LastReadChapter,
		entry.LastReadAt,
		entry.UpdatedAt,
		entry.ID, entry.UserID, entry.DeletedAt, entry.LastReadChapter,
	)

	tag, err := store.pool.Exec(context, query, entryID, userID, target, readAt)
	if err != nil {
		return false, fmt.Errorf("progress: advance entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

/*
AwardReadXP grants base XP plus the streak bonus in one transaction.

Description: The account row is locked, streak bookkeeping runs against
the previous last_read_at (same UTC day keeps the streak, the day after
extends it, anything else restarts at one), the bonus lands on top of the
base, season XP rolls over with a one-tenth carry when the quarter
changed, and chapters_read mirrors the award. The denormalized counter is
reconciled nightly against library.chapterread.
*/
func (store *PostgresStore) AwardReadXP(context stdctx.Context, userID string, base int, readAt time.Time) (*Award, error) {
	return store.applyXP(context, userID, base, readAt, true)
}

// AddXP grants a flat amount without streak or read-counter effects.
func (store *PostgresStore) AddXP(context stdctx.Context, userID string, amount int, at time.Time) (*Award, error) {
	return store.applyXP(context, userID, amount, at, false)
}

func (store *PostgresStore) applyXP(context stdctx.Context, userID string, base int, at time.Time, touchStreak bool) (*Award, error) {
	account := schema.UserAccount

	transaction, err := store.pool.Begin(context)
	if err != nil {
		return nil, fmt.Errorf("progress: begin award: %w", err)
	}
	defer transaction.Rollback(context)

	lock := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s IS NULL
		FOR UPDATE`,
		account.XP, account.SeasonXP, account.CurrentSeason,
		account.StreakDays, account.LongestStreak, account.LastReadAt,
		account.Table,
		account.ID, account.DeletedAt,
	)

	var (
		xp, seasonXP, streakDays, longestStreak int
		currentSeason                           string
		lastReadAt                              *time.Time
	)
	err = transaction.QueryRow(context, lock, userID).Scan(
		&xp, &seasonXP, &currentSeason, &streakDays, &longestStreak, &lastReadAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("progress: lock account: %w", err)
	}

	amount := base
	if touchStreak {
		streakDays = nextStreak(lastReadAt, at, streakDays)
		if streakDays > longestStreak {
			longestStreak = streakDays
		}
		amount += streakBonus(streakDays)
	}

	season := seasonFor(at)
	if season != currentSeason {
		seasonXP = seasonXP / seasonCarryoverDivisor
		currentSeason = season
	}

	xp += amount
	seasonXP += amount
	level := levelFor(xp)

	readIncrement := 0
	readStamp := lastReadAt
	if touchStreak {
		readIncrement = 1
		readStamp = &at
	}

	update := fmt.Sprintf(`
		UPDATE %s SET
			%s = $2, %s = $3, %s = $4, %s = $5, %s = $6, %s = $7,
			%s = %s + $8,
			%s = COALESCE($9, %s),
			%s = NOW()
		WHERE %s = $1`,
		account.Table,
		account.XP, account.Level, account.SeasonXP, account.CurrentSeason,
		account.StreakDays, account.LongestStreak,
		account.ChaptersRead, account.ChaptersRead,
		account.LastReadAt, account.LastReadAt,
		account.UpdatedAt,
		account.ID,
	)
	_, err = transaction.Exec(context, update,
		userID, xp, level, seasonXP, currentSeason, streakDays, longestStreak,
		readIncrement, readStamp,
	)
	if err != nil {
		return nil, fmt.Errorf("progress: apply award: %w", err)
	}

	if err := transaction.Commit(context); err != nil {
		return nil, fmt.Errorf("progress: commit award: %w", err)
	}

	return &Award{
		Amount:     amount,
		TotalXP:    xp,
		SeasonXP:   seasonXP,
		Level:      level,
		StreakDays: streakDays,
	}, nil
}

// GrantCompletionFlag flips the one-way completion flag.
func (store *PostgresStore) GrantCompletionFlag(context stdctx.Context, userID, entryID string) (bool, string, error) {
	entry := schema.LibraryEntry
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = TRUE,
			%s = NOW()
		WHERE %s = $1 AND %s = $2 AND %s IS NULL AND %s = FALSE
		RETURNING COALESCE(%s::text, '')`,
		entry.Table,
		entry.SeriesCompletionXPGranted,
		entry.UpdatedAt,
		entry.ID, entry.UserID, entry.DeletedAt, entry.SeriesCompletionXPGranted,
		entry.SeriesID,
	)

	var seriesID string
	if err := store.pool.QueryRow(context, query, entryID, userID).Scan(&seriesID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("progress: grant completion flag: %w", err)
	}
	return true, seriesID, nil
}

// nextStreak applies the daily streak rules in UTC.
func nextStreak(lastReadAt *time.Time, at time.Time, current int) int {
	if lastReadAt == nil {
		return 1
	}
	today := at.UTC().Truncate(24 * time.Hour)
	previous := lastReadAt.UTC().Truncate(24 * time.Hour)

	switch today.Sub(previous) {
	case 0:
		if current < 1 {
			return 1
		}
		return current
	case 24 * time.Hour:
		return current + 1
	default:
		return 1
	}
}
