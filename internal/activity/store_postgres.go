// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package activity

import (
	stdctx "context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
	"github.com/taibuivan/mangatrack/pkg/uuid"
)

// scoreHalfLifeDays controls the event-score decay: an event loses half
// its weight every 30 days.
const scoreHalfLifeDays = 30

// scoreWindowDays bounds the aggregation; events older than this are
// negligible under the half-life and skipped entirely.
const scoreWindowDays = 180

// PostgresStore implements [Store] using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the Postgres activity store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// AppendEvent writes one append-only event row.
func (store *PostgresStore) AppendEvent(context stdctx.Context, event *Event) error {
	ae := schema.SystemActivityEvent
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, NOW())`,
		ae.Table,
		ae.ID, ae.SeriesID, ae.ChapterID, ae.UserID, ae.SourceName,
		ae.EventType, ae.Weight, ae.CreatedAt,
	)

	_, err := store.pool.Exec(context, query,
		uuid.New(), event.SeriesID, event.ChapterID, event.UserID,
		event.SourceName, event.EventType, event.Weight,
	)
	if err != nil {
		return fmt.Errorf("activity: append event: %w", err)
	}
	return nil
}

/*
RefreshScore recomputes the series' activity score.

Description: The score is the half-life-decayed sum of event weights over
the recent window; it is written back together with last_activity_at so the
tier maintainer sees fresh signals.

Parameters:
  - context: context.Context
  - seriesID: string
  - now: time.Time

Returns:
  - float64: the recomputed score
  - error: database execution failure
*/
func (store *PostgresStore) RefreshScore(context stdctx.Context, seriesID string, now time.Time) (float64, error) {
	ae := schema.SystemActivityEvent
	series := schema.CoreSeries

	query := fmt.Sprintf(`
		WITH decayed AS (
			SELECT COALESCE(SUM(
				%s * POWER(0.5, EXTRACT(EPOCH FROM ($2 - %s)) / 86400.0 / %d)
			), 0) AS score
			FROM %s
			WHERE %s = $1 AND %s > $2 - INTERVAL '%d days'
		)
		UPDATE %s SET
			%s = decayed.score,
			%s = $2,
			%s = NOW()
		FROM decayed
		WHERE %s = $1
		RETURNING %s.%s`,
		ae.Weight, ae.CreatedAt, scoreHalfLifeDays,
		ae.Table,
		ae.SeriesID, ae.CreatedAt, scoreWindowDays,
		series.Table,
		series.ActivityScore,
		series.LastActivityAt,
		series.UpdatedAt,
		series.ID,
		series.Table, series.ActivityScore,
	)

	var score float64
	if err := store.pool.QueryRow(context, query, seriesID, now).Scan(&score); err != nil {
		return 0, fmt.Errorf("activity: refresh score: %w", err)
	}
	return score, nil
}

/*
ApplyTierRules reevaluates catalog tiers across the live catalog.

Description: First the weekly decay lands on series quiet for over a week
(the updated_at guard keeps it to one decay per quiet week). Then every
series gets the tier its predicates deserve; seeded series (tier_reason =
'seed') never leave A, and non-seeded series silent beyond the hard window
cap out at B regardless of score.

Parameters:
  - context: context.Context
  - now: time.Time

Returns:
  - int64: number of series whose tier changed
  - error: database execution failure
*/
func (store *PostgresStore) ApplyTierRules(context stdctx.Context, now time.Time) (int64, error) {
	series := schema.CoreSeries

	decay := fmt.Sprintf(`
		UPDATE %s SET
			%s = GREATEST(0, %s - %d),
			%s = NOW()
		WHERE %s IS NULL
		  AND %s < $1
		  AND %s < $1`,
		series.Table,
		series.ActivityScore, series.ActivityScore, weeklyDecay,
		series.UpdatedAt,
		series.DeletedAt,
		series.LastActivityAt,
		series.UpdatedAt,
	)
	if _, err := store.pool.Exec(context, decay, now.Add(-7*24*time.Hour)); err != nil {
		return 0, fmt.Errorf("activity: weekly decay: %w", err)
	}

	retier := fmt.Sprintf(`
		UPDATE %s SET
			%s = computed.tier,
			%s = NOW()
		FROM (
			SELECT %s AS id,
				CASE
					WHEN %s = 'seed' THEN 'A'
					WHEN %s < $1 AND %s <> 'seed' THEN
						CASE WHEN %s >= %d OR %s >= %d THEN 'B' ELSE 'C' END
					WHEN %s > $2 OR %s >= %d OR %s >= %d THEN 'A'
					WHEN %s >= %d OR %s >= %d THEN 'B'
					ELSE 'C'
				END AS tier
			FROM %s
			WHERE %s IS NULL
		) computed
		WHERE %s.%s = computed.id
		  AND %s.%s <> computed.tier`,
		series.Table,
		series.CatalogTier,
		series.UpdatedAt,
		series.ID,
		series.TierReason,
		series.LastActivityAt, series.TierReason,
		series.ActivityScore, TierBScore, series.TotalFollows, TierBReaders,
		series.LastChapterAt, series.ActivityScore, TierAScore, series.TotalFollows, TierAReaders,
		series.ActivityScore, TierBScore, series.TotalFollows, TierBReaders,
		series.Table,
		series.DeletedAt,
		series.Table, series.ID,
		series.Table, series.CatalogTier,
	)

	tag, err := store.pool.Exec(context, retier,
		now.Add(-hardDemotionDays*24*time.Hour),
		now.Add(-TierAChapterDays*24*time.Hour),
	)
	if err != nil {
		return 0, fmt.Errorf("activity: retier: %w", err)
	}
	return tag.RowsAffected(), nil
}
