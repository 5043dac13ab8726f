// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package trust

import (
	stdctx "context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
)

// PostgresStore implements [Store] using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the Postgres trust store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// AdjustTrustScore applies a clamped delta to the account's trust score.
func (store *PostgresStore) AdjustTrustScore(context stdctx.Context, userID string, delta float64) (float64, error) {
	account := schema.UserAccount
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = LEAST(1.0, GREATEST(0.0, %s + $2)),
			%s = NOW()
		WHERE %s = $1 AND %s IS NULL
		RETURNING %s`,
		account.Table,
		account.TrustScore, account.TrustScore,
		account.UpdatedAt,
		account.ID, account.DeletedAt,
		account.TrustScore,
	)

	var score float64
	if err := store.pool.QueryRow(context, query, userID, delta).Scan(&score); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("trust: adjust score: unknown user %s", userID)
		}
		return 0, fmt.Errorf("trust: adjust score: %w", err)
	}
	return score, nil
}

// RestoreTrustScores is the periodic forgiveness pass: every active
// account above the floor creeps back toward full trust.
func (store *PostgresStore) RestoreTrustScores(context stdctx.Context, step, floor float64) (int64, error) {
	account := schema.UserAccount
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = LEAST(1.0, %s + $1),
			%s = NOW()
		WHERE %s IS NULL
		  AND %s > $2
		  AND %s < 1.0`,
		account.Table,
		account.TrustScore, account.TrustScore,
		account.UpdatedAt,
		account.DeletedAt,
		account.TrustScore,
		account.TrustScore,
	)

	tag, err := store.pool.Exec(context, query, step, floor)
	if err != nil {
		return 0, fmt.Errorf("trust: restore scores: %w", err)
	}
	return tag.RowsAffected(), nil
}
