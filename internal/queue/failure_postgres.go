// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangatrack/internal/platform/database/schema"
	"github.com/taibuivan/mangatrack/pkg/uuid"
)

// PostgresFailureStore persists dead-lettered jobs to system.workerfailure.
type PostgresFailureStore struct {
	pool *pgxpool.Pool
}

// NewPostgresFailureStore constructs the dead-letter repository.
func NewPostgresFailureStore(pool *pgxpool.Pool) *PostgresFailureStore {
	return &PostgresFailureStore{pool: pool}
}

/*
RecordFailure writes the job's terminal failure to the dead-letter table.

Parameters:
  - context: context.Context
  - job: *Job (payload and attempt count are preserved for replay)
  - failure: error (the terminal handler error)

Returns:
  - error: Storage failures
*/
func (store *PostgresFailureStore) RecordFailure(context context.Context, job *Job, failure error) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		schema.SystemWorkerFailure.Table,
		schema.SystemWorkerFailure.ID,
		schema.SystemWorkerFailure.Queue,
		schema.SystemWorkerFailure.JobID,
		schema.SystemWorkerFailure.JobName,
		schema.SystemWorkerFailure.Payload,
		schema.SystemWorkerFailure.Error,
		schema.SystemWorkerFailure.Attempts,
	)

	_, err := store.pool.Exec(context, query,
		uuid.New(),
		job.Queue,
		job.ID,
		job.Name,
		string(job.Payload),
		failure.Error(),
		job.Attempts,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to record worker failure: %w", err)
	}
	return nil
}
