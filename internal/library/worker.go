// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package library

import (
	stdctx "context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/queue"
)

// # Background Workers

// Worker handles the library-import and metadata-resolve queues.
type Worker struct {
	store  Store
	queues *queue.Manager
	log    *slog.Logger
}

// NewWorker wires the library worker.
func NewWorker(store Store, queues *queue.Manager, log *slog.Logger) *Worker {
	return &Worker{store: store, queues: queues, log: log}
}

/*
HandleImport processes one queued bulk import.

Description: Rows fail individually. Each row is upserted as a library
entry; a URL that resolves to a known crawl source links immediately,
anything else lands pending and gets a metadata-resolve job. A duplicate
(the user added the series while the job waited) counts as skipped. The
job row is stamped after every row so a crash mid-import leaves honest
progress counters; the cleanup sweep times out whatever never finishes.

Returns:
  - error: nil even when rows failed; only a missing job row or a
    malformed payload dead-letters
*/
func (worker *Worker) HandleImport(context stdctx.Context, job *queue.Job) error {
	var payload ImportPayload
	if err := queue.Unmarshal(job, &payload); err != nil {
		return err
	}

	record, err := worker.store.ImportJob(context, payload.ImportJobID)
	if err != nil {
		if apperr.As(err) != nil {
			return queue.Permanent(fmt.Errorf("library: import job %s: %w", payload.ImportJobID, err))
		}
		return err
	}
	record.Status = ImportProcessing
	if err := worker.store.UpdateImportJob(context, record); err != nil {
		return err
	}

	for _, item := range payload.Entries {
		if err := context.Err(); err != nil {
			return err
		}
		switch worker.importRow(context, payload.UserID, payload.Source, item) {
		case rowImported:
			record.Processed++
		case rowSkipped:
			record.Skipped++
		case rowFailed:
			record.Failed++
		}
		if err := worker.store.UpdateImportJob(context, record); err != nil {
			return err
		}
	}

	record.Status = ImportCompleted
	if err := worker.store.UpdateImportJob(context, record); err != nil {
		return err
	}

	worker.log.Info("library_import_done",
		slog.String("import_job_id", record.ID),
		slog.String("user_id", payload.UserID),
		slog.Int("processed", record.Processed),
		slog.Int("skipped", record.Skipped),
		slog.Int("failed", record.Failed),
	)
	return nil
}

type rowOutcome int

const (
	rowImported rowOutcome = iota
	rowSkipped
	rowFailed
)

// importRow upserts one import row and queues metadata resolution when
// the URL did not resolve to a known series.
func (worker *Worker) importRow(context stdctx.Context, userID, source string, item ImportEntry) rowOutcome {
	status := item.Status
	if status == "" {
		status = StatusReading
	}

	entry := &Entry{
		UserID:      userID,
		SourceURL:   item.URL,
		SourceName:  source,
		SeriesTitle: item.Title,
		Status:      status,
	}
	if entry.SourceURL == "" {
		// Title-only rows get a synthetic functional key so the
		// (userid, sourceurl) uniqueness still holds.
		entry.SourceURL = "import:" + source + ":" + strings.ToLower(strings.TrimSpace(item.Title))
	}

	if item.URL != "" {
		seriesID, err := worker.store.ResolveSeriesByURL(context, item.URL)
		if err != nil {
			worker.log.Warn("library_import_resolve_failed",
				slog.String("url", item.URL), slog.String("error", err.Error()))
		} else if seriesID != "" {
			entry.SeriesID = seriesID
			entry.MetadataStatus = MetadataEnriched
		}
	}
	if entry.MetadataStatus == "" {
		entry.MetadataStatus = MetadataPending
	}

	stored, err := worker.store.Upsert(context, entry)
	if err != nil {
		if appErr := apperr.As(err); appErr != nil && appErr.Code == "CONFLICT" {
			return rowSkipped
		}
		worker.log.Warn("library_import_row_failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
		return rowFailed
	}

	if stored.MetadataStatus == MetadataPending {
		_, err := worker.queues.Add(context, queue.QueueMetadata, "resolve", MetadataPayload{
			EntryID:   stored.ID,
			UserID:    userID,
			SourceURL: stored.SourceURL,
		}, queue.Options{JobID: MetadataJobID(stored.ID), Priority: queue.PriorityLow})
		if err != nil {
			worker.log.Warn("library_import_metadata_enqueue_failed",
				slog.String("entry_id", stored.ID), slog.String("error", err.Error()))
		}
	}
	return rowImported
}

/*
HandleMetadata processes one metadata-resolve job.

Description: Resolution is a crawl-source URL lookup: if some series
source carries this URL the entry links to that series and finishes
enriched. An unknown URL marks the entry unavailable, a terminal state
the user can retry from; transient store failures retry and exhaust into
failed via the queue's dead-letter path.
*/
func (worker *Worker) HandleMetadata(context stdctx.Context, job *queue.Job) error {
	var payload MetadataPayload
	if err := queue.Unmarshal(job, &payload); err != nil {
		return err
	}

	seriesID, err := worker.store.ResolveSeriesByURL(context, payload.SourceURL)
	if err != nil {
		return fmt.Errorf("library: resolve %s: %w", payload.SourceURL, err)
	}

	if seriesID == "" {
		if err := worker.store.SetMetadataStatus(context, payload.UserID, payload.EntryID, MetadataUnavailable); err != nil {
			return err
		}
		worker.log.Info("library_metadata_unresolved",
			slog.String("entry_id", payload.EntryID), slog.String("url", payload.SourceURL))
		return nil
	}

	if err := worker.store.LinkSeries(context, payload.EntryID, seriesID, MetadataEnriched); err != nil {
		return err
	}
	worker.log.Info("library_metadata_resolved",
		slog.String("entry_id", payload.EntryID),
		slog.String("series_id", seriesID),
	)
	return nil
}
