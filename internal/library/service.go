// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package library

import (
	stdctx "context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taibuivan/mangatrack/internal/activity"
	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/pkg/uuid"
)

// # Service Layer

// Rewarder grants the one-time series-completion reward when a status
// change marks an entry completed. Implemented by the progress engine.
type Rewarder interface {
	AwardSeriesCompletion(context stdctx.Context, userID, entryID string) (bool, error)
}

// ToggleMonitor observes entry status changes for the rapid-toggle abuse
// heuristic. Implemented by the trust guard.
type ToggleMonitor interface {
	StatusToggled(context stdctx.Context, userID, entryID string) error
}

// Service orchestrates library mutations and their side effects: follower
// bookkeeping, activity events, feed cache invalidation, and the import
// and metadata queues.
type Service struct {
	store    Store
	queues   *queue.Manager
	kv       kvs.Store
	activity *activity.Recorder
	rewarder Rewarder
	monitor  ToggleMonitor
	log      *slog.Logger
}

// NewService constructs the library [Service].
func NewService(
	store Store,
	queues *queue.Manager,
	kv kvs.Store,
	recorder *activity.Recorder,
	rewarder Rewarder,
	monitor ToggleMonitor,
	log *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		queues:   queues,
		kv:       kv,
		activity: recorder,
		rewarder: rewarder,
		monitor:  monitor,
		log:      log,
	}
}

// seriesSourceURL is the synthetic functional key for entries added by
// series id rather than by source URL.
func seriesSourceURL(seriesID string) string {
	return "series:" + seriesID
}

/*
Add puts a series into the user's library.

Description: Upserts the entry (a soft-deleted one is restored in place,
keeping its read progress), records a series_followed activity event, and
invalidates the user's cached feed pages.

Parameters:
  - context: context.Context
  - userID: string
  - seriesID: string (validated UUID)
  - status: one of the entry statuses

Returns:
  - *Entry: the stored entry
  - error: apperr.Conflict when already tracked, apperr.NotFound for an
    unknown series, or execution failure
*/
func (service *Service) Add(context stdctx.Context, userID, seriesID, status string) (*Entry, error) {
	entry, err := service.store.Upsert(context, &Entry{
		UserID:         userID,
		SeriesID:       seriesID,
		SourceURL:      seriesSourceURL(seriesID),
		Status:         status,
		MetadataStatus: MetadataEnriched,
	})
	if err != nil {
		return nil, err
	}

	if err := service.activity.RecordUser(context, seriesID, userID, activity.EventSeriesFollowed); err != nil {
		service.log.Warn("library_follow_activity_failed",
			slog.String("series_id", seriesID), slog.String("error", err.Error()))
	}
	service.bumpFeedVersion(context, userID)

	service.log.Info("library_entry_added",
		slog.String("user_id", userID),
		slog.String("series_id", seriesID),
		slog.String("entry_id", entry.ID),
	)
	return entry, nil
}

/*
Update applies a partial update to an entry.

Description: Persists the patch, then runs the status side effects: a
transition into completed triggers the one-time completion reward, and any
status change feeds the rapid-toggle abuse heuristic. Side-effect failures
are logged, never surfaced; the update itself has already committed.
*/
func (service *Service) Update(context stdctx.Context, userID, entryID string, patch Patch) (*Entry, error) {
	var previousStatus string
	if patch.Status != nil {
		current, err := service.store.Find(context, userID, entryID)
		if err != nil {
			return nil, err
		}
		previousStatus = current.Status
	}

	entry, err := service.store.Update(context, userID, entryID, patch)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil && *patch.Status != previousStatus {
		if err := service.monitor.StatusToggled(context, userID, entryID); err != nil {
			service.log.Warn("library_toggle_monitor_failed", slog.String("error", err.Error()))
		}
		if *patch.Status == StatusCompleted && !entry.CompletionXP {
			awarded, err := service.rewarder.AwardSeriesCompletion(context, userID, entryID)
			if err != nil {
				service.log.Warn("library_completion_reward_failed",
					slog.String("entry_id", entryID), slog.String("error", err.Error()))
			} else if awarded {
				entry.CompletionXP = true
			}
		}
	}
	return entry, nil
}

// Remove soft-deletes an entry and invalidates the user's feed cache.
func (service *Service) Remove(context stdctx.Context, userID, entryID string) error {
	entry, err := service.store.SoftDelete(context, userID, entryID)
	if err != nil {
		return err
	}
	service.bumpFeedVersion(context, userID)

	service.log.Info("library_entry_removed",
		slog.String("user_id", userID),
		slog.String("entry_id", entryID),
		slog.String("series_id", entry.SeriesID),
	)
	return nil
}

// ListEntries returns one page of the user's library with stats.
func (service *Service) ListEntries(context stdctx.Context, userID string, opts ListOptions) ([]Entry, Stats, int, error) {
	return service.store.List(context, userID, opts)
}

// BulkUpdate is one item of a bulk update request.
type BulkUpdate struct {
	ID              string  `json:"id"`
	Status          *string `json:"status,omitempty"`
	Rating          *int    `json:"rating,omitempty"`
	PreferredSource *string `json:"preferred_source,omitempty"`
}

// BulkResult reports the outcome for one bulk update item.
type BulkResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ApplyBulk runs each update independently; one failing item does not
// abort the rest.
func (service *Service) ApplyBulk(context stdctx.Context, userID string, updates []BulkUpdate) []BulkResult {
	results := make([]BulkResult, 0, len(updates))
	for _, update := range updates {
		_, err := service.Update(context, userID, update.ID, Patch{
			Status:          update.Status,
			Rating:          update.Rating,
			PreferredSource: update.PreferredSource,
		})
		result := BulkResult{ID: update.ID, OK: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

/*
Import queues a bulk library import.

Description: De-duplicates the request (by URL, then external id, then
lowercased title), drops rows the user already tracks, records an import
job row, and enqueues the processing job. The HTTP call returns as soon as
the job is queued; the import worker does the row-by-row work.

Returns:
  - *ImportJob: the queued job, with TotalEntries = rows that will be processed
  - error: execution failure
*/
func (service *Service) Import(context stdctx.Context, userID, source string, entries []ImportEntry) (*ImportJob, error) {
	deduped := dedupeImportEntries(entries)

	urls := make([]string, 0, len(deduped))
	for _, item := range deduped {
		if item.URL != "" {
			urls = append(urls, item.URL)
		}
	}
	existing, err := service.store.ExistingURLs(context, userID, urls)
	if err != nil {
		return nil, err
	}

	fresh := make([]ImportEntry, 0, len(deduped))
	for _, item := range deduped {
		if item.URL != "" && existing[item.URL] {
			continue
		}
		fresh = append(fresh, item)
	}

	job := &ImportJob{
		ID:           uuid.New(),
		UserID:       userID,
		Source:       source,
		Status:       ImportPending,
		TotalEntries: len(fresh),
	}
	if err := service.store.CreateImportJob(context, job); err != nil {
		return nil, err
	}

	_, err = service.queues.Add(context, queue.QueueLibraryImport, "import", ImportPayload{
		ImportJobID: job.ID,
		UserID:      userID,
		Source:      source,
		Entries:     fresh,
	}, queue.Options{JobID: "import-" + job.ID})
	if err != nil {
		return nil, fmt.Errorf("library: enqueue import: %w", err)
	}

	service.log.Info("library_import_queued",
		slog.String("user_id", userID),
		slog.String("import_job_id", job.ID),
		slog.Int("entries", len(fresh)),
		slog.Int("skipped", len(entries)-len(fresh)),
	)
	return job, nil
}

// RetryMetadata re-queues metadata resolution for a stuck entry at the
// highest priority.
func (service *Service) RetryMetadata(context stdctx.Context, userID, entryID string) error {
	entry, err := service.store.Find(context, userID, entryID)
	if err != nil {
		return err
	}
	if err := service.store.SetMetadataStatus(context, userID, entryID, MetadataPending); err != nil {
		return err
	}

	_, err = service.queues.Add(context, queue.QueueMetadata, "resolve", MetadataPayload{
		EntryID:   entryID,
		UserID:    userID,
		SourceURL: entry.SourceURL,
	}, queue.Options{JobID: MetadataJobID(entryID), Priority: queue.PriorityCritical})
	if err != nil {
		return fmt.Errorf("library: enqueue metadata retry: %w", err)
	}
	return nil
}

func (service *Service) bumpFeedVersion(context stdctx.Context, userID string) {
	if _, err := service.kv.Incr(context, "feed:v:"+userID); err != nil {
		service.log.Warn("library_feed_version_bump_failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

// dedupeImportEntries removes duplicates within one import request. The
// identity of a row is its URL, falling back to external id, falling back
// to lowercased title.
func dedupeImportEntries(entries []ImportEntry) []ImportEntry {
	seen := make(map[string]bool, len(entries))
	deduped := make([]ImportEntry, 0, len(entries))
	for _, item := range entries {
		key := item.URL
		if key == "" {
			key = item.ExternalID
		}
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(item.Title))
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, item)
	}
	return deduped
}
