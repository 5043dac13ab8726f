// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl

import (
	stdctx "context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/taibuivan/mangatrack/internal/breaker"
	"github.com/taibuivan/mangatrack/internal/ingest"
	"github.com/taibuivan/mangatrack/internal/limiter"
	"github.com/taibuivan/mangatrack/internal/negcache"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/internal/source"
)

const (
	// tokenWait bounds how long a poll blocks on the rate limiter.
	tokenWait = 60 * time.Second

	// Push-back distances when a poll cannot run.
	pushBackpressure = 15 * time.Minute
	pushNoToken      = 5 * time.Minute
	pushBrokenSource = 1 * time.Hour
	pushRateLimited  = 1 * time.Hour
	pushProxyBlocked = 2 * time.Hour
	pushNotImpl      = 7 * 24 * time.Hour
)

// ingestBacklogLimit is the chapter-ingest depth beyond which polling
// yields instead of piling on.
const ingestBacklogLimit = 50_000

// notificationBacklogLimit marks notification delivery as critically behind.
const notificationBacklogLimit = 10_000

// PollWorker consumes sync-source jobs.
type PollWorker struct {
	store        Store
	sources      *source.Registry
	limits       *limiter.SourceLimiter
	breakers     *breaker.Registry
	negative     *negcache.Cache
	queues       *queue.Manager
	allowedHosts map[string]bool
	log          *slog.Logger
	now          func() time.Time
}

// NewPollWorker wires the source-poll worker.
func NewPollWorker(
	store Store,
	sources *source.Registry,
	limits *limiter.SourceLimiter,
	breakers *breaker.Registry,
	negative *negcache.Cache,
	queues *queue.Manager,
	allowedHosts []string,
	log *slog.Logger,
) *PollWorker {
	allowed := make(map[string]bool, len(allowedHosts))
	for _, host := range allowedHosts {
		allowed[host] = true
	}
	return &PollWorker{
		store:        store,
		sources:      sources,
		limits:       limits,
		breakers:     breakers,
		negative:     negative,
		queues:       queues,
		allowedHosts: allowed,
		log:          log,
		now:          time.Now,
	}
}

/*
Handle polls one series source.

Description: Applies the admission ladder (existence, backpressure, open
circuit, allow-list, rate token), scrapes through the circuit breaker, and
either records the empty result in the negative cache or fans every scraped
chapter out to the ingest queue. Failures are classified into push-back
distances on next_check_at; only transient failures propagate for retry.

Parameters:
  - context: context.Context
  - job: *queue.Job (SyncPayload body)

Returns:
  - error: transient scrape failures only; every other outcome is absorbed
*/
func (worker *PollWorker) Handle(context stdctx.Context, job *queue.Job) error {
	var payload SyncPayload
	if err := queue.Unmarshal(job, &payload); err != nil {
		return err
	}

	src, err := worker.store.FindSeriesSource(context, payload.SeriesSourceID)
	if err != nil {
		return err
	}
	if src == nil {
		// Source or series vanished since scheduling; nothing to do.
		return nil
	}

	now := worker.now()

	if yielded, err := worker.yieldOnBackpressure(context, src, now); yielded || err != nil {
		return err
	}

	if worker.breakers.IsOpen(src.SourceName) {
		if err := worker.store.SetStatus(context, src.ID, StatusBroken, now.Add(pushBrokenSource)); err != nil {
			return err
		}
		worker.log.Warn("poll_source_broken",
			slog.String("series_source_id", src.ID),
			slog.String("source", src.SourceName),
		)
		return nil
	}

	if !worker.hostAllowed(src.SourceURL) {
		// Misconfigured or hostile URL; park the source.
		if err := worker.store.SetStatus(context, src.ID, StatusInactive, now.Add(pushNotImpl)); err != nil {
			return err
		}
		worker.log.Warn("poll_host_not_allowed",
			slog.String("series_source_id", src.ID),
			slog.String("url", src.SourceURL),
		)
		return nil
	}

	acquired, err := worker.limits.Acquire(context, src.SourceName, tokenWait)
	if err != nil {
		return err
	}
	if !acquired {
		return worker.store.SetNextCheck(context, src.ID, now.Add(pushNoToken))
	}

	client := worker.sources.Client(src.SourceName)
	var result *source.ScrapeResult
	scrapeErr := worker.breakers.Execute(src.SourceName, func() error {
		var innerErr error
		result, innerErr = client.ScrapeSeries(context, src.SourceID, payload.TargetChapters)
		return innerErr
	})
	if scrapeErr != nil {
		return worker.handleScrapeError(context, src, scrapeErr)
	}

	if len(result.Chapters) == 0 {
		if err := worker.negative.RecordResult(context, src.ID, true); err != nil {
			return err
		}
		return worker.store.RecordSuccess(context, src.ID, now)
	}

	if err := worker.negative.RecordResult(context, src.ID, false); err != nil {
		return err
	}
	if err := worker.enqueueChapters(context, src, result, payload.Reason == ReasonGapRecovery); err != nil {
		return err
	}
	if err := worker.store.RecordSuccess(context, src.ID, now); err != nil {
		return err
	}

	worker.log.Info("source_polled",
		slog.String("series_source_id", src.ID),
		slog.String("source", src.SourceName),
		slog.Int("chapters", len(result.Chapters)),
	)
	return nil
}

// yieldOnBackpressure pushes the source out when downstream queues are
// critically behind.
func (worker *PollWorker) yieldOnBackpressure(context stdctx.Context, src *SeriesSource, now time.Time) (bool, error) {
	ingestCounts, err := worker.queues.GetJobCounts(context, queue.QueueChapterIngest)
	if err != nil {
		return false, err
	}
	notifyCounts, err := worker.queues.GetJobCounts(context, queue.QueueNotification)
	if err != nil {
		return false, err
	}

	backlogged := ingestCounts.Waiting+ingestCounts.Delayed > ingestBacklogLimit ||
		notifyCounts.Waiting > notificationBacklogLimit
	if !backlogged {
		return false, nil
	}

	worker.log.Warn("poll_backpressure_yield", slog.String("series_source_id", src.ID))
	return true, worker.store.SetNextCheck(context, src.ID, now.Add(pushBackpressure))
}

// handleScrapeError classifies a scrape failure into a push-back distance.
// Only transient errors return non-nil so the queue retries them.
func (worker *PollWorker) handleScrapeError(context stdctx.Context, src *SeriesSource, scrapeErr error) error {
	now := worker.now()

	if errors.Is(scrapeErr, breaker.ErrCircuitOpen) {
		return worker.store.SetStatus(context, src.ID, StatusBroken, now.Add(pushBrokenSource))
	}

	switch source.Classify(scrapeErr) {
	case source.FailureRateLimited:
		return worker.store.RecordFailure(context, src.ID, now, now.Add(pushRateLimited))
	case source.FailureProxyBlocked:
		return worker.store.RecordFailure(context, src.ID, now, now.Add(pushProxyBlocked))
	case source.FailureNotFound:
		// The listing is gone on the source; stop polling it.
		return worker.store.SetStatus(context, src.ID, StatusInactive, now.Add(pushNotImpl))
	case source.FailureNotImplemented:
		return worker.store.SetStatus(context, src.ID, StatusInactive, now.Add(pushNotImpl))
	default:
		if err := worker.store.RecordFailure(context, src.ID, now, now.Add(pushBrokenSource)); err != nil {
			return err
		}
		return fmt.Errorf("crawl: scrape %s: %w", src.ID, scrapeErr)
	}
}

// enqueueChapters fans the scraped chapters out to the ingest queue with
// aggressive per-chapter dedup.
func (worker *PollWorker) enqueueChapters(context stdctx.Context, src *SeriesSource, result *source.ScrapeResult, gapRecovery bool) error {
	for _, chapter := range result.Chapters {
		payload := ingest.ChapterPayload{
			SeriesID:        src.SeriesID,
			SeriesSourceID:  src.ID,
			SourceName:      src.SourceName,
			Label:           chapter.Label,
			Title:           chapter.Title,
			URL:             chapter.URL,
			SourceChapterID: chapter.SourceChapterID,
			PublishedAt:     chapter.PublishedAt,
			GapRecovery:     gapRecovery,
		}
		if _, err := worker.queues.Add(context, queue.QueueChapterIngest, "chapter-ingest", payload, queue.Options{
			JobID: payload.JobID(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (worker *PollWorker) hostAllowed(rawURL string) bool {
	if rawURL == "" {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return worker.allowedHosts[parsed.Hostname()]
}
