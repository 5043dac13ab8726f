// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl

import (
	stdctx "context"
	"log/slog"
	"time"

	"github.com/taibuivan/mangatrack/internal/breaker"
	"github.com/taibuivan/mangatrack/internal/limiter"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/internal/source"
)

const (
	// recheckSelectionLimit bounds how many parked sources one tick
	// re-examines.
	recheckSelectionLimit = 100

	// recheckTokenWait is deliberately short: a recheck is opportunistic
	// and must never starve real polls of rate tokens.
	recheckTokenWait = 5 * time.Second
)

// CheckPayload is the body of a check-source job.
type CheckPayload struct {
	SeriesSourceID string `json:"series_source_id"`
}

// CheckJobID builds the dedup id for a source's recheck job.
func CheckJobID(seriesSourceID string) string {
	return "check-" + seriesSourceID
}

// CheckWorker probes parked listings. Sources marked broken or inactive
// leave the regular poll rotation; the recheck loop is their only way
// back in. The scheduler sub-task enqueues due candidates, Handle runs
// the cheap probe.
type CheckWorker struct {
	store    Store
	sources  *source.Registry
	limits   *limiter.SourceLimiter
	breakers *breaker.Registry
	queues   *queue.Manager
	log      *slog.Logger
	now      func() time.Time
}

// NewCheckWorker wires the source-recheck worker.
func NewCheckWorker(
	store Store,
	sources *source.Registry,
	limits *limiter.SourceLimiter,
	breakers *breaker.Registry,
	queues *queue.Manager,
	log *slog.Logger,
) *CheckWorker {
	return &CheckWorker{
		store:    store,
		sources:  sources,
		limits:   limits,
		breakers: breakers,
		queues:   queues,
		log:      log,
		now:      time.Now,
	}
}

// Sub adapts the producer side into a scheduler sub-task.
func (worker *CheckWorker) Sub() SubScheduler {
	return SubScheduler{Name: "source-recheck", Run: worker.Schedule}
}

/*
Schedule enqueues recheck jobs for parked sources whose horizon passed.

Description: Selection is capped and the jobId keeps one recheck in
flight per source, so a stuck check-source queue cannot accumulate
duplicates.

Parameters:
  - context: context.Context

Returns:
  - error: selection failure only; enqueue errors are logged per source
*/
func (worker *CheckWorker) Schedule(context stdctx.Context) error {
	candidates, err := worker.store.RecheckCandidates(context, worker.now(), recheckSelectionLimit)
	if err != nil {
		return err
	}

	var enqueued int
	for _, src := range candidates {
		added, err := worker.queues.Add(context, queue.QueueCheckSource, "check-source", CheckPayload{
			SeriesSourceID: src.ID,
		}, queue.Options{
			JobID:    CheckJobID(src.ID),
			Priority: queue.PriorityLow,
		})
		if err != nil {
			worker.log.Warn("recheck_enqueue_failed", slog.String("series_source_id", src.ID))
			continue
		}
		if added {
			enqueued++
		}
	}

	if enqueued > 0 {
		worker.log.Info("rechecks_scheduled", slog.Int("count", enqueued))
	}
	return nil
}

/*
Handle probes one parked source.

Description: A single ScrapeSeries call through the circuit breaker. An
answering source returns to the active rotation on its regular cadence; a
still-dead one is pushed further out by failure class. Every outcome is
absorbed — rechecks are best-effort and never retried by the queue.

Parameters:
  - context: context.Context
  - job: *queue.Job (CheckPayload body)

Returns:
  - error: payload and storage failures only
*/
func (worker *CheckWorker) Handle(context stdctx.Context, job *queue.Job) error {
	var payload CheckPayload
	if err := queue.Unmarshal(job, &payload); err != nil {
		return err
	}

	src, err := worker.store.FindSeriesSource(context, payload.SeriesSourceID)
	if err != nil {
		return err
	}
	if src == nil || src.SourceStatus == StatusActive {
		// Recovered through another path while the job waited.
		return nil
	}

	now := worker.now()

	if worker.breakers.IsOpen(src.SourceName) {
		return worker.store.SetNextCheck(context, src.ID, now.Add(pushBrokenSource))
	}

	acquired, err := worker.limits.Acquire(context, src.SourceName, recheckTokenWait)
	if err != nil {
		return err
	}
	if !acquired {
		return worker.store.SetNextCheck(context, src.ID, now.Add(pushNoToken))
	}

	client := worker.sources.Client(src.SourceName)
	probeErr := worker.breakers.Execute(src.SourceName, func() error {
		_, innerErr := client.ScrapeSeries(context, src.SourceID, nil)
		return innerErr
	})

	if probeErr == nil {
		if err := worker.store.SetStatus(context, src.ID, StatusActive, now.Add(Interval(src.SeriesTier, src.SyncPriority))); err != nil {
			return err
		}
		worker.log.Info("source_recovered",
			slog.String("series_source_id", src.ID),
			slog.String("source", src.SourceName),
		)
		return worker.store.RecordSuccess(context, src.ID, now)
	}

	switch source.Classify(probeErr) {
	case source.FailureRateLimited:
		return worker.store.SetNextCheck(context, src.ID, now.Add(pushRateLimited))
	case source.FailureProxyBlocked:
		return worker.store.SetNextCheck(context, src.ID, now.Add(pushProxyBlocked))
	case source.FailureNotFound, source.FailureNotImplemented:
		return worker.store.SetStatus(context, src.ID, StatusInactive, now.Add(pushNotImpl))
	default:
		return worker.store.RecordFailure(context, src.ID, now, now.Add(pushBrokenSource))
	}
}
