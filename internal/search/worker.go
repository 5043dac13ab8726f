// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package search

import (
	stdctx "context"
	"errors"
	"log/slog"

	"github.com/taibuivan/mangatrack/internal/activity"
	"github.com/taibuivan/mangatrack/internal/crawl"
	"github.com/taibuivan/mangatrack/internal/queue"
	"github.com/taibuivan/mangatrack/internal/source"
)

// Provider runs one external discovery search. Implementations wrap the
// source catalogs' search endpoints.
type Provider interface {
	// Search returns catalog hits for a normalized query. Typed source
	// errors classify retry behavior the same way scraping does.
	Search(context stdctx.Context, query string) ([]DiscoveredSeries, error)
}

// Worker consumes external-search jobs.
type Worker struct {
	store      Store
	crawlStore crawl.Store
	gatekeeper *crawl.Gatekeeper
	provider   Provider
	activity   *activity.Recorder
	log        *slog.Logger
}

// NewWorker wires the discovery search [Worker].
func NewWorker(
	store Store,
	crawlStore crawl.Store,
	gatekeeper *crawl.Gatekeeper,
	provider Provider,
	recorder *activity.Recorder,
	log *slog.Logger,
) *Worker {
	return &Worker{
		store:      store,
		crawlStore: crawlStore,
		gatekeeper: gatekeeper,
		provider:   provider,
		activity:   recorder,
		log:        log,
	}
}

/*
Handle runs one external discovery search.

Description: The provider is queried once per job (the jobId collapsed the
storm upstream). Every hit is attached to the catalog; listings new to us
get a search_impression activity event and an immediate first sync
requested through the gatekeeper, so discovered series start filling their
chapter graph right away. Rate-limit failures propagate for retry with
backoff; a blocked or unimplemented provider absorbs the job.

Parameters:
  - context: context.Context
  - job: *queue.Job (Payload body)

Returns:
  - error: transient and rate-limit provider failures only
*/
func (worker *Worker) Handle(context stdctx.Context, job *queue.Job) error {
	var payload Payload
	if err := queue.Unmarshal(job, &payload); err != nil {
		return err
	}

	hits, err := worker.provider.Search(context, payload.Query)
	if err != nil {
		if errors.Is(err, source.ErrProxyBlocked) || errors.Is(err, source.ErrNotImplemented) {
			worker.log.Warn("search_provider_unavailable",
				slog.String("query", payload.Query),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return err
	}

	attached := 0
	for index := range hits {
		hit := &hits[index]

		sourceID, created, err := worker.store.AttachDiscovery(context, hit)
		if err != nil {
			return err
		}
		if !created {
			continue
		}
		attached++

		src, err := worker.crawlStore.FindSeriesSource(context, sourceID)
		if err != nil || src == nil {
			continue
		}

		if err := worker.activity.Record(context, src.SeriesID, "", hit.SourceName, activity.EventSearchImpression); err != nil {
			worker.log.Warn("search_impression_failed",
				slog.String("series_id", src.SeriesID), slog.String("error", err.Error()))
		}

		decision, err := worker.gatekeeper.ShouldEnqueue(context, src, crawl.ReasonUserRequest)
		if err != nil || !decision.Allowed {
			continue
		}
		if _, err := worker.gatekeeper.Enqueue(context, src, crawl.ReasonUserRequest, decision, nil); err != nil {
			worker.log.Warn("search_first_sync_failed",
				slog.String("series_source_id", src.ID), slog.String("error", err.Error()))
		}
	}

	worker.log.Info("search_executed",
		slog.String("query", payload.Query),
		slog.Int("hits", len(hits)),
		slog.Int("attached", attached),
	)
	return nil
}
