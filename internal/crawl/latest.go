// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl

import (
	stdctx "context"
	"log/slog"
	"time"

	"github.com/taibuivan/mangatrack/internal/limiter"
	"github.com/taibuivan/mangatrack/internal/source"
)

// latestScanCap bounds how deep one latest-feed scan walks per source.
const latestScanCap = 200

// LatestWorker is the latest-feed sub-scheduler: it skims each source's
// cross-series recent-updates feed and requests targeted syncs for series
// already in the catalog. Cheap discovery between full polls.
type LatestWorker struct {
	store      Store
	sources    *source.Registry
	limits     *limiter.SourceLimiter
	gatekeeper *Gatekeeper
	log        *slog.Logger
}

// NewLatestWorker wires the latest-feed sub-scheduler.
func NewLatestWorker(store Store, sources *source.Registry, limits *limiter.SourceLimiter, gatekeeper *Gatekeeper, log *slog.Logger) *LatestWorker {
	return &LatestWorker{
		store:      store,
		sources:    sources,
		limits:     limits,
		gatekeeper: gatekeeper,
		log:        log,
	}
}

// Sub adapts the worker into a scheduler sub-task.
func (worker *LatestWorker) Sub() SubScheduler {
	return SubScheduler{Name: "latest-feed", Run: worker.Run}
}

// Run scans every registered source's recent updates once.
func (worker *LatestWorker) Run(context stdctx.Context) error {
	for _, name := range worker.sources.Names() {
		if err := worker.scanSource(context, name); err != nil {
			worker.log.Warn("latest_scan_failed",
				slog.String("source", name),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (worker *LatestWorker) scanSource(context stdctx.Context, sourceName string) error {
	acquired, err := worker.limits.Acquire(context, sourceName, 10*time.Second)
	if err != nil || !acquired {
		return err
	}

	iterator := worker.sources.Client(sourceName).ScrapeLatestUpdates(context)
	var requested int

	for seen := 0; seen < latestScanCap; seen++ {
		update, ok, err := iterator.Next(context)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		src, err := worker.store.FindSeriesBySourceKey(context, sourceName, update.SourceSeriesID)
		if err != nil {
			return err
		}
		if src == nil || src.SourceStatus != StatusActive {
			continue
		}

		decision, err := worker.gatekeeper.ShouldEnqueue(context, src, ReasonPeriodic)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			continue
		}
		if _, err := worker.gatekeeper.Enqueue(context, src, ReasonPeriodic, decision, nil); err != nil {
			return err
		}
		requested++
	}

	if requested > 0 {
		worker.log.Info("latest_feed_scanned",
			slog.String("source", sourceName),
			slog.Int("syncs", requested),
		)
	}
	return nil
}
