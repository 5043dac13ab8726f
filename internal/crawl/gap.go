// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crawl

import (
	stdctx "context"
	"log/slog"

	"github.com/taibuivan/mangatrack/internal/ingest"
	"github.com/taibuivan/mangatrack/internal/queue"
)

// GapWorker consumes gap-recovery jobs. It does not scrape itself: it
// computes which integer chapters are missing and requests a targeted sync
// through the gatekeeper, so recovery obeys the same admission rules as
// every other poll.
type GapWorker struct {
	store      Store
	gatekeeper *Gatekeeper
	log        *slog.Logger
}

// NewGapWorker wires the gap-recovery worker.
func NewGapWorker(store Store, gatekeeper *Gatekeeper, log *slog.Logger) *GapWorker {
	return &GapWorker{store: store, gatekeeper: gatekeeper, log: log}
}

// Handle resolves the series' missing chapters and enqueues one recovery
// sync per live source listing.
func (worker *GapWorker) Handle(context stdctx.Context, job *queue.Job) error {
	var payload ingest.GapRecoveryPayload
	if err := queue.Unmarshal(job, &payload); err != nil {
		return err
	}

	missing, err := worker.store.MissingChapterNumbers(context, payload.SeriesID, payload.MissingBelow)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		// The gap closed on its own (late job, parallel source).
		return nil
	}

	targets := make([]string, 0, len(missing))
	for _, number := range missing {
		targets = append(targets, ingest.CanonicalNumber(number))
	}

	sources, err := worker.store.FindSourcesForSeries(context, payload.SeriesID)
	if err != nil {
		return err
	}

	var requested int
	for _, src := range sources {
		if src.SourceStatus != StatusActive {
			continue
		}
		decision, err := worker.gatekeeper.ShouldEnqueue(context, src, ReasonGapRecovery)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			continue
		}
		if _, err := worker.gatekeeper.Enqueue(context, src, ReasonGapRecovery, decision, targets); err != nil {
			return err
		}
		requested++
	}

	worker.log.Info("gap_recovery_dispatched",
		slog.String("series_id", payload.SeriesID),
		slog.Int("missing", len(missing)),
		slog.Int("syncs", requested),
	)
	return nil
}
