// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package api contains the health check handlers for liveness and
// platform status probes.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/taibuivan/mangatrack/internal/platform/respond"
	"github.com/taibuivan/mangatrack/internal/queue"
)

// HealthDependencies holds the injectable dependency checkers for the
// status endpoint.
type HealthDependencies struct {
	// CheckDatabase pings the PostgreSQL pool.
	CheckDatabase func() error

	// CheckCache pings the Redis client.
	CheckCache func() error

	// Queues exposes depth gauges for the job queues. Optional; the API
	// process reports queue depth, one-off tools may leave it nil.
	Queues *queue.Manager

	// GaugedQueues lists the queue names included in the depth gauge.
	GaugedQueues []string
}

// HealthHandler serves the /health liveness probe and the /api/health
// platform status report.
type HealthHandler struct {
	dependencies HealthDependencies
	logger       *slog.Logger
	startedAt    time.Time
}

// NewHealthHandler creates the health endpoints.
func NewHealthHandler(deps HealthDependencies, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		dependencies: deps,
		logger:       logger,
		startedAt:    time.Now(),
	}
}

// Liveness handles GET /health. It only proves the process is alive.
func (handler *HealthHandler) Liveness(writer http.ResponseWriter, request *http.Request) {
	respond.OK(writer, map[string]string{"status": "ok"})
}

/*
Status handles GET /api/health.

Description: Reports per-dependency health plus the waiting/delayed/active
depth of every gauged job queue. Any failing dependency degrades the
overall status and the response carries 503 so load balancers drain the
instance.

Response:
  - 200: status "ok" with service and queue detail
  - 503: status "degraded", failing services carry their error
*/
func (handler *HealthHandler) Status(writer http.ResponseWriter, request *http.Request) {
	type serviceResult struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	services := make(map[string]serviceResult, 2)
	healthy := true

	check := func(name string, ping func() error) {
		if ping == nil {
			return
		}
		result := serviceResult{Status: "up"}
		if err := ping(); err != nil {
			result.Status = "down"
			result.Error = err.Error()
			healthy = false
			handler.logger.Error("health_check_failed",
				slog.String("dependency", name),
				slog.Any("error", err),
			)
		}
		services[name] = result
	}

	check("database", handler.dependencies.CheckDatabase)
	check("redis", handler.dependencies.CheckCache)

	// Queue depths are a gauge, not a gate: deep queues do not fail the
	// probe, operators read them off this endpoint.
	queues := make(map[string]queue.Counts, len(handler.dependencies.GaugedQueues))
	if handler.dependencies.Queues != nil {
		for _, name := range handler.dependencies.GaugedQueues {
			counts, err := handler.dependencies.Queues.GetJobCounts(request.Context(), name)
			if err != nil {
				continue
			}
			queues[name] = counts
		}
	}

	status := "ok"
	if !healthy {
		status = "degraded"
		writer.Header().Set("Content-Type", "application/json; charset=utf-8")
		writer.WriteHeader(http.StatusServiceUnavailable)
	}

	respond.OK(writer, map[string]any{
		"status":    status,
		"services":  services,
		"queues":    queues,
		"uptime":    time.Since(handler.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
