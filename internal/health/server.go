// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package health exposes the worker's HTTP surface: liveness, a
// per-resource replication status summary, limiter occupancy, and the
// Prometheus scrape endpoint. Read-only and unauthenticated; it binds
// to an internal address.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/listmirror/internal/config"
	"github.com/tomtom215/listmirror/internal/logging"
	"github.com/tomtom215/listmirror/internal/models"
	"github.com/tomtom215/listmirror/internal/ratelimit"
)

// staleFactor: a resource is degraded when its last settled run is older
// than this many cadences.
const staleFactor = 2

// Store is the status query surface, implemented by *store.DB.
type Store interface {
	Ping(ctx context.Context) error
	LatestSettledRun(ctx context.Context, resource models.Resource) (*models.Run, error)
	CountPendingMedia(ctx context.Context) (int, error)
}

// LimiterStats reports limiter occupancy, implemented by
// *ratelimit.Limiter.
type LimiterStats interface {
	Snapshot() ratelimit.Stats
}

// Server is the health/dashboard HTTP handler set.
type Server struct {
	store   Store
	limiter LimiterStats
	cadence config.ReplicationConfig

	now func() time.Time
}

// NewServer wires the handler set.
func NewServer(store Store, limiter LimiterStats, cadence config.ReplicationConfig) *Server {
	return &Server{
		store:   store,
		limiter: limiter,
		cadence: cadence,
		now:     time.Now,
	}
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/limiter", s.handleLimiter)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// HTTPServer builds the http.Server bound per the server config.
func (s *Server) HTTPServer(cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// handleHealthz is the liveness probe: healthy iff the database answers.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resourceStatus is one row of the /api/status summary.
type resourceStatus struct {
	Resource    models.Resource  `json:"resource"`
	Status      string           `json:"status"`
	Mode        models.RunMode   `json:"mode,omitempty"`
	LastRunID   string           `json:"last_run_id,omitempty"`
	LastSuccess *time.Time       `json:"last_success,omitempty"`
	HwmEnd      *time.Time       `json:"hwm_end,omitempty"`
	LastCounts  *runCounts       `json:"last_counts,omitempty"`
}

type runCounts struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
}

// handleStatus summarizes per-resource replication freshness. A resource
// with no settled run is "importing"; one whose last settled run is
// older than twice its cadence is "degraded".
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()

	statuses := make([]resourceStatus, 0, len(models.AllResources))
	overall := "ok"
	for _, resource := range models.AllResources {
		run, err := s.store.LatestSettledRun(ctx, resource)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		rs := resourceStatus{Resource: resource}
		switch {
		case run == nil:
			rs.Status = "importing"
		case run.CompletedAt != nil && now.Sub(*run.CompletedAt) > staleFactor*s.cadence.Cadence(string(resource)):
			rs.Status = "degraded"
			overall = "degraded"
		default:
			rs.Status = "ok"
		}
		if run != nil {
			rs.Mode = run.Mode
			rs.LastRunID = run.ID
			rs.LastSuccess = run.CompletedAt
			rs.HwmEnd = run.HwmEnd
			rs.LastCounts = &runCounts{
				Received: run.RecordsReceived,
				Inserted: run.RecordsInserted,
				Updated:  run.RecordsUpdated,
				Deleted:  run.RecordsDeleted,
			}
		}
		statuses = append(statuses, rs)
	}

	pending, err := s.store.CountPendingMedia(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":              overall,
		"resources":           statuses,
		"media_pending_queue": pending,
	})
}

// handleLimiter exposes the shared limiter's window occupancy.
func (s *Server) handleLimiter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.limiter.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Could not encode response")
	}
}
