// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Command worker is the listmirror replication worker: a single-instance
// process that mirrors an OData RESO feed into PostgreSQL and an
// S3-compatible object store.
//
// Initialization order matters and is sequential:
//
//  1. Configuration (koanf: defaults, optional YAML file, environment)
//  2. Logging (zerolog, configured from the loaded config)
//  3. PostgreSQL pool, followed by crash recovery: runs still marked
//     running from a previous process are failed so their HWM is ignored
//  4. Object store client (bucket existence is verified at startup)
//  5. Shared rate limiter, reseeded from the persisted request log and
//     media download audit so restarts cannot evade the rolling windows
//  6. Feed client wrapped in a circuit breaker
//  7. Supervisor tree: replication scheduler, background media
//     downloader, and the health HTTP server in separate failure domains
//
// SIGINT/SIGTERM cancel the root context; the supervisor tree then shuts
// every layer down, giving in-flight replication cycles a bounded grace
// period before the process exits.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/listmirror/internal/config"
	"github.com/tomtom215/listmirror/internal/feed"
	"github.com/tomtom215/listmirror/internal/health"
	"github.com/tomtom215/listmirror/internal/logging"
	"github.com/tomtom215/listmirror/internal/mediaworker"
	"github.com/tomtom215/listmirror/internal/objectstore"
	"github.com/tomtom215/listmirror/internal/pipeline"
	"github.com/tomtom215/listmirror/internal/ratelimit"
	"github.com/tomtom215/listmirror/internal/replication"
	"github.com/tomtom215/listmirror/internal/store"
	"github.com/tomtom215/listmirror/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config is not available yet; the default logger applies.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("feed", cfg.Feed.BaseURL).
		Str("vendor", cfg.Feed.OriginatingSystem).
		Str("bucket", cfg.ObjectStore.Bucket).
		Msg("Starting listmirror worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer db.Close()

	// A run left in status running by a crash would otherwise pin an
	// unreliable high-water mark.
	if failed, err := db.FailAbandonedRuns(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to recover abandoned runs")
	} else if failed > 0 {
		logging.Warn().Int("runs", failed).Msg("Marked abandoned runs as failed")
	}

	objects, err := objectstore.New(ctx, cfg.ObjectStore)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize object store")
	}

	limiter := ratelimit.NewGiB(
		cfg.RateLimit.MediaBandwidthSoftCapGiB,
		cfg.RateLimit.MediaBandwidthHardCapGiB,
	)
	if err := seedLimiter(ctx, db, limiter); err != nil {
		logging.Fatal().Err(err).Msg("Failed to reseed rate limiter")
	}

	client := feed.NewBreakerClient(feed.NewClient(cfg.Feed, limiter, db))

	processor := pipeline.New(db, objects, client, nil, cfg.Media.InlineConcurrency)
	driver := replication.NewDriver(db, client, processor)
	scheduler := replication.NewScheduler(driver, db, objects, cfg.Replication)
	downloader := mediaworker.New(db, objects, client, cfg.Media)
	healthServer := health.NewServer(db, limiter, cfg.Replication).HTTPServer(cfg.Server)

	// suture's event hook wants an slog.Logger; supervisor events are rare
	// enough that a plain JSON handler alongside zerolog is fine.
	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)
	tree.AddReplicationService(scheduler)
	tree.AddMediaService(downloader)
	tree.AddAPIService(supervisor.NewHTTPServerService(healthServer, 10*time.Second))

	logging.Info().
		Str("listen", healthServer.Addr).
		Msg("Supervisor tree starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor tree failed")
	}
	logging.Info().Msg("Shutdown complete")
}

// seedLimiter restores the limiter's rolling windows from the database:
// the last 24h of request timestamps and the last hour of media download
// bytes.
func seedLimiter(ctx context.Context, db *store.DB, limiter *ratelimit.Limiter) error {
	now := time.Now().UTC()

	times, err := db.RecentRequestTimes(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	limiter.SeedAPI(times)

	downloads, err := db.RecentMediaDownloads(ctx, now.Add(-time.Hour))
	if err != nil {
		return err
	}
	events := make([]ratelimit.MediaEvent, 0, len(downloads))
	for _, d := range downloads {
		events = append(events, ratelimit.MediaEvent{At: d.DownloadedAt, Bytes: d.Bytes})
	}
	limiter.SeedMedia(events)

	logging.Info().
		Int("api_requests", len(times)).
		Int("media_downloads", len(downloads)).
		Msg("Rate limiter reseeded from persisted history")
	return nil
}
