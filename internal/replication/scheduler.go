// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package replication

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/listmirror/internal/config"
	"github.com/tomtom215/listmirror/internal/logging"
	"github.com/tomtom215/listmirror/internal/models"
	"github.com/tomtom215/listmirror/internal/objectstore"
)

// requestLogRetention keeps the request log just past the largest
// limiter window.
const requestLogRetention = 25 * time.Hour

// CycleRunner runs one cycle, implemented by *Driver.
type CycleRunner interface {
	RunCycle(ctx context.Context, resource models.Resource) (*models.Run, error)
}

// CleanupStore is the persistence surface of the daily cleanup,
// implemented by *store.DB.
type CleanupStore interface {
	LatestSettledRun(ctx context.Context, resource models.Resource) (*models.Run, error)
	PurgeableListings(ctx context.Context, cutoff time.Time) ([]string, error)
	PurgeListing(ctx context.Context, listingKey string) error
	PruneRequestLog(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupObjectStore removes purged listings' media objects.
type CleanupObjectStore interface {
	RemovePrefix(ctx context.Context, prefix string) error
}

// Scheduler owns the per-resource replication loops and the daily
// cleanup. One Scheduler per process.
type Scheduler struct {
	driver  CycleRunner
	store   CleanupStore
	objects CleanupObjectStore
	cfg     config.ReplicationConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler wires the scheduler.
func NewScheduler(driver CycleRunner, store CleanupStore, objects CleanupObjectStore, cfg config.ReplicationConfig) *Scheduler {
	return &Scheduler{
		driver:  driver,
		store:   store,
		objects: objects,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Serve runs the scheduler until the context is cancelled. New cycles
// stop immediately on cancellation; running cycles get the configured
// shutdown grace before their context is cut.
func (s *Scheduler) Serve(ctx context.Context) error {
	// Cycles run on a context that survives ctx by the shutdown grace,
	// so a cancelled process can still commit the page in flight.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()
	stopGrace := context.AfterFunc(ctx, func() {
		grace := s.cfg.ShutdownGrace
		if grace <= 0 {
			cancelRun()
			return
		}
		time.AfterFunc(grace, cancelRun)
	})
	defer stopGrace()

	if err := s.initialImports(ctx, runCtx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, resource := range models.AllResources {
		resource := resource
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, runCtx, resource)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.cleanupLoop(ctx, runCtx)
	}()
	wg.Wait()
	return ctx.Err()
}

// initialImports runs first-contact imports in dependency order:
// Property alone, then Member and Office concurrently, then OpenHouse.
// Lookup needs no ordering and is left to its own loop. Resources that
// already have a settled run are skipped.
func (s *Scheduler) initialImports(ctx, runCtx context.Context) error {
	needed, err := s.unimportedResources(ctx)
	if err != nil {
		return err
	}
	if len(needed) == 0 {
		return nil
	}
	logging.Info().Int("resources", len(needed)).Msg("Running initial imports")

	if _, ok := needed[models.ResourceProperty]; ok {
		if err := s.runOnce(ctx, runCtx, models.ResourceProperty); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	for _, r := range []models.Resource{models.ResourceMember, models.ResourceOffice} {
		if _, ok := needed[r]; !ok {
			continue
		}
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.runOnce(ctx, runCtx, r)
		}()
	}
	wg.Wait()

	if _, ok := needed[models.ResourceOpenHouse]; ok {
		if err := s.runOnce(ctx, runCtx, models.ResourceOpenHouse); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Scheduler) unimportedResources(ctx context.Context) (map[models.Resource]struct{}, error) {
	needed := make(map[models.Resource]struct{})
	for _, r := range models.AllResources {
		last, err := s.store.LatestSettledRun(ctx, r)
		if err != nil {
			return nil, err
		}
		if last == nil || last.HwmEnd == nil {
			needed[r] = struct{}{}
		}
	}
	return needed, nil
}

// runOnce runs a single cycle unless shutdown already started.
func (s *Scheduler) runOnce(ctx, runCtx context.Context, resource models.Resource) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, err := s.driver.RunCycle(runCtx, resource); err != nil {
		logging.Error().Str("resource", string(resource)).Err(err).Msg("Cycle ended with error")
	}
	return nil
}

// loop runs non-overlapping cycles for one resource at its cadence.
func (s *Scheduler) loop(ctx, runCtx context.Context, resource models.Resource) {
	cadence := s.cfg.Cadence(string(resource))
	for {
		if err := s.runOnce(ctx, runCtx, resource); err != nil {
			return
		}
		if err := s.sleep(ctx, cadence); err != nil {
			return
		}
	}
}

// cleanupLoop hard-deletes long-hidden listings and prunes the request
// log on the Lookup cadence.
func (s *Scheduler) cleanupLoop(ctx, runCtx context.Context) {
	for {
		if err := s.sleep(ctx, s.cfg.LookupCadence); err != nil {
			return
		}
		s.RunCleanup(runCtx)
	}
}

// RunCleanup performs one cleanup pass. Exported so startup can run it
// eagerly after a long downtime.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.cfg.PurgeAfter)
	keys, err := s.store.PurgeableListings(ctx, cutoff)
	if err != nil {
		logging.Error().Err(err).Msg("Could not load purgeable listings")
		return
	}

	purged := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		if err := s.purgeListing(ctx, key); err != nil {
			logging.Error().Str("listing_key", key).Err(err).Msg("Purge failed")
			continue
		}
		purged++
	}

	pruned, err := s.store.PruneRequestLog(ctx, s.now().UTC().Add(-requestLogRetention))
	if err != nil {
		logging.Error().Err(err).Msg("Could not prune request log")
	}
	if purged > 0 || pruned > 0 {
		logging.Info().
			Int("listings_purged", purged).
			Int64("request_log_pruned", pruned).
			Msg("Cleanup pass finished")
	}
}

// purgeListing removes one soft-deleted listing entirely: media objects
// first, then every owned row.
func (s *Scheduler) purgeListing(ctx context.Context, listingKey string) error {
	// Object removal by prefix covers every stored asset, including
	// rows whose metadata was already deleted.
	prefix := objectstore.ParentPrefix(string(models.ResourceProperty), listingKey)
	if err := s.objects.RemovePrefix(ctx, prefix); err != nil {
		return err
	}
	return s.store.PurgeListing(ctx, listingKey)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
