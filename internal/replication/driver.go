// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package replication drives the per-resource sync cycles: mode
// selection against the run history, HWM-based incremental fetches with
// the same-timestamp dedup protocol, and the scheduler owning the
// process lifecycle.
package replication

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/listmirror/internal/feed"
	"github.com/tomtom215/listmirror/internal/logging"
	"github.com/tomtom215/listmirror/internal/mapper"
	"github.com/tomtom215/listmirror/internal/metrics"
	"github.com/tomtom215/listmirror/internal/models"
	"github.com/tomtom215/listmirror/internal/pipeline"
)

// Store is the run bookkeeping surface, implemented by *store.DB.
type Store interface {
	LatestSettledRun(ctx context.Context, resource models.Resource) (*models.Run, error)
	CreateRun(ctx context.Context, run *models.Run) error
	FinalizeRun(ctx context.Context, run *models.Run) error
	KeysAtTimestamp(ctx context.Context, resource models.Resource, ts time.Time) ([]string, error)
	RunStats(ctx context.Context, runID string) (count int, bytes int64, avgLatencyMs float64, httpErrors map[int]int, err error)
	RefreshListingViews(ctx context.Context) error
}

// Feed is the paged fetch surface, implemented by *feed.BreakerClient.
type Feed interface {
	InitialURL(resource models.Resource) string
	ReplicationURL(resource models.Resource, hwm time.Time, resumeSafe bool) string
	Pages(ctx context.Context, firstURL, runID string, fn func(*feed.Page) error) error
}

// Processor applies one record, implemented by *pipeline.Processor.
type Processor interface {
	Process(ctx context.Context, resource models.Resource, raw []byte, flags pipeline.Flags) (*pipeline.Stats, error)
}

// Driver runs one replication cycle at a time for any resource.
type Driver struct {
	store     Store
	feed      Feed
	processor Processor

	now func() time.Time
}

// NewDriver wires a cycle driver.
func NewDriver(store Store, feedClient Feed, processor Processor) *Driver {
	return &Driver{
		store:     store,
		feed:      feedClient,
		processor: processor,
		now:       time.Now,
	}
}

// RunCycle executes one full cycle for a resource and returns the
// finalized run record. The returned error is the cycle-fatal error, if
// any; per-record errors are logged and swallowed.
func (d *Driver) RunCycle(ctx context.Context, resource models.Resource) (*models.Run, error) {
	last, err := d.store.LatestSettledRun(ctx, resource)
	if err != nil {
		return nil, err
	}

	run := &models.Run{
		ID:        uuid.NewString(),
		Resource:  resource,
		Status:    models.RunRunning,
		StartedAt: d.now().UTC(),
	}
	if last == nil || last.HwmEnd == nil {
		run.Mode = models.ModeInitialImport
	} else {
		run.Mode = models.ModeReplication
		hwm := *last.HwmEnd
		run.HwmStart = &hwm
	}
	if err := d.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	logging.Info().
		Str("resource", string(resource)).
		Str("run_id", run.ID).
		Str("mode", string(run.Mode)).
		Msg("Replication cycle started")

	totals, committed, cycleErr := d.iterate(ctx, run)

	now := d.now().UTC()
	run.CompletedAt = &now
	switch {
	case cycleErr == nil:
		run.Status = models.RunCompleted
	case committed > 0:
		run.Status = models.RunPartial
	default:
		run.Status = models.RunFailed
	}
	if cycleErr != nil {
		msg := cycleErr.Error()
		run.ErrorMessage = &msg
	}
	if !totals.Hwm.IsZero() {
		hwm := totals.Hwm
		run.HwmEnd = &hwm
	} else {
		// Nothing observed: carry the start HWM so the next cycle
		// resumes from the same point.
		run.HwmEnd = run.HwmStart
	}
	run.RecordsInserted = totals.Inserted
	run.RecordsUpdated = totals.Updated
	run.RecordsDeleted = totals.Deleted
	run.MediaDownloaded = totals.MediaDownloaded
	run.MediaDeleted = totals.MediaDeleted
	run.MediaBytes = totals.MediaBytes

	if count, bytes, latency, httpErrors, err := d.store.RunStats(ctx, run.ID); err == nil {
		run.RequestCount = count
		run.RequestBytes = bytes
		run.AvgLatencyMs = latency
		run.HTTPErrors = httpErrors
	} else {
		logging.Warn().Str("run_id", run.ID).Err(err).Msg("Could not aggregate run stats")
	}

	if err := d.store.FinalizeRun(ctx, run); err != nil {
		return run, err
	}

	d.observeCycle(run)

	if resource == models.ResourceProperty && run.Status != models.RunFailed {
		// Best effort: the view may not exist on fresh deployments.
		if err := d.store.RefreshListingViews(ctx); err != nil {
			logging.Debug().Err(err).Msg("Materialized view refresh skipped")
		}
	}

	logging.Info().
		Str("resource", string(resource)).
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("received", run.RecordsReceived).
		Int("inserted", run.RecordsInserted).
		Int("updated", run.RecordsUpdated).
		Int("deleted", run.RecordsDeleted).
		Int("media_downloaded", run.MediaDownloaded).
		Msg("Replication cycle finished")

	return run, cycleErr
}

// iterate pages through the feed, routing records to the processor and
// applying the dedup protocol on resumed cycles.
func (d *Driver) iterate(ctx context.Context, run *models.Run) (totals pipeline.Stats, committed int, err error) {
	resource := run.Resource
	flags := pipeline.Flags{
		InitialImport: run.Mode == models.ModeInitialImport,
		RunID:         run.ID,
	}

	var firstURL string
	var dedup map[string]struct{}
	if run.Mode == models.ModeInitialImport {
		firstURL = d.feed.InitialURL(resource)
	} else {
		firstURL = d.feed.ReplicationURL(resource, *run.HwmStart, true)
		keys, err := d.store.KeysAtTimestamp(ctx, resource, *run.HwmStart)
		if err != nil {
			return totals, 0, err
		}
		if len(keys) > 0 {
			dedup = make(map[string]struct{}, len(keys))
			for _, k := range keys {
				dedup[k] = struct{}{}
			}
		}
	}

	err = d.feed.Pages(ctx, firstURL, run.ID, func(page *feed.Page) error {
		for _, raw := range page.Records {
			run.RecordsReceived++

			if len(dedup) > 0 {
				if key := recordKey(resource, raw); key != "" {
					if _, seen := dedup[key]; seen {
						// Already committed at the HWM boundary by the
						// previous cycle; skip the first occurrence only.
						delete(dedup, key)
						metrics.CycleRecords.WithLabelValues(string(resource), "skipped").Inc()
						continue
					}
				}
			}

			stats, perr := d.processor.Process(ctx, resource, raw, flags)
			if perr != nil {
				logging.Warn().
					Str("resource", string(resource)).
					Str("run_id", run.ID).
					Err(perr).
					Msg("Record skipped")
				metrics.CycleErrors.WithLabelValues(string(resource), classifyError(perr)).Inc()
				continue
			}
			totals.Add(stats)
			committed++
		}
		return nil
	})
	return totals, committed, err
}

// observeCycle publishes cycle metrics after finalization.
func (d *Driver) observeCycle(run *models.Run) {
	resource := string(run.Resource)
	if run.CompletedAt != nil {
		metrics.CycleDuration.WithLabelValues(resource, string(run.Mode)).
			Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())
	}
	metrics.CycleRecords.WithLabelValues(resource, "inserted").Add(float64(run.RecordsInserted))
	metrics.CycleRecords.WithLabelValues(resource, "updated").Add(float64(run.RecordsUpdated))
	metrics.CycleRecords.WithLabelValues(resource, "deleted").Add(float64(run.RecordsDeleted))
	if run.Status == models.RunCompleted || run.Status == models.RunPartial {
		metrics.CycleLastSuccess.WithLabelValues(resource).SetToCurrentTime()
	}
}

// classifyError buckets a per-record error for the error counter.
func classifyError(err error) string {
	var apiErr *feed.APIError
	switch {
	case errors.Is(err, mapper.ErrMappingFailed):
		return "mapping"
	case errors.Is(err, feed.ErrRateLimited):
		return "rate_limited"
	case errors.As(err, &apiErr):
		return "api"
	default:
		return "persistence"
	}
}

// recordKey extracts a record's primary key for dedup matching without
// running the full mapper.
func recordKey(resource models.Resource, raw []byte) string {
	var probe struct {
		ListingKey   string `json:"ListingKey"`
		MemberKey    string `json:"MemberKey"`
		OfficeKey    string `json:"OfficeKey"`
		OpenHouseKey string `json:"OpenHouseKey"`
		LookupKey    string `json:"LookupKey"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	switch resource {
	case models.ResourceProperty:
		return probe.ListingKey
	case models.ResourceMember:
		return probe.MemberKey
	case models.ResourceOffice:
		return probe.OfficeKey
	case models.ResourceOpenHouse:
		return probe.OpenHouseKey
	case models.ResourceLookup:
		return probe.LookupKey
	}
	return ""
}
