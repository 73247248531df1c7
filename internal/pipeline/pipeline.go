// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package pipeline turns raw feed records into database state. One
// Processor handles every resource; the replication driver routes each
// page's records here and accumulates the returned Stats into the run.
package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/tomtom215/listmirror/internal/alert"
	"github.com/tomtom215/listmirror/internal/feed"
	"github.com/tomtom215/listmirror/internal/mapper"
	"github.com/tomtom215/listmirror/internal/models"
)

// Store is the persistence surface the pipeline writes through,
// implemented by *store.DB.
type Store interface {
	GetListing(ctx context.Context, listingKey string) (*models.Listing, error)
	UpsertListing(ctx context.Context, l *models.Listing, rooms []models.Room, units []models.UnitType, rawArchive []byte) (bool, error)
	SoftHideListing(ctx context.Context, listingKey string, at time.Time) error

	AppendPriceHistory(ctx context.Context, h *models.PriceHistory) error
	AppendStatusHistory(ctx context.Context, h *models.StatusHistory) error
	AppendChangeLog(ctx context.Context, c *models.ChangeLog) error

	MediaForParent(ctx context.Context, resource models.Resource, parentKey string) ([]models.Media, error)
	UpsertMedia(ctx context.Context, m *models.Media) error
	DeleteMedia(ctx context.Context, mediaKeys []string) error
	MarkMediaComplete(ctx context.Context, mediaKey, objectKey, publicURL, contentType string, size int64) error
	SetMediaStatus(ctx context.Context, mediaKey string, status models.MediaStatus) error
	InsertMediaDownload(ctx context.Context, d *models.MediaDownload) error

	GetMember(ctx context.Context, memberKey string) (*models.Member, error)
	UpsertMember(ctx context.Context, m *models.Member) (bool, error)
	SoftHideMember(ctx context.Context, memberKey string, at time.Time) error
	GetOffice(ctx context.Context, officeKey string) (*models.Office, error)
	UpsertOffice(ctx context.Context, o *models.Office) (bool, error)
	SoftHideOffice(ctx context.Context, officeKey string, at time.Time) error
	UpsertOpenHouse(ctx context.Context, oh *models.OpenHouse) (bool, error)
	DeleteOpenHouse(ctx context.Context, openHouseKey string) error
	UpsertLookup(ctx context.Context, l *models.Lookup) (bool, error)
}

// ObjectStore is the media byte storage, implemented by
// *objectstore.Client.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	RemoveBatch(ctx context.Context, keys []string) error
	PublicURL(key string) string
}

// Feed is the outbound client surface the pipeline needs: media bytes
// and the single-record refetch used to refresh expired media URLs.
type Feed interface {
	DownloadMedia(ctx context.Context, mediaURL string) (*feed.MediaBlob, error)
	FetchSingleListing(ctx context.Context, listingID, runID string) ([]byte, error)
}

// Flags carries per-cycle context into each record.
type Flags struct {
	// InitialImport suppresses history, change-log, and alert emission:
	// a first full sweep observes state, it does not observe change.
	InitialImport bool
	RunID         string
}

// Stats is the per-record outcome, summed by the driver into run
// counters.
type Stats struct {
	Inserted int
	Updated  int
	Deleted  int

	MediaQueued     int
	MediaDownloaded int
	MediaDeleted    int
	MediaBytes      int64

	// Hwm is this record's modification timestamp; the running maximum
	// across a cycle becomes the next high-water mark.
	Hwm time.Time
}

// Add folds another record's stats into s, keeping the later Hwm.
func (s *Stats) Add(o *Stats) {
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Deleted += o.Deleted
	s.MediaQueued += o.MediaQueued
	s.MediaDownloaded += o.MediaDownloaded
	s.MediaDeleted += o.MediaDeleted
	s.MediaBytes += o.MediaBytes
	if o.Hwm.After(s.Hwm) {
		s.Hwm = o.Hwm
	}
}

// Processor applies feed records to the mirror. Safe for use from a
// single replication goroutine per resource; the inline media loop is
// the only internal concurrency.
type Processor struct {
	store   Store
	objects ObjectStore
	feed    Feed
	hook    alert.Hook

	inlineConcurrency int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a Processor. A nil hook disables notifications.
func New(store Store, objects ObjectStore, feedClient Feed, hook alert.Hook, inlineConcurrency int) *Processor {
	if hook == nil {
		hook = alert.Nop{}
	}
	if inlineConcurrency < 1 {
		inlineConcurrency = 1
	}
	return &Processor{
		store:             store,
		objects:           objects,
		feed:              feedClient,
		hook:              hook,
		inlineConcurrency: inlineConcurrency,
		now:               time.Now,
		sleep:             sleepCtx,
	}
}

// Process routes one raw record by resource.
func (p *Processor) Process(ctx context.Context, resource models.Resource, raw []byte, flags Flags) (*Stats, error) {
	switch resource {
	case models.ResourceProperty:
		return p.ProcessListing(ctx, raw, flags)
	case models.ResourceMember:
		return p.ProcessMember(ctx, raw, flags)
	case models.ResourceOffice:
		return p.ProcessOffice(ctx, raw, flags)
	case models.ResourceOpenHouse:
		return p.ProcessOpenHouse(ctx, raw, flags)
	case models.ResourceLookup:
		return p.ProcessLookup(ctx, raw, flags)
	default:
		return nil, &UnknownResourceError{Resource: resource}
	}
}

// UnknownResourceError reports a record routed for a resource the
// pipeline does not handle.
type UnknownResourceError struct {
	Resource models.Resource
}

func (e *UnknownResourceError) Error() string {
	return "pipeline: unknown resource " + string(e.Resource)
}

// ProcessListing applies one Property record: visibility gate, watched
// field diffing, atomic upsert with children and raw archive, then the
// inline media refresh when photos changed.
func (p *Processor) ProcessListing(ctx context.Context, raw []byte, flags Flags) (*Stats, error) {
	l, err := mapper.MapListing(raw)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Hwm: l.ModificationTs}

	if !l.CanView {
		return p.hideListing(ctx, l, flags, stats)
	}

	existing, err := p.store.GetListing(ctx, l.ListingKey)
	if err != nil {
		return nil, err
	}

	if existing != nil && !flags.InitialImport {
		if err := p.diffListing(ctx, existing, l); err != nil {
			return nil, err
		}
	}

	rooms, err := mapper.MapRooms(l.ListingKey, raw)
	if err != nil {
		return nil, err
	}
	units, err := mapper.MapUnitTypes(l.ListingKey, raw)
	if err != nil {
		return nil, err
	}
	archive, err := mapper.StripExpanded(raw)
	if err != nil {
		return nil, err
	}

	inserted, err := p.store.UpsertListing(ctx, l, rooms, units, archive)
	if err != nil {
		return nil, err
	}
	if inserted {
		stats.Inserted = 1
		if !flags.InitialImport {
			p.hook.Notify(ctx, alert.Event{
				Type:       alert.EventNewListing,
				ListingKey: l.ListingKey,
				ListingID:  l.ListingID,
			})
		}
	} else {
		stats.Updated = 1
	}

	if photosChanged(existing, l) {
		incoming, err := mapper.MapMedia(models.ResourceProperty, l.ListingKey, l.ListingID, raw)
		if err != nil {
			return nil, err
		}
		if len(incoming) > 0 {
			if err := p.refreshMedia(ctx, models.ResourceProperty, l.ListingKey, l.ListingID, incoming, flags, stats); err != nil {
				return nil, err
			}
		}
	}
	return stats, nil
}

// hideListing handles an incoming canView=false Property record: soft
// hide, media untouched.
func (p *Processor) hideListing(ctx context.Context, l *models.Listing, flags Flags, stats *Stats) (*Stats, error) {
	existing, err := p.store.GetListing(ctx, l.ListingKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return stats, nil
	}

	if err := p.store.SoftHideListing(ctx, l.ListingKey, p.now().UTC()); err != nil {
		return nil, err
	}
	stats.Deleted = 1

	if existing.CanView && !flags.InitialImport {
		if err := p.store.AppendStatusHistory(ctx, &models.StatusHistory{
			ListingKey: l.ListingKey,
			OldStatus:  existing.StandardStatus,
			NewStatus:  models.StatusDeleted,
			RecordedAt: p.now().UTC(),
		}); err != nil {
			return nil, err
		}
		p.hook.Notify(ctx, alert.Event{
			Type:       alert.EventListingHidden,
			ListingKey: l.ListingKey,
			ListingID:  l.ListingID,
			OldValue:   existing.StandardStatus,
		})
	}
	return stats, nil
}

// diffListing emits change-log, price-history, and status-history rows
// for watched deltas between the stored row and the incoming record.
func (p *Processor) diffListing(ctx context.Context, old, incoming *models.Listing) error {
	ctxNow := p.now().UTC()
	for _, field := range models.WatchedFields {
		oldVal := watchedValue(old, field)
		newVal := watchedValue(incoming, field)
		if strPtrEqual(oldVal, newVal) {
			continue
		}
		if err := p.store.AppendChangeLog(ctx, &models.ChangeLog{
			ListingKey: incoming.ListingKey,
			FieldName:  field,
			OldValue:   oldVal,
			NewValue:   newVal,
			RecordedAt: ctxNow,
		}); err != nil {
			return err
		}
	}

	if !strPtrEqual(old.ListPrice, incoming.ListPrice) {
		if err := p.store.AppendPriceHistory(ctx, &models.PriceHistory{
			ListingKey: incoming.ListingKey,
			OldPrice:   old.ListPrice,
			NewPrice:   incoming.ListPrice,
			ChangeType: priceChangeType(old.ListPrice, incoming.ListPrice, incoming.MajorChangeType),
			RecordedAt: ctxNow,
		}); err != nil {
			return err
		}
		p.hook.Notify(ctx, alert.Event{
			Type:       alert.EventPriceChange,
			ListingKey: incoming.ListingKey,
			ListingID:  incoming.ListingID,
			OldValue:   old.ListPrice,
			NewValue:   incoming.ListPrice,
		})
	}

	if !strPtrEqual(old.StandardStatus, incoming.StandardStatus) {
		newStatus := ""
		if incoming.StandardStatus != nil {
			newStatus = *incoming.StandardStatus
		}
		if err := p.store.AppendStatusHistory(ctx, &models.StatusHistory{
			ListingKey: incoming.ListingKey,
			OldStatus:  old.StandardStatus,
			NewStatus:  newStatus,
			RecordedAt: ctxNow,
		}); err != nil {
			return err
		}
		p.hook.Notify(ctx, alert.Event{
			Type:       alert.EventStatusChange,
			ListingKey: incoming.ListingKey,
			ListingID:  incoming.ListingID,
			OldValue:   old.StandardStatus,
			NewValue:   incoming.StandardStatus,
		})
	}
	return nil
}

// photosChanged reports whether the media refresh should run: new
// record, or the photos change timestamp moved.
func photosChanged(old, incoming *models.Listing) bool {
	if old == nil {
		return true
	}
	return !timePtrEqual(old.PhotosChangeTs, incoming.PhotosChangeTs)
}

// watchedValue renders one watched field as its comparable string form.
func watchedValue(l *models.Listing, field string) *string {
	switch field {
	case "ListPrice":
		return l.ListPrice
	case "StandardStatus":
		return l.StandardStatus
	case "PhotosCount":
		if l.PhotosCount == nil {
			return nil
		}
		s := strconv.Itoa(*l.PhotosCount)
		return &s
	case "PublicRemarks":
		return l.PublicRemarks
	case "LivingArea":
		return l.LivingArea
	default:
		return nil
	}
}

// priceChangeType prefers the vendor's MajorChangeType; otherwise the
// sign of the delta decides.
func priceChangeType(oldPrice, newPrice, majorChangeType *string) string {
	if majorChangeType != nil && *majorChangeType != "" {
		return *majorChangeType
	}
	oldF, oldOK := parsePrice(oldPrice)
	newF, newOK := parsePrice(newPrice)
	if oldOK && newOK && newF < oldF {
		return models.PriceDecrease
	}
	return models.PriceIncrease
}

func parsePrice(s *string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
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
