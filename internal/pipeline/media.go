// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/listmirror/internal/feed"
	"github.com/tomtom215/listmirror/internal/logging"
	"github.com/tomtom215/listmirror/internal/mapper"
	"github.com/tomtom215/listmirror/internal/metrics"
	"github.com/tomtom215/listmirror/internal/models"
)

const (
	// inlineMaxAttempts caps download retries inside the pipeline;
	// anything still failing is deferred to the background worker.
	inlineMaxAttempts = 3

	// transientBackoff is the pause between retries of non-429 errors.
	transientBackoff = 2 * time.Second

	// rateLimitBackoff scales with the attempt number on 429s.
	rateLimitBackoff = 30 * time.Second
)

// refreshMedia reconciles a record's stored media against the incoming
// set: removed assets are deleted from the object store and metadata,
// unchanged ones are skipped, and the rest are downloaded inline in
// bounded batches.
func (p *Processor) refreshMedia(ctx context.Context, resource models.Resource, parentKey, parentListingID string, incoming []models.Media, flags Flags, stats *Stats) error {
	stored, err := p.store.MediaForParent(ctx, resource, parentKey)
	if err != nil {
		return err
	}
	storedByKey := make(map[string]*models.Media, len(stored))
	for i := range stored {
		storedByKey[stored[i].MediaKey] = &stored[i]
	}

	if err := p.removeOrphanedMedia(ctx, stored, incoming, stats); err != nil {
		return err
	}

	var needsDownload []models.Media
	for i := range incoming {
		m := &incoming[i]
		if err := p.store.UpsertMedia(ctx, m); err != nil {
			return err
		}

		old := storedByKey[m.MediaKey]
		switch {
		case old != nil && old.Status == models.MediaComplete && timePtrEqual(old.MediaModTs, m.MediaModTs):
			// Unchanged; the upsert already refreshed metadata.
		case old != nil && old.Downloaded():
			// Bytes are already safe in the object store even if the
			// source URL has expired since; no re-download.
			if old.Status != models.MediaComplete {
				if err := p.store.SetMediaStatus(ctx, m.MediaKey, models.MediaComplete); err != nil {
					return err
				}
			}
		default:
			needsDownload = append(needsDownload, *m)
		}
	}
	if len(needsDownload) == 0 {
		return nil
	}
	stats.MediaQueued += len(needsDownload)

	freshURLs := p.freshURLsIfExpired(ctx, resource, parentListingID, incoming, flags)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.inlineConcurrency)
	for i := range needsDownload {
		m := needsDownload[i]
		g.Go(func() error {
			downloaded, bytes := p.downloadInline(gctx, &m, storedByKey[m.MediaKey], freshURLs[m.MediaKey])
			if downloaded {
				mu.Lock()
				stats.MediaDownloaded++
				stats.MediaBytes += bytes
				mu.Unlock()
			}
			return gctx.Err()
		})
	}
	return g.Wait()
}

// removeOrphanedMedia deletes stored media absent from the incoming
// set, object bytes first, metadata second.
func (p *Processor) removeOrphanedMedia(ctx context.Context, stored, incoming []models.Media, stats *Stats) error {
	incomingKeys := make(map[string]struct{}, len(incoming))
	for i := range incoming {
		incomingKeys[incoming[i].MediaKey] = struct{}{}
	}

	var removedKeys, objectKeys []string
	for i := range stored {
		if _, ok := incomingKeys[stored[i].MediaKey]; ok {
			continue
		}
		removedKeys = append(removedKeys, stored[i].MediaKey)
		if stored[i].ObjectKey != "" {
			objectKeys = append(objectKeys, stored[i].ObjectKey)
		}
	}
	if len(removedKeys) == 0 {
		return nil
	}

	if err := p.objects.RemoveBatch(ctx, objectKeys); err != nil {
		return err
	}
	if err := p.store.DeleteMedia(ctx, removedKeys); err != nil {
		return err
	}
	stats.MediaDeleted += len(removedKeys)
	return nil
}

// freshURLsIfExpired checks the first incoming URL for the signed-URL
// expiry window and, when stale, refetches the parent listing to build
// a mediaKey to fresh-URL map. Only Property records can be refetched
// by a single-record filter; other resources fall through to the
// background recovery sweep.
func (p *Processor) freshURLsIfExpired(ctx context.Context, resource models.Resource, parentListingID string, incoming []models.Media, flags Flags) map[string]string {
	if len(incoming) == 0 || !feed.URLExpired(incoming[0].SourceURL, p.now()) {
		return nil
	}
	if resource != models.ResourceProperty || parentListingID == "" {
		return nil
	}

	raw, err := p.feed.FetchSingleListing(ctx, parentListingID, flags.RunID)
	if err != nil || raw == nil {
		logging.Warn().
			Str("listing_id", parentListingID).
			Err(err).
			Msg("Could not refetch listing for fresh media URLs")
		return nil
	}
	fresh, err := mapper.MapMedia(resource, incoming[0].ParentKey, parentListingID, raw)
	if err != nil {
		logging.Warn().
			Str("listing_id", parentListingID).
			Err(err).
			Msg("Refetched listing has unusable media")
		return nil
	}

	urls := make(map[string]string, len(fresh))
	for i := range fresh {
		if fresh[i].SourceURL != "" {
			urls[fresh[i].MediaKey] = fresh[i].SourceURL
		}
	}
	return urls
}

// downloadInline fetches one media asset with retries, uploads it, and
// marks the row complete. Terminal failures leave the row in failed or
// expired for the background worker; errors never abort the record.
func (p *Processor) downloadInline(ctx context.Context, m *models.Media, old *models.Media, freshURL string) (downloaded bool, bytes int64) {
	url := m.SourceURL
	if freshURL != "" {
		url = freshURL
	}
	if url == "" {
		p.finishMedia(ctx, m.MediaKey, models.MediaFailed)
		return false, 0
	}
	if feed.URLExpired(url, p.now()) {
		p.finishMedia(ctx, m.MediaKey, models.MediaExpired)
		return false, 0
	}

	for attempt := 0; attempt < inlineMaxAttempts; attempt++ {
		start := p.now()
		blob, err := p.feed.DownloadMedia(ctx, url)
		if err == nil {
			if err := p.storeBlob(ctx, m, blob, p.now().Sub(start)); err != nil {
				logging.Error().Str("media_key", m.MediaKey).Err(err).Msg("Media upload failed")
				p.finishMedia(ctx, m.MediaKey, models.MediaFailed)
				return false, 0
			}
			metrics.MediaDownloads.WithLabelValues("complete").Inc()
			return true, blob.Size
		}

		switch {
		case errors.Is(err, feed.ErrRateLimited):
			metrics.MediaDownloads.WithLabelValues("rate_limited").Inc()
			if p.sleep(ctx, time.Duration(attempt+1)*rateLimitBackoff) != nil {
				return false, 0
			}
		case errors.Is(err, feed.ErrURLExpired):
			if old != nil && old.Downloaded() {
				// Stored bytes remain valid; keep them.
				p.finishMedia(ctx, m.MediaKey, models.MediaComplete)
			} else {
				metrics.MediaDownloads.WithLabelValues("expired").Inc()
				p.finishMedia(ctx, m.MediaKey, models.MediaExpired)
			}
			return false, 0
		default:
			logging.Warn().
				Str("media_key", m.MediaKey).
				Int("attempt", attempt+1).
				Err(err).
				Msg("Media download failed")
			if p.sleep(ctx, transientBackoff) != nil {
				return false, 0
			}
		}
	}

	metrics.MediaDownloads.WithLabelValues("failed").Inc()
	p.finishMedia(ctx, m.MediaKey, models.MediaFailed)
	return false, 0
}

// storeBlob uploads downloaded bytes and records completion plus the
// download audit row.
func (p *Processor) storeBlob(ctx context.Context, m *models.Media, blob *feed.MediaBlob, elapsed time.Duration) error {
	if err := p.objects.Put(ctx, m.ObjectKey, blob.Data, blob.ContentType); err != nil {
		return err
	}
	publicURL := p.objects.PublicURL(m.ObjectKey)
	if err := p.store.MarkMediaComplete(ctx, m.MediaKey, m.ObjectKey, publicURL, blob.ContentType, blob.Size); err != nil {
		return err
	}
	if err := p.store.InsertMediaDownload(ctx, &models.MediaDownload{
		MediaKey:     m.MediaKey,
		ObjectKey:    m.ObjectKey,
		Bytes:        blob.Size,
		ElapsedMs:    elapsed.Milliseconds(),
		DownloadedAt: p.now().UTC(),
	}); err != nil {
		return err
	}
	return nil
}

// finishMedia sets a terminal status, logging rather than failing the
// record when the write itself errors.
func (p *Processor) finishMedia(ctx context.Context, mediaKey string, status models.MediaStatus) {
	if err := p.store.SetMediaStatus(ctx, mediaKey, status); err != nil {
		logging.Error().
			Str("media_key", mediaKey).
			Str("status", string(status)).
			Err(err).
			Msg("Could not persist media status")
	}
}
