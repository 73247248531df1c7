// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package mediaworker

import (
	"context"

	"github.com/tomtom215/listmirror/internal/feed"
	"github.com/tomtom215/listmirror/internal/logging"
	"github.com/tomtom215/listmirror/internal/mapper"
	"github.com/tomtom215/listmirror/internal/models"
)

// RecoverStale sweeps failed and expired media rows, cheapest remedy
// first: restore rows whose bytes already sit in the object store, then
// download rows whose stored URL is still fresh, then refetch parent
// listings for fresh URLs and download with those. Runs at startup and
// on the recovery interval.
func (w *Worker) RecoverStale(ctx context.Context) {
	rows, err := w.store.StaleMedia(ctx, recoveryBatch)
	if err != nil {
		logging.Error().Err(err).Msg("Could not load stale media")
		return
	}
	if len(rows) == 0 {
		return
	}
	logging.Info().Int("count", len(rows)).Msg("Recovering stale media")

	var needFreshURL []models.Media
	for i := range rows {
		m := &rows[i]
		switch {
		case m.Downloaded():
			// The bytes were stored before the status drifted.
			w.setStatus(ctx, m.MediaKey, models.MediaComplete)

		case m.SourceURL != "" && !feed.URLExpired(m.SourceURL, w.now()):
			w.ProcessOne(ctx, m)

		default:
			needFreshURL = append(needFreshURL, *m)
		}

		if ctx.Err() != nil {
			return
		}
	}

	w.recoverWithRefetch(ctx, needFreshURL)
}

// recoverWithRefetch groups rows by parent listing, refetches each
// listing once for fresh signed URLs, rewrites the stored URLs, and
// downloads. Rows without a refetchable parent (member headshots,
// office logos) stay stale until the feed re-sends them.
func (w *Worker) recoverWithRefetch(ctx context.Context, rows []models.Media) {
	byListing := make(map[string][]models.Media)
	for i := range rows {
		m := rows[i]
		if m.Resource != models.ResourceProperty || m.ParentListingID == "" {
			continue
		}
		byListing[m.ParentListingID] = append(byListing[m.ParentListingID], m)
	}

	for listingID, group := range byListing {
		if ctx.Err() != nil {
			return
		}

		raw, err := w.feed.FetchSingleListing(ctx, listingID, "")
		if err != nil || raw == nil {
			logging.Warn().Str("listing_id", listingID).Err(err).Msg("Could not refetch listing for media recovery")
			continue
		}
		fresh, err := mapper.MapMedia(models.ResourceProperty, group[0].ParentKey, listingID, raw)
		if err != nil {
			logging.Warn().Str("listing_id", listingID).Err(err).Msg("Refetched listing has unusable media")
			continue
		}
		urls := make(map[string]string, len(fresh))
		for i := range fresh {
			if fresh[i].SourceURL != "" {
				urls[fresh[i].MediaKey] = fresh[i].SourceURL
			}
		}

		for i := range group {
			m := group[i]
			url, ok := urls[m.MediaKey]
			if !ok {
				// The asset is gone upstream; the next listing cycle
				// will reconcile it away.
				continue
			}
			if err := w.store.UpdateMediaSourceURL(ctx, m.MediaKey, url); err != nil {
				logging.Error().Str("media_key", m.MediaKey).Err(err).Msg("Could not store refreshed media URL")
				continue
			}
			m.SourceURL = url
			w.ProcessOne(ctx, &m)
		}
	}
}
