// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package mapper

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/listmirror/internal/models"
	"github.com/tomtom215/listmirror/internal/objectstore"
)

// expandedKeys are the sub-resources removed by StripExpanded; they are
// stored in their own tables, not in the raw archive.
var expandedKeys = []string{"Media", "Rooms", "UnitTypes"}

// MapMedia maps the expanded Media sub-resource of a record into media
// rows with status pending_download and deterministic object keys.
// parentListingID is the prefixed vendor listing id (empty for members and
// offices), kept so expired URLs can be recovered by refetching the parent.
// Order defaults to the array position when the feed omits it.
func MapMedia(resource models.Resource, parentKey, parentListingID string, raw []byte) ([]models.Media, error) {
	items, err := subResource(raw, "Media")
	if err != nil {
		return nil, err
	}

	media := make([]models.Media, 0, len(items))
	for i, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil, fmt.Errorf("%w: media of %s: %v", ErrMappingFailed, parentKey, err)
		}
		mediaKey := rec.str("MediaKey")
		if mediaKey == "" {
			continue
		}

		order := i
		if p := rec.intPtr("Order"); p != nil {
			order = *p
		}
		contentType := rec.str("MimeType")

		media = append(media, models.Media{
			MediaKey:        mediaKey,
			Resource:        resource,
			ParentKey:       parentKey,
			ParentListingID: parentListingID,
			SourceURL:       rec.str("MediaURL"),
			ObjectKey:       objectstore.Key(string(resource), parentKey, mediaKey, contentType),
			Order:           order,
			Category:        rec.strPtr("MediaCategory"),
			ContentType:     contentType,
			Status:          models.MediaPending,
			MediaModTs:      rec.timePtr("MediaModificationTimestamp"),
		})
	}
	return media, nil
}

// StripExpanded returns the record with the expanded sub-resources removed,
// for the raw archive. The union of the output and the removed keys
// reproduces the input.
func StripExpanded(raw []byte) ([]byte, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingFailed, err)
	}
	for _, key := range expandedKeys {
		delete(rec, key)
	}
	out, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: re-encode archive: %v", ErrMappingFailed, err)
	}
	return out, nil
}

// subResource extracts a named expanded array from a raw record. A missing
// or null sub-resource is an empty slice, not an error.
func subResource(raw []byte, name string) ([]json.RawMessage, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingFailed, err)
	}
	sub, ok := rec[name]
	if !ok || isNull(sub) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(sub, &items); err != nil {
		return nil, fmt.Errorf("%w: %s is not an array: %v", ErrMappingFailed, name, err)
	}
	return items, nil
}
