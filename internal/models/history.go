// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package models

import "time"

// Price change types recorded in PriceHistory. When the vendor supplies a
// MajorChangeType it wins; otherwise the type is inferred from the sign of
// the delta.
const (
	PriceIncrease = "Price Increase"
	PriceDecrease = "Price Decrease"
)

// StatusDeleted is the synthetic status recorded when a listing is
// soft-hidden (CanView flips to false).
const StatusDeleted = "Deleted/Removed"

// PriceHistory is an append-only record of a list-price change, emitted only
// in replication mode when a delta is observed.
type PriceHistory struct {
	ID         int64
	ListingKey string
	OldPrice   *string
	NewPrice   *string
	ChangeType string
	RecordedAt time.Time
}

// StatusHistory is an append-only record of a standard-status change.
type StatusHistory struct {
	ID         int64
	ListingKey string
	OldStatus  *string
	NewStatus  string
	RecordedAt time.Time
}

// ChangeLog is an append-only old/new record for a watched field.
type ChangeLog struct {
	ID         int64
	ListingKey string
	FieldName  string
	OldValue   *string
	NewValue   *string
	RecordedAt time.Time
}

// WatchedFields lists the listing attributes whose deltas produce ChangeLog
// rows during replication.
var WatchedFields = []string{
	"ListPrice",
	"StandardStatus",
	"PhotosCount",
	"PublicRemarks",
	"LivingArea",
}
