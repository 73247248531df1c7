// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package alert is the notification extension point. The pipeline emits
// events for interesting listing transitions during replication; the
// default hook drops them. Deployments wire their own implementation
// (webhook, queue) without touching the pipeline.
package alert

import "context"

// EventType classifies a listing transition.
type EventType string

// Emitted transitions. Initial imports are silent; only replication-mode
// changes are interesting.
const (
	EventNewListing    EventType = "new_listing"
	EventPriceChange   EventType = "price_change"
	EventStatusChange  EventType = "status_change"
	EventListingHidden EventType = "listing_hidden"
)

// Event is one listing transition.
type Event struct {
	Type       EventType
	ListingKey string
	ListingID  string
	OldValue   *string
	NewValue   *string
}

// Hook receives events. Implementations must be fast or buffer internally;
// the pipeline calls Notify inline.
type Hook interface {
	Notify(ctx context.Context, e Event)
}

// Nop discards all events. The default hook.
type Nop struct{}

// Notify implements Hook.
func (Nop) Notify(context.Context, Event) {}
