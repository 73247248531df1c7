// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package models defines the replicated entities (listings, members, offices,
// open houses, lookups, media) and the bookkeeping records (replication runs,
// request log, history rows) shared by the feed client, mapper, pipeline, and
// store.
package models

import "time"

// Resource identifies a replicated feed resource kind.
type Resource string

// Replicated resource kinds. The string values match the remote OData
// resource names and are also used as object-store key prefixes.
const (
	ResourceProperty  Resource = "Property"
	ResourceMember    Resource = "Member"
	ResourceOffice    Resource = "Office"
	ResourceOpenHouse Resource = "OpenHouse"
	ResourceLookup    Resource = "Lookup"
)

// AllResources lists every replicated resource in initial-import dependency
// order: Property first (parent for media and foreign keys), then Member and
// Office, then OpenHouse. Lookup is independent.
var AllResources = []Resource{
	ResourceProperty,
	ResourceMember,
	ResourceOffice,
	ResourceOpenHouse,
	ResourceLookup,
}

// Valid reports whether r is a known resource kind.
func (r Resource) Valid() bool {
	switch r {
	case ResourceProperty, ResourceMember, ResourceOffice, ResourceOpenHouse, ResourceLookup:
		return true
	}
	return false
}

// Expand returns the $expand clause for the resource, or "" when the
// resource has no expanded sub-resources.
func (r Resource) Expand() string {
	switch r {
	case ResourceProperty:
		return "Media,Rooms,UnitTypes"
	case ResourceMember, ResourceOffice:
		return "Media"
	default:
		return ""
	}
}

// PageSize returns the $top value for the resource: 1000 when expanding
// sub-resources, 5000 otherwise.
func (r Resource) PageSize() int {
	if r.Expand() != "" {
		return 1000
	}
	return 5000
}

// RunMode distinguishes the first full import from steady-state replication.
type RunMode string

// Replication cycle modes.
const (
	ModeInitialImport RunMode = "initial_import"
	ModeReplication   RunMode = "replication"
)

// RunStatus is the lifecycle state of a replication run.
type RunStatus string

// Replication run statuses.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// Run is the per-cycle bookkeeping record. HwmEnd, when non-nil, equals the
// greatest ModificationTimestamp the cycle observed.
type Run struct {
	ID           string
	Resource     Resource
	Mode         RunMode
	Status       RunStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	HwmStart     *time.Time
	HwmEnd       *time.Time
	ErrorMessage *string

	RecordsReceived int
	RecordsInserted int
	RecordsUpdated  int
	RecordsDeleted  int

	MediaDownloaded int
	MediaDeleted    int
	MediaBytes      int64

	RequestCount int
	RequestBytes int64
	AvgLatencyMs float64

	// HTTPErrors is a status-code histogram for failed requests in this run.
	HTTPErrors map[int]int
}

// RequestLogEntry is one row of the per-run request log. Every feed or CDN
// request, successful or not, appends exactly one entry.
type RequestLogEntry struct {
	ID           int64
	RunID        string
	URL          string
	Status       int
	ElapsedMs    int64
	Bytes        int64
	RecordCount  int
	ErrorMessage *string
	RequestedAt  time.Time
}
