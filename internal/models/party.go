// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package models

import "time"

// Member is a replicated agent record. Members can own media (headshots).
type Member struct {
	MemberKey             string
	MemberMlsID           *string
	OriginatingSystemName string
	FullName              *string
	FirstName             *string
	LastName              *string
	Email                 *string
	Phone                 *string
	OfficeKey             *string
	OfficeMlsID           *string
	StateLicense          *string
	MemberStatus          *string

	CanView bool

	ModificationTs time.Time
	PhotosChangeTs *time.Time

	LocalFields map[string]any

	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Office is a replicated brokerage office record. Offices can own media
// (logos).
type Office struct {
	OfficeKey             string
	OfficeMlsID           *string
	OriginatingSystemName string
	OfficeName            *string
	Phone                 *string
	Email                 *string
	Address               *string
	City                  *string
	StateOrProvince       *string
	PostalCode            *string
	OfficeStatus          *string

	CanView bool

	ModificationTs time.Time
	PhotosChangeTs *time.Time

	LocalFields map[string]any

	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OpenHouse is a replicated open-house event. It references its listing by
// the prefixed listing id, not the listing key, and may arrive before the
// parent listing on first contact; the store deliberately omits the foreign
// key for that reason.
type OpenHouse struct {
	OpenHouseKey          string
	ListingID             string
	OriginatingSystemName string
	OpenHouseDate         *time.Time
	StartTime             *time.Time
	EndTime               *time.Time
	Remarks               *string
	OpenHouseType         *string

	CanView bool

	ModificationTs time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lookup is one enumerated domain value, keyed by (vendor system, lookup
// name, lookup key).
type Lookup struct {
	LookupKey             string
	OriginatingSystemName string
	LookupName            string
	LookupValue           *string
	StandardLookupValue   *string
	LegacyODataValue      *string

	ModificationTs time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
