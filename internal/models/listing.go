// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package models

import "time"

// Listing is the replicated property record. The vendor key
// (ListingKey) is the primary key; ListingID (prefixed) is a secondary
// unique key.
//
// Money and measurement fields are carried as decimal strings to preserve
// the feed's precision end to end; the store binds them to NUMERIC columns.
//
// Attributes whose JSON names carry a 2-3 letter uppercase vendor prefix
// (e.g. "NWM_", "CRM_") never become struct fields; the mapper relocates
// them into LocalFields.
type Listing struct {
	ListingKey            string
	ListingID             string
	ListingIDDisplay      string
	OriginatingSystemName string

	// Pricing
	ListPrice         *string
	OriginalListPrice *string
	PreviousListPrice *string
	ClosePrice        *string

	// Status
	StandardStatus  *string
	MlsStatus       *string
	MajorChangeType *string

	// Physical attributes
	PropertyType          *string
	PropertySubType       *string
	BedroomsTotal         *int
	BathroomsTotalInteger *int
	BathroomsFull         *int
	BathroomsHalf         *int
	LivingArea            *string
	LotSizeAcres          *string
	LotSizeSquareFeet     *string
	YearBuilt             *int
	StoriesTotal          *int
	GarageSpaces          *string
	FireplacesTotal       *int
	PoolPrivateYN         *bool
	WaterfrontYN          *bool
	NewConstructionYN     *bool

	// Geography
	UnparsedAddress *string
	City            *string
	StateOrProvince *string
	PostalCode      *string
	CountyOrParish  *string
	SubdivisionName *string
	Latitude        *float64
	Longitude       *float64
	// GeoPoint is the EWKT spatial point "SRID=4326;POINT(lng lat)",
	// set only when both coordinates are present.
	GeoPoint *string

	// Parties
	ListAgentKey    *string
	ListAgentMlsID  *string
	ListOfficeKey   *string
	ListOfficeMlsID *string
	BuyerAgentKey   *string
	BuyerOfficeKey  *string

	// Remarks
	PublicRemarks  *string
	PrivateRemarks *string

	// Schools
	ElementarySchool     *string
	MiddleOrJuniorSchool *string
	HighSchool           *string
	HighSchoolDistrict   *string

	// Tax
	TaxAnnualAmount *string
	TaxYear         *int
	ParcelNumber    *string

	// Compensation
	BuyerAgencyCompensation     *string
	BuyerAgencyCompensationType *string

	// Visibility
	CanView  bool
	UseCases []string

	PhotosCount *int

	// Timestamps. ModificationTs is non-null and monotonic per key.
	ModificationTs   time.Time
	OriginatingModTs *time.Time
	PhotosChangeTs   *time.Time
	MajorChangeTs    *time.Time
	OriginalEntryTs  *time.Time

	// LocalFields holds vendor-local attributes (prefix + underscore),
	// persisted as a JSON side-bag rather than columns.
	LocalFields map[string]any

	// DeletedAt is the soft-delete marker set when CanView flips false.
	DeletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Room is a child record owned wholly by its parent listing; the full set is
// replaced on every upsert.
type Room struct {
	RoomKey        string
	ListingKey     string
	RoomType       *string
	RoomLevel      *string
	RoomDimensions *string
	RoomArea       *string
	RoomFeatures   []string
}

// UnitType is a child record for multi-unit properties, replaced as a set on
// every upsert like Rooms.
type UnitType struct {
	UnitTypeKey       string
	ListingKey        string
	UnitTypeType      *string
	UnitsTotal        *int
	BedsTotal         *int
	BathsTotal        *int
	ActualRent        *string
	UnitTypeProForma  *string
	GarageSpaces      *int
	GarageAttachedYN  *bool
	SquareFeetTotal   *string
	FurnishedYN       *bool
	MonthlyRentTotal  *string
	SecurityDepositYN *bool
}

// RawResponse archives the last mapper-input JSON for a listing with the
// expanded sub-resources stripped. One row per listing.
type RawResponse struct {
	ListingKey string
	Payload    []byte
	UpdatedAt  time.Time
}
