// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package mapper translates raw feed records into the internal entities.
// Mapping is pure and deterministic: the same input always produces the
// same entity, and the only hard failures are a missing primary key or a
// malformed ModificationTimestamp.
//
// Attributes whose JSON names carry a 2-3 letter uppercase vendor prefix
// followed by an underscore (NWM_Foo, CRMLS_Bar) never map to explicit
// fields; they are partitioned into the LocalFields side bag in a single
// pass over the record.
package mapper

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/tomtom215/listmirror/internal/models"
)

// ErrMappingFailed marks a record the pipeline cannot process. It is logged
// and counted, never retried; the record will come around again on its next
// modification.
var ErrMappingFailed = errors.New("record mapping failed")

// vendorLocalRe matches vendor-local attribute names: a 2-3 letter
// uppercase prefix and an underscore.
var vendorLocalRe = regexp.MustCompile(`^[A-Z]{2,3}_`)

// listingIDRe splits a prefixed vendor listing id into its uppercase
// prefix and the display remainder.
var listingIDRe = regexp.MustCompile(`^([A-Z]{2,3})(\d.*)$`)

// MapListing maps one raw Property record. The expanded sub-resources
// (Media, Rooms, UnitTypes) are mapped separately by MapMedia, MapRooms,
// and MapUnitTypes.
func MapListing(raw []byte) (*models.Listing, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingFailed, err)
	}

	key := rec.str("ListingKey")
	if key == "" {
		return nil, fmt.Errorf("%w: missing ListingKey", ErrMappingFailed)
	}
	modTs := rec.timePtr("ModificationTimestamp")
	if modTs == nil {
		return nil, fmt.Errorf("%w: listing %s has missing or malformed ModificationTimestamp", ErrMappingFailed, key)
	}

	listingID := rec.str("ListingId")

	l := &models.Listing{
		ListingKey:            key,
		ListingID:             listingID,
		ListingIDDisplay:      displayID(listingID),
		OriginatingSystemName: rec.str("OriginatingSystemName"),

		ListPrice:         rec.strPtr("ListPrice"),
		OriginalListPrice: rec.strPtr("OriginalListPrice"),
		PreviousListPrice: rec.strPtr("PreviousListPrice"),
		ClosePrice:        rec.strPtr("ClosePrice"),

		StandardStatus:  rec.strPtr("StandardStatus"),
		MlsStatus:       rec.strPtr("MlsStatus"),
		MajorChangeType: rec.strPtr("MajorChangeType"),

		PropertyType:          rec.strPtr("PropertyType"),
		PropertySubType:       rec.strPtr("PropertySubType"),
		BedroomsTotal:         rec.intPtr("BedroomsTotal"),
		BathroomsTotalInteger: rec.intPtr("BathroomsTotalInteger"),
		BathroomsFull:         rec.intPtr("BathroomsFull"),
		BathroomsHalf:         rec.intPtr("BathroomsHalf"),
		LivingArea:            rec.strPtr("LivingArea"),
		LotSizeAcres:          rec.strPtr("LotSizeAcres"),
		LotSizeSquareFeet:     rec.strPtr("LotSizeSquareFeet"),
		YearBuilt:             rec.intPtr("YearBuilt"),
		StoriesTotal:          rec.intPtr("StoriesTotal"),
		GarageSpaces:          rec.strPtr("GarageSpaces"),
		FireplacesTotal:       rec.intPtr("FireplacesTotal"),
		PoolPrivateYN:         rec.boolPtr("PoolPrivateYN"),
		WaterfrontYN:          rec.boolPtr("WaterfrontYN"),
		NewConstructionYN:     rec.boolPtr("NewConstructionYN"),

		UnparsedAddress: rec.strPtr("UnparsedAddress"),
		City:            rec.strPtr("City"),
		StateOrProvince: rec.strPtr("StateOrProvince"),
		PostalCode:      rec.strPtr("PostalCode"),
		CountyOrParish:  rec.strPtr("CountyOrParish"),
		SubdivisionName: rec.strPtr("SubdivisionName"),
		Latitude:        rec.floatPtr("Latitude"),
		Longitude:       rec.floatPtr("Longitude"),

		ListAgentKey:    rec.strPtr("ListAgentKey"),
		ListAgentMlsID:  rec.strPtr("ListAgentMlsId"),
		ListOfficeKey:   rec.strPtr("ListOfficeKey"),
		ListOfficeMlsID: rec.strPtr("ListOfficeMlsId"),
		BuyerAgentKey:   rec.strPtr("BuyerAgentKey"),
		BuyerOfficeKey:  rec.strPtr("BuyerOfficeKey"),

		PublicRemarks:  rec.strPtr("PublicRemarks"),
		PrivateRemarks: rec.strPtr("PrivateRemarks"),

		ElementarySchool:     rec.strPtr("ElementarySchool"),
		MiddleOrJuniorSchool: rec.strPtr("MiddleOrJuniorSchool"),
		HighSchool:           rec.strPtr("HighSchool"),
		HighSchoolDistrict:   rec.strPtr("HighSchoolDistrict"),

		TaxAnnualAmount: rec.strPtr("TaxAnnualAmount"),
		TaxYear:         rec.intPtr("TaxYear"),
		ParcelNumber:    rec.strPtr("ParcelNumber"),

		BuyerAgencyCompensation:     rec.strPtr("BuyerAgencyCompensation"),
		BuyerAgencyCompensationType: rec.strPtr("BuyerAgencyCompensationType"),

		CanView:  rec.boolVal("MlgCanView"),
		UseCases: rec.strSlice("MlgCanUse"),

		PhotosCount: rec.intPtr("PhotosCount"),

		ModificationTs:   *modTs,
		OriginatingModTs: rec.timePtr("OriginatingSystemModificationTimestamp"),
		PhotosChangeTs:   rec.timePtr("PhotosChangeTimestamp"),
		MajorChangeTs:    rec.timePtr("MajorChangeTimestamp"),
		OriginalEntryTs:  rec.timePtr("OriginalEntryTimestamp"),

		LocalFields: localFields(rec),
	}

	if l.Latitude != nil && l.Longitude != nil {
		point := fmt.Sprintf("SRID=4326;POINT(%v %v)", *l.Longitude, *l.Latitude)
		l.GeoPoint = &point
	}

	return l, nil
}

// MapRooms maps the expanded Rooms sub-resource of a listing record.
func MapRooms(listingKey string, raw []byte) ([]models.Room, error) {
	items, err := subResource(raw, "Rooms")
	if err != nil {
		return nil, err
	}

	rooms := make([]models.Room, 0, len(items))
	for _, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil, fmt.Errorf("%w: room of %s: %v", ErrMappingFailed, listingKey, err)
		}
		roomKey := rec.str("RoomKey")
		if roomKey == "" {
			continue
		}
		rooms = append(rooms, models.Room{
			RoomKey:        roomKey,
			ListingKey:     listingKey,
			RoomType:       rec.strPtr("RoomType"),
			RoomLevel:      rec.strPtr("RoomLevel"),
			RoomDimensions: rec.strPtr("RoomDimensions"),
			RoomArea:       rec.strPtr("RoomArea"),
			RoomFeatures:   rec.strSlice("RoomFeatures"),
		})
	}
	return rooms, nil
}

// MapUnitTypes maps the expanded UnitTypes sub-resource of a listing record.
func MapUnitTypes(listingKey string, raw []byte) ([]models.UnitType, error) {
	items, err := subResource(raw, "UnitTypes")
	if err != nil {
		return nil, err
	}

	units := make([]models.UnitType, 0, len(items))
	for _, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil, fmt.Errorf("%w: unit type of %s: %v", ErrMappingFailed, listingKey, err)
		}
		unitKey := rec.str("UnitTypeKey")
		if unitKey == "" {
			continue
		}
		units = append(units, models.UnitType{
			UnitTypeKey:       unitKey,
			ListingKey:        listingKey,
			UnitTypeType:      rec.strPtr("UnitTypeType"),
			UnitsTotal:        rec.intPtr("UnitTypeUnitsTotal"),
			BedsTotal:         rec.intPtr("UnitTypeBedsTotal"),
			BathsTotal:        rec.intPtr("UnitTypeBathsTotal"),
			ActualRent:        rec.strPtr("UnitTypeActualRent"),
			UnitTypeProForma:  rec.strPtr("UnitTypeProForma"),
			GarageSpaces:      rec.intPtr("UnitTypeGarageSpaces"),
			GarageAttachedYN:  rec.boolPtr("UnitTypeGarageAttachedYN"),
			SquareFeetTotal:   rec.strPtr("UnitTypeSquareFeetTotal"),
			FurnishedYN:       rec.boolPtr("UnitTypeFurnishedYN"),
			MonthlyRentTotal:  rec.strPtr("UnitTypeMonthlyRentTotal"),
			SecurityDepositYN: rec.boolPtr("UnitTypeSecurityDepositYN"),
		})
	}
	return units, nil
}

// displayID strips the 2-3 letter uppercase vendor prefix from a listing
// id. Ids without a recognizable prefix are returned unchanged.
func displayID(listingID string) string {
	if m := listingIDRe.FindStringSubmatch(listingID); m != nil {
		return m[2]
	}
	return listingID
}

// localFields partitions the vendor-local attributes out of a record.
// Returns nil when the record carries none.
func localFields(rec record) map[string]any {
	var fields map[string]any
	for key, raw := range rec {
		if !vendorLocalRe.MatchString(key) {
			continue
		}
		if fields == nil {
			fields = make(map[string]any)
		}
		fields[key] = anyVal(raw)
	}
	return fields
}
