// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package mapper

import (
	"fmt"

	"github.com/tomtom215/listmirror/internal/models"
)

// MapMember maps one raw Member record.
func MapMember(raw []byte) (*models.Member, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingFailed, err)
	}

	key := rec.str("MemberKey")
	if key == "" {
		return nil, fmt.Errorf("%w: missing MemberKey", ErrMappingFailed)
	}
	modTs := rec.timePtr("ModificationTimestamp")
	if modTs == nil {
		return nil, fmt.Errorf("%w: member %s has missing or malformed ModificationTimestamp", ErrMappingFailed, key)
	}

	return &models.Member{
		MemberKey:             key,
		MemberMlsID:           rec.strPtr("MemberMlsId"),
		OriginatingSystemName: rec.str("OriginatingSystemName"),
		FullName:              rec.strPtr("MemberFullName"),
		FirstName:             rec.strPtr("MemberFirstName"),
		LastName:              rec.strPtr("MemberLastName"),
		Email:                 rec.strPtr("MemberEmail"),
		Phone:                 rec.strPtr("MemberPreferredPhone"),
		OfficeKey:             rec.strPtr("OfficeKey"),
		OfficeMlsID:           rec.strPtr("OfficeMlsId"),
		StateLicense:          rec.strPtr("MemberStateLicense"),
		MemberStatus:          rec.strPtr("MemberStatus"),
		CanView:               rec.boolVal("MlgCanView"),
		ModificationTs:        *modTs,
		PhotosChangeTs:        rec.timePtr("PhotosChangeTimestamp"),
		LocalFields:           localFields(rec),
	}, nil
}

// MapOffice maps one raw Office record.
func MapOffice(raw []byte) (*models.Office, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingFailed, err)
	}

	key := rec.str("OfficeKey")
	if key == "" {
		return nil, fmt.Errorf("%w: missing OfficeKey", ErrMappingFailed)
	}
	modTs := rec.timePtr("ModificationTimestamp")
	if modTs == nil {
		return nil, fmt.Errorf("%w: office %s has missing or malformed ModificationTimestamp", ErrMappingFailed, key)
	}

	return &models.Office{
		OfficeKey:             key,
		OfficeMlsID:           rec.strPtr("OfficeMlsId"),
		OriginatingSystemName: rec.str("OriginatingSystemName"),
		OfficeName:            rec.strPtr("OfficeName"),
		Phone:                 rec.strPtr("OfficePhone"),
		Email:                 rec.strPtr("OfficeEmail"),
		Address:               rec.strPtr("OfficeAddress1"),
		City:                  rec.strPtr("OfficeCity"),
		StateOrProvince:       rec.strPtr("OfficeStateOrProvince"),
		PostalCode:            rec.strPtr("OfficePostalCode"),
		OfficeStatus:          rec.strPtr("OfficeStatus"),
		CanView:               rec.boolVal("MlgCanView"),
		ModificationTs:        *modTs,
		PhotosChangeTs:        rec.timePtr("PhotosChangeTimestamp"),
		LocalFields:           localFields(rec),
	}, nil
}

// MapOpenHouse maps one raw OpenHouse record. Open houses reference their
// listing by prefixed listing id and may arrive before the listing itself.
func MapOpenHouse(raw []byte) (*models.OpenHouse, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingFailed, err)
	}

	key := rec.str("OpenHouseKey")
	if key == "" {
		return nil, fmt.Errorf("%w: missing OpenHouseKey", ErrMappingFailed)
	}
	modTs := rec.timePtr("ModificationTimestamp")
	if modTs == nil {
		return nil, fmt.Errorf("%w: open house %s has missing or malformed ModificationTimestamp", ErrMappingFailed, key)
	}

	return &models.OpenHouse{
		OpenHouseKey:          key,
		ListingID:             rec.str("ListingId"),
		OriginatingSystemName: rec.str("OriginatingSystemName"),
		OpenHouseDate:         rec.timePtr("OpenHouseDate"),
		StartTime:             rec.timePtr("OpenHouseStartTime"),
		EndTime:               rec.timePtr("OpenHouseEndTime"),
		Remarks:               rec.strPtr("OpenHouseRemarks"),
		OpenHouseType:         rec.strPtr("OpenHouseType"),
		CanView:               rec.boolVal("MlgCanView"),
		ModificationTs:        *modTs,
	}, nil
}

// MapLookup maps one raw Lookup record.
func MapLookup(raw []byte) (*models.Lookup, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingFailed, err)
	}

	key := rec.str("LookupKey")
	if key == "" {
		return nil, fmt.Errorf("%w: missing LookupKey", ErrMappingFailed)
	}
	modTs := rec.timePtr("ModificationTimestamp")
	if modTs == nil {
		return nil, fmt.Errorf("%w: lookup %s has missing or malformed ModificationTimestamp", ErrMappingFailed, key)
	}

	return &models.Lookup{
		LookupKey:             key,
		OriginatingSystemName: rec.str("OriginatingSystemName"),
		LookupName:            rec.str("LookupName"),
		LookupValue:           rec.strPtr("LookupValue"),
		StandardLookupValue:   rec.strPtr("StandardLookupValue"),
		LegacyODataValue:      rec.strPtr("LegacyODataValue"),
		ModificationTs:        *modTs,
	}, nil
}
