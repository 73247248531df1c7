// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package mapper

import (
	"errors"
	"testing"
	"time"
)

func TestMapMember(t *testing.T) {
	raw := `{
		"MemberKey": "NWM-A1",
		"MemberMlsId": "98765",
		"OriginatingSystemName": "nwmls",
		"MemberFullName": "Pat Example",
		"MemberEmail": "pat@example.test",
		"OfficeKey": "NWM-O1",
		"MlgCanView": true,
		"ModificationTimestamp": "2026-02-15T08:30:00.000Z",
		"PhotosChangeTimestamp": "2026-01-01T00:00:00.000Z",
		"NWM_TeamName": "Example Team"
	}`

	m, err := MapMember([]byte(raw))
	if err != nil {
		t.Fatalf("MapMember: %v", err)
	}
	if m.MemberKey != "NWM-A1" {
		t.Errorf("MemberKey = %q", m.MemberKey)
	}
	if m.FullName == nil || *m.FullName != "Pat Example" {
		t.Errorf("FullName = %v", m.FullName)
	}
	if !m.CanView {
		t.Error("CanView = false")
	}
	if m.PhotosChangeTs == nil {
		t.Error("PhotosChangeTs = nil")
	}
	if m.LocalFields["NWM_TeamName"] != "Example Team" {
		t.Errorf("LocalFields = %v", m.LocalFields)
	}
}

func TestMapOffice(t *testing.T) {
	raw := `{
		"OfficeKey": "NWM-O1",
		"OfficeName": "Example Realty",
		"OfficeCity": "Seattle",
		"MlgCanView": true,
		"ModificationTimestamp": "2026-02-15T08:30:00.000Z"
	}`

	o, err := MapOffice([]byte(raw))
	if err != nil {
		t.Fatalf("MapOffice: %v", err)
	}
	if o.OfficeKey != "NWM-O1" {
		t.Errorf("OfficeKey = %q", o.OfficeKey)
	}
	if o.OfficeName == nil || *o.OfficeName != "Example Realty" {
		t.Errorf("OfficeName = %v", o.OfficeName)
	}
	if o.City == nil || *o.City != "Seattle" {
		t.Errorf("City = %v", o.City)
	}
}

func TestMapOpenHouse(t *testing.T) {
	raw := `{
		"OpenHouseKey": "NWM-OH1",
		"ListingId": "NWM2230111",
		"OpenHouseDate": "2026-03-07",
		"OpenHouseStartTime": "2026-03-07T18:00:00.000Z",
		"OpenHouseEndTime": "2026-03-07T20:00:00.000Z",
		"MlgCanView": true,
		"ModificationTimestamp": "2026-02-15T08:30:00.000Z"
	}`

	oh, err := MapOpenHouse([]byte(raw))
	if err != nil {
		t.Fatalf("MapOpenHouse: %v", err)
	}
	if oh.OpenHouseKey != "NWM-OH1" || oh.ListingID != "NWM2230111" {
		t.Errorf("open house identity = %+v", oh)
	}
	// Date-only field parses.
	wantDate := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	if oh.OpenHouseDate == nil || !oh.OpenHouseDate.Equal(wantDate) {
		t.Errorf("OpenHouseDate = %v, want %v", oh.OpenHouseDate, wantDate)
	}
	if oh.StartTime == nil || oh.EndTime == nil {
		t.Error("start/end times missing")
	}
}

func TestMapLookup(t *testing.T) {
	raw := `{
		"LookupKey": "nwmls-PropertyType-RESI",
		"OriginatingSystemName": "nwmls",
		"LookupName": "PropertyType",
		"LookupValue": "RESI",
		"StandardLookupValue": "Residential",
		"ModificationTimestamp": "2026-02-15T08:30:00.000Z"
	}`

	l, err := MapLookup([]byte(raw))
	if err != nil {
		t.Fatalf("MapLookup: %v", err)
	}
	if l.LookupKey != "nwmls-PropertyType-RESI" || l.LookupName != "PropertyType" {
		t.Errorf("lookup = %+v", l)
	}
	if l.StandardLookupValue == nil || *l.StandardLookupValue != "Residential" {
		t.Errorf("StandardLookupValue = %v", l.StandardLookupValue)
	}
}

func TestPartyMappersRequireTimestamp(t *testing.T) {
	tests := []struct {
		name string
		call func() error
	}{
		{"member", func() error { _, err := MapMember([]byte(`{"MemberKey":"k"}`)); return err }},
		{"office", func() error { _, err := MapOffice([]byte(`{"OfficeKey":"k"}`)); return err }},
		{"open house", func() error { _, err := MapOpenHouse([]byte(`{"OpenHouseKey":"k"}`)); return err }},
		{"lookup", func() error { _, err := MapLookup([]byte(`{"LookupKey":"k"}`)); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrMappingFailed) {
				t.Errorf("error = %v, want ErrMappingFailed", err)
			}
		})
	}
}
