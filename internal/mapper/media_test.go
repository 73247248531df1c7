// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package mapper

import (
	"reflect"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/listmirror/internal/models"
)

func TestMapMedia(t *testing.T) {
	media, err := MapMedia(models.ResourceProperty, "NWM12345678", "NWM2230111", []byte(sampleListing))
	if err != nil {
		t.Fatalf("MapMedia: %v", err)
	}
	if len(media) != 2 {
		t.Fatalf("media = %d, want 2", len(media))
	}

	m := media[0]
	if m.MediaKey != "m1" || m.ParentKey != "NWM12345678" || m.ParentListingID != "NWM2230111" {
		t.Errorf("media[0] identity = %+v", m)
	}
	if m.Status != models.MediaPending {
		t.Errorf("status = %q, want pending_download", m.Status)
	}
	if m.ObjectKey != "property/NWM12345678/m1.jpg" {
		t.Errorf("object key = %q", m.ObjectKey)
	}
	if m.SourceURL == "" {
		t.Error("source URL missing")
	}

	// Second item has no Order; it defaults to its array position.
	if media[1].Order != 1 {
		t.Errorf("media[1].Order = %d, want array position 1", media[1].Order)
	}
}

func TestMapMediaDeterministicKeys(t *testing.T) {
	a, err := MapMedia(models.ResourceProperty, "NWM1", "", []byte(sampleListing))
	if err != nil {
		t.Fatalf("MapMedia: %v", err)
	}
	b, err := MapMedia(models.ResourceProperty, "NWM1", "", []byte(sampleListing))
	if err != nil {
		t.Fatalf("MapMedia: %v", err)
	}
	for i := range a {
		if a[i].ObjectKey != b[i].ObjectKey {
			t.Errorf("object key for %s differs across mappings", a[i].MediaKey)
		}
	}
}

func TestStripExpandedRoundTrip(t *testing.T) {
	stripped, err := StripExpanded([]byte(sampleListing))
	if err != nil {
		t.Fatalf("StripExpanded: %v", err)
	}

	var strippedMap, inputMap map[string]json.RawMessage
	if err := json.Unmarshal(stripped, &strippedMap); err != nil {
		t.Fatalf("stripped output does not parse: %v", err)
	}
	if err := json.Unmarshal([]byte(sampleListing), &inputMap); err != nil {
		t.Fatalf("input does not parse: %v", err)
	}

	for _, key := range expandedKeys {
		if _, ok := strippedMap[key]; ok {
			t.Errorf("stripped output still contains %s", key)
		}
	}

	// Union of the stripped output and the removed keys reproduces the
	// input, value for value.
	union := make(map[string]any, len(strippedMap)+len(expandedKeys))
	for k, v := range strippedMap {
		var val any
		_ = json.Unmarshal(v, &val)
		union[k] = val
	}
	for _, key := range expandedKeys {
		if raw, ok := inputMap[key]; ok {
			var val any
			_ = json.Unmarshal(raw, &val)
			union[key] = val
		}
	}

	want := make(map[string]any, len(inputMap))
	for k, v := range inputMap {
		var val any
		_ = json.Unmarshal(v, &val)
		want[k] = val
	}

	if !reflect.DeepEqual(union, want) {
		t.Error("strip(record) union expanded keys does not reproduce the input")
	}
}

func TestStripExpandedWithoutSubResources(t *testing.T) {
	in := `{"ListingKey":"NWM1","ListPrice":100}`
	stripped, err := StripExpanded([]byte(in))
	if err != nil {
		t.Fatalf("StripExpanded: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(stripped, &got); err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("output keys = %d, want 2", len(got))
	}
}
