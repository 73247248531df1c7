// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package feed

import (
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/listmirror/internal/models"
)

const testBase = "https://api.example.test/v2"

func parseQuery(t *testing.T, rawurl string) (path string, q url.Values) {
	t.Helper()
	u, err := url.Parse(rawurl)
	if err != nil {
		t.Fatalf("built URL does not parse: %v", err)
	}
	return u.Path, u.Query()
}

func TestBuildInitialURL(t *testing.T) {
	path, q := parseQuery(t, BuildInitialURL(testBase, models.ResourceProperty, "nwmls"))

	if !strings.HasSuffix(path, "/Property") {
		t.Errorf("path = %q, want .../Property", path)
	}
	wantFilter := "OriginatingSystemName eq 'nwmls' and MlgCanView eq true"
	if got := q.Get("$filter"); got != wantFilter {
		t.Errorf("$filter = %q, want %q", got, wantFilter)
	}
	if got := q.Get("$expand"); got != "Media,Rooms,UnitTypes" {
		t.Errorf("$expand = %q, want Media,Rooms,UnitTypes", got)
	}
	if got := q.Get("$top"); got != "1000" {
		t.Errorf("$top = %q, want 1000 (expanded resource)", got)
	}
	if got := q.Get("$orderby"); got != "ModificationTimestamp asc" {
		t.Errorf("$orderby = %q", got)
	}
}

func TestBuildInitialURLUnexpandedResource(t *testing.T) {
	_, q := parseQuery(t, BuildInitialURL(testBase, models.ResourceOpenHouse, "nwmls"))

	if q.Has("$expand") {
		t.Errorf("$expand present for OpenHouse: %q", q.Get("$expand"))
	}
	if got := q.Get("$top"); got != "5000" {
		t.Errorf("$top = %q, want 5000 (unexpanded resource)", got)
	}
}

func TestBuildReplicationURLOperator(t *testing.T) {
	hwm := time.Date(2026, 2, 3, 4, 5, 6, 789000000, time.UTC)

	tests := []struct {
		name       string
		resumeSafe bool
		wantOp     string
	}{
		{"fresh cycle uses gt", false, "gt"},
		{"resume uses ge", true, "ge"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, q := parseQuery(t, BuildReplicationURL(testBase, models.ResourceMember, "nwmls", hwm, tt.resumeSafe))
			want := fmt.Sprintf("OriginatingSystemName eq 'nwmls' and ModificationTimestamp %s 2026-02-03T04:05:06.789Z", tt.wantOp)
			if got := q.Get("$filter"); got != want {
				t.Errorf("$filter = %q, want %q", got, want)
			}
		})
	}
}

func TestBuildReplicationURLNoCanViewFilter(t *testing.T) {
	// Replication must see records that became hidden, so it never filters
	// on visibility.
	_, q := parseQuery(t, BuildReplicationURL(testBase, models.ResourceProperty, "nwmls", time.Now(), false))
	if strings.Contains(q.Get("$filter"), "MlgCanView") {
		t.Errorf("replication filter mentions MlgCanView: %q", q.Get("$filter"))
	}
}

func TestBuildSingleListingURL(t *testing.T) {
	path, q := parseQuery(t, BuildSingleListingURL(testBase, "nwmls", "NWM12345"))

	if !strings.HasSuffix(path, "/Property") {
		t.Errorf("path = %q, want .../Property", path)
	}
	wantFilter := "OriginatingSystemName eq 'nwmls' and ListingId eq 'NWM12345'"
	if got := q.Get("$filter"); got != wantFilter {
		t.Errorf("$filter = %q, want %q", got, wantFilter)
	}
	if got := q.Get("$expand"); got != "Media,Rooms,UnitTypes" {
		t.Errorf("$expand = %q, want full listing expansion", got)
	}
}

func TestURLExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{
			name: "no expires parameter",
			url:  "https://cdn.example.test/photo.jpg",
			want: false,
		},
		{
			name: "expires well in the future",
			url:  fmt.Sprintf("https://cdn.example.test/photo.jpg?expires=%d", now.Add(time.Hour).Unix()),
			want: false,
		},
		{
			name: "already expired",
			url:  fmt.Sprintf("https://cdn.example.test/photo.jpg?expires=%d", now.Add(-time.Hour).Unix()),
			want: true,
		},
		{
			name: "expires inside the 60s buffer",
			url:  fmt.Sprintf("https://cdn.example.test/photo.jpg?expires=%d", now.Add(30*time.Second).Unix()),
			want: true,
		},
		{
			name: "expires exactly at the buffer edge",
			url:  fmt.Sprintf("https://cdn.example.test/photo.jpg?expires=%d", now.Add(60*time.Second).Unix()),
			want: true,
		},
		{
			name: "expires just past the buffer",
			url:  fmt.Sprintf("https://cdn.example.test/photo.jpg?expires=%d", now.Add(61*time.Second).Unix()),
			want: false,
		},
		{
			name: "malformed expires value",
			url:  "https://cdn.example.test/photo.jpg?expires=soon",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := URLExpired(tt.url, now); got != tt.want {
				t.Errorf("URLExpired(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}
