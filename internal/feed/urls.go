// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package feed

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/listmirror/internal/models"
)

// odataTimeLayout is the timestamp format the feed accepts in $filter
// clauses: UTC with fixed millisecond precision.
const odataTimeLayout = "2006-01-02T15:04:05.000Z"

// expiryBuffer is subtracted from a media URL's signed lifetime: a URL
// expiring within the buffer is treated as already expired, because a
// download started now could outlive it.
const expiryBuffer = 60 * time.Second

// BuildInitialURL returns the first page URL for a full import of resource.
// Initial imports fetch only viewable records; hidden ones are picked up
// later by replication if they become viewable.
func BuildInitialURL(baseURL string, resource models.Resource, vendor string) string {
	filter := fmt.Sprintf("OriginatingSystemName eq '%s' and MlgCanView eq true", vendor)
	return buildResourceURL(baseURL, resource, filter)
}

// BuildReplicationURL returns the first page URL for an incremental cycle
// starting at hwm. resumeSafe selects `ge` instead of `gt`: records at
// exactly hwm are refetched and the caller dedups them, so a crash between
// page and HWM persistence cannot lose records.
func BuildReplicationURL(baseURL string, resource models.Resource, vendor string, hwm time.Time, resumeSafe bool) string {
	op := "gt"
	if resumeSafe {
		op = "ge"
	}
	filter := fmt.Sprintf("OriginatingSystemName eq '%s' and ModificationTimestamp %s %s",
		vendor, op, hwm.UTC().Format(odataTimeLayout))
	return buildResourceURL(baseURL, resource, filter)
}

// BuildSingleListingURL returns a one-record query for listingID with the
// full listing expansion, used to obtain fresh media URLs when stored ones
// have expired.
func BuildSingleListingURL(baseURL, vendor, listingID string) string {
	filter := fmt.Sprintf("OriginatingSystemName eq '%s' and ListingId eq '%s'", vendor, listingID)

	q := url.Values{}
	q.Set("$filter", filter)
	q.Set("$expand", models.ResourceProperty.Expand())
	return baseURL + "/" + string(models.ResourceProperty) + "?" + q.Encode()
}

func buildResourceURL(baseURL string, resource models.Resource, filter string) string {
	q := url.Values{}
	q.Set("$filter", filter)
	if expand := resource.Expand(); expand != "" {
		q.Set("$expand", expand)
	}
	q.Set("$top", strconv.Itoa(resource.PageSize()))
	q.Set("$orderby", "ModificationTimestamp asc")
	return baseURL + "/" + string(resource) + "?" + q.Encode()
}

// URLExpired reports whether a signed media URL's `expires` parameter (unix
// seconds) falls within the safety buffer of now. URLs without the
// parameter never expire; a malformed value is left to the download attempt
// to reject.
func URLExpired(rawurl string, now time.Time) bool {
	u, err := url.Parse(rawurl)
	if err != nil {
		return false
	}
	v := u.Query().Get("expires")
	if v == "" {
		return false
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false
	}
	return !time.Unix(unix, 0).After(now.Add(expiryBuffer))
}
