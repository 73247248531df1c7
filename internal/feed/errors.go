// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package feed

import (
	"errors"
	"fmt"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrRateLimited means the feed kept answering 429 after the full
	// probe budget. The cycle that sees this gives up; the rate limiter
	// windows make the next cycle start gently.
	ErrRateLimited = errors.New("feed rate limited")

	// ErrURLExpired means the CDN rejected a media URL whose signature
	// token has lapsed. The caller refetches the owning record for a
	// fresh URL instead of retrying.
	ErrURLExpired = errors.New("media url expired")
)

// APIError is any feed response outside 2xx that is not a 429. Status and a
// truncated body are kept for the request log and the run error message.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feed returned status %d: %s", e.Status, e.Body)
}
