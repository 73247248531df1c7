// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package feed

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/listmirror/internal/logging"
	"github.com/tomtom215/listmirror/internal/metrics"
)

// BreakerClient wraps page fetches with a circuit breaker so a feed outage
// fails cycles fast instead of burning the request budget on timeouts.
// Media downloads are deliberately outside the breaker; the CDN has its own
// pause logic in the media worker.
//
// The breaker uses real time for its interval and timeout; tests exercise
// the wrapped client directly.
type BreakerClient struct {
	*Client
	cb   *gobreaker.CircuitBreaker[*Page]
	name string
}

// NewBreakerClient wraps client. The breaker opens at a 60% failure rate
// over at least 10 requests, allows 3 probes half-open, and waits 2 minutes
// before recovery attempts.
func NewBreakerClient(client *Client) *BreakerClient {
	cbName := "feed-api"
	metrics.BreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Page](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("Feed circuit breaker opening")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", breakerStateString(from)).
				Str("to", breakerStateString(to)).
				Msg("Feed circuit breaker state transition")
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
		},
	})

	return &BreakerClient{Client: client, cb: cb, name: cbName}
}

// FetchPage fetches one page through the breaker. An open circuit rejects
// immediately with gobreaker.ErrOpenState.
func (b *BreakerClient) FetchPage(ctx context.Context, pageURL, runID string) (*Page, error) {
	page, err := b.cb.Execute(func() (*Page, error) {
		return b.Client.FetchPage(ctx, pageURL, runID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.BreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("Feed request rejected by circuit breaker")
		} else {
			metrics.BreakerRequests.WithLabelValues(b.name, "failure").Inc()
		}
		return nil, err
	}
	metrics.BreakerRequests.WithLabelValues(b.name, "success").Inc()
	return page, nil
}

// Pages iterates pages through the breaker-protected FetchPage.
func (b *BreakerClient) Pages(ctx context.Context, firstURL, runID string, fn func(*Page) error) error {
	pageURL := firstURL
	for pageURL != "" {
		page, err := b.FetchPage(ctx, pageURL, runID)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
		pageURL = page.NextLink
	}
	return nil
}

// FetchSingleListing refetches one listing by id, returning its raw record
// or nil when the feed no longer exposes it.
func (b *BreakerClient) FetchSingleListing(ctx context.Context, listingID, runID string) ([]byte, error) {
	page, err := b.FetchPage(ctx, b.SingleListingURL(listingID), runID)
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return nil, nil
	}
	return page.Records[0], nil
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
