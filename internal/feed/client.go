// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package feed is the HTTP client for the remote OData listing feed and its
// media CDN. Every request passes through the shared rate limiter before it
// leaves the process, and every request (success or failure) appends one
// request-log row so the limiter can be reseeded after a restart.
package feed

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/listmirror/internal/config"
	"github.com/tomtom215/listmirror/internal/logging"
	"github.com/tomtom215/listmirror/internal/metrics"
	"github.com/tomtom215/listmirror/internal/models"
)

// maxErrorBodySize caps how much of an error response body is retained for
// the request log and error messages.
const maxErrorBodySize = 16 * 1024

const (
	// rateLimitProbeWait is how long to wait after a 429 page response
	// before probing whether service has resumed.
	rateLimitProbeWait = 10 * time.Minute
	// maxRateLimitProbes bounds the probes before the cycle gives up.
	maxRateLimitProbes = 10
)

// Limiter is the admission surface the client needs from the shared
// rate limiter.
type Limiter interface {
	AdmitAPI(ctx context.Context) error
	AdmitMedia(ctx context.Context) error
	RecordMediaBytes(n int64)
}

// RequestLogger persists one row per outbound request. The store implements
// it; tests use an in-memory slice.
type RequestLogger interface {
	AppendRequestLog(ctx context.Context, entry *models.RequestLogEntry) error
}

// Page is one decoded feed page.
type Page struct {
	Records  []json.RawMessage
	NextLink string
	Bytes    int64
	Elapsed  time.Duration
}

// MediaBlob is one downloaded media object.
type MediaBlob struct {
	Data        []byte
	ContentType string
	Size        int64
}

// Client talks to the feed API and the media CDN. Safe for concurrent use;
// all state is read-only after construction.
type Client struct {
	baseURL string
	token   string
	vendor  string

	http    *http.Client
	limiter Limiter
	reqlog  RequestLogger

	// probeWait and maxProbes are fields so tests can shrink the 429
	// probe cycle from minutes to milliseconds.
	probeWait time.Duration
	maxProbes int

	now func() time.Time
}

// NewClient builds a feed client. limiter is required; reqlog may be nil
// (requests are then not persisted, used only in tests).
func NewClient(cfg config.FeedConfig, limiter Limiter, reqlog RequestLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		vendor:  cfg.OriginatingSystem,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter:   limiter,
		reqlog:    reqlog,
		probeWait: rateLimitProbeWait,
		maxProbes: maxRateLimitProbes,
		now:       time.Now,
	}
}

// InitialURL returns the first page URL for a full import of resource.
func (c *Client) InitialURL(resource models.Resource) string {
	return BuildInitialURL(c.baseURL, resource, c.vendor)
}

// ReplicationURL returns the first page URL for an incremental cycle.
func (c *Client) ReplicationURL(resource models.Resource, hwm time.Time, resumeSafe bool) string {
	return BuildReplicationURL(c.baseURL, resource, c.vendor, hwm, resumeSafe)
}

// SingleListingURL returns a one-record refetch URL for fresh media URLs.
func (c *Client) SingleListingURL(listingID string) string {
	return BuildSingleListingURL(c.baseURL, c.vendor, listingID)
}

// odataEnvelope is the feed's page wrapper.
type odataEnvelope struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// FetchPage fetches and decodes one feed page. A 429 answer starts the
// probe cycle: wait, retry, up to maxProbes times, then ErrRateLimited.
// Any other non-2xx answer is an *APIError. Every attempt, successful or
// not, appends one request-log row attributed to runID.
func (c *Client) FetchPage(ctx context.Context, pageURL, runID string) (*Page, error) {
	resource := resourceFromURL(pageURL)

	for probe := 0; ; probe++ {
		if err := c.limiter.AdmitAPI(ctx); err != nil {
			return nil, err
		}

		page, status, err := c.fetchOnce(ctx, pageURL, runID, resource)
		switch {
		case err == nil:
			return page, nil
		case status == http.StatusTooManyRequests:
			metrics.FeedRateLimitHits.Inc()
			if probe+1 >= c.maxProbes {
				return nil, fmt.Errorf("%w: %d probes exhausted", ErrRateLimited, c.maxProbes)
			}
			logging.Warn().
				Str("resource", resource).
				Int("probe", probe+1).
				Dur("wait", c.probeWait).
				Msg("Feed rate limited, pausing before probe")
			if werr := sleepCtx(ctx, c.probeWait); werr != nil {
				return nil, werr
			}
		default:
			return nil, err
		}
	}
}

// fetchOnce performs a single page request attempt and logs it.
func (c *Client) fetchOnce(ctx context.Context, pageURL, runID, resource string) (*Page, int, error) {
	start := c.now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logRequest(ctx, runID, pageURL, 0, c.now().Sub(start), 0, 0, err)
		return nil, 0, fmt.Errorf("page request: %w", err)
	}
	defer resp.Body.Close()

	elapsed := c.now().Sub(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := readLimited(resp.Body, maxErrorBodySize)
		var reqErr error
		if resp.StatusCode == http.StatusTooManyRequests {
			reqErr = ErrRateLimited
		} else {
			reqErr = &APIError{Status: resp.StatusCode, Body: string(body)}
		}
		c.logRequest(ctx, runID, pageURL, resp.StatusCode, elapsed, int64(len(body)), 0, reqErr)
		metrics.ObserveFeedRequest(resource, resp.StatusCode, elapsed, 0)
		return nil, resp.StatusCode, reqErr
	}

	body, err := decompressBody(resp)
	if err != nil {
		c.logRequest(ctx, runID, pageURL, resp.StatusCode, elapsed, 0, 0, err)
		return nil, resp.StatusCode, fmt.Errorf("read page body: %w", err)
	}

	var envelope odataEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logRequest(ctx, runID, pageURL, resp.StatusCode, elapsed, int64(len(body)), 0, err)
		return nil, resp.StatusCode, fmt.Errorf("decode page: %w", err)
	}

	c.logRequest(ctx, runID, pageURL, resp.StatusCode, elapsed, int64(len(body)), len(envelope.Value), nil)
	metrics.ObserveFeedRequest(resource, resp.StatusCode, elapsed, int64(len(body)))

	return &Page{
		Records:  envelope.Value,
		NextLink: envelope.NextLink,
		Bytes:    int64(len(body)),
		Elapsed:  elapsed,
	}, resp.StatusCode, nil
}

// Pages fetches firstURL and every @odata.nextLink after it, invoking fn
// for each page. Iteration stops on the first fn error or fetch error.
func (c *Client) Pages(ctx context.Context, firstURL, runID string, fn func(*Page) error) error {
	pageURL := firstURL
	for pageURL != "" {
		page, err := c.FetchPage(ctx, pageURL, runID)
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

// DownloadMedia fetches one media object from the CDN. The byte window is
// consulted before the request and charged with the actual size afterward.
// 400 and 403 mean the signed URL has lapsed (ErrURLExpired); 429 is
// surfaced as ErrRateLimited for the caller's own pause logic.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) (*MediaBlob, error) {
	if err := c.limiter.AdmitMedia(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Fall through to read.
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (status %d)", ErrURLExpired, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		body := readLimited(resp.Body, maxErrorBodySize)
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}

	c.limiter.RecordMediaBytes(int64(len(data)))
	metrics.MediaBytesDownloaded.Add(float64(len(data)))

	return &MediaBlob{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        int64(len(data)),
	}, nil
}

// logRequest appends one request-log row. Failures to persist the log are
// warned about, never propagated; losing a log row must not fail a cycle.
func (c *Client) logRequest(ctx context.Context, runID, reqURL string, status int, elapsed time.Duration, bytes int64, records int, reqErr error) {
	if c.reqlog == nil {
		return
	}
	entry := &models.RequestLogEntry{
		RunID:       runID,
		URL:         reqURL,
		Status:      status,
		ElapsedMs:   elapsed.Milliseconds(),
		Bytes:       bytes,
		RecordCount: records,
		RequestedAt: c.now(),
	}
	if reqErr != nil {
		msg := reqErr.Error()
		entry.ErrorMessage = &msg
	}
	if err := c.reqlog.AppendRequestLog(ctx, entry); err != nil {
		logging.Warn().Err(err).Str("url", reqURL).Msg("Failed to persist request log row")
	}
}

// decompressBody reads the full response body, transparently inflating a
// gzip Content-Encoding.
func decompressBody(resp *http.Response) ([]byte, error) {
	reader := resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// readLimited reads at most limit bytes for error reporting.
func readLimited(r io.Reader, limit int64) []byte {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}

// resourceFromURL extracts the resource path segment for metrics labels.
func resourceFromURL(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "unknown"
	}
	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return "unknown"
	}
	return path
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
