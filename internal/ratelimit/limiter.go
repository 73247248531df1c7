// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package ratelimit implements the process-wide two-dimension admission
// controller shared by every replication loop and media download path.
//
// The API dimension tracks bare request timestamps against sliding windows
// of 1 second, 1 hour, and 24 hours. The media dimension tracks
// (timestamp, bytes) events against a rolling 60-minute byte budget.
//
// Admission is sleep-then-recheck: a caller that was told to wait must ask
// again after sleeping, because another caller may have consumed the slot in
// the meantime. AdmitAPI serializes check-then-record under one mutex so a
// burst of concurrent callers cannot jointly violate the 2-per-second cap.
// AdmitMedia only reserves a slot; the caller records actual bytes after the
// download completes, so the window can never overestimate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/listmirror/internal/metrics"
)

// API request caps (vendor contract, not configurable).
const (
	apiHardPerSecond = 2
	apiHardPerHour   = 7200
	apiHardPerDay    = 40000

	apiSoftPerSecond = 1.5
	apiSoftPerHour   = 6000
	apiSoftPerDay    = 35000

	softDelaySecond = 200 * time.Millisecond
	softDelayHour   = 2 * time.Second
	softDelayDay    = 5 * time.Second
)

// mediaSoftPause is the single pause applied when the byte window crosses
// the soft cap but is still under the hard cap.
const mediaSoftPause = 10 * time.Second

// GiB is 2^30 bytes.
const GiB = int64(1) << 30

// MediaEvent is one completed media download, used for seeding the byte
// window after a restart.
type MediaEvent struct {
	At    time.Time
	Bytes int64
}

// Stats is a point-in-time snapshot for the health surface.
type Stats struct {
	APISecond        int     `json:"api_second"`
	APIHour          int     `json:"api_hour"`
	APIDay           int     `json:"api_day"`
	APISecondPercent float64 `json:"api_second_percent"`
	APIHourPercent   float64 `json:"api_hour_percent"`
	APIDayPercent    float64 `json:"api_day_percent"`
	MediaBytes       int64   `json:"media_bytes"`
	MediaPercent     float64 `json:"media_percent"`
}

// Limiter is the shared two-dimension limiter. Construct exactly one per
// process with New and pass it to the feed client and media worker.
type Limiter struct {
	mu        sync.Mutex
	apiEvents []time.Time // ascending

	mediaMu     sync.Mutex
	mediaEvents []MediaEvent // ascending
	softBytes   int64
	hardBytes   int64

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter with the given media byte caps.
func New(softCapBytes, hardCapBytes int64) *Limiter {
	return &Limiter{
		softBytes: softCapBytes,
		hardBytes: hardCapBytes,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// NewGiB creates a limiter from caps expressed in GiB, as configured.
func NewGiB(softCapGiB, hardCapGiB float64) *Limiter {
	return New(int64(softCapGiB*float64(GiB)), int64(hardCapGiB*float64(GiB)))
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

// SeedAPI restores the API window from persisted request timestamps (the
// last 24 hours of the request log). Call before the first admission.
func (l *Limiter) SeedAPI(times []time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-24 * time.Hour)
	for _, t := range times {
		if t.After(cutoff) {
			l.apiEvents = append(l.apiEvents, t)
		}
	}
	sortTimes(l.apiEvents)
}

// SeedMedia restores the byte window from completed downloads (the last 60
// minutes). Call before the first admission.
func (l *Limiter) SeedMedia(events []MediaEvent) {
	l.mediaMu.Lock()
	defer l.mediaMu.Unlock()
	cutoff := l.now().Add(-time.Hour)
	for _, e := range events {
		if e.At.After(cutoff) {
			l.mediaEvents = append(l.mediaEvents, e)
		}
	}
}

// AdmitAPI blocks until an API request slot is available, then records the
// event. Returns the context error if the wait is cancelled.
//
// Hard-cap waits are re-checked in a loop (the slot may be taken while we
// slept); the soft-cap delay is pre-emptive and served at most once per
// admission so a window sitting above a soft cap still makes progress.
func (l *Limiter) AdmitAPI(ctx context.Context) error {
	waited := false
	softServed := false
	for {
		l.mu.Lock()
		now := l.now()
		l.pruneAPI(now)
		hardWait, softDelay := l.apiWait(now)
		if hardWait <= 0 && (softDelay <= 0 || softServed) {
			l.apiEvents = append(l.apiEvents, now)
			l.publishAPIGauges()
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		wait := hardWait
		if wait <= 0 {
			wait = softDelay
			softServed = true
		}
		if !waited {
			metrics.LimiterWaits.WithLabelValues("api").Inc()
			waited = true
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		// Re-check: another caller may have taken the slot while we slept.
	}
}

// apiWait returns (hard, soft): the exact wait until the blocking event
// leaves its window, and the escalating pre-emptive delay near the soft
// caps. Must be called with mu held and the window pruned.
func (l *Limiter) apiWait(now time.Time) (time.Duration, time.Duration) {
	n1s := l.countSince(now.Add(-time.Second))
	n1h := l.countSince(now.Add(-time.Hour))
	n24h := len(l.apiEvents)

	var hard time.Duration
	if n1s >= apiHardPerSecond {
		hard = maxDuration(hard, l.windowFreesIn(now, time.Second, n1s-apiHardPerSecond+1))
	}
	if n1h >= apiHardPerHour {
		hard = maxDuration(hard, l.windowFreesIn(now, time.Hour, n1h-apiHardPerHour+1))
	}
	if n24h >= apiHardPerDay {
		hard = maxDuration(hard, l.windowFreesIn(now, 24*time.Hour, n24h-apiHardPerDay+1))
	}

	// The soft delay applies when this admission would push the window
	// past its soft cap. With the fractional 1.5/1s cap that means the
	// second request in any sliding second is paced, well before the
	// hard cap blocks.
	var soft time.Duration
	switch {
	case float64(n24h+1) > apiSoftPerDay:
		soft = softDelayDay
	case float64(n1h+1) > apiSoftPerHour:
		soft = softDelayHour
	case float64(n1s+1) > apiSoftPerSecond:
		soft = softDelaySecond
	}
	return hard, soft
}

// countSince returns how many API events are at or after the cutoff.
func (l *Limiter) countSince(cutoff time.Time) int {
	// Events are ascending; scan from the tail.
	n := 0
	for i := len(l.apiEvents) - 1; i >= 0; i-- {
		if l.apiEvents[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}

// windowFreesIn returns how long until `need` events currently inside the
// window of size `window` have aged out.
func (l *Limiter) windowFreesIn(now time.Time, window time.Duration, need int) time.Duration {
	cutoff := now.Add(-window)
	seen := 0
	for _, t := range l.apiEvents {
		if t.Before(cutoff) {
			continue
		}
		seen++
		if seen == need {
			return t.Add(window).Sub(now)
		}
	}
	return 0
}

// pruneAPI drops events older than the largest window. Must hold mu.
func (l *Limiter) pruneAPI(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for i < len(l.apiEvents) && l.apiEvents[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.apiEvents = append(l.apiEvents[:0], l.apiEvents[i:]...)
	}
}

// AdmitMedia blocks until the rolling byte window admits another download.
// It reserves a slot only; the caller reports actual bytes afterward with
// RecordMediaBytes. A window over the hard cap blocks until it frees; a
// window over the soft cap costs one 10-second pause.
func (l *Limiter) AdmitMedia(ctx context.Context) error {
	softPaused := false
	for {
		l.mediaMu.Lock()
		now := l.now()
		l.pruneMedia(now)
		sum := l.mediaSum()
		var oldest time.Time
		if len(l.mediaEvents) > 0 {
			oldest = l.mediaEvents[0].At
		}
		l.mediaMu.Unlock()

		if sum >= l.hardBytes {
			metrics.LimiterWaits.WithLabelValues("media").Inc()
			wait := time.Minute
			if !oldest.IsZero() {
				if until := oldest.Add(time.Hour).Sub(now); until > 0 && until < wait {
					wait = until
				}
			}
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if sum >= l.softBytes && !softPaused {
			metrics.LimiterWaits.WithLabelValues("media").Inc()
			if err := l.sleep(ctx, mediaSoftPause); err != nil {
				return err
			}
			softPaused = true
			continue
		}

		return nil
	}
}

// RecordMediaBytes records a completed download against the byte window.
func (l *Limiter) RecordMediaBytes(n int64) {
	if n <= 0 {
		return
	}
	l.mediaMu.Lock()
	defer l.mediaMu.Unlock()
	l.mediaEvents = append(l.mediaEvents, MediaEvent{At: l.now(), Bytes: n})
	metrics.LimiterMediaWindowBytes.Set(float64(l.mediaSum()))
}

// mediaSum returns the byte total of the (pruned) window. Must hold mediaMu.
func (l *Limiter) mediaSum() int64 {
	var sum int64
	for _, e := range l.mediaEvents {
		sum += e.Bytes
	}
	return sum
}

// pruneMedia drops events older than 60 minutes. Must hold mediaMu.
func (l *Limiter) pruneMedia(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(l.mediaEvents) && l.mediaEvents[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.mediaEvents = append(l.mediaEvents[:0], l.mediaEvents[i:]...)
	}
}

// Snapshot returns current window occupancy for the health surface.
func (l *Limiter) Snapshot() Stats {
	l.mu.Lock()
	now := l.now()
	l.pruneAPI(now)
	s := Stats{
		APISecond: l.countSince(now.Add(-time.Second)),
		APIHour:   l.countSince(now.Add(-time.Hour)),
		APIDay:    len(l.apiEvents),
	}
	l.mu.Unlock()

	l.mediaMu.Lock()
	l.pruneMedia(now)
	s.MediaBytes = l.mediaSum()
	l.mediaMu.Unlock()

	s.APISecondPercent = pct(s.APISecond, apiHardPerSecond)
	s.APIHourPercent = pct(s.APIHour, apiHardPerHour)
	s.APIDayPercent = pct(s.APIDay, apiHardPerDay)
	if l.hardBytes > 0 {
		s.MediaPercent = float64(s.MediaBytes) / float64(l.hardBytes) * 100
	}
	return s
}

// publishAPIGauges pushes window occupancy to Prometheus. Must hold mu.
func (l *Limiter) publishAPIGauges() {
	now := l.now()
	metrics.LimiterAPIWindowOccupancy.WithLabelValues("1s").Set(pct(l.countSince(now.Add(-time.Second)), apiHardPerSecond))
	metrics.LimiterAPIWindowOccupancy.WithLabelValues("1h").Set(pct(l.countSince(now.Add(-time.Hour)), apiHardPerHour))
	metrics.LimiterAPIWindowOccupancy.WithLabelValues("24h").Set(pct(len(l.apiEvents), apiHardPerDay))
}

func pct(n, cap int) float64 {
	if cap == 0 {
		return 0
	}
	return float64(n) / float64(cap) * 100
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// sortTimes is an insertion sort; seed inputs are nearly sorted already
// (request logs are read in timestamp order).
func sortTimes(ts []time.Time) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Before(ts[j-1]); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}
