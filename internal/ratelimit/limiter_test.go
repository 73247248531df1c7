// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock drives the limiter deterministically: sleeps advance the clock
// instead of blocking.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

func newTestLimiter(clock *fakeClock) *Limiter {
	l := NewGiB(3.5, 4.0)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l
}

func TestAdmitAPIEnforcesPerSecondCap(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()

	start := clock.Now()
	// 10 admissions in a tight loop must spread over >= 4 seconds at
	// 2 requests per sliding second.
	for i := 0; i < 10; i++ {
		if err := l.AdmitAPI(ctx); err != nil {
			t.Fatalf("AdmitAPI: %v", err)
		}
	}
	elapsed := clock.Now().Sub(start)
	if elapsed < 4*time.Second {
		t.Errorf("10 admissions took %v of fake time, want >= 4s (2/s cap)", elapsed)
	}

	// At no point may any sliding 1s window hold more than 2 events.
	events := append([]time.Time(nil), l.apiEvents...)
	for i := range events {
		inWindow := 0
		for j := range events {
			d := events[j].Sub(events[i])
			if d >= 0 && d < time.Second {
				inWindow++
			}
		}
		if inWindow > apiHardPerSecond {
			t.Fatalf("sliding window starting at event %d holds %d events, cap %d", i, inWindow, apiHardPerSecond)
		}
	}
}

func TestAdmitAPISoftCapPacesSecondRequest(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()

	start := clock.Now()
	if err := l.AdmitAPI(ctx); err != nil {
		t.Fatalf("AdmitAPI: %v", err)
	}
	if waited := clock.Now().Sub(start); waited != 0 {
		t.Fatalf("first admission waited %v, want none", waited)
	}

	// The second request inside the same sliding second crosses the
	// 1.5/1s soft cap and is paced pre-emptively, before the hard 2/1s
	// cap would force a full window wait.
	if err := l.AdmitAPI(ctx); err != nil {
		t.Fatalf("AdmitAPI: %v", err)
	}
	if waited := clock.Now().Sub(start); waited != softDelaySecond {
		t.Errorf("second admission waited %v, want soft delay %v", waited, softDelaySecond)
	}
}

func TestAdmitAPIHourlyHardCapBlocks(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	// Fill the hour window to the cap with events spread over the past 59
	// minutes; the oldest ages out of the window one minute from now.
	base := clock.Now().Add(-59 * time.Minute)
	interval := 59 * time.Minute / apiHardPerHour
	seed := make([]time.Time, 0, apiHardPerHour)
	for i := 0; i < apiHardPerHour; i++ {
		seed = append(seed, base.Add(time.Duration(i)*interval))
	}
	l.SeedAPI(seed)

	start := clock.Now()
	if err := l.AdmitAPI(context.Background()); err != nil {
		t.Fatalf("AdmitAPI: %v", err)
	}
	// The oldest seeded event leaves the window after ~1 minute of fake
	// time; admission must have waited at least that long.
	if waited := clock.Now().Sub(start); waited < 30*time.Second {
		t.Errorf("admission waited %v, want at least 30s for the hour window to free", waited)
	}
}

func TestAdmitAPICancellation(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	// Saturate the 1s window so the next admission must wait.
	now := clock.Now()
	l.SeedAPI([]time.Time{now.Add(-10 * time.Millisecond), now.Add(-5 * time.Millisecond)})

	if err := l.AdmitAPI(context.Background()); err != context.Canceled {
		t.Errorf("AdmitAPI = %v, want context.Canceled", err)
	}
}

func TestAdmitMediaHardCapWaitsForWindow(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	// One giant event 30 minutes ago pins the window above the hard cap.
	l.SeedMedia([]MediaEvent{{At: clock.Now().Add(-30 * time.Minute), Bytes: 4 * GiB}})

	start := clock.Now()
	if err := l.AdmitMedia(context.Background()); err != nil {
		t.Fatalf("AdmitMedia: %v", err)
	}
	// The event ages out 30 fake-minutes later; admission must wait for it.
	if waited := clock.Now().Sub(start); waited < 29*time.Minute {
		t.Errorf("admission waited %v, want ~30m for the byte window to free", waited)
	}
}

func TestAdmitMediaSoftCapPausesOnce(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	gib := float64(GiB)
	l.SeedMedia([]MediaEvent{{At: clock.Now().Add(-5 * time.Minute), Bytes: int64(3.6 * gib)}})

	start := clock.Now()
	if err := l.AdmitMedia(context.Background()); err != nil {
		t.Fatalf("AdmitMedia: %v", err)
	}
	waited := clock.Now().Sub(start)
	if waited < mediaSoftPause {
		t.Errorf("admission waited %v, want >= %v soft pause", waited, mediaSoftPause)
	}
	if waited > mediaSoftPause+time.Second {
		t.Errorf("admission waited %v, soft cap should pause once, not block", waited)
	}
}

func TestRecordMediaBytesOnlyAfterDownload(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	// Admission reserves no bytes: a second caller sees an empty window.
	if err := l.AdmitMedia(context.Background()); err != nil {
		t.Fatalf("AdmitMedia: %v", err)
	}
	if got := l.Snapshot().MediaBytes; got != 0 {
		t.Errorf("window bytes after admit = %d, want 0 (bytes recorded post-download)", got)
	}

	l.RecordMediaBytes(1024)
	if got := l.Snapshot().MediaBytes; got != 1024 {
		t.Errorf("window bytes after record = %d, want 1024", got)
	}
}

func TestSeedDiscardsStaleEvents(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	now := clock.Now()
	l.SeedAPI([]time.Time{
		now.Add(-25 * time.Hour), // outside 24h, dropped
		now.Add(-23 * time.Hour),
	})
	l.SeedMedia([]MediaEvent{
		{At: now.Add(-2 * time.Hour), Bytes: GiB}, // outside 60m, dropped
		{At: now.Add(-10 * time.Minute), Bytes: 512},
	})

	s := l.Snapshot()
	if s.APIDay != 1 {
		t.Errorf("seeded API day count = %d, want 1", s.APIDay)
	}
	if s.MediaBytes != 512 {
		t.Errorf("seeded media bytes = %d, want 512", s.MediaBytes)
	}
}

func TestSnapshotPercentages(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	now := clock.Now()
	l.SeedAPI([]time.Time{now.Add(-time.Minute), now.Add(-2 * time.Minute)})
	l.RecordMediaBytes(2 * GiB)

	s := l.Snapshot()
	if s.APIDay != 2 || s.APIHour != 2 {
		t.Errorf("counts = day %d hour %d, want 2/2", s.APIDay, s.APIHour)
	}
	if s.MediaPercent < 49 || s.MediaPercent > 51 {
		t.Errorf("media percent = %v, want ~50 (2 GiB of 4 GiB)", s.MediaPercent)
	}
}
