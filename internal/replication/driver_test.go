// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/listmirror/internal/feed"
	"github.com/tomtom215/listmirror/internal/mapper"
	"github.com/tomtom215/listmirror/internal/models"
	"github.com/tomtom215/listmirror/internal/pipeline"
)

type fakeStore struct {
	lastRun   *models.Run
	dedupKeys []string

	created      []*models.Run
	finalized    []*models.Run
	dedupQueries []time.Time
	refreshCalls int

	purgeable   []string
	purged      []string
	pruneCutoff time.Time
}

func (s *fakeStore) LatestSettledRun(context.Context, models.Resource) (*models.Run, error) {
	return s.lastRun, nil
}

func (s *fakeStore) CreateRun(_ context.Context, run *models.Run) error {
	cp := *run
	s.created = append(s.created, &cp)
	return nil
}

func (s *fakeStore) FinalizeRun(_ context.Context, run *models.Run) error {
	cp := *run
	s.finalized = append(s.finalized, &cp)
	return nil
}

func (s *fakeStore) KeysAtTimestamp(_ context.Context, _ models.Resource, ts time.Time) ([]string, error) {
	s.dedupQueries = append(s.dedupQueries, ts)
	return s.dedupKeys, nil
}

func (s *fakeStore) RunStats(context.Context, string) (int, int64, float64, map[int]int, error) {
	return 3, 4096, 42.5, map[int]int{502: 1}, nil
}

func (s *fakeStore) RefreshListingViews(context.Context) error {
	s.refreshCalls++
	return nil
}

func (s *fakeStore) PurgeableListings(context.Context, time.Time) ([]string, error) {
	return s.purgeable, nil
}

func (s *fakeStore) PurgeListing(_ context.Context, key string) error {
	s.purged = append(s.purged, key)
	return nil
}

func (s *fakeStore) PruneRequestLog(_ context.Context, cutoff time.Time) (int64, error) {
	s.pruneCutoff = cutoff
	return 7, nil
}

type fakeFeed struct {
	pages    []*feed.Page
	pagesErr error
	// errAtPage aborts the iteration before delivering that page index
	// (-1 disables).
	errAtPage int

	firstURL string
	replHwm  time.Time
}

func newFakeFeed(pages ...*feed.Page) *fakeFeed {
	return &fakeFeed{pages: pages, errAtPage: -1}
}

func (f *fakeFeed) InitialURL(resource models.Resource) string {
	return "initial:" + string(resource)
}

func (f *fakeFeed) ReplicationURL(resource models.Resource, hwm time.Time, _ bool) string {
	f.replHwm = hwm
	return "replication:" + string(resource)
}

func (f *fakeFeed) Pages(_ context.Context, firstURL, _ string, fn func(*feed.Page) error) error {
	f.firstURL = firstURL
	for i, p := range f.pages {
		if f.errAtPage == i {
			return f.pagesErr
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

type fakeProcessor struct {
	processed []string
	failKeys  map[string]bool
}

func (p *fakeProcessor) Process(_ context.Context, resource models.Resource, raw []byte, _ pipeline.Flags) (*pipeline.Stats, error) {
	key := recordKey(resource, raw)
	if p.failKeys[key] {
		return nil, errors.New("boom")
	}
	p.processed = append(p.processed, key)

	var probe struct {
		ModificationTimestamp time.Time `json:"ModificationTimestamp"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	return &pipeline.Stats{Inserted: 1, Hwm: probe.ModificationTimestamp}, nil
}

func rec(resource models.Resource, key, ts string) json.RawMessage {
	field := map[models.Resource]string{
		models.ResourceProperty:  "ListingKey",
		models.ResourceMember:    "MemberKey",
		models.ResourceOffice:    "OfficeKey",
		models.ResourceOpenHouse: "OpenHouseKey",
		models.ResourceLookup:    "LookupKey",
	}[resource]
	return json.RawMessage(fmt.Sprintf(`{%q: %q, "ModificationTimestamp": %q}`, field, key, ts))
}

func page(records ...json.RawMessage) *feed.Page {
	return &feed.Page{Records: records}
}

func settledRun(hwm time.Time) *models.Run {
	return &models.Run{
		ID:       "prev",
		Resource: models.ResourceProperty,
		Status:   models.RunCompleted,
		HwmEnd:   &hwm,
	}
}

func TestRunCycleInitialImport(t *testing.T) {
	store := &fakeStore{}
	fc := newFakeFeed(page(
		rec(models.ResourceProperty, "K1", "2026-03-01T10:00:00.000Z"),
		rec(models.ResourceProperty, "K2", "2026-03-01T10:05:00.000Z"),
	))
	proc := &fakeProcessor{}
	d := NewDriver(store, fc, proc)

	run, err := d.RunCycle(context.Background(), models.ResourceProperty)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if run.Mode != models.ModeInitialImport {
		t.Fatalf("mode = %q", run.Mode)
	}
	if fc.firstURL != "initial:Property" {
		t.Fatalf("firstURL = %q", fc.firstURL)
	}
	if run.Status != models.RunCompleted {
		t.Fatalf("status = %q", run.Status)
	}
	if run.RecordsReceived != 2 || run.RecordsInserted != 2 {
		t.Fatalf("counters = received %d inserted %d", run.RecordsReceived, run.RecordsInserted)
	}
	want := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	if run.HwmEnd == nil || !run.HwmEnd.Equal(want) {
		t.Fatalf("HwmEnd = %v, want %v", run.HwmEnd, want)
	}
	if run.RequestCount != 3 || run.RequestBytes != 4096 || run.HTTPErrors[502] != 1 {
		t.Fatalf("request stats not folded in: %+v", run)
	}
	if len(store.finalized) != 1 {
		t.Fatalf("finalized runs = %d", len(store.finalized))
	}
	if store.refreshCalls != 1 {
		t.Fatalf("view refresh calls = %d, want 1", store.refreshCalls)
	}
	// Initial import never queries the dedup set.
	if len(store.dedupQueries) != 0 {
		t.Fatalf("dedup queried during initial import")
	}
}

func TestRunCycleReplicationDedup(t *testing.T) {
	hwm := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{lastRun: settledRun(hwm), dedupKeys: []string{"K1"}}
	fc := newFakeFeed(page(
		// K1 sits exactly at the HWM and was committed by the previous
		// cycle; the ge fetch re-sees it.
		rec(models.ResourceProperty, "K1", "2026-03-01T10:00:00.000Z"),
		rec(models.ResourceProperty, "K2", "2026-03-01T10:00:00.000Z"),
		rec(models.ResourceProperty, "K3", "2026-03-01T10:07:00.000Z"),
	))
	proc := &fakeProcessor{}
	d := NewDriver(store, fc, proc)

	run, err := d.RunCycle(context.Background(), models.ResourceProperty)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if run.Mode != models.ModeReplication {
		t.Fatalf("mode = %q", run.Mode)
	}
	if fc.firstURL != "replication:Property" || !fc.replHwm.Equal(hwm) {
		t.Fatalf("url = %q hwm = %v", fc.firstURL, fc.replHwm)
	}
	if len(store.dedupQueries) != 1 || !store.dedupQueries[0].Equal(hwm) {
		t.Fatalf("dedup queries = %v", store.dedupQueries)
	}
	// K1 skipped, same-timestamp sibling K2 processed.
	if len(proc.processed) != 2 || proc.processed[0] != "K2" || proc.processed[1] != "K3" {
		t.Fatalf("processed = %v", proc.processed)
	}
	if run.RecordsReceived != 3 || run.RecordsInserted != 2 {
		t.Fatalf("counters = received %d inserted %d", run.RecordsReceived, run.RecordsInserted)
	}
}

func TestRunCycleDedupSkipsFirstOccurrenceOnly(t *testing.T) {
	hwm := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{lastRun: settledRun(hwm), dedupKeys: []string{"K1"}}
	fc := newFakeFeed(page(
		rec(models.ResourceProperty, "K1", "2026-03-01T10:00:00.000Z"),
		// The same key modified again later in the same fetch must be
		// applied.
		rec(models.ResourceProperty, "K1", "2026-03-01T10:30:00.000Z"),
	))
	proc := &fakeProcessor{}
	d := NewDriver(store, fc, proc)

	if _, err := d.RunCycle(context.Background(), models.ResourceProperty); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(proc.processed) != 1 || proc.processed[0] != "K1" {
		t.Fatalf("processed = %v, want the second K1 only", proc.processed)
	}
}

func TestRunCyclePartialOnMidCycleError(t *testing.T) {
	store := &fakeStore{}
	fc := newFakeFeed(
		page(rec(models.ResourceProperty, "K1", "2026-03-01T10:00:00.000Z")),
		page(rec(models.ResourceProperty, "K2", "2026-03-01T11:00:00.000Z")),
	)
	fc.errAtPage = 1
	fc.pagesErr = errors.New("connection reset")
	proc := &fakeProcessor{}
	d := NewDriver(store, fc, proc)

	run, err := d.RunCycle(context.Background(), models.ResourceProperty)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if run.Status != models.RunPartial {
		t.Fatalf("status = %q, want partial", run.Status)
	}
	if run.ErrorMessage == nil || !strings.Contains(*run.ErrorMessage, "connection reset") {
		t.Fatalf("error message = %v", run.ErrorMessage)
	}
	// The committed page's HWM survives, making the cycle resumable.
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if run.HwmEnd == nil || !run.HwmEnd.Equal(want) {
		t.Fatalf("HwmEnd = %v, want %v", run.HwmEnd, want)
	}
}

func TestRunCycleFailedWhenNothingCommitted(t *testing.T) {
	hwm := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{lastRun: settledRun(hwm)}
	fc := newFakeFeed(page(rec(models.ResourceProperty, "K1", "2026-03-01T10:30:00.000Z")))
	fc.errAtPage = 0
	fc.pagesErr = errors.New("feed down")
	proc := &fakeProcessor{}
	d := NewDriver(store, fc, proc)

	run, err := d.RunCycle(context.Background(), models.ResourceProperty)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if run.Status != models.RunFailed {
		t.Fatalf("status = %q, want failed", run.Status)
	}
	// HWM carries over unchanged so the next cycle retries the range.
	if run.HwmEnd == nil || !run.HwmEnd.Equal(hwm) {
		t.Fatalf("HwmEnd = %v, want start %v", run.HwmEnd, hwm)
	}
}

func TestRunCycleSwallowsPerRecordErrors(t *testing.T) {
	store := &fakeStore{}
	fc := newFakeFeed(page(
		rec(models.ResourceProperty, "K1", "2026-03-01T10:00:00.000Z"),
		rec(models.ResourceProperty, "K2", "2026-03-01T10:05:00.000Z"),
	))
	proc := &fakeProcessor{failKeys: map[string]bool{"K1": true}}
	d := NewDriver(store, fc, proc)

	run, err := d.RunCycle(context.Background(), models.ResourceProperty)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if run.Status != models.RunCompleted {
		t.Fatalf("status = %q, want completed despite record error", run.Status)
	}
	if run.RecordsReceived != 2 || run.RecordsInserted != 1 {
		t.Fatalf("counters = received %d inserted %d", run.RecordsReceived, run.RecordsInserted)
	}
}

func TestRunCycleNoViewRefreshForNonProperty(t *testing.T) {
	store := &fakeStore{}
	fc := newFakeFeed(page(rec(models.ResourceMember, "M1", "2026-03-01T10:00:00.000Z")))
	proc := &fakeProcessor{}
	d := NewDriver(store, fc, proc)

	if _, err := d.RunCycle(context.Background(), models.ResourceMember); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if store.refreshCalls != 0 {
		t.Fatalf("view refresh ran for Member cycle")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("bad record: %w", mapper.ErrMappingFailed), "mapping"},
		{fmt.Errorf("map: %w", errWrap(feed.ErrRateLimited)), "rate_limited"},
		{&feed.APIError{Status: 502, Body: "bad gateway"}, "api"},
		{errors.New("pg down"), "persistence"},
	}
	for _, tt := range tests {
		if got := classifyError(tt.err); got != tt.want {
			t.Fatalf("classifyError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func errWrap(err error) error { return fmt.Errorf("wrapped: %w", err) }
