// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package mediaworker drains the pending_download media queue in the
// background. The inline pipeline downloads what it can during a cycle;
// everything deferred (rate-limit backoffs, expired URLs, crashes
// mid-cycle) lands here. One worker per process.
package mediaworker

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/listmirror/internal/config"
	"github.com/tomtom215/listmirror/internal/feed"
	"github.com/tomtom215/listmirror/internal/logging"
	"github.com/tomtom215/listmirror/internal/metrics"
	"github.com/tomtom215/listmirror/internal/models"
)

const (
	// pollInterval between queue polls when idle or at capacity.
	pollInterval = 5 * time.Second

	// statsInterval between periodic throughput log lines.
	statsInterval = time.Minute

	// pauseInitial and pauseMax bound the downloader-wide 429 pause,
	// which doubles on every observed 429 and resets on success.
	pauseInitial = 5 * time.Minute
	pauseMax     = 15 * time.Minute

	// recoveryBatch caps one stale-media sweep.
	recoveryBatch = 500
)

// Store is the media persistence surface, implemented by *store.DB.
type Store interface {
	PendingMedia(ctx context.Context, limit int) ([]models.Media, error)
	CountPendingMedia(ctx context.Context) (int, error)
	StaleMedia(ctx context.Context, limit int) ([]models.Media, error)
	MarkMediaComplete(ctx context.Context, mediaKey, objectKey, publicURL, contentType string, size int64) error
	SetMediaStatus(ctx context.Context, mediaKey string, status models.MediaStatus) error
	IncrementMediaRetry(ctx context.Context, mediaKey string) (int, error)
	UpdateMediaSourceURL(ctx context.Context, mediaKey, sourceURL string) error
	InsertMediaDownload(ctx context.Context, d *models.MediaDownload) error
}

// ObjectStore is the byte storage surface, implemented by
// *objectstore.Client.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Stat(ctx context.Context, key string) (size int64, ok bool, err error)
	PublicURL(key string) string
}

// Feed is the outbound surface: media bytes plus the single-listing
// refetch used by the recovery sweep.
type Feed interface {
	DownloadMedia(ctx context.Context, mediaURL string) (*feed.MediaBlob, error)
	FetchSingleListing(ctx context.Context, listingID, runID string) ([]byte, error)
}

// Worker is the background media downloader.
type Worker struct {
	store   Store
	objects ObjectStore
	feed    Feed

	concurrency      int
	maxRetries       int
	recoveryInterval time.Duration
	stagger          *rate.Limiter

	mu           sync.Mutex
	inFlight     map[string]struct{}
	pauseUntil   time.Time
	currentPause time.Duration

	// rolling counters for the periodic stats line
	statDownloads   int
	statBytes       int64
	statRateLimited int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Worker from the media configuration.
func New(store Store, objects ObjectStore, feedClient Feed, cfg config.MediaConfig) *Worker {
	stagger := cfg.DispatchStagger
	if stagger <= 0 {
		stagger = 200 * time.Millisecond
	}
	return &Worker{
		store:            store,
		objects:          objects,
		feed:             feedClient,
		concurrency:      cfg.Concurrency,
		maxRetries:       cfg.MaxRetries,
		recoveryInterval: cfg.RecoveryInterval,
		stagger:          rate.NewLimiter(rate.Every(stagger), 1),
		inFlight:         make(map[string]struct{}),
		currentPause:     pauseInitial,
		now:              time.Now,
		sleep:            sleepCtx,
	}
}

// Serve runs the worker until the context is cancelled. It satisfies
// the supervisor's service contract.
func (w *Worker) Serve(ctx context.Context) error {
	logging.Info().
		Int("concurrency", w.concurrency).
		Int("max_retries", w.maxRetries).
		Msg("Media worker started")

	// The recovery sweep also runs once at startup to absorb whatever a
	// previous process left behind.
	w.RecoverStale(ctx)

	var wg sync.WaitGroup
	defer wg.Wait()

	lastStats := w.now()
	lastRecovery := w.now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if w.recoveryInterval > 0 && w.now().Sub(lastRecovery) >= w.recoveryInterval {
			w.RecoverStale(ctx)
			lastRecovery = w.now()
		}
		if w.now().Sub(lastStats) >= statsInterval {
			w.logStats(ctx)
			lastStats = w.now()
		}

		if wait := w.pauseRemaining(); wait > 0 {
			logging.Debug().Dur("remaining", wait).Msg("Media worker rate-limit pause")
			if err := w.sleep(ctx, min(wait, pollInterval)); err != nil {
				return err
			}
			continue
		}

		capacity := w.capacity()
		if capacity <= 0 {
			if err := w.sleep(ctx, pollInterval); err != nil {
				return err
			}
			continue
		}

		batch, err := w.store.PendingMedia(ctx, capacity)
		if err != nil {
			logging.Error().Err(err).Msg("Could not poll pending media")
			if err := w.sleep(ctx, pollInterval); err != nil {
				return err
			}
			continue
		}
		if len(batch) == 0 {
			if err := w.sleep(ctx, pollInterval); err != nil {
				return err
			}
			continue
		}

		dispatched := 0
		for i := range batch {
			if w.pauseRemaining() > 0 {
				break
			}
			m := batch[i]
			// A row stays pending_download for the whole duration of its
			// download, so a poll can return rows another goroutine is
			// still working on.
			if !w.claim(m.MediaKey) {
				continue
			}
			if err := w.stagger.Wait(ctx); err != nil {
				w.release(m.MediaKey)
				return err
			}
			dispatched++
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer w.release(m.MediaKey)
				w.ProcessOne(ctx, &m)
			}()
		}
		if dispatched == 0 {
			if err := w.sleep(ctx, pollInterval); err != nil {
				return err
			}
		}
	}
}

// ProcessOne attempts one pending download end to end. Exported for the
// recovery sweep and tests; Serve calls it from dispatch goroutines.
func (w *Worker) ProcessOne(ctx context.Context, m *models.Media) {
	if feed.URLExpired(m.SourceURL, w.now()) {
		metrics.MediaDownloads.WithLabelValues("expired").Inc()
		w.setStatus(ctx, m.MediaKey, models.MediaExpired)
		return
	}

	blob, err := w.feed.DownloadMedia(ctx, m.SourceURL)
	switch {
	case err == nil:
		if err := w.storeBlob(ctx, m, blob); err != nil {
			logging.Error().Str("media_key", m.MediaKey).Err(err).Msg("Media upload failed")
			w.recordFailure(ctx, m)
			return
		}
		w.recordSuccess(blob.Size)

	case errors.Is(err, feed.ErrRateLimited):
		// Row stays pending; the whole worker pauses.
		metrics.MediaDownloads.WithLabelValues("rate_limited").Inc()
		w.bumpPause()

	case errors.Is(err, feed.ErrURLExpired):
		metrics.MediaDownloads.WithLabelValues("expired").Inc()
		w.setStatus(ctx, m.MediaKey, models.MediaExpired)

	default:
		logging.Warn().Str("media_key", m.MediaKey).Err(err).Msg("Media download failed")
		w.recordFailure(ctx, m)
	}
}

// storeBlob uploads the bytes and records completion plus the audit row.
func (w *Worker) storeBlob(ctx context.Context, m *models.Media, blob *feed.MediaBlob) error {
	start := w.now()
	if err := w.objects.Put(ctx, m.ObjectKey, blob.Data, blob.ContentType); err != nil {
		return err
	}
	publicURL := w.objects.PublicURL(m.ObjectKey)
	if err := w.store.MarkMediaComplete(ctx, m.MediaKey, m.ObjectKey, publicURL, blob.ContentType, blob.Size); err != nil {
		return err
	}
	return w.store.InsertMediaDownload(ctx, &models.MediaDownload{
		MediaKey:     m.MediaKey,
		ObjectKey:    m.ObjectKey,
		Bytes:        blob.Size,
		ElapsedMs:    w.now().Sub(start).Milliseconds(),
		DownloadedAt: w.now().UTC(),
	})
}

// recordFailure bumps the retry counter, marking the row failed once the
// budget is exhausted.
func (w *Worker) recordFailure(ctx context.Context, m *models.Media) {
	n, err := w.store.IncrementMediaRetry(ctx, m.MediaKey)
	if err != nil {
		logging.Error().Str("media_key", m.MediaKey).Err(err).Msg("Could not bump retry count")
		return
	}
	if n >= w.maxRetries {
		metrics.MediaDownloads.WithLabelValues("failed").Inc()
		w.setStatus(ctx, m.MediaKey, models.MediaFailed)
	}
}

func (w *Worker) recordSuccess(bytes int64) {
	metrics.MediaDownloads.WithLabelValues("complete").Inc()
	w.mu.Lock()
	w.currentPause = pauseInitial
	w.pauseUntil = time.Time{}
	w.statDownloads++
	w.statBytes += bytes
	w.mu.Unlock()
}

// bumpPause extends the downloader-wide pause and doubles the next one,
// capped at pauseMax.
func (w *Worker) bumpPause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statRateLimited++
	w.pauseUntil = w.now().Add(w.currentPause)
	w.currentPause *= 2
	if w.currentPause > pauseMax {
		w.currentPause = pauseMax
	}
	logging.Warn().
		Time("until", w.pauseUntil).
		Dur("next_pause", w.currentPause).
		Msg("Media downloads paused after 429")
}

func (w *Worker) pauseRemaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if remaining := w.pauseUntil.Sub(w.now()); remaining > 0 {
		return remaining
	}
	return 0
}

func (w *Worker) capacity() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.concurrency - len(w.inFlight)
}

// claim marks a media key as in flight, refusing keys that already are.
func (w *Worker) claim(mediaKey string) bool {
	w.mu.Lock()
	if _, ok := w.inFlight[mediaKey]; ok {
		w.mu.Unlock()
		return false
	}
	w.inFlight[mediaKey] = struct{}{}
	n := len(w.inFlight)
	w.mu.Unlock()
	metrics.MediaInFlight.Set(float64(n))
	return true
}

func (w *Worker) release(mediaKey string) {
	w.mu.Lock()
	delete(w.inFlight, mediaKey)
	n := len(w.inFlight)
	w.mu.Unlock()
	metrics.MediaInFlight.Set(float64(n))
}

func (w *Worker) setStatus(ctx context.Context, mediaKey string, status models.MediaStatus) {
	if err := w.store.SetMediaStatus(ctx, mediaKey, status); err != nil {
		logging.Error().
			Str("media_key", mediaKey).
			Str("status", string(status)).
			Err(err).
			Msg("Could not persist media status")
	}
}

// logStats emits the periodic throughput line and refreshes the queue
// depth gauge, then resets the rolling counters.
func (w *Worker) logStats(ctx context.Context) {
	depth, err := w.store.CountPendingMedia(ctx)
	if err == nil {
		metrics.MediaPendingQueue.Set(float64(depth))
	}

	w.mu.Lock()
	downloads, bytes, limited, inFlight := w.statDownloads, w.statBytes, w.statRateLimited, len(w.inFlight)
	w.statDownloads, w.statBytes, w.statRateLimited = 0, 0, 0
	w.mu.Unlock()

	logging.Info().
		Int("downloads", downloads).
		Int64("bytes", bytes).
		Int("rate_limited", limited).
		Int("in_flight", inFlight).
		Int("queue_depth", depth).
		Msg("Media worker stats")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
