// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/listmirror/internal/models"
)

const mediaColumns = `media_key, resource, parent_key, parent_listing_id,
	source_url, object_key, public_url, media_order, category, content_type,
	file_size_bytes, status, retry_count, media_mod_ts, created_at, updated_at`

func scanMedia(row interface{ Scan(...any) error }) (*models.Media, error) {
	var m models.Media
	err := row.Scan(
		&m.MediaKey, &m.Resource, &m.ParentKey, &m.ParentListingID,
		&m.SourceURL, &m.ObjectKey, &m.PublicURL, &m.Order, &m.Category, &m.ContentType,
		&m.FileSizeBytes, &m.Status, &m.RetryCount, &m.MediaModTs, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MediaForParent returns every media row owned by one record, ordered by
// display order.
func (db *DB) MediaForParent(ctx context.Context, resource models.Resource, parentKey string) ([]models.Media, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+mediaColumns+` FROM media
		WHERE resource = $1 AND parent_key = $2 ORDER BY media_order`, resource, parentKey)
	if err != nil {
		return nil, fmt.Errorf("load media of %s/%s: %w", resource, parentKey, err)
	}
	defer rows.Close()

	var media []models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media row: %w", err)
		}
		media = append(media, *m)
	}
	return media, rows.Err()
}

// UpsertMedia writes one media row. The download bookkeeping columns
// (object key contents, file size, status, retry count) belong to the
// downloader and are preserved on conflict; only the feed-sourced metadata
// is refreshed.
func (db *DB) UpsertMedia(ctx context.Context, m *models.Media) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO media (`+mediaColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
		ON CONFLICT (media_key) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			parent_listing_id = EXCLUDED.parent_listing_id,
			media_order = EXCLUDED.media_order,
			category = EXCLUDED.category,
			content_type = EXCLUDED.content_type,
			media_mod_ts = EXCLUDED.media_mod_ts,
			updated_at = now()`,
		m.MediaKey, m.Resource, m.ParentKey, m.ParentListingID,
		m.SourceURL, m.ObjectKey, m.PublicURL, m.Order, m.Category, m.ContentType,
		m.FileSizeBytes, m.Status, m.RetryCount, m.MediaModTs)
	if err != nil {
		return fmt.Errorf("upsert media %s: %w", m.MediaKey, err)
	}
	return nil
}

// DeleteMedia removes media rows by key. Object-store cleanup happens
// before this call.
func (db *DB) DeleteMedia(ctx context.Context, mediaKeys []string) error {
	if len(mediaKeys) == 0 {
		return nil
	}
	_, err := db.pool.Exec(ctx, `DELETE FROM media WHERE media_key = ANY($1)`, mediaKeys)
	if err != nil {
		return fmt.Errorf("delete media rows: %w", err)
	}
	return nil
}

// MarkMediaComplete records a finished download: object location, size,
// and the complete status, resetting the retry counter.
func (db *DB) MarkMediaComplete(ctx context.Context, mediaKey, objectKey, publicURL, contentType string, size int64) error {
	_, err := db.pool.Exec(ctx, `UPDATE media SET
		object_key = $2, public_url = $3, content_type = $4, file_size_bytes = $5,
		status = $6, retry_count = 0, updated_at = now()
		WHERE media_key = $1`,
		mediaKey, objectKey, publicURL, contentType, size, models.MediaComplete)
	if err != nil {
		return fmt.Errorf("mark media %s complete: %w", mediaKey, err)
	}
	return nil
}

// SetMediaStatus transitions a media row's download status.
func (db *DB) SetMediaStatus(ctx context.Context, mediaKey string, status models.MediaStatus) error {
	_, err := db.pool.Exec(ctx, `UPDATE media SET status = $2, updated_at = now()
		WHERE media_key = $1`, mediaKey, status)
	if err != nil {
		return fmt.Errorf("set media %s status %s: %w", mediaKey, status, err)
	}
	return nil
}

// IncrementMediaRetry bumps the retry counter and returns the new value.
func (db *DB) IncrementMediaRetry(ctx context.Context, mediaKey string) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx, `UPDATE media SET retry_count = retry_count + 1, updated_at = now()
		WHERE media_key = $1 RETURNING retry_count`, mediaKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment media %s retries: %w", mediaKey, err)
	}
	return n, nil
}

// UpdateMediaSourceURL replaces a stored (expired) source URL with a fresh
// one obtained from a parent refetch.
func (db *DB) UpdateMediaSourceURL(ctx context.Context, mediaKey, sourceURL string) error {
	_, err := db.pool.Exec(ctx, `UPDATE media SET source_url = $2, updated_at = now()
		WHERE media_key = $1`, mediaKey, sourceURL)
	if err != nil {
		return fmt.Errorf("update media %s source url: %w", mediaKey, err)
	}
	return nil
}

// PendingMedia returns up to limit rows awaiting download, oldest first.
func (db *DB) PendingMedia(ctx context.Context, limit int) ([]models.Media, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+mediaColumns+` FROM media
		WHERE status = $1 ORDER BY updated_at LIMIT $2`, models.MediaPending, limit)
	if err != nil {
		return nil, fmt.Errorf("load pending media: %w", err)
	}
	defer rows.Close()

	var media []models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending media: %w", err)
		}
		media = append(media, *m)
	}
	return media, rows.Err()
}

// CountPendingMedia reports the pending_download queue depth.
func (db *DB) CountPendingMedia(ctx context.Context) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx, `SELECT count(*) FROM media WHERE status = $1`,
		models.MediaPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending media: %w", err)
	}
	return n, nil
}

// StaleMedia returns up to limit failed or expired rows for the recovery
// sweep, oldest first.
func (db *DB) StaleMedia(ctx context.Context, limit int) ([]models.Media, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+mediaColumns+` FROM media
		WHERE status = ANY($1) ORDER BY updated_at LIMIT $2`,
		[]models.MediaStatus{models.MediaFailed, models.MediaExpired}, limit)
	if err != nil {
		return nil, fmt.Errorf("load stale media: %w", err)
	}
	defer rows.Close()

	var media []models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale media: %w", err)
		}
		media = append(media, *m)
	}
	return media, rows.Err()
}

// InsertMediaDownload appends one audit row for a completed download.
func (db *DB) InsertMediaDownload(ctx context.Context, d *models.MediaDownload) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO media_downloads
		(media_key, object_key, bytes, elapsed_ms, downloaded_at)
		VALUES ($1,$2,$3,$4,$5)`,
		d.MediaKey, d.ObjectKey, d.Bytes, d.ElapsedMs, d.DownloadedAt)
	if err != nil {
		return fmt.Errorf("insert media download audit: %w", err)
	}
	return nil
}

// RecentMediaDownloads returns downloads since the cutoff, used to reseed
// the bandwidth window after a restart.
func (db *DB) RecentMediaDownloads(ctx context.Context, since time.Time) ([]models.MediaDownload, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, media_key, object_key, bytes, elapsed_ms, downloaded_at
		FROM media_downloads WHERE downloaded_at >= $1 ORDER BY downloaded_at`, since)
	if err != nil {
		return nil, fmt.Errorf("load recent media downloads: %w", err)
	}
	defer rows.Close()

	var downloads []models.MediaDownload
	for rows.Next() {
		var d models.MediaDownload
		if err := rows.Scan(&d.ID, &d.MediaKey, &d.ObjectKey, &d.Bytes, &d.ElapsedMs, &d.DownloadedAt); err != nil {
			return nil, fmt.Errorf("scan media download: %w", err)
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}
