// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/listmirror/internal/models"
)

// CreateRun persists a new run in status running.
func (db *DB) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO replication_runs
		(id, resource, mode, status, started_at, hwm_start)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		run.ID, run.Resource, run.Mode, run.Status, run.StartedAt, run.HwmStart)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// FinalizeRun writes the terminal state and counters of a finished run.
func (db *DB) FinalizeRun(ctx context.Context, run *models.Run) error {
	_, err := db.pool.Exec(ctx, `UPDATE replication_runs SET
		status = $2, completed_at = $3, hwm_end = $4, error_message = $5,
		records_received = $6, records_inserted = $7, records_updated = $8,
		records_deleted = $9, media_downloaded = $10, media_deleted = $11,
		media_bytes = $12, request_count = $13, request_bytes = $14,
		avg_latency_ms = $15, http_errors = $16
		WHERE id = $1`,
		run.ID, run.Status, run.CompletedAt, run.HwmEnd, run.ErrorMessage,
		run.RecordsReceived, run.RecordsInserted, run.RecordsUpdated,
		run.RecordsDeleted, run.MediaDownloaded, run.MediaDeleted,
		run.MediaBytes, run.RequestCount, run.RequestBytes,
		run.AvgLatencyMs, run.HTTPErrors)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	return nil
}

// LatestSettledRun returns the most recent completed or partial run for a
// resource, or nil when none exists (the resource has never finished a
// cycle, so the next one is an initial import).
func (db *DB) LatestSettledRun(ctx context.Context, resource models.Resource) (*models.Run, error) {
	row := db.pool.QueryRow(ctx, `SELECT id, resource, mode, status, started_at,
		completed_at, hwm_start, hwm_end, error_message,
		records_received, records_inserted, records_updated, records_deleted,
		media_downloaded, media_deleted, media_bytes,
		request_count, request_bytes, avg_latency_ms, http_errors
		FROM replication_runs
		WHERE resource = $1 AND status = ANY($2)
		ORDER BY started_at DESC LIMIT 1`,
		resource, []models.RunStatus{models.RunCompleted, models.RunPartial})

	var run models.Run
	err := row.Scan(&run.ID, &run.Resource, &run.Mode, &run.Status, &run.StartedAt,
		&run.CompletedAt, &run.HwmStart, &run.HwmEnd, &run.ErrorMessage,
		&run.RecordsReceived, &run.RecordsInserted, &run.RecordsUpdated, &run.RecordsDeleted,
		&run.MediaDownloaded, &run.MediaDeleted, &run.MediaBytes,
		&run.RequestCount, &run.RequestBytes, &run.AvgLatencyMs, &run.HTTPErrors)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest run for %s: %w", resource, err)
	}
	return &run, nil
}

// FailAbandonedRuns marks runs still in status running as failed. Called
// once at startup: a running row can only mean the previous process died
// mid-cycle.
func (db *DB) FailAbandonedRuns(ctx context.Context) (int, error) {
	msg := "abandoned: worker restarted mid-cycle"
	tag, err := db.pool.Exec(ctx, `UPDATE replication_runs
		SET status = $1, completed_at = now(), error_message = $2
		WHERE status = $3`,
		models.RunFailed, msg, models.RunRunning)
	if err != nil {
		return 0, fmt.Errorf("fail abandoned runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// KeysAtTimestamp returns the primary keys of resource rows whose
// modification_ts equals ts exactly. This is the dedup set for
// resume-safe `ge` cycles: records at the HWM boundary are refetched and
// skipped by key.
func (db *DB) KeysAtTimestamp(ctx context.Context, resource models.Resource, ts time.Time) ([]string, error) {
	var query string
	switch resource {
	case models.ResourceProperty:
		query = `SELECT listing_key FROM listings WHERE modification_ts = $1`
	case models.ResourceMember:
		query = `SELECT member_key FROM members WHERE modification_ts = $1`
	case models.ResourceOffice:
		query = `SELECT office_key FROM offices WHERE modification_ts = $1`
	case models.ResourceOpenHouse:
		query = `SELECT open_house_key FROM open_houses WHERE modification_ts = $1`
	case models.ResourceLookup:
		query = `SELECT lookup_key FROM lookups WHERE modification_ts = $1`
	default:
		return nil, fmt.Errorf("unknown resource %q", resource)
	}

	rows, err := db.pool.Query(ctx, query, ts)
	if err != nil {
		return nil, fmt.Errorf("load dedup keys for %s: %w", resource, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan dedup key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// AppendRequestLog persists one outbound request row.
func (db *DB) AppendRequestLog(ctx context.Context, e *models.RequestLogEntry) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO request_log
		(run_id, url, status, elapsed_ms, bytes, record_count, error_message, requested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.RunID, e.URL, e.Status, e.ElapsedMs, e.Bytes, e.RecordCount, e.ErrorMessage, e.RequestedAt)
	if err != nil {
		return fmt.Errorf("append request log: %w", err)
	}
	return nil
}

// RecentRequestTimes returns request timestamps since the cutoff in
// ascending order, used to reseed the API windows after a restart.
func (db *DB) RecentRequestTimes(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := db.pool.Query(ctx, `SELECT requested_at FROM request_log
		WHERE requested_at >= $1 ORDER BY requested_at`, since)
	if err != nil {
		return nil, fmt.Errorf("load recent request times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan request time: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// RunStats aggregates the request log for one run when it is finalized.
func (db *DB) RunStats(ctx context.Context, runID string) (count int, bytes int64, avgLatencyMs float64, httpErrors map[int]int, err error) {
	row := db.pool.QueryRow(ctx, `SELECT count(*), coalesce(sum(bytes), 0), coalesce(avg(elapsed_ms), 0)
		FROM request_log WHERE run_id = $1`, runID)
	if err := row.Scan(&count, &bytes, &avgLatencyMs); err != nil {
		return 0, 0, 0, nil, fmt.Errorf("aggregate run stats: %w", err)
	}

	rows, err := db.pool.Query(ctx, `SELECT status, count(*) FROM request_log
		WHERE run_id = $1 AND (status < 200 OR status >= 300) GROUP BY status`, runID)
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("aggregate run errors: %w", err)
	}
	defer rows.Close()

	httpErrors = make(map[int]int)
	for rows.Next() {
		var status, n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, nil, fmt.Errorf("scan run error row: %w", err)
		}
		httpErrors[status] = n
	}
	return count, bytes, avgLatencyMs, httpErrors, rows.Err()
}

// PruneRequestLog deletes request-log rows older than the cutoff. The log
// only needs to cover the largest limiter window plus margin.
func (db *DB) PruneRequestLog(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM request_log WHERE requested_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune request log: %w", err)
	}
	return tag.RowsAffected(), nil
}
