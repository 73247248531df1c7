// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package store is the PostgreSQL persistence layer: hand-written
// parameterized SQL over a pgx connection pool. Upserts are keyed on the
// vendor primary keys with ON CONFLICT DO UPDATE and never overwrite
// created_at; insert-vs-update is classified with RETURNING (xmax = 0).
//
// The schema itself is provisioned out of band (migrations are not part of
// the worker); the expected tables are listings, rooms, unit_types,
// raw_responses, media, media_downloads, members, offices, open_houses,
// lookups, price_history, status_history, change_log, replication_runs,
// and request_log.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/listmirror/internal/config"
	"github.com/tomtom215/listmirror/internal/logging"
)

// DB wraps the connection pool. All methods are safe for concurrent use.
type DB struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and verifies the connection with a ping.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.PoolSize)
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Info().Int("pool_size", cfg.PoolSize).Msg("Database connected")
	return &DB{pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Ping verifies the database is reachable, for the health surface.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
