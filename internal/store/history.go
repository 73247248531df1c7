// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package store

import (
	"context"
	"fmt"

	"github.com/tomtom215/listmirror/internal/models"
)

// AppendPriceHistory records one list-price change. History is append-only;
// rows are never updated or backfilled.
func (db *DB) AppendPriceHistory(ctx context.Context, h *models.PriceHistory) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO price_history
		(listing_key, old_price, new_price, change_type, recorded_at)
		VALUES ($1,$2,$3,$4,$5)`,
		h.ListingKey, h.OldPrice, h.NewPrice, h.ChangeType, h.RecordedAt)
	if err != nil {
		return fmt.Errorf("append price history for %s: %w", h.ListingKey, err)
	}
	return nil
}

// AppendStatusHistory records one standard-status change.
func (db *DB) AppendStatusHistory(ctx context.Context, h *models.StatusHistory) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO status_history
		(listing_key, old_status, new_status, recorded_at)
		VALUES ($1,$2,$3,$4)`,
		h.ListingKey, h.OldStatus, h.NewStatus, h.RecordedAt)
	if err != nil {
		return fmt.Errorf("append status history for %s: %w", h.ListingKey, err)
	}
	return nil
}

// AppendChangeLog records one watched-field delta.
func (db *DB) AppendChangeLog(ctx context.Context, c *models.ChangeLog) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO change_log
		(listing_key, field_name, old_value, new_value, recorded_at)
		VALUES ($1,$2,$3,$4,$5)`,
		c.ListingKey, c.FieldName, c.OldValue, c.NewValue, c.RecordedAt)
	if err != nil {
		return fmt.Errorf("append change log for %s: %w", c.ListingKey, err)
	}
	return nil
}
