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

// GetMember loads one member by key, or nil when absent.
func (db *DB) GetMember(ctx context.Context, memberKey string) (*models.Member, error) {
	row := db.pool.QueryRow(ctx, `SELECT member_key, member_mls_id, originating_system_name,
		full_name, first_name, last_name, email, phone, office_key, office_mls_id,
		state_license, member_status, can_view, modification_ts, photos_change_ts,
		local_fields, deleted_at, created_at, updated_at
		FROM members WHERE member_key = $1`, memberKey)

	var m models.Member
	err := row.Scan(&m.MemberKey, &m.MemberMlsID, &m.OriginatingSystemName,
		&m.FullName, &m.FirstName, &m.LastName, &m.Email, &m.Phone, &m.OfficeKey, &m.OfficeMlsID,
		&m.StateLicense, &m.MemberStatus, &m.CanView, &m.ModificationTs, &m.PhotosChangeTs,
		&m.LocalFields, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load member %s: %w", memberKey, err)
	}
	return &m, nil
}

// UpsertMember writes one member row, returning whether it was newly
// inserted.
func (db *DB) UpsertMember(ctx context.Context, m *models.Member) (inserted bool, err error) {
	err = db.pool.QueryRow(ctx, `INSERT INTO members
		(member_key, member_mls_id, originating_system_name, full_name, first_name,
		 last_name, email, phone, office_key, office_mls_id, state_license,
		 member_status, can_view, modification_ts, photos_change_ts, local_fields,
		 deleted_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now(),now())
		ON CONFLICT (member_key) DO UPDATE SET
			member_mls_id = EXCLUDED.member_mls_id,
			originating_system_name = EXCLUDED.originating_system_name,
			full_name = EXCLUDED.full_name,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			office_key = EXCLUDED.office_key,
			office_mls_id = EXCLUDED.office_mls_id,
			state_license = EXCLUDED.state_license,
			member_status = EXCLUDED.member_status,
			can_view = EXCLUDED.can_view,
			modification_ts = EXCLUDED.modification_ts,
			photos_change_ts = EXCLUDED.photos_change_ts,
			local_fields = EXCLUDED.local_fields,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = now()
		RETURNING (xmax = 0)`,
		m.MemberKey, m.MemberMlsID, m.OriginatingSystemName, m.FullName, m.FirstName,
		m.LastName, m.Email, m.Phone, m.OfficeKey, m.OfficeMlsID, m.StateLicense,
		m.MemberStatus, m.CanView, m.ModificationTs, m.PhotosChangeTs, m.LocalFields,
		m.DeletedAt).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert member %s: %w", m.MemberKey, err)
	}
	return inserted, nil
}

// SoftHideMember marks a member hidden, keeping its row and media.
func (db *DB) SoftHideMember(ctx context.Context, memberKey string, at time.Time) error {
	_, err := db.pool.Exec(ctx, `UPDATE members
		SET can_view = false, deleted_at = $2, updated_at = now()
		WHERE member_key = $1 AND deleted_at IS NULL`, memberKey, at)
	if err != nil {
		return fmt.Errorf("soft-hide member %s: %w", memberKey, err)
	}
	return nil
}

// GetOffice loads one office by key, or nil when absent.
func (db *DB) GetOffice(ctx context.Context, officeKey string) (*models.Office, error) {
	row := db.pool.QueryRow(ctx, `SELECT office_key, office_mls_id, originating_system_name,
		office_name, phone, email, address, city, state_or_province, postal_code,
		office_status, can_view, modification_ts, photos_change_ts, local_fields,
		deleted_at, created_at, updated_at
		FROM offices WHERE office_key = $1`, officeKey)

	var o models.Office
	err := row.Scan(&o.OfficeKey, &o.OfficeMlsID, &o.OriginatingSystemName,
		&o.OfficeName, &o.Phone, &o.Email, &o.Address, &o.City, &o.StateOrProvince, &o.PostalCode,
		&o.OfficeStatus, &o.CanView, &o.ModificationTs, &o.PhotosChangeTs, &o.LocalFields,
		&o.DeletedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load office %s: %w", officeKey, err)
	}
	return &o, nil
}

// UpsertOffice writes one office row, returning whether it was newly
// inserted.
func (db *DB) UpsertOffice(ctx context.Context, o *models.Office) (inserted bool, err error) {
	err = db.pool.QueryRow(ctx, `INSERT INTO offices
		(office_key, office_mls_id, originating_system_name, office_name, phone,
		 email, address, city, state_or_province, postal_code, office_status,
		 can_view, modification_ts, photos_change_ts, local_fields, deleted_at,
		 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),now())
		ON CONFLICT (office_key) DO UPDATE SET
			office_mls_id = EXCLUDED.office_mls_id,
			originating_system_name = EXCLUDED.originating_system_name,
			office_name = EXCLUDED.office_name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			state_or_province = EXCLUDED.state_or_province,
			postal_code = EXCLUDED.postal_code,
			office_status = EXCLUDED.office_status,
			can_view = EXCLUDED.can_view,
			modification_ts = EXCLUDED.modification_ts,
			photos_change_ts = EXCLUDED.photos_change_ts,
			local_fields = EXCLUDED.local_fields,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = now()
		RETURNING (xmax = 0)`,
		o.OfficeKey, o.OfficeMlsID, o.OriginatingSystemName, o.OfficeName, o.Phone,
		o.Email, o.Address, o.City, o.StateOrProvince, o.PostalCode, o.OfficeStatus,
		o.CanView, o.ModificationTs, o.PhotosChangeTs, o.LocalFields, o.DeletedAt).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert office %s: %w", o.OfficeKey, err)
	}
	return inserted, nil
}

// SoftHideOffice marks an office hidden, keeping its row and media.
func (db *DB) SoftHideOffice(ctx context.Context, officeKey string, at time.Time) error {
	_, err := db.pool.Exec(ctx, `UPDATE offices
		SET can_view = false, deleted_at = $2, updated_at = now()
		WHERE office_key = $1 AND deleted_at IS NULL`, officeKey, at)
	if err != nil {
		return fmt.Errorf("soft-hide office %s: %w", officeKey, err)
	}
	return nil
}

// UpsertOpenHouse writes one open-house row, returning whether it was
// newly inserted. Open houses have no soft-delete: a hidden event is
// simply removed.
func (db *DB) UpsertOpenHouse(ctx context.Context, oh *models.OpenHouse) (inserted bool, err error) {
	err = db.pool.QueryRow(ctx, `INSERT INTO open_houses
		(open_house_key, listing_id, originating_system_name, open_house_date,
		 start_time, end_time, remarks, open_house_type, can_view,
		 modification_ts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
		ON CONFLICT (open_house_key) DO UPDATE SET
			listing_id = EXCLUDED.listing_id,
			originating_system_name = EXCLUDED.originating_system_name,
			open_house_date = EXCLUDED.open_house_date,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			remarks = EXCLUDED.remarks,
			open_house_type = EXCLUDED.open_house_type,
			can_view = EXCLUDED.can_view,
			modification_ts = EXCLUDED.modification_ts,
			updated_at = now()
		RETURNING (xmax = 0)`,
		oh.OpenHouseKey, oh.ListingID, oh.OriginatingSystemName, oh.OpenHouseDate,
		oh.StartTime, oh.EndTime, oh.Remarks, oh.OpenHouseType, oh.CanView,
		oh.ModificationTs).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert open house %s: %w", oh.OpenHouseKey, err)
	}
	return inserted, nil
}

// DeleteOpenHouse hard-deletes one open-house row. Deleting a missing row
// is a no-op.
func (db *DB) DeleteOpenHouse(ctx context.Context, openHouseKey string) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM open_houses WHERE open_house_key = $1`, openHouseKey)
	if err != nil {
		return fmt.Errorf("delete open house %s: %w", openHouseKey, err)
	}
	return nil
}

// UpsertLookup writes one lookup row, returning whether it was newly
// inserted.
func (db *DB) UpsertLookup(ctx context.Context, l *models.Lookup) (inserted bool, err error) {
	err = db.pool.QueryRow(ctx, `INSERT INTO lookups
		(lookup_key, originating_system_name, lookup_name, lookup_value,
		 standard_lookup_value, legacy_odata_value, modification_ts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		ON CONFLICT (lookup_key) DO UPDATE SET
			originating_system_name = EXCLUDED.originating_system_name,
			lookup_name = EXCLUDED.lookup_name,
			lookup_value = EXCLUDED.lookup_value,
			standard_lookup_value = EXCLUDED.standard_lookup_value,
			legacy_odata_value = EXCLUDED.legacy_odata_value,
			modification_ts = EXCLUDED.modification_ts,
			updated_at = now()
		RETURNING (xmax = 0)`,
		l.LookupKey, l.OriginatingSystemName, l.LookupName, l.LookupValue,
		l.StandardLookupValue, l.LegacyODataValue, l.ModificationTs).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert lookup %s: %w", l.LookupKey, err)
	}
	return inserted, nil
}
