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

	"github.com/tomtom215/listmirror/internal/logging"
	"github.com/tomtom215/listmirror/internal/models"
)

// listingColumns is the full column list shared by reads and the upsert,
// in parameter order. geo_point is handled separately (EWKT conversion).
const listingColumns = `listing_key, listing_id, listing_id_display, originating_system_name,
	list_price, original_list_price, previous_list_price, close_price,
	standard_status, mls_status, major_change_type,
	property_type, property_sub_type, bedrooms_total, bathrooms_total_integer,
	bathrooms_full, bathrooms_half, living_area, lot_size_acres,
	lot_size_square_feet, year_built, stories_total, garage_spaces,
	fireplaces_total, pool_private_yn, waterfront_yn, new_construction_yn,
	unparsed_address, city, state_or_province, postal_code, county_or_parish,
	subdivision_name, latitude, longitude,
	list_agent_key, list_agent_mls_id, list_office_key, list_office_mls_id,
	buyer_agent_key, buyer_office_key,
	public_remarks, private_remarks,
	elementary_school, middle_or_junior_school, high_school, high_school_district,
	tax_annual_amount, tax_year, parcel_number,
	buyer_agency_compensation, buyer_agency_compensation_type,
	can_view, use_cases, photos_count,
	modification_ts, originating_mod_ts, photos_change_ts, major_change_ts,
	original_entry_ts, local_fields, deleted_at`

// listingArgs returns the upsert parameters in listingColumns order, with
// the EWKT point appended last.
func listingArgs(l *models.Listing) []any {
	return []any{
		l.ListingKey, l.ListingID, l.ListingIDDisplay, l.OriginatingSystemName,
		l.ListPrice, l.OriginalListPrice, l.PreviousListPrice, l.ClosePrice,
		l.StandardStatus, l.MlsStatus, l.MajorChangeType,
		l.PropertyType, l.PropertySubType, l.BedroomsTotal, l.BathroomsTotalInteger,
		l.BathroomsFull, l.BathroomsHalf, l.LivingArea, l.LotSizeAcres,
		l.LotSizeSquareFeet, l.YearBuilt, l.StoriesTotal, l.GarageSpaces,
		l.FireplacesTotal, l.PoolPrivateYN, l.WaterfrontYN, l.NewConstructionYN,
		l.UnparsedAddress, l.City, l.StateOrProvince, l.PostalCode, l.CountyOrParish,
		l.SubdivisionName, l.Latitude, l.Longitude,
		l.ListAgentKey, l.ListAgentMlsID, l.ListOfficeKey, l.ListOfficeMlsID,
		l.BuyerAgentKey, l.BuyerOfficeKey,
		l.PublicRemarks, l.PrivateRemarks,
		l.ElementarySchool, l.MiddleOrJuniorSchool, l.HighSchool, l.HighSchoolDistrict,
		l.TaxAnnualAmount, l.TaxYear, l.ParcelNumber,
		l.BuyerAgencyCompensation, l.BuyerAgencyCompensationType,
		l.CanView, l.UseCases, l.PhotosCount,
		l.ModificationTs, l.OriginatingModTs, l.PhotosChangeTs, l.MajorChangeTs,
		l.OriginalEntryTs, l.LocalFields, l.DeletedAt,
		l.GeoPoint, // $63
	}
}

const upsertListingSQL = `INSERT INTO listings (` + listingColumns + `, geo_point, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
	$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38,$39,$40,
	$41,$42,$43,$44,$45,$46,$47,$48,$49,$50,$51,$52,$53,$54,$55,$56,$57,$58,$59,$60,
	$61,$62,ST_GeomFromEWKT($63),now(),now())
ON CONFLICT (listing_key) DO UPDATE SET
	listing_id = EXCLUDED.listing_id,
	listing_id_display = EXCLUDED.listing_id_display,
	originating_system_name = EXCLUDED.originating_system_name,
	list_price = EXCLUDED.list_price,
	original_list_price = EXCLUDED.original_list_price,
	previous_list_price = EXCLUDED.previous_list_price,
	close_price = EXCLUDED.close_price,
	standard_status = EXCLUDED.standard_status,
	mls_status = EXCLUDED.mls_status,
	major_change_type = EXCLUDED.major_change_type,
	property_type = EXCLUDED.property_type,
	property_sub_type = EXCLUDED.property_sub_type,
	bedrooms_total = EXCLUDED.bedrooms_total,
	bathrooms_total_integer = EXCLUDED.bathrooms_total_integer,
	bathrooms_full = EXCLUDED.bathrooms_full,
	bathrooms_half = EXCLUDED.bathrooms_half,
	living_area = EXCLUDED.living_area,
	lot_size_acres = EXCLUDED.lot_size_acres,
	lot_size_square_feet = EXCLUDED.lot_size_square_feet,
	year_built = EXCLUDED.year_built,
	stories_total = EXCLUDED.stories_total,
	garage_spaces = EXCLUDED.garage_spaces,
	fireplaces_total = EXCLUDED.fireplaces_total,
	pool_private_yn = EXCLUDED.pool_private_yn,
	waterfront_yn = EXCLUDED.waterfront_yn,
	new_construction_yn = EXCLUDED.new_construction_yn,
	unparsed_address = EXCLUDED.unparsed_address,
	city = EXCLUDED.city,
	state_or_province = EXCLUDED.state_or_province,
	postal_code = EXCLUDED.postal_code,
	county_or_parish = EXCLUDED.county_or_parish,
	subdivision_name = EXCLUDED.subdivision_name,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	geo_point = EXCLUDED.geo_point,
	list_agent_key = EXCLUDED.list_agent_key,
	list_agent_mls_id = EXCLUDED.list_agent_mls_id,
	list_office_key = EXCLUDED.list_office_key,
	list_office_mls_id = EXCLUDED.list_office_mls_id,
	buyer_agent_key = EXCLUDED.buyer_agent_key,
	buyer_office_key = EXCLUDED.buyer_office_key,
	public_remarks = EXCLUDED.public_remarks,
	private_remarks = EXCLUDED.private_remarks,
	elementary_school = EXCLUDED.elementary_school,
	middle_or_junior_school = EXCLUDED.middle_or_junior_school,
	high_school = EXCLUDED.high_school,
	high_school_district = EXCLUDED.high_school_district,
	tax_annual_amount = EXCLUDED.tax_annual_amount,
	tax_year = EXCLUDED.tax_year,
	parcel_number = EXCLUDED.parcel_number,
	buyer_agency_compensation = EXCLUDED.buyer_agency_compensation,
	buyer_agency_compensation_type = EXCLUDED.buyer_agency_compensation_type,
	can_view = EXCLUDED.can_view,
	use_cases = EXCLUDED.use_cases,
	photos_count = EXCLUDED.photos_count,
	modification_ts = EXCLUDED.modification_ts,
	originating_mod_ts = EXCLUDED.originating_mod_ts,
	photos_change_ts = EXCLUDED.photos_change_ts,
	major_change_ts = EXCLUDED.major_change_ts,
	original_entry_ts = EXCLUDED.original_entry_ts,
	local_fields = EXCLUDED.local_fields,
	deleted_at = EXCLUDED.deleted_at,
	updated_at = now()
RETURNING (xmax = 0)`

// UpsertListing writes the listing, replaces its Rooms and UnitTypes sets,
// and upserts the raw archive, all in one transaction. Returns whether the
// listing row was newly inserted. created_at is never overwritten.
func (db *DB) UpsertListing(ctx context.Context, l *models.Listing, rooms []models.Room, units []models.UnitType, rawArchive []byte) (inserted bool, err error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin listing upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx, upsertListingSQL, listingArgs(l)...).Scan(&inserted); err != nil {
		return false, fmt.Errorf("upsert listing %s: %w", l.ListingKey, err)
	}

	// Children are owned wholly by the listing: replace the full sets.
	if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE listing_key = $1`, l.ListingKey); err != nil {
		return false, fmt.Errorf("clear rooms of %s: %w", l.ListingKey, err)
	}
	for _, r := range rooms {
		_, err := tx.Exec(ctx, `INSERT INTO rooms
			(room_key, listing_key, room_type, room_level, room_dimensions, room_area, room_features)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			r.RoomKey, r.ListingKey, r.RoomType, r.RoomLevel, r.RoomDimensions, r.RoomArea, r.RoomFeatures)
		if err != nil {
			return false, fmt.Errorf("insert room %s: %w", r.RoomKey, err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM unit_types WHERE listing_key = $1`, l.ListingKey); err != nil {
		return false, fmt.Errorf("clear unit types of %s: %w", l.ListingKey, err)
	}
	for _, u := range units {
		_, err := tx.Exec(ctx, `INSERT INTO unit_types
			(unit_type_key, listing_key, unit_type_type, units_total, beds_total, baths_total,
			 actual_rent, unit_type_pro_forma, garage_spaces, garage_attached_yn,
			 square_feet_total, furnished_yn, monthly_rent_total, security_deposit_yn)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			u.UnitTypeKey, u.ListingKey, u.UnitTypeType, u.UnitsTotal, u.BedsTotal, u.BathsTotal,
			u.ActualRent, u.UnitTypeProForma, u.GarageSpaces, u.GarageAttachedYN,
			u.SquareFeetTotal, u.FurnishedYN, u.MonthlyRentTotal, u.SecurityDepositYN)
		if err != nil {
			return false, fmt.Errorf("insert unit type %s: %w", u.UnitTypeKey, err)
		}
	}

	if rawArchive != nil {
		_, err := tx.Exec(ctx, `INSERT INTO raw_responses (listing_key, payload, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (listing_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
			l.ListingKey, rawArchive)
		if err != nil {
			return false, fmt.Errorf("archive raw response of %s: %w", l.ListingKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit listing upsert: %w", err)
	}
	return inserted, nil
}

// GetListing loads one listing by vendor key, or nil when absent.
func (db *DB) GetListing(ctx context.Context, listingKey string) (*models.Listing, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+listingColumns+`,
		ST_AsEWKT(geo_point), created_at, updated_at
		FROM listings WHERE listing_key = $1`, listingKey)

	var l models.Listing
	err := row.Scan(
		&l.ListingKey, &l.ListingID, &l.ListingIDDisplay, &l.OriginatingSystemName,
		&l.ListPrice, &l.OriginalListPrice, &l.PreviousListPrice, &l.ClosePrice,
		&l.StandardStatus, &l.MlsStatus, &l.MajorChangeType,
		&l.PropertyType, &l.PropertySubType, &l.BedroomsTotal, &l.BathroomsTotalInteger,
		&l.BathroomsFull, &l.BathroomsHalf, &l.LivingArea, &l.LotSizeAcres,
		&l.LotSizeSquareFeet, &l.YearBuilt, &l.StoriesTotal, &l.GarageSpaces,
		&l.FireplacesTotal, &l.PoolPrivateYN, &l.WaterfrontYN, &l.NewConstructionYN,
		&l.UnparsedAddress, &l.City, &l.StateOrProvince, &l.PostalCode, &l.CountyOrParish,
		&l.SubdivisionName, &l.Latitude, &l.Longitude,
		&l.ListAgentKey, &l.ListAgentMlsID, &l.ListOfficeKey, &l.ListOfficeMlsID,
		&l.BuyerAgentKey, &l.BuyerOfficeKey,
		&l.PublicRemarks, &l.PrivateRemarks,
		&l.ElementarySchool, &l.MiddleOrJuniorSchool, &l.HighSchool, &l.HighSchoolDistrict,
		&l.TaxAnnualAmount, &l.TaxYear, &l.ParcelNumber,
		&l.BuyerAgencyCompensation, &l.BuyerAgencyCompensationType,
		&l.CanView, &l.UseCases, &l.PhotosCount,
		&l.ModificationTs, &l.OriginatingModTs, &l.PhotosChangeTs, &l.MajorChangeTs,
		&l.OriginalEntryTs, &l.LocalFields, &l.DeletedAt,
		&l.GeoPoint, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load listing %s: %w", listingKey, err)
	}
	return &l, nil
}

// SoftHideListing marks a listing hidden without touching its data or
// media. Rows and stored objects survive so a later visibility flip can
// resurrect the listing without re-downloading anything.
func (db *DB) SoftHideListing(ctx context.Context, listingKey string, at time.Time) error {
	_, err := db.pool.Exec(ctx, `UPDATE listings
		SET can_view = false, deleted_at = $2, updated_at = now()
		WHERE listing_key = $1 AND deleted_at IS NULL`, listingKey, at)
	if err != nil {
		return fmt.Errorf("soft-hide listing %s: %w", listingKey, err)
	}
	return nil
}

// PurgeableListings returns the keys of soft-deleted listings older than
// cutoff, due for hard deletion.
func (db *DB) PurgeableListings(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT listing_key FROM listings
		WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list purgeable listings: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan purgeable key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// PurgeListing hard-deletes one listing and every row it owns: children,
// media metadata, raw archive, and history. Object-store cleanup is the
// caller's responsibility (it needs the media object keys first).
func (db *DB) PurgeListing(ctx context.Context, listingKey string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range []string{
		`DELETE FROM rooms WHERE listing_key = $1`,
		`DELETE FROM unit_types WHERE listing_key = $1`,
		`DELETE FROM media WHERE resource = 'Property' AND parent_key = $1`,
		`DELETE FROM raw_responses WHERE listing_key = $1`,
		`DELETE FROM price_history WHERE listing_key = $1`,
		`DELETE FROM status_history WHERE listing_key = $1`,
		`DELETE FROM change_log WHERE listing_key = $1`,
		`DELETE FROM listings WHERE listing_key = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, listingKey); err != nil {
			return fmt.Errorf("purge listing %s: %w", listingKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	logging.Debug().Str("listing_key", listingKey).Msg("Hard-deleted purged listing")
	return nil
}

// RefreshListingViews refreshes the listing materialized views after a
// cycle. Best-effort: the caller ignores errors (a missing view in a
// fresh environment must not fail replication).
func (db *DB) RefreshListingViews(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY listing_summary`)
	if err != nil {
		return fmt.Errorf("refresh listing_summary: %w", err)
	}
	return nil
}
