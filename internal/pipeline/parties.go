// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package pipeline

import (
	"context"

	"github.com/tomtom215/listmirror/internal/mapper"
	"github.com/tomtom215/listmirror/internal/models"
)

// ProcessMember applies one Member record: same shape as a listing
// minus children, raw archive, and history.
func (p *Processor) ProcessMember(ctx context.Context, raw []byte, flags Flags) (*Stats, error) {
	m, err := mapper.MapMember(raw)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Hwm: m.ModificationTs}

	if !m.CanView {
		existing, err := p.store.GetMember(ctx, m.MemberKey)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return stats, nil
		}
		if err := p.store.SoftHideMember(ctx, m.MemberKey, p.now().UTC()); err != nil {
			return nil, err
		}
		stats.Deleted = 1
		return stats, nil
	}

	existing, err := p.store.GetMember(ctx, m.MemberKey)
	if err != nil {
		return nil, err
	}

	inserted, err := p.store.UpsertMember(ctx, m)
	if err != nil {
		return nil, err
	}
	if inserted {
		stats.Inserted = 1
	} else {
		stats.Updated = 1
	}

	if memberPhotosChanged(existing, m) {
		incoming, err := mapper.MapMedia(models.ResourceMember, m.MemberKey, "", raw)
		if err != nil {
			return nil, err
		}
		if len(incoming) > 0 {
			if err := p.refreshMedia(ctx, models.ResourceMember, m.MemberKey, "", incoming, flags, stats); err != nil {
				return nil, err
			}
		}
	}
	return stats, nil
}

// ProcessOffice applies one Office record.
func (p *Processor) ProcessOffice(ctx context.Context, raw []byte, flags Flags) (*Stats, error) {
	o, err := mapper.MapOffice(raw)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Hwm: o.ModificationTs}

	if !o.CanView {
		existing, err := p.store.GetOffice(ctx, o.OfficeKey)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return stats, nil
		}
		if err := p.store.SoftHideOffice(ctx, o.OfficeKey, p.now().UTC()); err != nil {
			return nil, err
		}
		stats.Deleted = 1
		return stats, nil
	}

	existing, err := p.store.GetOffice(ctx, o.OfficeKey)
	if err != nil {
		return nil, err
	}

	inserted, err := p.store.UpsertOffice(ctx, o)
	if err != nil {
		return nil, err
	}
	if inserted {
		stats.Inserted = 1
	} else {
		stats.Updated = 1
	}

	if officePhotosChanged(existing, o) {
		incoming, err := mapper.MapMedia(models.ResourceOffice, o.OfficeKey, "", raw)
		if err != nil {
			return nil, err
		}
		if len(incoming) > 0 {
			if err := p.refreshMedia(ctx, models.ResourceOffice, o.OfficeKey, "", incoming, flags, stats); err != nil {
				return nil, err
			}
		}
	}
	return stats, nil
}

// ProcessOpenHouse applies one OpenHouse record. Open houses are
// ephemeral events: a hidden record is hard-deleted, never soft-hidden.
func (p *Processor) ProcessOpenHouse(ctx context.Context, raw []byte, _ Flags) (*Stats, error) {
	oh, err := mapper.MapOpenHouse(raw)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Hwm: oh.ModificationTs}

	if !oh.CanView {
		if err := p.store.DeleteOpenHouse(ctx, oh.OpenHouseKey); err != nil {
			return nil, err
		}
		stats.Deleted = 1
		return stats, nil
	}

	inserted, err := p.store.UpsertOpenHouse(ctx, oh)
	if err != nil {
		return nil, err
	}
	if inserted {
		stats.Inserted = 1
	} else {
		stats.Updated = 1
	}
	return stats, nil
}

// ProcessLookup applies one Lookup record, a plain upsert.
func (p *Processor) ProcessLookup(ctx context.Context, raw []byte, _ Flags) (*Stats, error) {
	l, err := mapper.MapLookup(raw)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Hwm: l.ModificationTs}

	inserted, err := p.store.UpsertLookup(ctx, l)
	if err != nil {
		return nil, err
	}
	if inserted {
		stats.Inserted = 1
	} else {
		stats.Updated = 1
	}
	return stats, nil
}

func memberPhotosChanged(old, incoming *models.Member) bool {
	if old == nil {
		return true
	}
	return !timePtrEqual(old.PhotosChangeTs, incoming.PhotosChangeTs)
}

func officePhotosChanged(old, incoming *models.Office) bool {
	if old == nil {
		return true
	}
	return !timePtrEqual(old.PhotosChangeTs, incoming.PhotosChangeTs)
}
