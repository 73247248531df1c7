// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package models

import "time"

// MediaStatus is the download lifecycle state of a media asset.
type MediaStatus string

// Media asset statuses. The pipeline creates rows as MediaPending; the media
// downloader owns the transitions to complete, failed, and expired.
const (
	MediaPending  MediaStatus = "pending_download"
	MediaComplete MediaStatus = "complete"
	MediaFailed   MediaStatus = "failed"
	MediaExpired  MediaStatus = "expired"
)

// Media is the metadata row for one media asset (photo, floor plan, virtual
// tour thumbnail) owned by a listing, member, or office.
//
// SourceURL is a signed CDN URL and is only valid for roughly eleven hours;
// it is stored purely so the downloader can fetch the bytes, never served.
//
// Invariant: Status == MediaComplete implies ObjectKey != "", PublicURL != ""
// and FileSizeBytes > 0.
type Media struct {
	MediaKey  string
	Resource  Resource
	ParentKey string
	// ParentListingID is the prefixed vendor listing id, kept so expired
	// URLs can be recovered with a single-record refetch.
	ParentListingID string

	SourceURL     string
	ObjectKey     string
	PublicURL     string
	Order         int
	Category      *string
	ContentType   string
	FileSizeBytes int64
	Status        MediaStatus
	RetryCount    int

	// MediaModTs is the vendor MediaModificationTimestamp; an unchanged
	// value means the bytes have not changed and no re-download is needed.
	MediaModTs *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Downloaded reports whether the row already holds a valid object-store
// entry, meaning the bytes are safe even if the source URL has expired.
func (m *Media) Downloaded() bool {
	return m.ObjectKey != "" && m.PublicURL != "" && m.FileSizeBytes > 0
}

// MediaDownload is one audit row appended by the media downloader after a
// successful download and upload.
type MediaDownload struct {
	ID           int64
	MediaKey     string
	ObjectKey    string
	Bytes        int64
	ElapsedMs    int64
	DownloadedAt time.Time
}
