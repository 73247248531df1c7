// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package objectstore wraps the S3-compatible bucket that holds downloaded
// listing media. Object keys are deterministic functions of the record
// identity, so re-mapping the same feed record always addresses the same
// object and overwrites are idempotent.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tomtom215/listmirror/internal/config"
	"github.com/tomtom215/listmirror/internal/logging"
)

// Client is the bucket handle shared by the pipeline, the media worker, and
// the cleanup job.
type Client struct {
	mc           *minio.Client
	bucket       string
	publicDomain string
}

// New connects to the object store and verifies the bucket exists. The bucket
// is provisioned out of band; a missing bucket is a startup error, not
// something the worker creates on the fly.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}

	ok, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("object store bucket check: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("object store bucket %q does not exist", cfg.Bucket)
	}

	logging.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Msg("Object store connected")

	return &Client{
		mc:           mc,
		bucket:       cfg.Bucket,
		publicDomain: cfg.PublicDomain,
	}, nil
}

// Put stores one media object under key with the given content type.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Remove deletes one object. Removing a missing object is not an error.
func (c *Client) Remove(ctx context.Context, key string) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// RemoveBatch deletes many objects in one server round trip. Individual
// failures are logged and folded into a single error.
func (c *Client) RemoveBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	objects := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		objects <- minio.ObjectInfo{Key: k}
	}
	close(objects)

	var failed int
	for rerr := range c.mc.RemoveObjects(ctx, c.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			failed++
			logging.Warn().
				Str("key", rerr.ObjectName).
				Err(rerr.Err).
				Msg("Batch remove failed for object")
		}
	}
	if failed > 0 {
		return fmt.Errorf("batch remove: %d of %d objects failed", failed, len(keys))
	}
	return nil
}

// RemovePrefix deletes every object under prefix. Used when a soft-deleted
// listing is purged and all of its media goes with it.
func (c *Client) RemovePrefix(ctx context.Context, prefix string) error {
	var keys []string
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return c.RemoveBatch(ctx, keys)
}

// Stat reports whether key exists and its stored size. A zero-byte or
// missing object both report ok=false; the media tables treat an empty
// object as not downloaded.
func (c *Client) Stat(ctx context.Context, key string) (size int64, ok bool, err error) {
	info, err := c.mc.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == minio.NoSuchKey {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Size, info.Size > 0, nil
}

// PublicURL returns the stable serving URL for an object key.
func (c *Client) PublicURL(key string) string {
	return "https://" + c.publicDomain + "/" + key
}

// Key builds the deterministic object key for one media item:
// {resource}/{parentKey}/{mediaKey}.{ext}. The extension comes from the
// feed-reported content type; feed media is overwhelmingly JPEG, which is
// also the fallback for unknown types.
func Key(resource, parentKey, mediaKey, contentType string) string {
	return strings.ToLower(resource) + "/" + parentKey + "/" + mediaKey + "." + extFor(contentType)
}

// ParentPrefix is the key prefix owning all media of one record, for
// prefix deletes.
func ParentPrefix(resource, parentKey string) string {
	return strings.ToLower(resource) + "/" + parentKey + "/"
}

func extFor(contentType string) string {
	// Strip any parameters ("image/jpeg; charset=binary").
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(strings.ToLower(contentType)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "application/pdf":
		return "pdf"
	case "video/mp4":
		return "mp4"
	default:
		return "jpg"
	}
}
