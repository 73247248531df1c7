// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package config loads and validates the worker configuration from layered
// sources (defaults, optional YAML file, environment variables) via Koanf v2.
// Validation is strict and runs once at startup; a bad configuration is a
// fatal startup error, never a runtime surprise.
package config

import (
	"time"
)

// Config is the root configuration for the worker.
type Config struct {
	Feed        FeedConfig        `koanf:"feed"`
	Database    DatabaseConfig    `koanf:"database"`
	ObjectStore ObjectStoreConfig `koanf:"object_store"`
	Media       MediaConfig       `koanf:"media"`
	RateLimit   RateLimitConfig   `koanf:"rate_limit"`
	Replication ReplicationConfig `koanf:"replication"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// FeedConfig describes the remote OData listing feed.
type FeedConfig struct {
	// BaseURL is the feed root, e.g. https://api.mlsgrid.com/v2
	BaseURL string `koanf:"base_url" validate:"required,url"`
	// Token is the bearer credential; the CDN validates the same token.
	Token string `koanf:"token" validate:"required"`
	// OriginatingSystem is the vendor system name every $filter pins,
	// e.g. "nwmls".
	OriginatingSystem string `koanf:"originating_system" validate:"required"`
}

// DatabaseConfig describes the PostgreSQL connection.
type DatabaseConfig struct {
	// URL is a pgx-compatible connection string.
	URL      string `koanf:"url" validate:"required"`
	PoolSize int    `koanf:"pool_size" validate:"gte=1,lte=100"`
}

// ObjectStoreConfig describes the S3-compatible media bucket.
type ObjectStoreConfig struct {
	Endpoint  string `koanf:"endpoint" validate:"required"`
	AccessKey string `koanf:"access_key" validate:"required"`
	SecretKey string `koanf:"secret_key" validate:"required"`
	Bucket    string `koanf:"bucket" validate:"required"`
	UseSSL    bool   `koanf:"use_ssl"`
	// PublicDomain forms public media URLs: https://{PublicDomain}/{key}
	PublicDomain string `koanf:"public_domain" validate:"required,hostname|hostname_port"`
}

// MediaConfig tunes the media download subsystem.
type MediaConfig struct {
	// Concurrency is the background downloader's in-flight cap.
	Concurrency int `koanf:"concurrency" validate:"gte=1,lte=64"`
	// InlineConcurrency bounds per-record inline downloads in the pipeline.
	InlineConcurrency int `koanf:"inline_concurrency" validate:"gte=1,lte=16"`
	// DispatchStagger spaces background dispatches to avoid ignition bursts.
	DispatchStagger time.Duration `koanf:"dispatch_stagger"`
	// MaxRetries before a pending download is marked failed.
	MaxRetries int `koanf:"max_retries" validate:"gte=1,lte=10"`
	// RecoveryInterval between expired/failed recovery sweeps.
	RecoveryInterval time.Duration `koanf:"recovery_interval"`
}

// RateLimitConfig tunes the shared two-dimension limiter. API count caps are
// fixed by the vendor contract; only the media byte caps are configurable.
type RateLimitConfig struct {
	// MediaBandwidthSoftCapGiB pauses downloads for 10s when exceeded.
	MediaBandwidthSoftCapGiB float64 `koanf:"media_bandwidth_soft_cap_gib" validate:"gt=0"`
	// MediaBandwidthHardCapGiB blocks admissions until the rolling hour frees.
	MediaBandwidthHardCapGiB float64 `koanf:"media_bandwidth_hard_cap_gib" validate:"gt=0"`
}

// ReplicationConfig holds the per-resource loop cadences.
type ReplicationConfig struct {
	PropertyCadence  time.Duration `koanf:"property_cadence"`
	MemberCadence    time.Duration `koanf:"member_cadence"`
	OfficeCadence    time.Duration `koanf:"office_cadence"`
	OpenHouseCadence time.Duration `koanf:"open_house_cadence"`
	LookupCadence    time.Duration `koanf:"lookup_cadence"`
	// PurgeAfter is how long a soft-deleted listing survives before the
	// daily cleanup hard-deletes it and everything it owns.
	PurgeAfter time.Duration `koanf:"purge_after"`
	// ShutdownGrace bounds the wait for running cycles on shutdown.
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`
}

// ServerConfig describes the health/dashboard HTTP surface.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"gte=1,lte=65535"`
}

// LoggingConfig mirrors logging.Config for koanf loading.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. These are
// overridden by the config file and then the environment.
func defaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{},
		Database: DatabaseConfig{
			PoolSize: 10,
		},
		ObjectStore: ObjectStoreConfig{
			UseSSL: true,
		},
		Media: MediaConfig{
			Concurrency:       15,
			InlineConcurrency: 4,
			DispatchStagger:   200 * time.Millisecond,
			MaxRetries:        5,
			RecoveryInterval:  time.Hour,
		},
		RateLimit: RateLimitConfig{
			MediaBandwidthSoftCapGiB: 3.5,
			MediaBandwidthHardCapGiB: 4.0,
		},
		Replication: ReplicationConfig{
			PropertyCadence:  60 * time.Second,
			MemberCadence:    300 * time.Second,
			OfficeCadence:    300 * time.Second,
			OpenHouseCadence: 300 * time.Second,
			LookupCadence:    24 * time.Hour,
			PurgeAfter:       30 * 24 * time.Hour,
			ShutdownGrace:    60 * time.Second,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8731,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Cadence returns the configured loop cadence for a resource name. Unknown
// resources fall back to the member cadence.
func (r ReplicationConfig) Cadence(resource string) time.Duration {
	switch resource {
	case "Property":
		return r.PropertyCadence
	case "Member":
		return r.MemberCadence
	case "Office":
		return r.OfficeCadence
	case "OpenHouse":
		return r.OpenHouseCadence
	case "Lookup":
		return r.LookupCadence
	}
	return r.MemberCadence
}
