// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package config

import (
	"strings"
	"testing"
	"time"
)

// validConfig returns a fully populated configuration that passes validation.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Feed.BaseURL = "https://api.example.test/v2"
	cfg.Feed.Token = "test-token"
	cfg.Feed.OriginatingSystem = "nwmls"
	cfg.Database.URL = "postgres://worker:pw@localhost:5432/listmirror"
	cfg.ObjectStore.Endpoint = "s3.example.test"
	cfg.ObjectStore.AccessKey = "ak"
	cfg.ObjectStore.SecretKey = "sk"
	cfg.ObjectStore.Bucket = "listing-media"
	cfg.ObjectStore.PublicDomain = "media.example.test"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing feed base url", func(c *Config) { c.Feed.BaseURL = "" }},
		{"missing feed token", func(c *Config) { c.Feed.Token = "" }},
		{"missing originating system", func(c *Config) { c.Feed.OriginatingSystem = "" }},
		{"missing database url", func(c *Config) { c.Database.URL = "" }},
		{"missing bucket", func(c *Config) { c.ObjectStore.Bucket = "" }},
		{"missing public domain", func(c *Config) { c.ObjectStore.PublicDomain = "" }},
		{"pool size zero", func(c *Config) { c.Database.PoolSize = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	t.Run("soft cap above hard cap", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit.MediaBandwidthSoftCapGiB = 5.0
		cfg.RateLimit.MediaBandwidthHardCapGiB = 4.0
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "soft cap") {
			t.Errorf("Validate() = %v, want soft cap error", err)
		}
	})

	t.Run("cadence below minimum", func(t *testing.T) {
		cfg := validConfig()
		cfg.Replication.PropertyCadence = 5 * time.Second
		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate() = nil, want cadence error")
		}
	})

	t.Run("purge window below minimum", func(t *testing.T) {
		cfg := validConfig()
		cfg.Replication.PurgeAfter = time.Hour
		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate() = nil, want purge_after error")
		}
	})
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"LISTMIRROR_FEED_BASE_URL", "feed.base_url"},
		{"LISTMIRROR_FEED_ORIGINATING_SYSTEM", "feed.originating_system"},
		{"LISTMIRROR_DATABASE_POOL_SIZE", "database.pool_size"},
		{"LISTMIRROR_OBJECT_STORE_ACCESS_KEY", "object_store.access_key"},
		{"LISTMIRROR_RATE_LIMIT_MEDIA_BANDWIDTH_HARD_CAP_GIB", "rate_limit.media_bandwidth_hard_cap_gib"},
		{"LISTMIRROR_REPLICATION_OPEN_HOUSE_CADENCE", "replication.open_house_cadence"},
		{"LISTMIRROR_LOGGING_LEVEL", "logging.level"},
		{"LISTMIRROR_UNRELATED_THING", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := envTransform(tt.input); got != tt.want {
				t.Errorf("envTransform(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.PoolSize != 10 {
		t.Errorf("default pool size = %d, want 10", cfg.Database.PoolSize)
	}
	if cfg.Media.Concurrency != 15 {
		t.Errorf("default media concurrency = %d, want 15", cfg.Media.Concurrency)
	}
	if cfg.RateLimit.MediaBandwidthHardCapGiB != 4.0 {
		t.Errorf("default hard cap = %v, want 4.0", cfg.RateLimit.MediaBandwidthHardCapGiB)
	}
	if cfg.Replication.PropertyCadence != 60*time.Second {
		t.Errorf("default property cadence = %v, want 60s", cfg.Replication.PropertyCadence)
	}
	if cfg.Replication.LookupCadence != 24*time.Hour {
		t.Errorf("default lookup cadence = %v, want 24h", cfg.Replication.LookupCadence)
	}
	if got := cfg.Replication.Cadence("OpenHouse"); got != 300*time.Second {
		t.Errorf("Cadence(OpenHouse) = %v, want 300s", got)
	}
}
