// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance; struct tags carry the
// field-level rules.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags plus the cross-field rules the tags cannot
// express. It returns the first failure; startup treats any error as fatal.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("field %s failed rule %q (value %v)", f.Namespace(), f.Tag(), f.Value())
		}
		return err
	}

	if c.RateLimit.MediaBandwidthSoftCapGiB >= c.RateLimit.MediaBandwidthHardCapGiB {
		return fmt.Errorf("media bandwidth soft cap (%.2f GiB) must be below the hard cap (%.2f GiB)",
			c.RateLimit.MediaBandwidthSoftCapGiB, c.RateLimit.MediaBandwidthHardCapGiB)
	}

	for name, d := range map[string]time.Duration{
		"property_cadence":   c.Replication.PropertyCadence,
		"member_cadence":     c.Replication.MemberCadence,
		"office_cadence":     c.Replication.OfficeCadence,
		"open_house_cadence": c.Replication.OpenHouseCadence,
		"lookup_cadence":     c.Replication.LookupCadence,
	} {
		if d < 10*time.Second {
			return fmt.Errorf("replication.%s too low (%s): minimum 10s to protect the feed", name, d)
		}
	}

	if c.Replication.PurgeAfter < 24*time.Hour {
		return fmt.Errorf("replication.purge_after too low (%s): soft-deleted listings must survive at least 24h", c.Replication.PurgeAfter)
	}

	if c.Media.DispatchStagger < 0 {
		return fmt.Errorf("media.dispatch_stagger must not be negative")
	}

	return nil
}
