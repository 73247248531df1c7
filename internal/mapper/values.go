// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

package mapper

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// record is a decoded feed record: JSON object keys to raw values. Keeping
// values raw preserves decimal precision (a float64 round trip would not).
type record map[string]json.RawMessage

func decodeRecord(raw []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// strPtr returns the value as a string pointer. JSON strings decode
// directly; JSON numbers keep their literal form, which is how money and
// measurement decimals survive without precision loss.
func (r record) strPtr(key string) *string {
	raw, ok := r[key]
	if !ok || isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		s = n.String()
		return &s
	}
	return nil
}

func (r record) str(key string) string {
	if p := r.strPtr(key); p != nil {
		return *p
	}
	return ""
}

func (r record) intPtr(key string) *int {
	raw, ok := r[key]
	if !ok || isNull(raw) {
		return nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		// Some vendors send integers as "3.0".
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil
		}
		n = int(f)
	}
	return &n
}

func (r record) floatPtr(key string) *float64 {
	raw, ok := r[key]
	if !ok || isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}

func (r record) boolPtr(key string) *bool {
	raw, ok := r[key]
	if !ok || isNull(raw) {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	return &b
}

func (r record) boolVal(key string) bool {
	if p := r.boolPtr(key); p != nil {
		return *p
	}
	return false
}

func (r record) strSlice(key string) []string {
	raw, ok := r[key]
	if !ok || isNull(raw) {
		return nil
	}
	var s []string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return s
}

// timePtr parses an ISO-8601 timestamp. Absent, null, or malformed values
// all yield nil; the caller decides which fields make malformation fatal.
func (r record) timePtr(key string) *time.Time {
	raw, ok := r[key]
	if !ok || isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Date-only fields (OpenHouseDate) carry no time component.
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	t = t.UTC()
	return &t
}

// anyVal decodes the raw value into a generic Go value for the localFields
// side bag.
func anyVal(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
