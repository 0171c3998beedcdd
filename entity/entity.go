// Package entity defines the cached unit of provider data and its
// SQLite-backed store.
//
// An Entity is one slice of provider data plus range and validity metadata.
// Its tags carry the logical cache key (e.g. ticker=AAPL) together with a
// from/to pair describing the half-open range the payload covers. Several
// entities may exist for the same logical key before stitching collapses
// their coverage.
package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/veyra/stitchd/errors"
)

// State describes the lifecycle of an Entity's payload.
type State string

const (
	StateReady   State = "ready"
	StatePending State = "pending"
	StateError   State = "error"
)

// Entity is one cached unit of provider data.
// ID is opaque and never changes; data, etag, state, last_error and
// updated_at mutate in place when stitching extends coverage.
type Entity struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Tags         []string  `json:"tags"`
	Data         string    `json:"data"`
	ETag         string    `json:"etag"`
	FetchedAt    time.Time `json:"fetched_at"`
	RefreshAfter time.Time `json:"refresh_after"`
	State        State     `json:"state"`
	LastError    string    `json:"last_error"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewID derives the immutable entity id from source, logical key and range.
func NewID(source, key string, r Range) string {
	return fmt.Sprintf("%s:%s:%s..%s",
		source, key, r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
}

// BuildTags assembles the tag list for a keyed range: the key tags in
// sorted order followed by from= and to=.
func BuildTags(keyTags map[string]string, r Range) []string {
	keys := make([]string, 0, len(keyTags))
	for k := range keyTags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tags := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		tags = append(tags, k+"="+keyTags[k])
	}
	tags = append(tags,
		"from="+r.From.Format(time.RFC3339),
		"to="+r.To.Format(time.RFC3339),
	)
	return tags
}

// CoveredRange parses the from/to tags into the range this entity covers.
func (e *Entity) CoveredRange() (Range, error) {
	var from, to string
	for _, tag := range e.Tags {
		k, v, ok := strings.Cut(tag, "=")
		if !ok {
			continue
		}
		switch k {
		case "from":
			from = v
		case "to":
			to = v
		}
	}
	if from == "" || to == "" {
		return Range{}, errors.Newf("entity %s tags missing from/to", e.ID)
	}
	return ParseRange(from, to)
}

// KeyTags returns the tags identifying the logical key, i.e. everything
// except the from/to range markers.
func (e *Entity) KeyTags() map[string]string {
	out := make(map[string]string)
	for _, tag := range e.Tags {
		k, v, ok := strings.Cut(tag, "=")
		if !ok || k == "from" || k == "to" {
			continue
		}
		out[k] = v
	}
	return out
}

// LogicalKey renders the key tags canonically (sorted, comma-joined).
// (source, LogicalKey) determines the logical cache key.
func LogicalKey(keyTags map[string]string) string {
	keys := make([]string, 0, len(keyTags))
	for k := range keyTags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+keyTags[k])
	}
	return strings.Join(parts, ",")
}

// MakeETag computes a stable validator for a payload.
func MakeETag(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:8])
}

// Record is one row of an entity's payload. Payloads are JSON arrays of
// records ordered by timestamp.
type Record map[string]interface{}

// Timestamp extracts the record's time field, accepting RFC3339 strings
// and epoch-second numbers.
func (r Record) Timestamp() (time.Time, bool) {
	v, ok := r["timestamp"]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	case float64:
		return time.Unix(int64(t), 0).UTC(), true
	case int64:
		return time.Unix(t, 0).UTC(), true
	case json.Number:
		sec, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(sec, 0).UTC(), true
	}
	return time.Time{}, false
}

// Canonical renders the record as deterministic JSON (sorted keys).
// Used as the default dedup key: full-record equality.
func (r Record) Canonical() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%v", map[string]interface{}(r))
	}
	return string(b)
}

// DecodeRecords parses an entity payload into records.
func DecodeRecords(data string) ([]Record, error) {
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, errors.Wrap(err, "decode payload records")
	}
	return records, nil
}

// EncodeRecords renders records back to an entity payload.
func EncodeRecords(records []Record) (string, error) {
	if records == nil {
		records = []Record{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return "", errors.Wrap(err, "encode payload records")
	}
	return string(b), nil
}
