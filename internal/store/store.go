// Package store implements the durable shared area the extension flushes
// into and the host consumer reads from. Every backend is safe to use from
// more than one process: each call reads current state before writing and
// keeps nothing cached between calls.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrStoreUnavailable means the backing store could not be reached.
	ErrStoreUnavailable = errors.New("shared store unavailable")
	// ErrSerialization means a record could not be encoded or decoded.
	ErrSerialization = errors.New("serialization failure")
	// ErrInvalidKey means a key is empty or contains characters outside [a-z0-9_].
	ErrInvalidKey = errors.New("invalid store key")
	// ErrInvalidCap means a non-positive cap was passed to an append.
	ErrInvalidCap = errors.New("cap must be positive")
)

// MetadataKey is the logical name of the metadata record.
const MetadataKey = "storage_metadata"

var keyRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidateKey reports whether key is usable as a store key.
func ValidateKey(key string) error {
	if !keyRe.MatchString(key) || key == MetadataKey {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Item is one stored record. Seq increases monotonically per store and is
// never reused, including across Clear.
type Item struct {
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Metadata is the single record describing the last successful sync.
type Metadata struct {
	LastSyncAt    time.Time      `json:"last_sync_at"`
	Counts        map[string]int `json:"counts"`
	SchemaVersion int            `json:"schema_version"`
	ClearedAt     *time.Time     `json:"cleared_at,omitempty"`
}

// Total returns the sum of all counts.
func (m *Metadata) Total() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, c := range m.Counts {
		n += c
	}
	return n
}

// SharedStore is a durable, process-independent list-per-key area plus one
// metadata record.
type SharedStore interface {
	// AppendCapped appends items to key and trims the oldest entries so at
	// most cap remain. Returns the number of items stored under key.
	AppendCapped(ctx context.Context, key string, items []json.RawMessage, cap int) (int, error)
	// Read returns every item under key, oldest first.
	Read(ctx context.Context, key string) ([]Item, error)
	// Count returns the number of items under key.
	Count(ctx context.Context, key string) (int, error)
	// Clear removes every item under key. Clearing an empty key is a no-op.
	Clear(ctx context.Context, key string) error
	// Discard removes items under key with Seq <= throughSeq and returns how
	// many were removed.
	Discard(ctx context.Context, key string, throughSeq int64) (int, error)
	// WriteMetadata overwrites the metadata record.
	WriteMetadata(ctx context.Context, m *Metadata) error
	// ReadMetadata returns the metadata record, or nil if none was written.
	ReadMetadata(ctx context.Context) (*Metadata, error)
	// RecountMetadata reads the metadata record and the item count of each
	// key, then writes what update returns, all under one lock or
	// transaction so a concurrent append cannot slip in between. prev is
	// nil when no record exists. A nil result leaves the record untouched.
	RecountMetadata(ctx context.Context, keys []string, update RecountFunc) error
	Close() error
}

// RecountFunc builds the metadata record to store from the previous record
// and the current count of each key.
type RecountFunc func(prev *Metadata, counts map[string]int) *Metadata

// Committer is implemented by stores that can apply several appends and the
// metadata write as one transaction. Commit appends each batch (capped),
// then sets meta.Counts for every key in batches or already in meta.Counts
// to the stored length, and writes meta. Nothing is applied on error.
type Committer interface {
	Commit(ctx context.Context, batches map[string][]json.RawMessage, cap int, meta *Metadata) error
}

func validateAppend(key string, items []json.RawMessage, cap int) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if cap < 1 {
		return ErrInvalidCap
	}
	for i, it := range items {
		if !json.Valid(it) {
			return fmt.Errorf("%w: item %d under %s is not valid JSON", ErrSerialization, i, key)
		}
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
