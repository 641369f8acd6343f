// Package gateway is the host-facing side of the shared store: pull pending
// events, peek at metadata, and clear or acknowledge what has been consumed.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
	"github.com/jwgray1010/Unsaid-sub003/internal/store"
	"go.uber.org/zap"
)

// Cursor maps each store key to the highest Seq returned by a pull.
type Cursor map[string]int64

// PendingData is everything currently in the shared store.
type PendingData struct {
	storage.Batch
	Metadata *store.Metadata `json:"metadata"`
	Cursor   Cursor          `json:"cursor"`
	// Skipped counts stored records that could not be decoded. They are
	// covered by Cursor so an acknowledge removes them too.
	Skipped int `json:"skipped"`
}

// Empty reports whether the pull returned no events.
func (p *PendingData) Empty() bool {
	return p.Batch.Len() == 0
}

// Gateway reads and clears the shared store on behalf of the host process.
// It holds no state between calls.
type Gateway struct {
	store  store.SharedStore
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Gateway over st.
func New(st store.SharedStore, logger *zap.Logger) *Gateway {
	return &Gateway{store: st, logger: logger, now: time.Now}
}

// PullAll reads every category without clearing anything.
func (g *Gateway) PullAll(ctx context.Context) (*PendingData, error) {
	meta, err := g.store.ReadMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("PullAll: %w", err)
	}

	out := &PendingData{
		Metadata: meta,
		Cursor:   make(Cursor, len(storage.Categories())),
	}
	for _, cat := range storage.Categories() {
		items, err := g.store.Read(ctx, cat.Key())
		if err != nil {
			return nil, fmt.Errorf("PullAll: %w", err)
		}
		for _, it := range items {
			if it.Seq > out.Cursor[cat.Key()] {
				out.Cursor[cat.Key()] = it.Seq
			}
			e, err := storage.Decode(cat, it.Payload)
			if err != nil {
				out.Skipped++
				g.logger.Warn("skipping undecodable record",
					zap.String("key", cat.Key()),
					zap.Int64("seq", it.Seq),
					zap.Error(err),
				)
				continue
			}
			out.Add(e)
		}
	}
	return out, nil
}

// ReadMetadata returns the metadata record without reading any payloads, or
// nil if nothing has been flushed or cleared yet.
func (g *Gateway) ReadMetadata(ctx context.Context) (*store.Metadata, error) {
	meta, err := g.store.ReadMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadMetadata: %w", err)
	}
	return meta, nil
}

// ClearAll removes every category and writes a fresh metadata record with
// ClearedAt set. The counts are taken together with that write, so events a
// producer flushes right after the clear stay visible. Clearing an empty
// store succeeds.
func (g *Gateway) ClearAll(ctx context.Context) (bool, error) {
	for _, cat := range storage.Categories() {
		if err := g.store.Clear(ctx, cat.Key()); err != nil {
			return false, fmt.Errorf("ClearAll: %w", err)
		}
	}

	now := g.now().UTC()
	err := g.store.RecountMetadata(ctx, categoryKeys(), func(prev *store.Metadata, counts map[string]int) *store.Metadata {
		meta := &store.Metadata{
			Counts:        counts,
			SchemaVersion: storage.SchemaVersion,
			ClearedAt:     &now,
		}
		if prev != nil {
			meta.LastSyncAt = prev.LastSyncAt
		}
		return meta
	})
	if err != nil {
		return false, fmt.Errorf("ClearAll: %w", err)
	}
	g.logger.Info("cleared pending data")
	return true, nil
}

// Ack removes items at or below the cursor for each key and refreshes
// the metadata counts. Items flushed after the pull that produced cur are
// kept. Returns the number removed per key.
func (g *Gateway) Ack(ctx context.Context, cur Cursor) (map[string]int, error) {
	for key := range cur {
		if _, ok := storage.CategoryForKey(key); !ok {
			return nil, fmt.Errorf("Ack %q: %w", key, storage.ErrUnknownCategory)
		}
	}

	removed := make(map[string]int, len(cur))
	for _, cat := range storage.Categories() {
		through, ok := cur[cat.Key()]
		if !ok || through <= 0 {
			continue
		}
		n, err := g.store.Discard(ctx, cat.Key(), through)
		if err != nil {
			return nil, fmt.Errorf("Ack: %w", err)
		}
		removed[cat.Key()] = n
	}

	if err := g.refreshCounts(ctx); err != nil {
		return nil, fmt.Errorf("Ack: %w", err)
	}
	g.logger.Debug("acknowledged pending data", zap.Any("removed", removed))
	return removed, nil
}

// refreshCounts rewrites the metadata counts from the store, keeping the
// other fields. Nothing is written to a store that has never been flushed.
func (g *Gateway) refreshCounts(ctx context.Context) error {
	return g.store.RecountMetadata(ctx, categoryKeys(), func(prev *store.Metadata, counts map[string]int) *store.Metadata {
		if prev == nil {
			return nil
		}
		prev.Counts = counts
		return prev
	})
}

func categoryKeys() []string {
	keys := make([]string, 0, len(storage.Categories()))
	for _, cat := range storage.Categories() {
		keys = append(keys, cat.Key())
	}
	return keys
}
