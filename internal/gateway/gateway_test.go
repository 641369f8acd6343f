package gateway

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/coordinator"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
	"github.com/jwgray1010/Unsaid-sub003/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openStores(t *testing.T) map[string]store.SharedStore {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	sq, err := store.OpenSQLite(ctx, filepath.Join(dir, "shared.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	fs, err := store.OpenFile(filepath.Join(dir, "files"), zap.NewNop())
	require.NoError(t, err)

	return map[string]store.SharedStore{"sqlite": sq, "file": fs}
}

func appendEvents(t *testing.T, st store.SharedStore, events ...storage.Event) {
	t.Helper()
	ctx := context.Background()
	for _, e := range events {
		raw, err := storage.Encode(e)
		require.NoError(t, err)
		_, err = st.AppendCapped(ctx, e.Category().Key(), []json.RawMessage{raw}, 200)
		require.NoError(t, err)
	}
}

func toneEvent() storage.ToneEvent {
	return storage.NewToneEvent("you always ignore me", engine.Result{Label: engine.LabelAnxious, Confidence: 0.8}, time.Millisecond, "test")
}

func writeMeta(t *testing.T, st store.SharedStore, counts map[string]int) {
	t.Helper()
	require.NoError(t, st.WriteMetadata(context.Background(), &store.Metadata{
		LastSyncAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Counts:        counts,
		SchemaVersion: storage.SchemaVersion,
	}))
}

func TestPullAll(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := New(st, zap.NewNop())

			interaction := storage.NewInteractionEvent("hello there", storage.InteractionInput{Kind: storage.InteractionTyped, Label: engine.LabelSecure})
			suggestion := storage.NewSuggestionEvent(12, true, "reply", "test")
			analytics, err := storage.NewAnalyticsEvent("keyboard_opened", "test", map[string]string{"app": "notes"})
			require.NoError(t, err)
			appendEvents(t, st, interaction, toneEvent(), toneEvent(), suggestion, analytics)
			writeMeta(t, st, map[string]int{storage.KeyToneData: 2})

			data, err := g.PullAll(ctx)
			require.NoError(t, err)
			assert.Len(t, data.Interactions, 1)
			assert.Len(t, data.ToneEvents, 2)
			assert.Len(t, data.Suggestions, 1)
			assert.Len(t, data.Analytics, 1)
			assert.Equal(t, 5, data.Len())
			assert.False(t, data.Empty())
			require.NotNil(t, data.Metadata)
			assert.Equal(t, 2, data.Metadata.Counts[storage.KeyToneData])
			assert.Zero(t, data.Skipped)
			assert.Equal(t, interaction.ID, data.Interactions[0].ID)
			assert.Equal(t, "notes", data.Analytics[0].Fields["app"])

			// Pull does not clear.
			again, err := g.PullAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, data.Len(), again.Len())
			assert.Equal(t, data.Cursor, again.Cursor)
		})
	}
}

func TestPullAll_EmptyStore(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			data, err := New(st, zap.NewNop()).PullAll(context.Background())
			require.NoError(t, err)
			assert.True(t, data.Empty())
			assert.Nil(t, data.Metadata)
			assert.Empty(t, data.Cursor)
		})
	}
}

func TestPullAll_SkipsUndecodableRecords(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := New(st, zap.NewNop())

			appendEvents(t, st, toneEvent())
			_, err := st.AppendCapped(ctx, storage.KeyToneData, []json.RawMessage{json.RawMessage(`{"label":"secure"}`)}, 200)
			require.NoError(t, err)

			data, err := g.PullAll(ctx)
			require.NoError(t, err)
			assert.Len(t, data.ToneEvents, 1)
			assert.Equal(t, 1, data.Skipped)

			// The cursor covers the skipped record, so acknowledging removes it.
			_, err = g.Ack(ctx, data.Cursor)
			require.NoError(t, err)
			n, err := st.Count(ctx, storage.KeyToneData)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestReadMetadata(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := New(st, zap.NewNop())

			meta, err := g.ReadMetadata(ctx)
			require.NoError(t, err)
			assert.Nil(t, meta)

			writeMeta(t, st, map[string]int{storage.KeyToneData: 3, storage.KeySuggestions: 1})
			resp, err := g.GetStorageMetadata(ctx, &GetStorageMetadataRequest{})
			require.NoError(t, err)
			require.NotNil(t, resp.Metadata)
			assert.Equal(t, 4, resp.Pending)
		})
	}
}

func TestClearAll_Idempotent(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := New(st, zap.NewNop())
			clearedAt := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
			g.now = func() time.Time { return clearedAt }

			appendEvents(t, st, toneEvent(), storage.NewSuggestionEvent(3, false, "", "test"))
			writeMeta(t, st, map[string]int{storage.KeyToneData: 1, storage.KeySuggestions: 1})

			ok, err := g.ClearAll(ctx)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = g.ClearAll(ctx)
			require.NoError(t, err, "second clear must be a no-op")
			assert.True(t, ok)

			data, err := g.PullAll(ctx)
			require.NoError(t, err)
			assert.True(t, data.Empty())

			meta := data.Metadata
			require.NotNil(t, meta)
			assert.Zero(t, meta.Total())
			assert.Len(t, meta.Counts, len(storage.Categories()))
			require.NotNil(t, meta.ClearedAt)
			assert.True(t, clearedAt.Equal(*meta.ClearedAt))
			assert.Equal(t, 2026, meta.LastSyncAt.Year(), "last sync time survives a clear")
		})
	}
}

func TestClearAll_EmptyStore(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			resp, err := New(st, zap.NewNop()).ClearAllPendingData(context.Background(), &ClearAllPendingDataRequest{})
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.False(t, resp.ClearedAt.IsZero())
		})
	}
}

func TestAck_KeepsItemsFlushedAfterPull(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := New(st, zap.NewNop())

			appendEvents(t, st, toneEvent(), toneEvent())
			writeMeta(t, st, map[string]int{storage.KeyToneData: 2})

			data, err := g.PullAll(ctx)
			require.NoError(t, err)
			require.Len(t, data.ToneEvents, 2)

			// A flush lands between pull and acknowledge.
			late := toneEvent()
			appendEvents(t, st, late)

			resp, err := g.Acknowledge(ctx, &AcknowledgeRequest{Cursor: data.Cursor})
			require.NoError(t, err)
			assert.Equal(t, 2, resp.Removed[storage.KeyToneData])

			rest, err := g.PullAll(ctx)
			require.NoError(t, err)
			require.Len(t, rest.ToneEvents, 1)
			assert.Equal(t, late.ID, rest.ToneEvents[0].ID)
			require.NotNil(t, rest.Metadata)
			assert.Equal(t, 1, rest.Metadata.Counts[storage.KeyToneData])
		})
	}
}

func TestAck_StaleCursorAfterClear(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := New(st, zap.NewNop())

			appendEvents(t, st, toneEvent())
			data, err := g.PullAll(ctx)
			require.NoError(t, err)

			_, err = g.ClearAll(ctx)
			require.NoError(t, err)
			appendEvents(t, st, toneEvent())

			removed, err := g.Ack(ctx, data.Cursor)
			require.NoError(t, err)
			assert.Zero(t, removed[storage.KeyToneData], "sequence numbers are not reused after a clear")

			n, err := st.Count(ctx, storage.KeyToneData)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestAck_UnknownKey(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := New(st, zap.NewNop()).Ack(context.Background(), Cursor{"pending_everything": 4})
			require.ErrorIs(t, err, storage.ErrUnknownCategory)
		})
	}
}

func TestAck_NeverFlushedStoreWritesNoMetadata(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := New(st, zap.NewNop())
			appendEvents(t, st, toneEvent())

			data, err := g.PullAll(ctx)
			require.NoError(t, err)
			_, err = g.Ack(ctx, data.Cursor)
			require.NoError(t, err)

			meta, err := st.ReadMetadata(ctx)
			require.NoError(t, err)
			assert.Nil(t, meta)
		})
	}
}

// refreshHookStore runs onRefresh once, the first time the gateway starts
// recounting the store after a discard.
type refreshHookStore struct {
	store.SharedStore
	once      sync.Once
	onRefresh func()
}

func (s *refreshHookStore) Count(ctx context.Context, key string) (int, error) {
	s.once.Do(s.onRefresh)
	return s.SharedStore.Count(ctx, key)
}

func (s *refreshHookStore) RecountMetadata(ctx context.Context, keys []string, update store.RecountFunc) error {
	s.once.Do(s.onRefresh)
	return s.SharedStore.RecountMetadata(ctx, keys, update)
}

func TestAck_FlushDuringRefreshStaysCounted(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			producer := coordinator.New(st, coordinator.Config{QueueCapacity: 10}, zap.NewNop())
			t.Cleanup(func() { producer.Close(context.Background()) })

			producer.Record(toneEvent())
			require.NoError(t, producer.Flush(ctx))

			hooked := &refreshHookStore{SharedStore: st, onRefresh: func() {
				producer.Record(toneEvent())
				require.NoError(t, producer.Flush(ctx))
			}}
			g := New(hooked, zap.NewNop())

			data, err := g.PullAll(ctx)
			require.NoError(t, err)
			require.Len(t, data.ToneEvents, 1)

			removed, err := g.Ack(ctx, data.Cursor)
			require.NoError(t, err)
			assert.Equal(t, 1, removed[storage.KeyToneData])

			n, err := st.Count(ctx, storage.KeyToneData)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			meta, err := st.ReadMetadata(ctx)
			require.NoError(t, err)
			require.NotNil(t, meta)
			assert.Equal(t, 1, meta.Counts[storage.KeyToneData])
			assert.Equal(t, 1, meta.Total())
		})
	}
}

func TestClearAll_FlushDuringRefreshStaysCounted(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			producer := coordinator.New(st, coordinator.Config{QueueCapacity: 10}, zap.NewNop())
			t.Cleanup(func() { producer.Close(context.Background()) })

			producer.Record(toneEvent())
			require.NoError(t, producer.Flush(ctx))

			hooked := &refreshHookStore{SharedStore: st, onRefresh: func() {
				producer.Record(toneEvent())
				require.NoError(t, producer.Flush(ctx))
			}}
			ok, err := New(hooked, zap.NewNop()).ClearAll(ctx)
			require.NoError(t, err)
			assert.True(t, ok)

			meta, err := st.ReadMetadata(ctx)
			require.NoError(t, err)
			require.NotNil(t, meta)
			require.NotNil(t, meta.ClearedAt)
			assert.Equal(t, 1, meta.Counts[storage.KeyToneData], "an event flushed after the clear is still reported")
		})
	}
}

func TestAck_ConcurrentFlushesKeepMetadataExact(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			producer := coordinator.New(st, coordinator.Config{QueueCapacity: 50}, zap.NewNop())
			t.Cleanup(func() { producer.Close(context.Background()) })
			producer.Record(toneEvent())
			require.NoError(t, producer.Flush(ctx))
			g := New(st, zap.NewNop())

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 20 {
					producer.Record(toneEvent())
					_ = producer.Flush(ctx)
				}
			}()
			for range 20 {
				_, err := g.Ack(ctx, Cursor{})
				require.NoError(t, err)
			}
			wg.Wait()
			require.NoError(t, producer.WaitIdle(ctx))

			n, err := st.Count(ctx, storage.KeyToneData)
			require.NoError(t, err)
			assert.Equal(t, 21, n)

			meta, err := st.ReadMetadata(ctx)
			require.NoError(t, err)
			require.NotNil(t, meta)
			assert.Equal(t, n, meta.Counts[storage.KeyToneData])
		})
	}
}

func TestService_UnavailableStore(t *testing.T) {
	sq, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "shared.db"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, sq.Close())

	g := New(sq, zap.NewNop())
	ctx := context.Background()

	_, err = g.GetAllPendingData(ctx, &GetAllPendingDataRequest{})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	_, err = g.GetStorageMetadata(ctx, &GetStorageMetadataRequest{})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	_, err = g.ClearAllPendingData(ctx, &ClearAllPendingDataRequest{})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestGetAllPendingDataResponse_JSONShape(t *testing.T) {
	resp := GetAllPendingDataResponse{PendingData: PendingData{Cursor: Cursor{storage.KeyToneData: 7}}}
	resp.ToneEvents = []storage.ToneEvent{toneEvent()}

	b, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &m))
	for _, key := range []string{"interactions", "tone_events", "suggestions", "analytics", "metadata", "cursor", "skipped"} {
		assert.Contains(t, m, key)
	}
}
