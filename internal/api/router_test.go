package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/auth"
	"github.com/jwgray1010/Unsaid-sub003/internal/chread"
	"github.com/jwgray1010/Unsaid-sub003/internal/coordinator"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine/tables"
	"github.com/jwgray1010/Unsaid-sub003/internal/gateway"
	"github.com/jwgray1010/Unsaid-sub003/internal/pipeline"
	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
	"github.com/jwgray1010/Unsaid-sub003/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testKey = "tik_http_test_key"

type fakeReader struct {
	params chread.ListToneParams
	days   int
	source string
	err    error
}

func (f *fakeReader) LabelBreakdown(_ context.Context, days int, source string) (*chread.LabelAnalytics, error) {
	f.days, f.source = days, source
	if f.err != nil {
		return nil, f.err
	}
	return &chread.LabelAnalytics{
		Summary: chread.ToneSummary{TotalEvents: 3, AvgConfidence: 0.7},
		Labels:  []chread.LabelCount{{Label: "anxious", Count: 3, AvgConfidence: 0.7}},
	}, nil
}

func (f *fakeReader) ListToneEvents(_ context.Context, params chread.ListToneParams) ([]chread.ToneRow, int, error) {
	f.params = params
	if f.err != nil {
		return nil, 0, f.err
	}
	return []chread.ToneRow{{ID: "a", Label: "secure"}}, 1, nil
}

type fixture struct {
	handler http.Handler
	coord   *coordinator.Coordinator
	store   *store.SQLStore
}

func newFixture(t *testing.T, authenticator auth.Authenticator, reader AnalyticsReader) *fixture {
	t.Helper()
	logger := zap.NewNop()

	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "shared.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c, err := engine.NewClassifier(tables.Builtin())
	require.NoError(t, err)
	coord := coordinator.New(st, coordinator.Config{}, logger)
	t.Cleanup(func() { coord.Close(context.Background()) })

	deps := &Dependencies{
		Pipeline: pipeline.New(c, coord, "http", logger),
		Gateway:  gateway.New(st, logger),
		Reader:   reader,
		Auth:     authenticator,
		Logger:   logger,
	}
	return &fixture{handler: NewRouter(deps), coord: coord, store: st}
}

func keyAuth(t *testing.T) auth.Authenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)
	a, err := auth.NewKeyAuthenticator(auth.KeyAuthConfig{Hash: string(hash), Logger: zap.NewNop()})
	require.NoError(t, err)
	return a
}

func (f *fixture) do(t *testing.T, method, path string, body any, key string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set(auth.HeaderInternalKey, key)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, keyAuth(t), nil)
	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestClassify(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/v1/classify", ClassifyRequest{Text: "you always ignore me, I panic"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ClassifyResponse](t, rec)
	assert.Equal(t, engine.LabelAnxious, resp.Label)
	assert.Equal(t, tables.BuiltinVersion, resp.TableVersion)
	assert.False(t, resp.Recorded)
	assert.Zero(t, f.coord.Pending(), "plain classify records nothing")
}

func TestClassify_Validation(t *testing.T) {
	f := newFixture(t, nil, nil)

	tests := []struct {
		name string
		body any
	}{
		{"empty text", ClassifyRequest{Text: "  "}},
		{"oversized text", ClassifyRequest{Text: string(bytes.Repeat([]byte("a"), maxTextLen+1))}},
		{"unknown default label", ClassifyRequest{Text: "hi", Options: &engine.Options{DefaultLabel: "furious"}}},
		{"not json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/classify", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[ErrorResp](t, rec).Detail)
		})
	}
}

func TestClassify_RecordThenPull(t *testing.T) {
	f := newFixture(t, keyAuth(t), nil)

	rec := f.do(t, http.MethodPost, "/v1/classify", ClassifyRequest{
		Text:           "please stop, this is urgent!",
		Record:         true,
		HostAppContext: "messages",
	}, testKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[ClassifyResponse](t, rec).Recorded)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.coord.Flush(ctx))

	rec = f.do(t, http.MethodGet, "/v1/pending/metadata", nil, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decode[gateway.GetStorageMetadataResponse](t, rec)
	assert.Equal(t, 2, meta.Pending)

	rec = f.do(t, http.MethodGet, "/v1/pending", nil, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[gateway.GetAllPendingDataResponse](t, rec)
	require.Len(t, pending.ToneEvents, 1)
	require.Len(t, pending.Interactions, 1)
	assert.Equal(t, "messages", pending.Interactions[0].HostAppContext)
	assert.NotContains(t, rec.Body.String(), "urgent", "raw text must not be stored")

	rec = f.do(t, http.MethodPost, "/v1/pending/ack", gateway.AcknowledgeRequest{Cursor: pending.Cursor}, testKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ack := decode[gateway.AcknowledgeResponse](t, rec)
	assert.Equal(t, 1, ack.Removed[storage.KeyToneData])
	assert.Equal(t, 1, ack.Removed[storage.KeyInteractions])

	rec = f.do(t, http.MethodGet, "/v1/pending", nil, testKey)
	assert.Empty(t, decode[gateway.GetAllPendingDataResponse](t, rec).ToneEvents)
}

func TestProcess(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/v1/process", ProcessRequest{Text: "I miss you. Call me?"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ProcessResponse](t, rec)
	assert.Equal(t, 5, resp.WordCount)
	assert.Len(t, resp.Sentences, 2)
	assert.NotEmpty(t, resp.Label)
}

func TestClearPending_Idempotent(t *testing.T) {
	f := newFixture(t, nil, nil)
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodDelete, "/v1/pending", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[gateway.ClearAllPendingDataResponse](t, rec)
		assert.True(t, resp.Success)
	}
}

func TestAcknowledge_Errors(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/v1/pending/ack", gateway.AcknowledgeRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/pending/ack", gateway.AcknowledgeRequest{Cursor: gateway.Cursor{"pending_other": 2}}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPending_StoreUnavailable(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.store.Close())

	rec := f.do(t, http.MethodGet, "/v1/pending", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, keyAuth(t), nil)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "tik_wrong", http.StatusUnauthorized},
		{"valid key", testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/v1/pending/metadata", nil, tt.key)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodOptions, "/v1/classify", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Internal-Key")
}

func TestAnalytics_NotConfigured(t *testing.T) {
	f := newFixture(t, nil, nil)
	for _, path := range []string{"/api/analytics/labels", "/api/analytics/tone-events"} {
		rec := f.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestLabelAnalytics(t *testing.T) {
	tests := []struct {
		query    string
		wantDays int
	}{
		{"", 7},
		{"?days=0", 1},
		{"?days=365", 90},
		{"?days=abc", 7},
		{"?days=30&source=keyboard", 30},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			reader := &fakeReader{}
			f := newFixture(t, nil, reader)
			rec := f.do(t, http.MethodGet, "/api/analytics/labels"+tt.query, nil, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantDays, reader.days)
			assert.Equal(t, 3, decode[chread.LabelAnalytics](t, rec).Summary.TotalEvents)
		})
	}

	reader := &fakeReader{}
	f := newFixture(t, nil, reader)
	f.do(t, http.MethodGet, "/api/analytics/labels?source=keyboard", nil, "")
	assert.Equal(t, "keyboard", reader.source)
}

func TestListToneEvents(t *testing.T) {
	reader := &fakeReader{}
	f := newFixture(t, nil, reader)

	rec := f.do(t, http.MethodGet, "/api/analytics/tone-events?label=secure&page=2&page_size=500&start_time=2026-03-01T00:00:00Z", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ToneEventListResp](t, rec)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 50, resp.PageSize)

	require.NotNil(t, reader.params.Label)
	assert.Equal(t, "secure", *reader.params.Label)
	assert.Nil(t, reader.params.Source)
	require.NotNil(t, reader.params.StartTime)
	assert.Equal(t, 2026, reader.params.StartTime.Year())

	rec = f.do(t, http.MethodGet, "/api/analytics/tone-events?end_time=yesterday", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalytics_ReaderError(t *testing.T) {
	f := newFixture(t, nil, &fakeReader{err: errors.New("clickhouse down")})
	rec := f.do(t, http.MethodGet, "/api/analytics/tone-events", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/analytics/labels", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
