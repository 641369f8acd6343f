package api

import (
	"context"
	"net/http"

	"github.com/jwgray1010/Unsaid-sub003/internal/auth"
	"github.com/jwgray1010/Unsaid-sub003/internal/chread"
	"github.com/jwgray1010/Unsaid-sub003/internal/gateway"
	"github.com/jwgray1010/Unsaid-sub003/internal/pipeline"
	"go.uber.org/zap"
)

// AnalyticsReader is the read side of the ClickHouse sink. *chread.Reader
// implements it.
type AnalyticsReader interface {
	LabelBreakdown(ctx context.Context, days int, source string) (*chread.LabelAnalytics, error)
	ListToneEvents(ctx context.Context, params chread.ListToneParams) ([]chread.ToneRow, int, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Pipeline *pipeline.Pipeline
	Gateway  gateway.Service
	Reader   AnalyticsReader    // nil if ClickHouse unavailable
	Auth     auth.Authenticator // nil allows every caller
	Logger   *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Classifier (auth via x-internal-key when configured)
	mux.HandleFunc("POST /v1/classify", deps.authMiddleware(deps.handleClassify))
	mux.HandleFunc("POST /v1/process", deps.authMiddleware(deps.handleProcess))

	// Consumer gateway
	mux.HandleFunc("GET /v1/pending", deps.authMiddleware(deps.handleGetPending))
	mux.HandleFunc("GET /v1/pending/metadata", deps.authMiddleware(deps.handleGetMetadata))
	mux.HandleFunc("DELETE /v1/pending", deps.authMiddleware(deps.handleClearPending))
	mux.HandleFunc("POST /v1/pending/ack", deps.authMiddleware(deps.handleAcknowledge))

	// Analytics (read-only, no auth)
	mux.HandleFunc("GET /api/analytics/labels", deps.handleLabelAnalytics)
	mux.HandleFunc("GET /api/analytics/tone-events", deps.handleListToneEvents)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
