package api

import (
	"github.com/jwgray1010/Unsaid-sub003/internal/chread"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
)

// --- POST /v1/classify ---

// ClassifyRequest is the JSON body for POST /v1/classify.
type ClassifyRequest struct {
	Text    string          `json:"text"`
	Options *engine.Options `json:"options,omitempty"`
	// Record wraps the result into tone and interaction events and queues
	// them for the shared store.
	Record         bool   `json:"record,omitempty"`
	HostAppContext string `json:"host_app_context,omitempty"`
}

// ClassifyResponse is the classifier result plus timing.
type ClassifyResponse struct {
	engine.Result
	LatencyMs float64 `json:"latency_ms"`
	Recorded  bool    `json:"recorded"`
}

// --- POST /v1/process ---

// ProcessRequest is the JSON body for POST /v1/process.
type ProcessRequest struct {
	Text string `json:"text"`
}

// ProcessResponse is the structural analysis of a text plus its label.
type ProcessResponse struct {
	engine.Analysis
	Label      engine.Label `json:"label"`
	Confidence float64      `json:"confidence"`
	LatencyMs  float64      `json:"latency_ms"`
}

// --- GET /api/analytics/tone-events ---

// ToneEventListResp is a page of delivered tone events.
type ToneEventListResp struct {
	Events   []chread.ToneRow `json:"events"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
