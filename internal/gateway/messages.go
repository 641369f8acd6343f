package gateway

import (
	"context"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/store"
)

// Request and response pairs for the cross-process surface. Transports
// marshal these as JSON.
type (
	GetAllPendingDataRequest struct{}

	GetAllPendingDataResponse struct {
		PendingData
	}

	GetStorageMetadataRequest struct{}

	GetStorageMetadataResponse struct {
		// Metadata is nil when the store has never been flushed or cleared.
		Metadata *store.Metadata `json:"metadata"`
		Pending  int             `json:"pending"`
	}

	ClearAllPendingDataRequest struct{}

	ClearAllPendingDataResponse struct {
		Success   bool      `json:"success"`
		ClearedAt time.Time `json:"cleared_at"`
	}

	AcknowledgeRequest struct {
		Cursor Cursor `json:"cursor"`
	}

	AcknowledgeResponse struct {
		Removed map[string]int `json:"removed"`
	}
)

// Service is the message-level gateway contract. Gateway implements it
// in-process; the gRPC client in internal/server implements it remotely.
type Service interface {
	GetAllPendingData(ctx context.Context, req *GetAllPendingDataRequest) (*GetAllPendingDataResponse, error)
	GetStorageMetadata(ctx context.Context, req *GetStorageMetadataRequest) (*GetStorageMetadataResponse, error)
	ClearAllPendingData(ctx context.Context, req *ClearAllPendingDataRequest) (*ClearAllPendingDataResponse, error)
	Acknowledge(ctx context.Context, req *AcknowledgeRequest) (*AcknowledgeResponse, error)
}

var _ Service = (*Gateway)(nil)

func (g *Gateway) GetAllPendingData(ctx context.Context, _ *GetAllPendingDataRequest) (*GetAllPendingDataResponse, error) {
	data, err := g.PullAll(ctx)
	if err != nil {
		return nil, err
	}
	return &GetAllPendingDataResponse{PendingData: *data}, nil
}

func (g *Gateway) GetStorageMetadata(ctx context.Context, _ *GetStorageMetadataRequest) (*GetStorageMetadataResponse, error) {
	meta, err := g.ReadMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return &GetStorageMetadataResponse{Metadata: meta, Pending: meta.Total()}, nil
}

func (g *Gateway) ClearAllPendingData(ctx context.Context, _ *ClearAllPendingDataRequest) (*ClearAllPendingDataResponse, error) {
	ok, err := g.ClearAll(ctx)
	if err != nil {
		return nil, err
	}
	resp := &ClearAllPendingDataResponse{Success: ok}
	if meta, err := g.ReadMetadata(ctx); err == nil && meta != nil && meta.ClearedAt != nil {
		resp.ClearedAt = *meta.ClearedAt
	}
	return resp, nil
}

func (g *Gateway) Acknowledge(ctx context.Context, req *AcknowledgeRequest) (*AcknowledgeResponse, error) {
	removed, err := g.Ack(ctx, req.Cursor)
	if err != nil {
		return nil, err
	}
	return &AcknowledgeResponse{Removed: removed}, nil
}
