package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/jwgray1010/Unsaid-sub003/internal/gateway"
	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
	"github.com/jwgray1010/Unsaid-sub003/internal/store"
)

// handleGetPending serves GET /v1/pending. It does not clear anything; the
// caller acknowledges with the returned cursor once the batch is persisted.
func (d *Dependencies) handleGetPending(w http.ResponseWriter, r *http.Request) {
	resp, err := d.Gateway.GetAllPendingData(r.Context(), &gateway.GetAllPendingDataRequest{})
	if err != nil {
		d.writeGatewayError(w, "get pending", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetMetadata serves GET /v1/pending/metadata.
func (d *Dependencies) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	resp, err := d.Gateway.GetStorageMetadata(r.Context(), &gateway.GetStorageMetadataRequest{})
	if err != nil {
		d.writeGatewayError(w, "get metadata", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleClearPending serves DELETE /v1/pending.
func (d *Dependencies) handleClearPending(w http.ResponseWriter, r *http.Request) {
	resp, err := d.Gateway.ClearAllPendingData(r.Context(), &gateway.ClearAllPendingDataRequest{})
	if err != nil {
		d.writeGatewayError(w, "clear pending", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAcknowledge serves POST /v1/pending/ack.
func (d *Dependencies) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req gateway.AcknowledgeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if len(req.Cursor) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "cursor is required"})
		return
	}

	resp, err := d.Gateway.Acknowledge(r.Context(), &req)
	if err != nil {
		d.writeGatewayError(w, "acknowledge", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) writeGatewayError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrUnknownCategory):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Unknown category key"})
	case errors.Is(err, store.ErrStoreUnavailable):
		d.Logger.Warn("shared store unavailable", zap.String("op", op), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Shared store unavailable"})
	default:
		d.Logger.Error("gateway request failed", zap.String("op", op), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
	}
}
