package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"github.com/jwgray1010/Unsaid-sub003/internal/pipeline"
)

// maxTextLen bounds the text accepted by the classifier endpoints, in bytes.
const maxTextLen = 16 * 1024

// handleClassify is the hot-path handler for POST /v1/classify.
//
// Flow:
//  1. Parse and validate the request.
//  2. Classify, recording tone + interaction events when asked.
//  3. Return the result with latency.
func (d *Dependencies) handleClassify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// 1. Parse request
	var req ClassifyRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if detail := validateText(req.Text); detail != "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: detail})
		return
	}
	if req.Options != nil && req.Options.DefaultLabel != "" && !d.knownLabel(req.Options.DefaultLabel) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Unknown default_label"})
		return
	}

	// 2. Classify
	var res engine.Result
	if req.Record {
		res = d.Pipeline.ObserveText(pipeline.Observation{
			Text:           req.Text,
			HostAppContext: req.HostAppContext,
			Options:        req.Options,
		})
	} else {
		res = d.Pipeline.Classify(req.Text, req.Options)
	}

	// 3. Respond
	writeJSON(w, http.StatusOK, ClassifyResponse{
		Result:    res,
		LatencyMs: msSince(start),
		Recorded:  req.Record,
	})
}

// handleProcess serves POST /v1/process: tokens, sentence spans and word
// count alongside the classification.
func (d *Dependencies) handleProcess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ProcessRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if detail := validateText(req.Text); detail != "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: detail})
		return
	}

	res := d.Pipeline.Classify(req.Text, nil)
	writeJSON(w, http.StatusOK, ProcessResponse{
		Analysis:   engine.Analyze(req.Text),
		Label:      res.Label,
		Confidence: res.Confidence,
		LatencyMs:  msSince(start),
	})
}

func validateText(text string) string {
	switch {
	case strings.TrimSpace(text) == "":
		return "text is required"
	case len(text) > maxTextLen:
		return "text exceeds 16384 bytes"
	}
	return ""
}

func (d *Dependencies) knownLabel(l engine.Label) bool {
	for _, known := range d.Pipeline.Labels() {
		if known == l {
			return true
		}
	}
	return false
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
