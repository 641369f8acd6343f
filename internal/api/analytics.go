package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jwgray1010/Unsaid-sub003/internal/chread"
)

// handleListToneEvents serves GET /api/analytics/tone-events.
// Query params: label, source, start_time, end_time, page, page_size
func (d *Dependencies) handleListToneEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	params := chread.ListToneParams{
		Page:     queryInt(q.Get("page"), 1),
		PageSize: queryInt(q.Get("page_size"), 50),
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 200 {
		params.PageSize = 50
	}
	if v := q.Get("label"); v != "" {
		params.Label = &v
	}
	if v := q.Get("source"); v != "" {
		params.Source = &v
	}
	for name, dst := range map[string]**time.Time{"start_time": &params.StartTime, "end_time": &params.EndTime} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid " + name + ", expected RFC3339"})
			return
		}
		*dst = &t
	}

	events, total, err := d.Reader.ListToneEvents(r.Context(), params)
	if err != nil {
		d.Logger.Error("list tone events failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to query tone events"})
		return
	}
	if events == nil {
		events = []chread.ToneRow{}
	}

	writeJSON(w, http.StatusOK, ToneEventListResp{
		Events:   events,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// handleLabelAnalytics serves GET /api/analytics/labels.
// Query params: days (default 7, max 90), source
func (d *Dependencies) handleLabelAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	days := queryInt(r.URL.Query().Get("days"), 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	result, err := d.Reader.LabelBreakdown(r.Context(), days, r.URL.Query().Get("source"))
	if err != nil {
		d.Logger.Error("label analytics failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to query analytics"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
