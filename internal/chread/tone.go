package chread

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ToneRow is a single row from the tone_events table.
type ToneRow struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	TextLength      uint32    `json:"text_length"`
	TextFingerprint string    `json:"text_fingerprint"`
	Label           string    `json:"label"`
	Confidence      float64   `json:"confidence"`
	AnalysisMs      float32   `json:"analysis_ms"`
	TableVersion    string    `json:"table_version"`
	Source          string    `json:"source"`
}

// ListToneParams holds filters and pagination for tone event listing.
type ListToneParams struct {
	Label     *string
	Source    *string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

func (p ListToneParams) filter() *filter {
	f := &filter{}
	if p.Label != nil {
		f.add("label = @label", "label", *p.Label)
	}
	if p.Source != nil {
		f.add("source = @source", "source", *p.Source)
	}
	if p.StartTime != nil {
		f.add("created_at >= @start_time", "start_time", *p.StartTime)
	}
	if p.EndTime != nil {
		f.add("created_at <= @end_time", "end_time", *p.EndTime)
	}
	return f
}

// ListToneEvents returns paginated, filtered tone events and the total count.
// FINAL collapses rows delivered more than once.
func (r *Reader) ListToneEvents(ctx context.Context, params ListToneParams) ([]ToneRow, int, error) {
	f := params.filter()
	where := f.where()
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM tone_events FINAL WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, f.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListToneEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT id, created_at, text_length, text_fingerprint, label, confidence, "+
			"analysis_ms, table_version, source "+
			"FROM tone_events FINAL WHERE %s "+
			"ORDER BY created_at DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args := append(f.args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListToneEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []ToneRow{}
	for rows.Next() {
		var e ToneRow
		if err := rows.Scan(
			&e.ID, &e.CreatedAt, &e.TextLength, &e.TextFingerprint, &e.Label,
			&e.Confidence, &e.AnalysisMs, &e.TableVersion, &e.Source,
		); err != nil {
			return nil, 0, fmt.Errorf("ListToneEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// ToneSummary holds aggregate tone counts.
type ToneSummary struct {
	TotalEvents   int     `json:"total_events"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// LabelCount holds a label, its count and mean confidence.
type LabelCount struct {
	Label         string  `json:"label"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// SuggestionStats holds suggestion acceptance over the range.
type SuggestionStats struct {
	Total          int     `json:"total"`
	Accepted       int     `json:"accepted"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// LatencyStats holds classifier latency percentiles in milliseconds.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// LabelAnalytics holds all label aggregations.
type LabelAnalytics struct {
	Summary            ToneSummary        `json:"summary"`
	Labels             []LabelCount       `json:"labels"`
	ToneOverTime       []TimeSeriesBucket `json:"tone_over_time"`
	Suggestions        SuggestionStats    `json:"suggestions"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
}

// LabelBreakdown returns label aggregations over the given number of days.
// source, when non-empty, restricts tone rows to one producer.
func (r *Reader) LabelBreakdown(ctx context.Context, days int, source string) (*LabelAnalytics, error) {
	f := &filter{}
	f.add("created_at >= @range_start", "range_start", since(days, time.Now().UTC()))
	if source != "" {
		f.add("source = @source", "source", source)
	}
	where := f.where()

	result := &LabelAnalytics{}

	// Summary
	var total uint64
	var avgConf float64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, avg(confidence) as avg_confidence "+
			"FROM tone_events FINAL WHERE "+where,
		f.args...,
	).Scan(&total, &avgConf)
	if err != nil {
		return nil, fmt.Errorf("LabelBreakdown summary: %w", err)
	}
	result.Summary = ToneSummary{TotalEvents: int(total), AvgConfidence: safeFloat(avgConf)}

	// Per-label counts
	labelRows, err := r.conn.Query(ctx,
		"SELECT label, count() as count, avg(confidence) as avg_confidence "+
			"FROM tone_events FINAL WHERE "+where+" "+
			"GROUP BY label ORDER BY count DESC, label",
		f.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("LabelBreakdown labels: %w", err)
	}
	defer func() { _ = labelRows.Close() }()
	for labelRows.Next() {
		var label string
		var count uint64
		var avg float64
		if err := labelRows.Scan(&label, &count, &avg); err != nil {
			return nil, fmt.Errorf("LabelBreakdown labels scan: %w", err)
		}
		result.Labels = append(result.Labels, LabelCount{
			Label: label, Count: int(count), AvgConfidence: safeFloat(avg),
		})
	}

	// Tone events over time (hourly)
	hourRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(created_at) as hour, count() as count "+
			"FROM tone_events FINAL WHERE "+where+" "+
			"GROUP BY hour ORDER BY hour",
		f.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("LabelBreakdown tone_over_time: %w", err)
	}
	defer func() { _ = hourRows.Close() }()
	for hourRows.Next() {
		var hour time.Time
		var count uint64
		if err := hourRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("LabelBreakdown tone_over_time scan: %w", err)
		}
		result.ToneOverTime = append(result.ToneOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Suggestion acceptance
	var sugTotal, accepted uint64
	err = r.conn.QueryRow(ctx,
		"SELECT count() as total, countIf(accepted = 1) as accepted "+
			"FROM suggestion_events FINAL WHERE "+where,
		f.args...,
	).Scan(&sugTotal, &accepted)
	if err != nil {
		return nil, fmt.Errorf("LabelBreakdown suggestions: %w", err)
	}
	result.Suggestions = SuggestionStats{Total: int(sugTotal), Accepted: int(accepted)}
	if sugTotal > 0 {
		result.Suggestions.AcceptanceRate = float64(accepted) / float64(sugTotal)
	}

	// Classifier latency percentiles
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(analysis_ms) as p50, "+
			"quantile(0.95)(analysis_ms) as p95, "+
			"quantile(0.99)(analysis_ms) as p99 "+
			"FROM tone_events FINAL WHERE "+where,
		f.args...,
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("LabelBreakdown latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Ensure slices are non-nil for JSON serialization
	if result.Labels == nil {
		result.Labels = []LabelCount{}
	}
	if result.ToneOverTime == nil {
		result.ToneOverTime = []TimeSeriesBucket{}
	}

	return result, nil
}
