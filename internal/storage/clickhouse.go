package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

// schemaDDL creates the sink tables. ReplacingMergeTree collapses rows that
// were delivered more than once by id.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS interaction_events (
		id String,
		created_at DateTime64(3, 'UTC'),
		text_length UInt32,
		label LowCardinality(String),
		suggestion_accepted UInt8,
		suggestion_length UInt32,
		analysis_ms Float32,
		interaction_kind LowCardinality(String),
		word_count UInt32,
		host_app_context String
	) ENGINE = ReplacingMergeTree ORDER BY (created_at, id)`,
	`CREATE TABLE IF NOT EXISTS tone_events (
		id String,
		created_at DateTime64(3, 'UTC'),
		text_length UInt32,
		text_fingerprint String,
		label LowCardinality(String),
		confidence Float64,
		analysis_ms Float32,
		table_version LowCardinality(String),
		source LowCardinality(String)
	) ENGINE = ReplacingMergeTree ORDER BY (created_at, id)`,
	`CREATE TABLE IF NOT EXISTS suggestion_events (
		id String,
		created_at DateTime64(3, 'UTC'),
		suggestion_length UInt32,
		accepted UInt8,
		context String,
		source LowCardinality(String)
	) ENGINE = ReplacingMergeTree ORDER BY (created_at, id)`,
	`CREATE TABLE IF NOT EXISTS analytics_events (
		id String,
		created_at DateTime64(3, 'UTC'),
		event_name LowCardinality(String),
		source LowCardinality(String),
		fields Map(String, String)
	) ENGINE = ReplacingMergeTree ORDER BY (created_at, id)`,
}

// ClickHouseSink writes delivered events to ClickHouse, one batch insert per
// table.
type ClickHouseSink struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseSink connects, pings and ensures the sink tables exist.
func NewClickHouseSink(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseSink: %w", err)
	}

	// ParseDSN sets TLS when ?secure=true is in the DSN; enforce it for
	// ClickHouse Cloud style endpoints that omit the flag.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseSink: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("NewClickHouseSink: %w", err), conn.Close())
	}

	s := &ClickHouseSink{conn: conn, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, multierr.Append(err, conn.Close())
	}
	return s, nil
}

func (s *ClickHouseSink) ensureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensureSchema: %w", err)
		}
	}
	return nil
}

// WriteBatch inserts every non-empty category. It stops at the first table
// that fails; rows already sent are deduplicated by id on the next delivery.
func (s *ClickHouseSink) WriteBatch(ctx context.Context, b *Batch) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := s.sendInteractions(ctx, b.Interactions); err != nil {
		return err
	}
	if err := s.sendTones(ctx, b.ToneEvents); err != nil {
		return err
	}
	if err := s.sendSuggestions(ctx, b.Suggestions); err != nil {
		return err
	}
	return s.sendAnalytics(ctx, b.Analytics)
}

func (s *ClickHouseSink) sendInteractions(ctx context.Context, events []InteractionEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO interaction_events (
			id, created_at, text_length, label,
			suggestion_accepted, suggestion_length, analysis_ms,
			interaction_kind, word_count, host_app_context
		)
	`)
	if err != nil {
		return fmt.Errorf("sendInteractions: prepare: %w", err)
	}
	for _, e := range events {
		if err := batch.Append(
			e.ID,
			e.CreatedAt,
			uint32(e.TextLength),
			e.Label.String(),
			boolToUint8(e.SuggestionAccepted),
			uint32(e.SuggestionLength),
			e.AnalysisMs,
			string(e.Kind),
			uint32(e.WordCount),
			e.HostAppContext,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("sendInteractions: append %s: %w", e.ID, err)
		}
	}
	return s.send(batch, "interaction_events", len(events))
}

func (s *ClickHouseSink) sendTones(ctx context.Context, events []ToneEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO tone_events (
			id, created_at, text_length, text_fingerprint,
			label, confidence, analysis_ms, table_version, source
		)
	`)
	if err != nil {
		return fmt.Errorf("sendTones: prepare: %w", err)
	}
	for _, e := range events {
		if err := batch.Append(
			e.ID,
			e.CreatedAt,
			uint32(e.TextLength),
			e.TextFingerprint,
			e.Label.String(),
			e.Confidence,
			e.AnalysisMs,
			e.TableVersion,
			e.Source,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("sendTones: append %s: %w", e.ID, err)
		}
	}
	return s.send(batch, "tone_events", len(events))
}

func (s *ClickHouseSink) sendSuggestions(ctx context.Context, events []SuggestionEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO suggestion_events (
			id, created_at, suggestion_length, accepted, context, source
		)
	`)
	if err != nil {
		return fmt.Errorf("sendSuggestions: prepare: %w", err)
	}
	for _, e := range events {
		if err := batch.Append(
			e.ID,
			e.CreatedAt,
			uint32(e.SuggestionLength),
			boolToUint8(e.Accepted),
			e.Context,
			e.Source,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("sendSuggestions: append %s: %w", e.ID, err)
		}
	}
	return s.send(batch, "suggestion_events", len(events))
}

func (s *ClickHouseSink) sendAnalytics(ctx context.Context, events []AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			id, created_at, event_name, source, fields
		)
	`)
	if err != nil {
		return fmt.Errorf("sendAnalytics: prepare: %w", err)
	}
	for _, e := range events {
		fields := e.Fields
		if fields == nil {
			fields = map[string]string{}
		}
		if err := batch.Append(
			e.ID,
			e.CreatedAt,
			e.Name,
			e.Source,
			fields,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("sendAnalytics: append %s: %w", e.ID, err)
		}
	}
	return s.send(batch, "analytics_events", len(events))
}

func (s *ClickHouseSink) send(batch driver.Batch, table string, n int) error {
	if err := batch.Send(); err != nil {
		s.logger.Error("clickhouse batch send failed",
			zap.String("table", table),
			zap.Int("batch_size", n),
			zap.Error(err),
		)
		return fmt.Errorf("send %s: %w", table, err)
	}
	s.logger.Debug("clickhouse batch sent", zap.String("table", table), zap.Int("batch_size", n))
	return nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
