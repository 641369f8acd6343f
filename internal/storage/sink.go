package storage

import (
	"context"

	"go.uber.org/zap"
)

// Batch is a set of delivered events grouped by category.
type Batch struct {
	Interactions []InteractionEvent `json:"interactions"`
	ToneEvents   []ToneEvent        `json:"tone_events"`
	Suggestions  []SuggestionEvent  `json:"suggestions"`
	Analytics    []AnalyticsEvent   `json:"analytics"`
}

// Len returns the total number of events in the batch.
func (b *Batch) Len() int {
	return len(b.Interactions) + len(b.ToneEvents) + len(b.Suggestions) + len(b.Analytics)
}

// Add appends e to the list for its category.
func (b *Batch) Add(e Event) {
	switch v := e.(type) {
	case InteractionEvent:
		b.Interactions = append(b.Interactions, v)
	case ToneEvent:
		b.ToneEvents = append(b.ToneEvents, v)
	case SuggestionEvent:
		b.Suggestions = append(b.Suggestions, v)
	case AnalyticsEvent:
		b.Analytics = append(b.Analytics, v)
	}
}

// Counts returns the number of events per shared-store key.
func (b *Batch) Counts() map[string]int {
	return map[string]int{
		KeyInteractions: len(b.Interactions),
		KeyToneData:     len(b.ToneEvents),
		KeySuggestions:  len(b.Suggestions),
		KeyAnalytics:    len(b.Analytics),
	}
}

// Sink is where the host process puts events it has pulled from the shared
// store. WriteBatch returns only after the batch is durable in the sink, so
// callers can acknowledge the pull.
type Sink interface {
	WriteBatch(ctx context.Context, b *Batch) error
	Close() error
}

// LogSink is a fallback Sink for local development.
// It logs events as structured JSON via zap.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink that outputs events to the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) WriteBatch(_ context.Context, b *Batch) error {
	for _, e := range b.Interactions {
		s.logger.Info("interaction_event",
			zap.String("id", e.ID),
			zap.String("interaction_kind", string(e.Kind)),
			zap.String("label", e.Label.String()),
			zap.Int("text_length", e.TextLength),
			zap.Int("word_count", e.WordCount),
			zap.Bool("suggestion_accepted", e.SuggestionAccepted),
			zap.String("host_app_context", e.HostAppContext),
		)
	}
	for _, e := range b.ToneEvents {
		s.logger.Info("tone_event",
			zap.String("id", e.ID),
			zap.String("label", e.Label.String()),
			zap.Float64("confidence", e.Confidence),
			zap.Int("text_length", e.TextLength),
			zap.String("text_fingerprint", e.TextFingerprint),
			zap.Float32("analysis_ms", e.AnalysisMs),
			zap.String("source", e.Source),
		)
	}
	for _, e := range b.Suggestions {
		s.logger.Info("suggestion_event",
			zap.String("id", e.ID),
			zap.Bool("accepted", e.Accepted),
			zap.Int("suggestion_length", e.SuggestionLength),
			zap.String("source", e.Source),
		)
	}
	for _, e := range b.Analytics {
		s.logger.Info("analytics_event",
			zap.String("id", e.ID),
			zap.String("event_name", e.Name),
			zap.String("source", e.Source),
			zap.Any("fields", e.Fields),
		)
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
