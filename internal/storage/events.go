package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
)

// Category identifies one event queue and its shared-store key.
type Category string

const (
	CategoryInteraction Category = "interaction"
	CategoryTone        Category = "tone"
	CategorySuggestion  Category = "suggestion"
	CategoryAnalytics   Category = "analytics"
)

// Shared-store keys.
const (
	KeyInteractions = "pending_interactions"
	KeyToneData     = "pending_tone_data"
	KeySuggestions  = "pending_suggestions"
	KeyAnalytics    = "pending_analytics"
	KeyMetadata     = "storage_metadata"
)

// SchemaVersion is written into every metadata record.
const SchemaVersion = 1

var allCategories = []Category{
	CategoryInteraction,
	CategoryTone,
	CategorySuggestion,
	CategoryAnalytics,
}

// Categories returns every category in flush order.
func Categories() []Category {
	return append([]Category(nil), allCategories...)
}

// Key returns the shared-store key holding this category's pending events.
func (c Category) Key() string {
	switch c {
	case CategoryInteraction:
		return KeyInteractions
	case CategoryTone:
		return KeyToneData
	case CategorySuggestion:
		return KeySuggestions
	case CategoryAnalytics:
		return KeyAnalytics
	default:
		return ""
	}
}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	return c.Key() != ""
}

// CategoryForKey maps a shared-store key back to its category.
func CategoryForKey(key string) (Category, bool) {
	for _, c := range allCategories {
		if c.Key() == key {
			return c, true
		}
	}
	return "", false
}

// Event is one of InteractionEvent, ToneEvent, SuggestionEvent or
// AnalyticsEvent. The set is closed.
type Event interface {
	Category() Category
	EventID() string
	sealed()
}

// InteractionKind describes what the user did.
type InteractionKind string

const (
	InteractionTyped               InteractionKind = "typed"
	InteractionAnalyzed            InteractionKind = "analyzed"
	InteractionSuggestionShown     InteractionKind = "suggestion_shown"
	InteractionSuggestionAccepted  InteractionKind = "suggestion_accepted"
	InteractionSuggestionDismissed InteractionKind = "suggestion_dismissed"
)

// InteractionEvent records one user interaction with the input extension.
type InteractionEvent struct {
	ID                 string          `json:"id"`
	CreatedAt          time.Time       `json:"created_at"`
	TextLength         int             `json:"text_length"`
	Label              engine.Label    `json:"label"`
	SuggestionAccepted bool            `json:"suggestion_accepted"`
	SuggestionLength   int             `json:"suggestion_length"`
	AnalysisMs         float32         `json:"analysis_ms"`
	Kind               InteractionKind `json:"interaction_kind"`
	WordCount          int             `json:"word_count"`
	HostAppContext     string          `json:"host_app_context,omitempty"`
}

// ToneEvent records one classification. Only the text's length and
// fingerprint are kept.
type ToneEvent struct {
	ID              string       `json:"id"`
	CreatedAt       time.Time    `json:"created_at"`
	TextLength      int          `json:"text_length"`
	TextFingerprint string       `json:"text_fingerprint"`
	Label           engine.Label `json:"label"`
	Confidence      float64      `json:"confidence"`
	AnalysisMs      float32      `json:"analysis_ms"`
	TableVersion    string       `json:"table_version,omitempty"`
	Source          string       `json:"source"`
}

// SuggestionEvent records whether a rewrite suggestion was used.
type SuggestionEvent struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	SuggestionLength int       `json:"suggestion_length"`
	Accepted         bool      `json:"accepted"`
	Context          string    `json:"context,omitempty"`
	Source           string    `json:"source"`
}

// AnalyticsEvent is a named event with a few small string fields.
type AnalyticsEvent struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Name      string            `json:"event_name"`
	Source    string            `json:"source"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func (InteractionEvent) Category() Category { return CategoryInteraction }
func (ToneEvent) Category() Category        { return CategoryTone }
func (SuggestionEvent) Category() Category  { return CategorySuggestion }
func (AnalyticsEvent) Category() Category   { return CategoryAnalytics }

func (e InteractionEvent) EventID() string { return e.ID }
func (e ToneEvent) EventID() string        { return e.ID }
func (e SuggestionEvent) EventID() string  { return e.ID }
func (e AnalyticsEvent) EventID() string   { return e.ID }

func (InteractionEvent) sealed() {}
func (ToneEvent) sealed()        {}
func (SuggestionEvent) sealed()  {}
func (AnalyticsEvent) sealed()   {}

// Limits applied to AnalyticsEvent.Fields.
const (
	MaxAnalyticsFields   = 16
	MaxAnalyticsFieldLen = 256
)

// Fingerprint returns the hex SHA-256 of text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NewToneEvent builds a ToneEvent from a classification. text is used only
// for its length and fingerprint.
func NewToneEvent(text string, r engine.Result, analysis time.Duration, source string) ToneEvent {
	return ToneEvent{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		TextLength:      len([]rune(text)),
		TextFingerprint: Fingerprint(text),
		Label:           r.Label,
		Confidence:      r.Confidence,
		AnalysisMs:      durationMs(analysis),
		TableVersion:    r.TableVersion,
		Source:          source,
	}
}

// InteractionInput carries the non-text facts of an interaction.
type InteractionInput struct {
	Kind               InteractionKind
	Label              engine.Label
	SuggestionAccepted bool
	SuggestionLength   int
	Analysis           time.Duration
	HostAppContext     string
}

// NewInteractionEvent builds an InteractionEvent. text is used only for its
// length and word count.
func NewInteractionEvent(text string, in InteractionInput) InteractionEvent {
	kind := in.Kind
	if kind == "" {
		kind = InteractionTyped
	}
	return InteractionEvent{
		ID:                 uuid.NewString(),
		CreatedAt:          time.Now().UTC(),
		TextLength:         len([]rune(text)),
		Label:              in.Label,
		SuggestionAccepted: in.SuggestionAccepted,
		SuggestionLength:   in.SuggestionLength,
		AnalysisMs:         durationMs(in.Analysis),
		Kind:               kind,
		WordCount:          engine.CountWords(text),
		HostAppContext:     TruncateRunes(in.HostAppContext, MaxAnalyticsFieldLen),
	}
}

// NewSuggestionEvent builds a SuggestionEvent for a suggestion of the given
// length.
func NewSuggestionEvent(suggestionLength int, accepted bool, context, source string) SuggestionEvent {
	return SuggestionEvent{
		ID:               uuid.NewString(),
		CreatedAt:        time.Now().UTC(),
		SuggestionLength: suggestionLength,
		Accepted:         accepted,
		Context:          TruncateRunes(context, MaxAnalyticsFieldLen),
		Source:           source,
	}
}

// NewAnalyticsEvent builds an AnalyticsEvent. Fields beyond
// MaxAnalyticsFields are dropped in key order and values are truncated to
// MaxAnalyticsFieldLen runes.
func NewAnalyticsEvent(name, source string, fields map[string]string) (AnalyticsEvent, error) {
	if name == "" {
		return AnalyticsEvent{}, fmt.Errorf("NewAnalyticsEvent: event name is required")
	}
	return AnalyticsEvent{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Name:      TruncateRunes(name, MaxAnalyticsFieldLen),
		Source:    source,
		Fields:    capFields(fields),
	}, nil
}

func capFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	keys := slices.Sorted(maps.Keys(fields))
	if len(keys) > MaxAnalyticsFields {
		keys = keys[:MaxAnalyticsFields]
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[TruncateRunes(k, MaxAnalyticsFieldLen)] = TruncateRunes(fields[k], MaxAnalyticsFieldLen)
	}
	return out
}

// TruncateRunes returns the first maxLen runes of s. It never splits a
// multi-byte UTF-8 character.
func TruncateRunes(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

func durationMs(d time.Duration) float32 {
	return float32(d) / float32(time.Millisecond)
}
