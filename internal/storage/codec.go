package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownCategory is returned when a record names no known category.
var ErrUnknownCategory = errors.New("unknown event category")

// Encode serializes an event for the shared store.
func Encode(e Event) (json.RawMessage, error) {
	if e == nil {
		return nil, errors.New("Encode: nil event")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("Encode %s: %w", e.Category(), err)
	}
	return b, nil
}

// Decode parses a stored record of the given category.
func Decode(c Category, raw json.RawMessage) (Event, error) {
	switch c {
	case CategoryInteraction:
		return decodeAs[InteractionEvent](raw)
	case CategoryTone:
		return decodeAs[ToneEvent](raw)
	case CategorySuggestion:
		return decodeAs[SuggestionEvent](raw)
	case CategoryAnalytics:
		return decodeAs[AnalyticsEvent](raw)
	default:
		return nil, fmt.Errorf("Decode %q: %w", c, ErrUnknownCategory)
	}
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("Decode %s: %w", v.Category(), err)
	}
	if v.EventID() == "" {
		return nil, fmt.Errorf("Decode %s: record has no id", v.Category())
	}
	return v, nil
}
