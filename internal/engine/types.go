package engine

// Label is a tone or attachment-style classification outcome.
type Label string

const (
	LabelSecure       Label = "secure"
	LabelAnxious      Label = "anxious"
	LabelAvoidant     Label = "avoidant"
	LabelDisorganized Label = "disorganized"
	LabelAlert        Label = "alert"
	LabelCaution      Label = "caution"
	LabelGentle       Label = "gentle"
	LabelDirect       Label = "direct"
	LabelNeutral      Label = "neutral"
)

// String returns the lowercase label name.
func (l Label) String() string {
	return string(l)
}

// NeutralConfidence is the confidence reported when no category scored.
const NeutralConfidence = 0.5

// Result is the outcome of a single Classify call. It is produced fresh per
// call and never holds the classified text.
type Result struct {
	Label        Label             `json:"label"`
	Confidence   float64           `json:"confidence"`
	Subscores    map[Label]float64 `json:"subscores"`
	Signals      []string          `json:"signals,omitempty"` // matched cue ids
	TableVersion string            `json:"table_version"`
}

// Table is the versioned keyword/weight data a Classifier scores against.
// It is plain data so it can be loaded from files and swapped at runtime.
type Table struct {
	Version      string            `json:"version" toml:"version"`
	DefaultLabel Label             `json:"default_label" toml:"default_label"`
	Priority     []Label           `json:"priority" toml:"priority"` // tie-break order, first wins
	Categories   []CategorySpec    `json:"categories" toml:"categories"`
	Punctuation  []PunctuationRule `json:"punctuation,omitempty" toml:"punctuation"`
}

// CategorySpec lists the cues that score toward one label.
type CategorySpec struct {
	Label    Label             `json:"label" toml:"label"`
	Keywords []WeightedTerm    `json:"keywords,omitempty" toml:"keywords"`
	Patterns []WeightedPattern `json:"patterns,omitempty" toml:"patterns"`
}

// WeightedTerm is a word or phrase matched case-insensitively on word
// boundaries. A term contributes its weight once no matter how often it occurs.
type WeightedTerm struct {
	Term   string  `json:"term" toml:"term"`
	Weight float64 `json:"weight" toml:"weight"`
}

// WeightedPattern is a regular expression cue, matched case-insensitively.
type WeightedPattern struct {
	ID      string  `json:"id" toml:"id"`
	Pattern string  `json:"pattern" toml:"pattern"`
	Weight  float64 `json:"weight" toml:"weight"`
}

// PunctuationRule adds Weight to Label for each occurrence of Mark, up to
// MaxCount occurrences (0 means no cap).
type PunctuationRule struct {
	Mark     string  `json:"mark" toml:"mark"`
	Label    Label   `json:"label" toml:"label"`
	Weight   float64 `json:"weight" toml:"weight"`
	MaxCount int     `json:"max_count,omitempty" toml:"max_count"`
}
