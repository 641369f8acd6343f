package engine

import "math"

// Options adjusts a single Classify call. A nil *Options, a missing category
// entry, and nil fields all mean "use the table as-is".
type Options struct {
	Categories   map[Label]CategoryPolicy `json:"categories,omitempty"`
	DefaultLabel Label                    `json:"default_label,omitempty"`
}

// Policy returns the policy for a label. If the Options is nil or the label is
// missing, returns a zero-value CategoryPolicy.
func (o *Options) Policy(label Label) CategoryPolicy {
	if o == nil || o.Categories == nil {
		return CategoryPolicy{}
	}
	return o.Categories[label]
}

// EffectiveDefault returns the label reported when nothing scores.
func (o *Options) EffectiveDefault(tableDefault Label) Label {
	if o == nil || o.DefaultLabel == "" {
		return tableDefault
	}
	return o.DefaultLabel
}

// CategoryPolicy controls one label's contribution for a call.
// All pointer fields use nil to mean "use the table default".
type CategoryPolicy struct {
	Enabled *bool    `json:"enabled,omitempty"` // nil = enabled
	Weight  *float64 `json:"weight,omitempty"`  // nil = 1.0, multiplies the raw score
}

// IsEnabled returns whether the category scores at all.
// A nil Enabled field defaults to true.
func (cp CategoryPolicy) IsEnabled() bool {
	if cp.Enabled == nil {
		return true
	}
	return *cp.Enabled
}

// EffectiveWeight returns the score multiplier. Negative values clamp to 0;
// NaN and infinite values are ignored like a nil weight.
func (cp CategoryPolicy) EffectiveWeight() float64 {
	if cp.Weight == nil || math.IsNaN(*cp.Weight) || math.IsInf(*cp.Weight, 0) {
		return 1
	}
	if *cp.Weight < 0 {
		return 0
	}
	return *cp.Weight
}
