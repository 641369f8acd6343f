// Package engine implements the deterministic, rule-based tone and
// attachment-style classifier. Classification performs no I/O and keeps no
// state between calls beyond the current compiled table.
package engine

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Classifier scores text against a compiled Table. The table can be swapped
// at runtime; every call sees exactly one table version.
type Classifier struct {
	table atomic.Pointer[compiledTable]
}

// NewClassifier compiles t and returns a Classifier using it.
func NewClassifier(t *Table) (*Classifier, error) {
	ct, err := compile(t)
	if err != nil {
		return nil, fmt.Errorf("NewClassifier: %w", err)
	}
	c := &Classifier{}
	c.table.Store(ct)
	return c, nil
}

// Swap compiles t and replaces the active table. On error the previous
// table stays active.
func (c *Classifier) Swap(t *Table) error {
	ct, err := compile(t)
	if err != nil {
		return fmt.Errorf("Swap: %w", err)
	}
	c.table.Store(ct)
	return nil
}

// Version returns the active table version.
func (c *Classifier) Version() string {
	return c.table.Load().version
}

// Labels returns every label the active table can produce, in table order,
// followed by the table default if it is not already present.
func (c *Classifier) Labels() []Label {
	ct := c.table.Load()
	out := make([]Label, 0, len(ct.labels)+1)
	out = append(out, ct.labels...)
	for _, l := range ct.labels {
		if l == ct.defaultLabel {
			return out
		}
	}
	return append(out, ct.defaultLabel)
}

// Classify scores text and returns the dominant label. It never fails: text
// that matches nothing yields the default label with NeutralConfidence.
// opts may be nil.
func (c *Classifier) Classify(text string, opts *Options) Result {
	ct := c.table.Load()
	normalized := normalize(text)

	subscores := make(map[Label]float64, len(ct.labels))
	var signals []string

	for _, cat := range ct.categories {
		policy := opts.Policy(cat.label)
		if !policy.IsEnabled() {
			continue
		}
		var raw float64
		raw, signals = cat.score(normalized, signals)
		subscores[cat.label] += raw * policy.EffectiveWeight()
	}

	for _, rule := range ct.punctuation {
		policy := opts.Policy(rule.Label)
		if !policy.IsEnabled() {
			continue
		}
		n := strings.Count(normalized, rule.Mark)
		if rule.MaxCount > 0 && n > rule.MaxCount {
			n = rule.MaxCount
		}
		if n == 0 {
			continue
		}
		subscores[rule.Label] += float64(n) * rule.Weight * policy.EffectiveWeight()
		signals = append(signals, string(rule.Label)+":punct"+rule.Mark)
	}

	scores := make([]LabelScore, 0, len(ct.labels))
	for _, l := range ct.labels {
		if s, ok := subscores[l]; ok {
			scores = append(scores, LabelScore{Label: l, Score: s})
		}
	}

	agg := Aggregate(scores, ct.rank, opts.EffectiveDefault(ct.defaultLabel))
	return Result{
		Label:        agg.Label,
		Confidence:   agg.Confidence,
		Subscores:    subscores,
		Signals:      signals,
		TableVersion: ct.version,
	}
}
