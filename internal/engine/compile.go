package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrEmptyVersion  = errors.New("table version is required")
	ErrEmptyDefault  = errors.New("table default_label is required")
	ErrNoCategories  = errors.New("table has no categories")
	ErrInvalidWeight = errors.New("weights must be positive")
)

// compiledTable is the immutable, ready-to-score form of a Table.
type compiledTable struct {
	version      string
	defaultLabel Label
	categories   []*categoryScorer
	punctuation  []PunctuationRule
	rank         map[Label]int
	labels       []Label // every label that can carry a score, in table order
}

// compile validates a table and precompiles its cues.
func compile(t *Table) (*compiledTable, error) {
	if t == nil {
		return nil, errors.New("table: nil table")
	}
	if strings.TrimSpace(t.Version) == "" {
		return nil, ErrEmptyVersion
	}
	if t.DefaultLabel == "" {
		return nil, ErrEmptyDefault
	}
	if len(t.Categories) == 0 {
		return nil, ErrNoCategories
	}

	ct := &compiledTable{
		version:      t.Version,
		defaultLabel: t.DefaultLabel,
		rank:         make(map[Label]int),
	}
	known := make(map[Label]bool)

	for _, spec := range t.Categories {
		if spec.Label == "" {
			return nil, errors.New("table: category with empty label")
		}
		if known[spec.Label] {
			return nil, fmt.Errorf("table: duplicate category %q", spec.Label)
		}
		known[spec.Label] = true
		ct.labels = append(ct.labels, spec.Label)

		scorer := &categoryScorer{label: spec.Label}
		for _, kw := range spec.Keywords {
			term := normalize(kw.Term)
			if strings.TrimSpace(term) == "" {
				return nil, fmt.Errorf("table: %s: empty keyword", spec.Label)
			}
			if kw.Weight <= 0 {
				return nil, fmt.Errorf("table: %s keyword %q: %w", spec.Label, kw.Term, ErrInvalidWeight)
			}
			scorer.keywords = append(scorer.keywords, keyword{term: term, weight: kw.Weight})
		}
		for _, p := range spec.Patterns {
			if p.Weight <= 0 {
				return nil, fmt.Errorf("table: %s pattern %q: %w", spec.Label, p.ID, ErrInvalidWeight)
			}
			re, err := regexp.Compile("(?i)" + p.Pattern)
			if err != nil {
				return nil, fmt.Errorf("table: %s pattern %q: %w", spec.Label, p.ID, err)
			}
			id := p.ID
			if id == "" {
				id = p.Pattern
			}
			scorer.patterns = append(scorer.patterns, pattern{id: id, re: re, weight: p.Weight})
		}
		ct.categories = append(ct.categories, scorer)
	}

	for _, rule := range t.Punctuation {
		if rule.Mark == "" || rule.Label == "" {
			return nil, errors.New("table: punctuation rule needs mark and label")
		}
		if rule.Weight <= 0 {
			return nil, fmt.Errorf("table: punctuation %q: %w", rule.Mark, ErrInvalidWeight)
		}
		if rule.MaxCount < 0 {
			return nil, fmt.Errorf("table: punctuation %q: negative max_count", rule.Mark)
		}
		if !known[rule.Label] {
			known[rule.Label] = true
			ct.labels = append(ct.labels, rule.Label)
		}
		ct.punctuation = append(ct.punctuation, rule)
	}

	for i, l := range t.Priority {
		if !known[l] {
			return nil, fmt.Errorf("table: priority references unknown label %q", l)
		}
		if _, dup := ct.rank[l]; dup {
			return nil, fmt.Errorf("table: duplicate priority label %q", l)
		}
		ct.rank[l] = i
	}
	// Labels missing from the priority list rank after it, in table order.
	next := len(t.Priority)
	for _, l := range ct.labels {
		if _, ok := ct.rank[l]; !ok {
			ct.rank[l] = next
			next++
		}
	}

	return ct, nil
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

// Validate reports whether t would compile.
func Validate(t *Table) error {
	_, err := compile(t)
	return err
}

// normalize applies NFKC, folds case and straightens typographic apostrophes
// so table terms and user text compare equal.
func normalize(s string) string {
	s = norm.NFKC.String(s)
	s = apostrophes.Replace(s)
	return cases.Fold().String(s)
}
