package engine

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type keyword struct {
	term   string // normalized
	weight float64
}

type pattern struct {
	id     string
	re     *regexp.Regexp
	weight float64
}

// categoryScorer holds the compiled cues for one label.
type categoryScorer struct {
	label    Label
	keywords []keyword
	patterns []pattern
}

// score sums the weights of every cue present in text. text must already be
// normalized. Matched cue ids are appended to signals.
func (c *categoryScorer) score(text string, signals []string) (float64, []string) {
	var total float64

	for _, k := range c.keywords {
		if containsWord(text, k.term) {
			total += k.weight
			signals = append(signals, string(c.label)+":"+k.term)
		}
	}

	for _, p := range c.patterns {
		if p.re.MatchString(text) {
			total += p.weight
			signals = append(signals, string(c.label)+":"+p.id)
		}
	}

	return total, signals
}

// containsWord reports whether term occurs in text with a non-word rune (or
// the string edge) on both sides.
func containsWord(text, term string) bool {
	if term == "" {
		return false
	}
	offset := 0
	for {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}
