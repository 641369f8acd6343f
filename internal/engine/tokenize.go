package engine

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is a word or punctuation mark in the analyzed text.
type Token struct {
	Text  string `json:"text"`
	Lower string `json:"lower"`
	Index int    `json:"i"`
	Punct bool   `json:"punct,omitempty"`
}

// Span is a half-open byte range into the analyzed text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Analysis is the lightweight structural breakdown of a text.
type Analysis struct {
	Tokens    []Token `json:"tokens"`
	Sentences []Span  `json:"sents"`
	WordCount int     `json:"word_count"`
}

// Analyze splits text into word and punctuation tokens and sentence spans.
// Whitespace separates tokens and is never emitted.
func Analyze(text string) Analysis {
	var a Analysis

	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case isWordRune(r) && r != '\'':
			start := i
			i = scanWord(text, i)
			word := text[start:i]
			a.Tokens = append(a.Tokens, Token{Text: word, Lower: strings.ToLower(word), Index: len(a.Tokens)})
			a.WordCount++
		default:
			mark := text[i : i+size]
			a.Tokens = append(a.Tokens, Token{Text: mark, Lower: mark, Index: len(a.Tokens), Punct: true})
			i += size
		}
	}

	a.Sentences = sentences(text)
	return a
}

// CountWords returns the number of word tokens without building them.
func CountWords(text string) int {
	n := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if isWordRune(r) && r != '\'' {
			i = scanWord(text, i)
			n++
			continue
		}
		i += size
	}
	return n
}

// scanWord returns the end of the word starting at i. Apostrophes are kept
// inside a word ("don't") but never end one.
func scanWord(text string, i int) int {
	end := i
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isWordRune(r) {
			break
		}
		i += size
		if r != '\'' {
			end = i
		}
	}
	return end
}

// sentences splits on runs of . ! ? followed by whitespace or end of text.
func sentences(text string) []Span {
	var spans []Span
	start := -1

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if start < 0 && !unicode.IsSpace(r) {
			start = i
		}
		i += size

		if r != '.' && r != '!' && r != '?' {
			continue
		}
		for i < len(text) && strings.ContainsRune(".!?", rune(text[i])) {
			i++
		}
		if i < len(text) {
			next, _ := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(next) {
				continue
			}
		}
		if start >= 0 {
			spans = append(spans, Span{Start: start, End: i})
			start = -1
		}
	}

	if start >= 0 {
		end := len(strings.TrimRightFunc(text, unicode.IsSpace))
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}
