package engine

import "math"

// LabelScore is one label's summed score for a call.
type LabelScore struct {
	Label Label
	Score float64
}

// AggregateResult holds the dominant label and its confidence.
type AggregateResult struct {
	Label      Label
	Confidence float64
}

// Aggregate takes per-label scores and applies the selection rules.
//
// Rules (applied in order):
//  1. If the sum of positive scores is 0 → defaultLabel with NeutralConfidence
//  2. The highest score wins; equal scores go to the lower rank
//  3. Confidence = winning score / sum of positive scores, clamped to [0,1]
//
// NaN scores are ignored.
//
// Labels absent from rank sort after every ranked label, then by position in
// scores, so the outcome never depends on map iteration.
func Aggregate(scores []LabelScore, rank map[Label]int, defaultLabel Label) AggregateResult {
	var total float64
	best := -1

	for i, s := range scores {
		if s.Score <= 0 || math.IsNaN(s.Score) {
			continue
		}
		total += s.Score

		if best < 0 || s.Score > scores[best].Score {
			best = i
			continue
		}
		if s.Score == scores[best].Score && outranks(s.Label, scores[best].Label, rank) {
			best = i
		}
	}

	if best < 0 || total <= 0 {
		return AggregateResult{Label: defaultLabel, Confidence: NeutralConfidence}
	}

	return AggregateResult{
		Label:      scores[best].Label,
		Confidence: clamp01(scores[best].Score / total),
	}
}

func outranks(a, b Label, rank map[Label]int) bool {
	ra, okA := rank[a]
	rb, okB := rank[b]
	switch {
	case okA && okB:
		return ra < rb
	case okA:
		return true
	default:
		return false
	}
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
