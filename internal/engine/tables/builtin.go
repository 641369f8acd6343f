// Package tables provides classifier keyword tables: the built-in default,
// file loading with schema validation, and hot reload.
package tables

import "github.com/jwgray1010/Unsaid-sub003/internal/engine"

// BuiltinVersion identifies the compiled-in table.
const BuiltinVersion = "builtin-2026.1"

// builtinPriority is the tie-break order: the most safety-relevant labels win
// ties so an equal alert/secure split never reads as reassuring.
var builtinPriority = []engine.Label{
	engine.LabelAlert,
	engine.LabelCaution,
	engine.LabelAnxious,
	engine.LabelDisorganized,
	engine.LabelAvoidant,
	engine.LabelSecure,
	engine.LabelDirect,
	engine.LabelGentle,
}

func terms(weight float64, list ...string) []engine.WeightedTerm {
	out := make([]engine.WeightedTerm, len(list))
	for i, t := range list {
		out[i] = engine.WeightedTerm{Term: t, Weight: weight}
	}
	return out
}

func join(groups ...[]engine.WeightedTerm) []engine.WeightedTerm {
	var out []engine.WeightedTerm
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Builtin returns a fresh copy of the compiled-in table.
func Builtin() *engine.Table {
	return &engine.Table{
		Version:      BuiltinVersion,
		DefaultLabel: engine.LabelNeutral,
		Priority:     append([]engine.Label(nil), builtinPriority...),
		Categories: []engine.CategorySpec{
			{
				Label: engine.LabelAlert,
				Keywords: join(
					terms(2.0, "hate you", "shut up", "screw you", "never talk to me"),
					terms(1.5, "stupid", "idiot", "pathetic", "disgusting", "worthless"),
					terms(1.0, "hate", "worst", "sick of you"),
				),
				Patterns: []engine.WeightedPattern{
					{ID: "threat", Pattern: `\b(i'?ll|i will|gonna)\s+(hurt|ruin|destroy)\s+you\b`, Weight: 3.0},
					{ID: "you_are_insult", Pattern: `\byou'?re?\s+(so\s+)?(useless|selfish|crazy)\b`, Weight: 1.5},
				},
			},
			{
				Label: engine.LabelCaution,
				Keywords: join(
					terms(1.0, "seriously", "calm down", "i told you", "as usual", "obviously", "you should", "you need to"),
					terms(0.75, "fine", "again", "whatever you want", "if you say so"),
				),
				Patterns: []engine.WeightedPattern{
					{ID: "sarcastic_thanks", Pattern: `\b(thanks|great|wonderful)\s+a\s+lot\b`, Weight: 1.0},
				},
			},
			{
				Label: engine.LabelAnxious,
				Keywords: join(
					terms(1.5, "ignore me", "ignoring me", "panic", "panicking", "are you mad", "are you upset",
						"you don't care", "don't leave", "abandon", "what did i do"),
					terms(1.0, "always", "never", "worried", "scared", "need you", "please answer", "please respond"),
				),
				Patterns: []engine.WeightedPattern{
					{ID: "why_no_reply", Pattern: `\bwhy\s+(aren'?t|won'?t|didn'?t|haven'?t)\s+you\s+(answer|answered|reply|replied|respond|responded|text|texted)`, Weight: 1.5},
				},
			},
			{
				Label: engine.LabelDisorganized,
				Keywords: join(
					terms(1.5, "i don't know what i want", "push you away", "come here go away", "i need you but"),
					terms(1.0, "confused", "don't trust", "mixed up", "i can't decide", "falling apart"),
				),
			},
			{
				Label: engine.LabelAvoidant,
				Keywords: join(
					terms(1.5, "leave me alone", "need space", "don't want to talk"),
					terms(1.0, "i'm fine", "not a big deal", "doesn't matter", "i'm busy", "whatever"),
					terms(0.5, "later", "i guess"),
				),
			},
			{
				Label: engine.LabelSecure,
				Keywords: join(
					terms(1.5, "i understand", "i hear you", "that makes sense", "we can work", "let's talk"),
					terms(1.0, "thank you", "i appreciate", "i feel", "i trust", "take your time", "no worries", "love you"),
				),
			},
			{
				Label: engine.LabelDirect,
				Keywords: join(
					terms(1.0, "right now", "immediately", "asap", "do it", "must", "stop"),
					terms(0.5, "now", "need this"),
				),
			},
			{
				Label: engine.LabelGentle,
				Keywords: join(
					terms(1.0, "would you mind", "when you have time", "no pressure", "if you can"),
					terms(0.5, "please", "sorry", "maybe", "hope"),
				),
			},
		},
		Punctuation: []engine.PunctuationRule{
			{Mark: "!", Label: engine.LabelDirect, Weight: 0.5, MaxCount: 3},
			{Mark: "??", Label: engine.LabelAnxious, Weight: 0.5, MaxCount: 2},
			{Mark: "...", Label: engine.LabelAvoidant, Weight: 0.25, MaxCount: 2},
		},
	}
}
