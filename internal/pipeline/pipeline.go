// Package pipeline is the classifier call site: it classifies text, wraps
// the result into events and hands them to a Recorder. Nothing here returns
// an error to the input path or lets a panic escape.
package pipeline

import (
	"fmt"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
	"go.uber.org/zap"
)

// Recorder accepts events without blocking. *coordinator.Coordinator
// satisfies it.
type Recorder interface {
	Record(e storage.Event)
}

// Observation describes one piece of user text and where it came from.
type Observation struct {
	Text           string
	HostAppContext string
	// Kind defaults to storage.InteractionAnalyzed.
	Kind    storage.InteractionKind
	Options *engine.Options
}

// Pipeline turns classifier calls and user actions into recorded events.
type Pipeline struct {
	classifier *engine.Classifier
	recorder   Recorder
	source     string
	logger     *zap.Logger
}

// New creates a Pipeline. source is stamped on every event it emits.
func New(c *engine.Classifier, rec Recorder, source string, logger *zap.Logger) *Pipeline {
	return &Pipeline{classifier: c, recorder: rec, source: source, logger: logger}
}

// Classify runs the classifier without recording anything.
func (p *Pipeline) Classify(text string, opts *engine.Options) (res engine.Result) {
	defer p.guard("classify", func() { res = fallback(opts) })
	return p.classifier.Classify(text, opts)
}

// Labels returns the labels the active classifier table can produce.
func (p *Pipeline) Labels() []engine.Label {
	return p.classifier.Labels()
}

// ObserveText classifies obs.Text and records a ToneEvent and an
// InteractionEvent for it. The text itself is not retained.
func (p *Pipeline) ObserveText(obs Observation) (res engine.Result) {
	defer p.guard("observe_text", func() { res = fallback(obs.Options) })

	start := time.Now()
	res = p.classifier.Classify(obs.Text, obs.Options)
	took := time.Since(start)

	kind := obs.Kind
	if kind == "" {
		kind = storage.InteractionAnalyzed
	}
	p.recorder.Record(storage.NewToneEvent(obs.Text, res, took, p.source))
	p.recorder.Record(storage.NewInteractionEvent(obs.Text, storage.InteractionInput{
		Kind:           kind,
		Label:          res.Label,
		Analysis:       took,
		HostAppContext: obs.HostAppContext,
	}))
	return res
}

// ObserveSuggestion records whether a rewrite suggestion was accepted. Only
// the suggestion's length is kept.
func (p *Pipeline) ObserveSuggestion(suggestion string, accepted bool, hostAppContext string) {
	defer p.guard("observe_suggestion", nil)

	length := len([]rune(suggestion))
	kind := storage.InteractionSuggestionDismissed
	if accepted {
		kind = storage.InteractionSuggestionAccepted
	}
	p.recorder.Record(storage.NewSuggestionEvent(length, accepted, hostAppContext, p.source))
	p.recorder.Record(storage.NewInteractionEvent("", storage.InteractionInput{
		Kind:               kind,
		SuggestionAccepted: accepted,
		SuggestionLength:   length,
		HostAppContext:     hostAppContext,
	}))
}

// Track records a named analytics event. An empty name is rejected; nothing
// else can fail.
func (p *Pipeline) Track(name string, fields map[string]string) (err error) {
	defer p.guard("track", func() { err = fmt.Errorf("Track %q: recovered from panic", name) })

	e, err := storage.NewAnalyticsEvent(name, p.source, fields)
	if err != nil {
		return fmt.Errorf("Track: %w", err)
	}
	p.recorder.Record(e)
	return nil
}

// guard recovers a panic, logs it and runs onPanic.
func (p *Pipeline) guard(op string, onPanic func()) {
	if r := recover(); r != nil {
		p.logger.Error("pipeline panicked", zap.String("op", op), zap.Any("panic", r))
		if onPanic != nil {
			onPanic()
		}
	}
}

func fallback(opts *engine.Options) engine.Result {
	return engine.Result{
		Label:      opts.EffectiveDefault(engine.LabelNeutral),
		Confidence: engine.NeutralConfidence,
	}
}
