// Package capability defines the narrow external-collaborator
// interfaces the ledger core calls out to (Embedder, Classifier,
// Summarizer, Completion) and a resolver list that picks the first
// configured implementation. The shape — a small interface plus an
// ordered list of swap-in backends, each reporting whether it is
// usable — lets any number of HTTP-backed provider adapters
// (implemented by callers, out of scope here) be registered ahead of a
// local no-op fallback, the same way a build tag might pick between a
// dev stub and a real backend without the caller needing to know which
// one is live.
package capability

import "context"

// Embedder computes a fixed-dimension embedding vector for a piece of
// text. Name and Dim identify the model, since embeddings are only
// comparable within one model/dimensionality.
type Embedder interface {
	IsConfigured() bool
	Name() string
	Dim() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DecisionHint is the classifier's judgment about whether a block records
// a decision, and if so, enough structure to build a Decision Record.
type DecisionHint struct {
	IsDecision bool
	Title      string
	Chosen     string
	Options    []string
	Reasoning  string
	Confidence float64
}

// Classifier inspects a new block's content alongside a window of recent
// blocks (most-recent-last) and returns a DecisionHint.
type Classifier interface {
	IsConfigured() bool
	Classify(ctx context.Context, content string, window []string) (DecisionHint, error)
}

// Summarizer condenses a set of source texts into a single digest. hint
// carries caller-supplied context (e.g. "prefer concision", the chain
// name); it is opaque to the capability.
type Summarizer interface {
	IsConfigured() bool
	Summarize(ctx context.Context, texts []string, hint string) (string, error)
}

// Completion is the generic text-completion capability; it exists so
// callers (CLI, decision/summarize fallbacks) share one resolver shape
// even though the core only calls Embedder/Classifier/Summarizer
// directly.
type Completion interface {
	IsConfigured() bool
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Registry holds ordered candidate lists for each capability kind. The
// First* accessors return the first entry whose IsConfigured() is true,
// so callers can register several backends in priority order and let
// the registry pick the first one actually usable.
type Registry struct {
	Embedders   []Embedder
	Classifiers []Classifier
	Summarizers []Summarizer
	Completions []Completion
}

func (r Registry) FirstEmbedder() (Embedder, bool) {
	for _, e := range r.Embedders {
		if e != nil && e.IsConfigured() {
			return e, true
		}
	}
	return nil, false
}

func (r Registry) FirstClassifier() (Classifier, bool) {
	for _, c := range r.Classifiers {
		if c != nil && c.IsConfigured() {
			return c, true
		}
	}
	return nil, false
}

func (r Registry) FirstSummarizer() (Summarizer, bool) {
	for _, s := range r.Summarizers {
		if s != nil && s.IsConfigured() {
			return s, true
		}
	}
	return nil, false
}

func (r Registry) FirstCompletion() (Completion, bool) {
	for _, c := range r.Completions {
		if c != nil && c.IsConfigured() {
			return c, true
		}
	}
	return nil, false
}
