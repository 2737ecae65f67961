package capability

import (
	"context"
	"crypto/sha256"
	"strings"
)

// LocalHashEmbedder is a deterministic, always-configured fallback
// Embedder with no external dependency: it hashes the input text into a
// fixed-dimension vector. It exists so the ledger is fully usable (and
// its tests fully deterministic) with no Embedder capability wired in;
// the query engine only blends in semantic scoring if one is enabled
// and an embedding index actually exists.
type LocalHashEmbedder struct {
	Dimension int
}

func (e LocalHashEmbedder) IsConfigured() bool { return true }
func (e LocalHashEmbedder) Name() string       { return "local-hash" }
func (e LocalHashEmbedder) Dim() int {
	if e.Dimension <= 0 {
		return 32
	}
	return e.Dimension
}

func (e LocalHashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := e.Dim()
	out := make([]float32, dim)
	sum := sha256.Sum256([]byte(strings.ToLower(text)))
	for i := 0; i < dim; i++ {
		b := sum[i%len(sum)]
		out[i] = float32(b)/127.5 - 1.0
	}
	return out, nil
}

// NoopClassifier never detects a decision; it is the default when no
// Classifier capability has been wired in by the caller.
type NoopClassifier struct{}

func (NoopClassifier) IsConfigured() bool { return true }
func (NoopClassifier) Classify(_ context.Context, _ string, _ []string) (DecisionHint, error) {
	return DecisionHint{IsDecision: false}, nil
}

// ConcatSummarizer is a dependency-free fallback Summarizer: it truncates
// and joins the input texts rather than asking a model to condense them.
// Suitable only for tests and offline operation.
type ConcatSummarizer struct {
	MaxRunes int
}

func (s ConcatSummarizer) IsConfigured() bool { return true }

func (s ConcatSummarizer) Summarize(_ context.Context, texts []string, hint string) (string, error) {
	max := s.MaxRunes
	if max <= 0 {
		max = 500
	}
	joined := strings.Join(texts, " | ")
	r := []rune(joined)
	if len(r) > max {
		joined = string(r[:max]) + "…"
	}
	if hint != "" {
		return hint + ": " + joined, nil
	}
	return joined, nil
}
