package decision

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/capability"
	"github.com/cogledger/ledger/internal/store"
	"github.com/cogledger/ledger/internal/telemetry"
)

type stubClassifier struct {
	hint capability.DecisionHint
	err  error
}

func (s stubClassifier) IsConfigured() bool { return true }
func (s stubClassifier) Classify(_ context.Context, _ string, _ []string) (capability.DecisionHint, error) {
	return s.hint, s.err
}

func TestDetectAppendsDecisionBlockAboveThreshold(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	now := time.Now().UTC()
	appended, err := s.AppendBlock("journal", block.Data{
		Type: block.TypeJournal, Tags: []string{}, Content: "decided to use postgres over mysql",
	}, now)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	classifier := stubClassifier{hint: capability.DecisionHint{
		IsDecision: true,
		Title:      "database choice",
		Chosen:     "postgres",
		Options:    []string{"postgres", "mysql"},
		Reasoning:  "better JSON support",
		Confidence: 0.9,
	}}
	d := New(s, classifier, telemetry.Nop())
	d.Detect(context.Background(), appended)

	blocks, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks after detection, got %d", len(blocks))
	}
	last := blocks[1]
	if last.Data.Type != block.TypeDecision {
		t.Fatalf("expected decision block, got %q", last.Data.Type)
	}
	if last.Data.SourceRef == nil || last.Data.SourceRef.Index != appended.Index {
		t.Fatalf("expected source_ref pointing at origin block, got %+v", last.Data.SourceRef)
	}
	var rec Record
	if err := json.Unmarshal([]byte(last.Data.Content), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Chosen != "postgres" || rec.Schema != "decision:v1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDetectSkipsBelowConfidenceThreshold(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	appended, err := s.AppendBlock("journal", block.Data{
		Type: block.TypeJournal, Tags: []string{}, Content: "maybe postgres maybe mysql",
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	classifier := stubClassifier{hint: capability.DecisionHint{
		IsDecision: true, Title: "x", Chosen: "postgres", Options: []string{"postgres"}, Confidence: 0.4,
	}}
	d := New(s, classifier, telemetry.Nop())
	d.Detect(context.Background(), appended)

	blocks, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected no decision block below threshold, got %d blocks", len(blocks))
	}
}

// TestDetectFixedPoint verifies that re-running the detector over a
// block that already has a source_ref (i.e. is itself a derived
// decision block) does not append a further decision.
func TestDetectFixedPoint(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	origin, err := s.AppendBlock("journal", block.Data{
		Type: block.TypeJournal, Tags: []string{}, Content: "decided to use postgres",
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("append origin: %v", err)
	}
	classifier := stubClassifier{hint: capability.DecisionHint{
		IsDecision: true, Title: "db", Chosen: "postgres", Options: []string{"postgres"}, Confidence: 0.9,
	}}
	d := New(s, classifier, telemetry.Nop())
	d.Detect(context.Background(), origin)

	blocks, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected exactly one derived decision block, got %d blocks", len(blocks))
	}
	decisionBlock := blocks[1]

	d.Detect(context.Background(), decisionBlock)

	blocksAfter, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read chain after re-detect: %v", err)
	}
	if len(blocksAfter) != 2 {
		t.Fatalf("expected detector to skip its own output, got %d blocks", len(blocksAfter))
	}
}

func TestDetectSwallowsClassifierErrorAsSystemBlock(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	appended, err := s.AppendBlock("journal", block.Data{
		Type: block.TypeJournal, Tags: []string{}, Content: "some entry",
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	classifier := stubClassifier{err: errClassifier{}}
	d := New(s, classifier, telemetry.Nop())
	d.Detect(context.Background(), appended)

	blocks, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	if len(blocks) != 2 || blocks[1].Data.Type != block.TypeSystem {
		t.Fatalf("expected a system diagnostic block, got %+v", blocks)
	}
}

// TestDetectSkipsNonTriggerTypes verifies that only journal/ask blocks
// are classified: build/ops/adr narrative and the detector's own
// system diagnostics must never feed back into classification.
func TestDetectSkipsNonTriggerTypes(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	classifier := stubClassifier{hint: capability.DecisionHint{
		IsDecision: true, Title: "x", Chosen: "postgres", Options: []string{"postgres"}, Confidence: 0.9,
	}}
	d := New(s, classifier, telemetry.Nop())

	for _, typ := range []block.Type{block.TypeBuild, block.TypeOps, block.TypeADR, block.TypeSystem} {
		appended, err := s.AppendBlock("journal", block.Data{
			Type: typ, Tags: []string{}, Content: "decided to use postgres over mysql",
		}, time.Now().UTC())
		if err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
		d.Detect(context.Background(), appended)
	}

	blocks, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	if len(blocks) != 4 {
		t.Fatalf("expected non-trigger types to never be classified, got %d blocks", len(blocks))
	}
}

type errClassifier struct{}

func (errClassifier) Error() string { return "classifier unavailable" }
