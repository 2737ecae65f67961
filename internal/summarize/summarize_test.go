package summarize

import (
	"context"
	"testing"
	"time"

	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/store"
	"github.com/cogledger/ledger/internal/telemetry"
)

type stubSummarizer struct {
	calls [][]string
}

func (s *stubSummarizer) IsConfigured() bool { return true }
func (s *stubSummarizer) Summarize(_ context.Context, texts []string, _ string) (string, error) {
	s.calls = append(s.calls, texts)
	joined := ""
	for _, t := range texts {
		joined += t + " "
	}
	return "summary of: " + joined, nil
}

func appendN(t *testing.T, s *store.Store, chain string, n int) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		if _, err := s.AppendBlock(chain, block.Data{
			Type: block.TypeJournal, Tags: []string{}, Content: "entry",
		}, now.Add(time.Duration(i)*time.Millisecond)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestMaybeNoOpBelowThreshold(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	appendN(t, s, "journal", 5)
	cap := &stubSummarizer{}
	sm := New(s, cap, telemetry.Nop(), 50)
	sm.Maybe(context.Background(), "journal")

	blocks, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(blocks) != 5 {
		t.Fatalf("expected no summary block below threshold, got %d blocks", len(blocks))
	}
}

func TestMaybeSummarizesAtThreshold(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	appendN(t, s, "journal", 3)
	cap := &stubSummarizer{}
	sm := New(s, cap, telemetry.Nop(), 3)
	sm.Maybe(context.Background(), "journal")

	blocks, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(blocks) != 4 {
		t.Fatalf("expected a summary block appended, got %d blocks", len(blocks))
	}
	last := blocks[3]
	if last.Data.Type != block.TypeSummary {
		t.Fatalf("expected summary block, got %q", last.Data.Type)
	}
	if last.Data.SummaryRange == nil || last.Data.SummaryRange.From != 0 || last.Data.SummaryRange.To != 2 {
		t.Fatalf("unexpected summary range: %+v", last.Data.SummaryRange)
	}
	if len(last.Data.SummaryRefs) != 3 {
		t.Fatalf("expected 3 summary refs, got %d", len(last.Data.SummaryRefs))
	}
	if last.Data.SummaryVersion != "1" {
		t.Fatalf("expected version 1, got %q", last.Data.SummaryVersion)
	}
}

func TestReRunOverCoveredRangeIsNoOpWithoutForce(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	appendN(t, s, "journal", 3)
	cap := &stubSummarizer{}
	sm := New(s, cap, telemetry.Nop(), 3)
	sm.Maybe(context.Background(), "journal")
	sm.Maybe(context.Background(), "journal")

	blocks, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(blocks) != 4 {
		t.Fatalf("expected re-run over covered range to be a no-op, got %d blocks", len(blocks))
	}
}

func TestForceSummarizesNewRangeAndBumpsVersion(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	appendN(t, s, "journal", 3)
	cap := &stubSummarizer{}
	sm := New(s, cap, telemetry.Nop(), 50)
	if err := sm.Force(context.Background(), "journal", false); err != nil {
		t.Fatalf("force: %v", err)
	}
	appendN(t, s, "journal", 2)
	if err := sm.Force(context.Background(), "journal", false); err != nil {
		t.Fatalf("force 2: %v", err)
	}

	blocks, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var summaries []block.Block
	for _, b := range blocks {
		if b.Data.Type == block.TypeSummary {
			summaries = append(summaries, b)
		}
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summary blocks, got %d", len(summaries))
	}
	if summaries[1].Data.SummaryVersion != "2" {
		t.Fatalf("expected second summary to bump version to 2, got %q", summaries[1].Data.SummaryVersion)
	}
	if summaries[1].Data.SummaryRange.From != 3 {
		t.Fatalf("expected second summary to start right after the first summary's covered range, got from=%d", summaries[1].Data.SummaryRange.From)
	}
}

func TestForceReSummarizesAlreadyCoveredRange(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	appendN(t, s, "journal", 3)
	cap := &stubSummarizer{}
	sm := New(s, cap, telemetry.Nop(), 50)
	if err := sm.Force(context.Background(), "journal", false); err != nil {
		t.Fatalf("force 1: %v", err)
	}
	// No new blocks appended: the covered range is identical to what the
	// first Force call already summarized.
	if err := sm.Force(context.Background(), "journal", false); err != nil {
		t.Fatalf("force 2: %v", err)
	}

	blocks, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var summaries []block.Block
	for _, b := range blocks {
		if b.Data.Type == block.TypeSummary {
			summaries = append(summaries, b)
		}
	}
	if len(summaries) != 2 {
		t.Fatalf("expected force to re-summarize an already-covered range, got %d summary blocks", len(summaries))
	}
	if summaries[1].Data.SummaryVersion != "2" {
		t.Fatalf("expected re-summarization to bump version to 2, got %q", summaries[1].Data.SummaryVersion)
	}
	if summaries[1].Data.SummaryRange.From != summaries[0].Data.SummaryRange.From || summaries[1].Data.SummaryRange.To != summaries[0].Data.SummaryRange.To {
		t.Fatalf("expected re-summarization to cover the identical range, got %+v vs %+v", summaries[1].Data.SummaryRange, summaries[0].Data.SummaryRange)
	}
}
