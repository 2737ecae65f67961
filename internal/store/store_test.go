package store

import (
	"testing"
	"time"

	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/ledgererr"
	"github.com/cogledger/ledger/internal/soul"
)

func mustOpen(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestAppendAndVerify(t *testing.T) {
	s := mustOpen(t)
	b, err := s.AppendBlock("journal", block.Data{Type: block.TypeJournal, Content: "hello", Tags: []string{"t"}}, time.Now())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if b.Index != 0 {
		t.Fatalf("expected index 0, got %d", b.Index)
	}
	if b.PrevHash != block.ZeroHash {
		t.Fatalf("expected zero prev_hash")
	}

	chain, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	if len(chain) != 1 || chain[0].Hash != b.Hash {
		t.Fatalf("read_chain mismatch")
	}
	valid, _, errs := soul.VerifyChain(chain)
	if !valid {
		t.Fatalf("expected valid chain, errs=%v", errs)
	}
}

func TestAppendSerializesIndices(t *testing.T) {
	s := mustOpen(t)
	for i := 0; i < 5; i++ {
		if _, err := s.AppendBlock("journal", block.Data{Type: block.TypeJournal, Content: "e"}, time.Now()); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	stats, err := s.ChainStats("journal")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Blocks != 5 {
		t.Fatalf("expected 5 blocks, got %d", stats.Blocks)
	}
	if stats.Last.Index != 4 {
		t.Fatalf("expected last index 4, got %d", stats.Last.Index)
	}
}

func TestListChains(t *testing.T) {
	s := mustOpen(t)
	if _, err := s.AppendBlock("journal", block.Data{Type: block.TypeJournal, Content: "e"}, time.Now()); err != nil {
		t.Fatalf("append journal: %v", err)
	}
	if _, err := s.AppendBlock("ops", block.Data{Type: block.TypeOps, Content: "e"}, time.Now()); err != nil {
		t.Fatalf("append ops: %v", err)
	}
	chains, err := s.ListChains()
	if err != nil {
		t.Fatalf("list chains: %v", err)
	}
	if len(chains) != 2 {
		t.Fatalf("expected 2 chains, got %v", chains)
	}
}

func TestHeadOnEmptyChain(t *testing.T) {
	s := mustOpen(t)
	h, err := s.Head("nonexistent")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if h != nil {
		t.Fatalf("expected nil head for empty chain")
	}
}

func TestAppendRejectsSoulViolationWithoutPartialState(t *testing.T) {
	s := mustOpen(t)
	if _, err := s.AppendBlock("journal", block.Data{Type: block.TypeJournal, Content: ""}, time.Now()); err == nil {
		t.Fatalf("expected soul violation for empty content")
	} else if ledgererr.CodeOf(err) != ledgererr.CodeSoulViolation {
		t.Fatalf("expected SOUL_VIOLATION, got %v", err)
	}
	chain, err := s.ReadChain("journal")
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	if len(chain) != 0 {
		t.Fatalf("expected no blocks persisted after rejected append, got %d", len(chain))
	}
}
