package embedindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/capability"
	"github.com/cogledger/ledger/internal/store"
	"github.com/cogledger/ledger/internal/telemetry"
)

func TestUpsertIdempotentSameHash(t *testing.T) {
	ix, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	vec := []float32{1, 0, 0, 0}
	if err := ix.Upsert("journal", 0, "h1", vec); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	before, err := ix.loadManifest("journal")
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if err := ix.Upsert("journal", 0, "h1", vec); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	after, err := ix.loadManifest("journal")
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if before[0].UpdatedAt != after[0].UpdatedAt {
		t.Fatalf("expected identical updatedAt on no-op re-upsert")
	}
}

func TestUpsertReplacesOnHashChange(t *testing.T) {
	ix, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := ix.Upsert("journal", 0, "h1", []float32{1, 0}); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if err := ix.Upsert("journal", 0, "h2", []float32{0, 1}); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	entries, err := ix.Lookup("journal")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(entries) != 1 || entries[0].Hash != "h2" {
		t.Fatalf("expected single entry with updated hash, got %+v", entries)
	}
}

func TestLookupMultipleBlocks(t *testing.T) {
	ix, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := uint64(0); i < 3; i++ {
		if err := ix.Upsert("journal", i, "h", []float32{float32(i)}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	entries, err := ix.Lookup("journal")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestQueryCacheHitMissAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c, err := NewQueryCache(10, path)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if _, ok := c.Get("hello", "m1"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Put("hello", "m1", []float32{1, 2, 3})
	if v, ok := c.Get("hello", "m1"); !ok || len(v) != 3 {
		t.Fatalf("expected hit with stored vector")
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit 1 miss, got %+v", stats)
	}

	if err := c.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}
	reloaded, err := NewQueryCache(10, path)
	if err != nil {
		t.Fatalf("new cache 2: %v", err)
	}
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if v, ok := reloaded.Get("hello", "m1"); !ok || len(v) != 3 {
		t.Fatalf("expected persisted cache to reload, got ok=%v v=%v", ok, v)
	}
}

func TestSyncEmbedsNewBlocksAndSkipsVault(t *testing.T) {
	s, err := store.Open(t.TempDir(), telemetry.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	now := time.Now().UTC()
	j0, err := s.AppendBlock("journal", block.Data{Type: block.TypeJournal, Tags: []string{}, Content: "first entry"}, now)
	if err != nil {
		t.Fatalf("append j0: %v", err)
	}
	if _, err := s.AppendBlock("vault", block.Data{Type: block.TypeVault, Tags: []string{}, Encrypted: "x", IV: "y", KeyID: "k"}, now); err != nil {
		t.Fatalf("append vault block: %v", err)
	}

	ix, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	embedder := capability.LocalHashEmbedder{}

	n, err := Sync(context.Background(), ix, s, "journal", embedder)
	if err != nil {
		t.Fatalf("sync journal: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 block embedded, got %d", n)
	}
	entries, err := ix.Lookup("journal")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(entries) != 1 || entries[0].BlockIndex != j0.Index {
		t.Fatalf("expected journal block embedded, got %+v", entries)
	}

	nVault, err := Sync(context.Background(), ix, s, "vault", embedder)
	if err != nil {
		t.Fatalf("sync vault: %v", err)
	}
	if nVault != 0 {
		t.Fatalf("expected vault blocks never embedded, got %d", nVault)
	}

	// Re-running Sync over an unchanged chain is a no-op.
	again, err := Sync(context.Background(), ix, s, "journal", embedder)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected idempotent second sync, got %d newly embedded", again)
	}
}
