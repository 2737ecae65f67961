// Package embedindex implements the persistent embedding store: a
// per-chain manifest plus one vector file per block index, and a
// bounded in-memory LRU for query-side (text, model) -> vector lookups.
// The manifest is a small JSON index naming what exists, with the bulk
// payload split across individually addressable files so a single
// vector write never touches unrelated ones.
package embedindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cogledger/ledger/internal/atomicio"
	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/capability"
	"github.com/cogledger/ledger/internal/ledgererr"
	"github.com/cogledger/ledger/internal/store"
)

// ManifestEntry describes one embedded block.
type ManifestEntry struct {
	BlockIndex uint64    `json:"blockIndex"`
	Hash       string    `json:"hash"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Record is the persisted vector payload for one block.
type Record struct {
	Hash      string    `json:"hash"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entry is the read-side view combining manifest position and vector.
type Entry struct {
	BlockIndex uint64
	Hash       string
	Vector     []float32
}

// Index is the embedding store rooted at <home>/embeddings.
type Index struct {
	root string
}

// Open returns an Index rooted at embeddingsRoot (normally <home>/embeddings).
func Open(embeddingsRoot string) (*Index, error) {
	if err := atomicio.EnsureDir(embeddingsRoot); err != nil {
		return nil, err
	}
	return &Index{root: embeddingsRoot}, nil
}

func (ix *Index) chainDir(chain string) string {
	return filepath.Join(ix.root, chain)
}

func (ix *Index) manifestPath(chain string) string {
	return filepath.Join(ix.chainDir(chain), "index.json")
}

func (ix *Index) blockPath(chain string, blockIndex uint64) string {
	return filepath.Join(ix.chainDir(chain), "blocks", fmt.Sprintf("%d.json", blockIndex))
}

func (ix *Index) loadManifest(chain string) ([]ManifestEntry, error) {
	raw, err := os.ReadFile(ix.manifestPath(chain))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	return entries, nil
}

func (ix *Index) saveManifest(chain string, entries []ManifestEntry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].BlockIndex < entries[j].BlockIndex })
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	return atomicio.WriteFile(ix.manifestPath(chain), raw, atomicio.FileMode)
}

// Upsert records vector for (chain, blockIndex), idempotent on
// (chain, blockIndex): it replaces the stored vector only if hash
// differs from what is already recorded, so re-upserting the same
// (index, hash, vector) leaves the index byte-identical modulo
// updatedAt.
func (ix *Index) Upsert(chain string, blockIndex uint64, hash string, vector []float32) error {
	entries, err := ix.loadManifest(chain)
	if err != nil {
		return err
	}

	found := false
	changed := false
	for i := range entries {
		if entries[i].BlockIndex == blockIndex {
			found = true
			if entries[i].Hash != hash {
				changed = true
				entries[i].Hash = hash
				entries[i].UpdatedAt = time.Now().UTC()
			}
			break
		}
	}
	if !found {
		changed = true
		entries = append(entries, ManifestEntry{BlockIndex: blockIndex, Hash: hash, UpdatedAt: time.Now().UTC()})
	}
	if !changed {
		return nil
	}

	rec := Record{Hash: hash, Vector: vector, CreatedAt: time.Now().UTC()}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	if err := atomicio.WriteFile(ix.blockPath(chain, blockIndex), raw, atomicio.FileMode); err != nil {
		return err
	}
	return ix.saveManifest(chain, entries)
}

// Lookup returns every embedded block for chain, reading the manifest
// and then each block's vector file.
func (ix *Index) Lookup(chain string) ([]Entry, error) {
	entries, err := ix.loadManifest(chain)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		raw, err := os.ReadFile(ix.blockPath(chain, e.BlockIndex))
		if err != nil {
			return nil, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
		}
		out = append(out, Entry{BlockIndex: e.BlockIndex, Hash: rec.Hash, Vector: rec.Vector})
	}
	return out, nil
}

// HasIndex reports whether chain has any embedded blocks at all, used by
// the recall engine to decide whether semantic scoring is available.
func (ix *Index) HasIndex(chain string) bool {
	entries, err := ix.loadManifest(chain)
	return err == nil && len(entries) > 0
}

// Sync reads chain from s and upserts an embedding for every block whose
// content the index does not yet have a current vector for (missing, or
// present under a stale hash because the block's payload changed shape
// upstream of embedding — blocks are immutable once written, but the
// manifest hash-diff guard in Upsert stays the single source of truth
// for "already embedded" rather than duplicating it here). It embeds
// text variants, decisions, and summaries — the same content classes
// the autosummarizer itself will read — skipping vault blocks (the
// embedder must never see plaintext secrets) and credentials (no prose
// to embed). Returns the count of blocks newly embedded or re-embedded.
func Sync(ctx context.Context, ix *Index, s *store.Store, chain string, embedder capability.Embedder) (int, error) {
	if embedder == nil || !embedder.IsConfigured() {
		return 0, nil
	}
	blocks, err := s.ReadChain(chain)
	if err != nil {
		return 0, err
	}
	existing, err := ix.loadManifest(chain)
	if err != nil {
		return 0, err
	}
	byIndex := make(map[uint64]string, len(existing))
	for _, e := range existing {
		byIndex[e.BlockIndex] = e.Hash
	}

	updated := 0
	for _, b := range blocks {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		if !embeddable(b.Data.Type) {
			continue
		}
		if byIndex[b.Index] == b.Hash {
			continue
		}
		vec, err := embedder.Embed(ctx, b.Data.Content)
		if err != nil {
			return updated, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
		}
		if err := ix.Upsert(chain, b.Index, b.Hash, vec); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// embeddable reports whether a block's data.type carries prose worth
// embedding: free text, derived decisions, and summaries, but never
// vault secrets or bare credential metadata.
func embeddable(t block.Type) bool {
	return block.IsTextType(t) || t == block.TypeDecision || t == block.TypeSummary
}
