// Package recall implements the Query & Recall Engine (C7): scope
// filtering, lexical scoring, and an optional semantic blend over the
// embedding index, producing a deterministic total order. No teacher
// analog exists for the scoring arithmetic itself (the teacher has no
// retrieval/search code); the fan-out-score-sort-truncate control flow
// is grounded on the teacher's node.Miner.MineOne transaction-selection
// loop (node/miner.go: gather candidates, score/sort, cap the result)
// and the chain fan-out pattern of node/sync.go.
package recall

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/capability"
	"github.com/cogledger/ledger/internal/embedindex"
	"github.com/cogledger/ledger/internal/store"
)

// Query is the recall input of spec.md §4.7.
type Query struct {
	Text          string
	Chain         string
	Type          block.Type
	Tag           string
	Since         *time.Time
	Until         *time.Time
	Limit         int
	IncludeVault  bool
	SemanticOnly  bool
	NoSemantic    bool
	SemanticWeight float64
}

// Result is one scored, snippeted recall hit.
type Result struct {
	Chain     string
	Index     uint64
	Type      block.Type
	Timestamp time.Time
	Score     float64
	Snippet   string
}

// Engine wires together the Store, the embedding Index, and an Embedder
// capability to answer Query calls.
type Engine struct {
	store    *store.Store
	embed    *embedindex.Index
	embedder capability.Embedder
	cache    *embedindex.QueryCache
	now      func() time.Time
}

// New builds a recall Engine. embedder may be nil; semantic scoring is
// then unavailable regardless of query flags.
func New(s *store.Store, ix *embedindex.Index, embedder capability.Embedder) *Engine {
	return &Engine{store: s, embed: ix, embedder: embedder, now: time.Now}
}

// WithQueryCache attaches the query-side (text, model) -> vector LRU of
// spec.md §4.8 C8, so repeated queries against the same embedder skip
// re-embedding. Optional: a nil or never-called cache leaves Recall's
// behavior unchanged.
func (e *Engine) WithQueryCache(cache *embedindex.QueryCache) *Engine {
	e.cache = cache
	return e
}

func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.cache == nil || e.embedder == nil {
		return e.embedder.Embed(ctx, text)
	}
	model := e.embedder.Name()
	if v, ok := e.cache.Get(text, model); ok {
		return v, nil
	}
	v, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Put(text, model, v)
	return v, nil
}

// vaultChainPrefix names the convention used to mark a chain as a vault
// chain for the "exclude unless includeVault" scope rule of spec.md §4.7
// step 1. Vault blocks may also appear inside an otherwise-plain chain;
// matchesFilters below drops those unless includeVault is set.
const vaultChainPrefix = "vault"

func isVaultChain(chain string) bool {
	return chain == vaultChainPrefix || strings.HasPrefix(chain, vaultChainPrefix+"-")
}

// Recall executes q and returns up to q.Limit results in the
// deterministic total order of spec.md §4.7 step 4.
func (e *Engine) Recall(ctx context.Context, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	weight := q.SemanticWeight
	if weight == 0 {
		weight = 0.5
	}
	if q.SemanticOnly {
		weight = 1.0
	}

	chains, err := e.scopeChains(q)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		chain     string
		b         block.Block
		lexical   float64
		semantic  float64
		hasSem    bool
	}
	var candidates []candidate
	queryTokens := tokenize(q.Text)
	now := e.now()

	for _, chain := range chains {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isVaultChain(chain) && !q.IncludeVault {
			continue
		}
		blocks, err := e.store.ReadChain(chain)
		if err != nil {
			return nil, err
		}

		var vectors []embedindex.Entry
		semanticAvailable := !q.NoSemantic && e.embedder != nil && e.embed != nil && e.embed.HasIndex(chain)
		if semanticAvailable {
			vectors, err = e.embed.Lookup(chain)
			if err != nil {
				return nil, err
			}
		}
		vecByIndex := make(map[uint64][]float32, len(vectors))
		for _, v := range vectors {
			vecByIndex[v.BlockIndex] = v.Vector
		}

		var queryVec []float32
		if semanticAvailable {
			queryVec, err = e.embedQuery(ctx, q.Text)
			if err != nil {
				return nil, err
			}
		}

		for _, b := range blocks {
			if !matchesFilters(b, q) {
				continue
			}
			haystack := b.Data.Content + " " + strings.Join(b.Data.Tags, " ")
			c := candidate{
				chain:   chain,
				b:       b,
				lexical: lexicalScore(queryTokens, haystack, b.Timestamp, now),
			}
			if semanticAvailable {
				if vec, ok := vecByIndex[b.Index]; ok {
					c.semantic = cosineSimilarity01(queryVec, vec)
					c.hasSem = true
				}
			}
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	lexRaw := make([]float64, len(candidates))
	for i, c := range candidates {
		lexRaw[i] = c.lexical
	}
	lexNorm := normalizeScores(lexRaw)

	results := make([]Result, 0, len(candidates))
	for i, c := range candidates {
		final := lexNorm[i]
		if c.hasSem {
			final = (1-weight)*lexNorm[i] + weight*c.semantic
		} else if q.SemanticOnly {
			final = 0
		}
		results = append(results, Result{
			Chain:     c.chain,
			Index:     c.b.Index,
			Type:      c.b.Data.Type,
			Timestamp: c.b.Timestamp,
			Score:     round2(final),
			Snippet:   truncate(c.b.Data.Content, 200),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].Timestamp.After(results[j].Timestamp)
		}
		if results[i].Chain != results[j].Chain {
			return results[i].Chain < results[j].Chain
		}
		return results[i].Index < results[j].Index
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) scopeChains(q Query) ([]string, error) {
	if q.Chain != "" {
		return []string{q.Chain}, nil
	}
	return e.store.ListChains()
}

func matchesFilters(b block.Block, q Query) bool {
	if b.Data.Type == block.TypeVault && !q.IncludeVault {
		return false
	}
	if q.Type != "" && b.Data.Type != q.Type {
		return false
	}
	if q.Tag != "" {
		found := false
		for _, t := range b.Data.Tags {
			if strings.EqualFold(t, q.Tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Since != nil && b.Timestamp.Before(*q.Since) {
		return false
	}
	if q.Until != nil && b.Timestamp.After(*q.Until) {
		return false
	}
	return true
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
