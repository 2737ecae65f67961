package embedindex

import (
	"encoding/json"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cogledger/ledger/internal/atomicio"
	"github.com/cogledger/ledger/internal/ledgererr"
)

// cacheKey is the (text, model) pair the query-side cache is keyed on.
type cacheKey struct {
	Text  string
	Model string
}

// CacheStats reports observability counters for the query-side cache.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}

// HitRate returns Hits / (Hits + Misses), or 0 with no lookups yet.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// QueryCache is the bounded in-memory LRU of (text, model) -> vector used
// on the query side of recall, backed by hashicorp/golang-lru/v2 (adopted
// from the dependency stack of the MetalBlockchain-coreth reference repo,
// which depends on golang-lru for its own in-memory caches) rather than
// a hand-rolled eviction list.
type QueryCache struct {
	mu    sync.Mutex
	cache *lru.Cache[cacheKey, []float32]
	stats CacheStats
	path  string
}

type cachePersistEntry struct {
	Text   string    `json:"text"`
	Model  string    `json:"model"`
	Vector []float32 `json:"vector"`
}

// NewQueryCache creates an LRU bounded to maxEntries. If path is
// non-empty, Load will read a prior snapshot from it and Persist will
// opportunistically write one back via atomic replace.
func NewQueryCache(maxEntries int, path string) (*QueryCache, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	c, err := lru.New[cacheKey, []float32](maxEntries)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	return &QueryCache{cache: c, path: path}, nil
}

// Get returns the cached vector for (text, model), updating hit/miss
// stats.
func (q *QueryCache) Get(text, model string) ([]float32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.cache.Get(cacheKey{Text: text, Model: model})
	if ok {
		q.stats.Hits++
	} else {
		q.stats.Misses++
	}
	return v, ok
}

// Put records vector for (text, model).
func (q *QueryCache) Put(text, model string, vector []float32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cache.Add(cacheKey{Text: text, Model: model}, vector)
}

// Stats returns a snapshot of the cache's hit/miss counters.
func (q *QueryCache) Stats() CacheStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Load populates the cache from the on-disk snapshot at q.path, if any.
func (q *QueryCache) Load() error {
	if q.path == "" {
		return nil
	}
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	var entries []cachePersistEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		q.cache.Add(cacheKey{Text: e.Text, Model: e.Model}, e.Vector)
	}
	return nil
}

// Persist writes the current cache contents to q.path via atomic
// replace, under the per-process mutex guarding cache file updates.
func (q *QueryCache) Persist() error {
	if q.path == "" {
		return nil
	}
	q.mu.Lock()
	keys := q.cache.Keys()
	entries := make([]cachePersistEntry, 0, len(keys))
	for _, k := range keys {
		v, ok := q.cache.Peek(k)
		if !ok {
			continue
		}
		entries = append(entries, cachePersistEntry{Text: k.Text, Model: k.Model, Vector: v})
	}
	q.mu.Unlock()

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	return atomicio.WriteFile(q.path, raw, atomicio.FileMode)
}
