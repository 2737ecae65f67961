// Package store implements the per-chain append-only log: C4 of
// SPEC_FULL.md. It generalizes the teacher's BlockStore (node/blockstore.go,
// one fixed canonical chain, hash-addressed block/header files plus a
// JSON canonical-index manifest) to many independently named chains,
// each its own directory of index-named block files, with a per-chain
// in-process mutex plus an on-disk advisory lock serializing writers.
package store

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cogledger/ledger/internal/atomicio"
	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/ledgererr"
	"github.com/cogledger/ledger/internal/soul"
	"github.com/cogledger/ledger/internal/telemetry"
)

// Stats mirrors the chain_stats() contract of spec.md §4.4.
type Stats struct {
	Blocks int
	First  *block.Block
	Last   *block.Block
}

// Store is the root handle over <home>/chains/. It is passed explicitly
// to every component that needs ledger access, never held in a
// package-level global (Design Note 9).
type Store struct {
	chainsRoot string
	log        telemetry.Logger

	mu     sync.Mutex
	chains map[string]*sync.Mutex
}

// Open returns a Store rooted at chainsRoot (normally <home>/chains).
func Open(chainsRoot string, log telemetry.Logger) (*Store, error) {
	if log == nil {
		log = telemetry.Nop()
	}
	if err := atomicio.EnsureDir(chainsRoot); err != nil {
		return nil, err
	}
	return &Store{
		chainsRoot: chainsRoot,
		log:        log.With("store"),
		chains:     make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) chainDir(chain string) string {
	return filepath.Join(s.chainsRoot, chain)
}

func (s *Store) chainMutex(chain string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chains[chain]
	if !ok {
		m = &sync.Mutex{}
		s.chains[chain] = m
	}
	return m
}

// AppendBlock validates, builds, and durably persists the next block of
// chain, running SOUL against the current tail before any bytes are
// written (spec.md §4.4/§7: the write path is strict, no partial state
// survives a rejected candidate).
func (s *Store) AppendBlock(chain string, data block.Data, now time.Time) (block.Block, error) {
	mu := s.chainMutex(chain)
	mu.Lock()
	defer mu.Unlock()

	dir := s.chainDir(chain)
	if err := atomicio.EnsureDir(dir); err != nil {
		return block.Block{}, err
	}

	lock, err := acquireLock(filepath.Join(dir, ".lock"))
	if err != nil {
		return block.Block{}, err
	}
	defer func() { _ = lock.release() }()

	tail, err := s.tailLocked(chain)
	if err != nil {
		return block.Block{}, err
	}

	candidate, err := block.Build(chain, data, tail, now)
	if err != nil {
		return block.Block{}, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	if err := soul.Validate(candidate, tail); err != nil {
		return block.Block{}, err
	}

	raw, err := block.FullJSON(candidate)
	if err != nil {
		return block.Block{}, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	path := filepath.Join(dir, block.FileName(candidate.Index))
	if err := atomicio.WriteNewFile(path, raw, atomicio.FileMode); err != nil {
		return block.Block{}, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	s.log.Info("appended block", "chain", chain, "index", candidate.Index, "type", string(candidate.Data.Type))
	return candidate, nil
}

// ReadChain enumerates and parses every block file for chain, in index
// order. Unparseable files abort with ledgererr.CodeCorruptBlock — the
// read path is strict; repair.Revise is the lenient counterpart.
func (s *Store) ReadChain(chain string) ([]block.Block, error) {
	dir := s.chainDir(chain)
	names, err := s.blockFileNames(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}

	blocks := make([]block.Block, 0, len(names))
	for i, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, ledgererr.Newf(ledgererr.CodeCorruptBlock, "read %s: %v", name, err)
		}
		b, err := block.Parse(raw)
		if err != nil {
			return nil, ledgererr.Newf(ledgererr.CodeCorruptBlock, "parse %s: %v", name, err)
		}
		if int(b.Index) != i {
			return nil, ledgererr.Newf(ledgererr.CodeIndexGap, "expected index %d, file %s has %d", i, name, b.Index)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// blockFileNames lists every "<index:06d>.json" file in dir, sorted
// lexically (which equals ascending index for a fixed-width zero-padded
// name).
func (s *Store) blockFileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ListChains returns every chain directory under the store root, except
// the quarantine area.
func (s *Store) ListChains() ([]string, error) {
	entries, err := os.ReadDir(s.chainsRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ChainStats returns block count and first/last block for chain.
func (s *Store) ChainStats(chain string) (Stats, error) {
	blocks, err := s.ReadChain(chain)
	if err != nil {
		return Stats{}, err
	}
	if len(blocks) == 0 {
		return Stats{Blocks: 0}, nil
	}
	first := blocks[0]
	last := blocks[len(blocks)-1]
	return Stats{Blocks: len(blocks), First: &first, Last: &last}, nil
}

// Head returns the tail block of chain, or nil if the chain is empty or
// absent.
func (s *Store) Head(chain string) (*block.Block, error) {
	blocks, err := s.ReadChain(chain)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	b := blocks[len(blocks)-1]
	return &b, nil
}

// tailLocked reads the current tail for chain; callers must already hold
// the chain's in-process mutex.
func (s *Store) tailLocked(chain string) (*block.Block, error) {
	blocks, err := s.ReadChain(chain)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	b := blocks[len(blocks)-1]
	return &b, nil
}

// ChainsRoot exposes the root directory, e.g. for the repair package to
// compute the sibling quarantine directory.
func (s *Store) ChainsRoot() string { return s.chainsRoot }

// ChainDir exposes a single chain's directory.
func (s *Store) ChainDir(chain string) string { return s.chainDir(chain) }
