// Package repair implements Revise/Repair: walk a chain from index 0,
// stop at the first damaged block, and quarantine the rest. Unlike a
// reorg that walks back to a fork point and reconnects an alternate
// branch, the decision here is always the same one: keep the valid
// prefix, move everything from the first bad block onward aside.
package repair

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cogledger/ledger/internal/atomicio"
	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/ledgererr"
	"github.com/cogledger/ledger/internal/soul"
)

// Status is the outcome of a repair run for one chain.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFixed  Status = "fixed"
	StatusBroken Status = "broken"
)

// Result reports what repair found and (in apply mode) did.
type Result struct {
	Status      Status
	Head        int64 // -1 if no valid prefix
	Quarantined int
	Errors      []string
}

// walkChain scans every "<index>.json" file in dir in lexical order and
// returns the zero-based count of blocks that parse, hash-verify, and
// SOUL-validate consecutively from the start, plus the first failure
// reason (if any) and the full sorted file-name list.
func walkChain(dir string) (validCount int, firstFailure string, names []string, err error) {
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return 0, "", nil, nil
		}
		return 0, "", nil, readErr
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var prev *block.Block
	for i, name := range names {
		raw, readErr := os.ReadFile(filepath.Join(dir, name))
		if readErr != nil {
			return i, fmt.Sprintf("read %s: %v", name, readErr), names, nil
		}
		b, parseErr := block.Parse(raw)
		if parseErr != nil {
			return i, fmt.Sprintf("unparseable JSON in %s: %v", name, parseErr), names, nil
		}
		if int(b.Index) != i {
			return i, fmt.Sprintf("index continuity break at %s: want %d got %d", name, i, b.Index), names, nil
		}
		recomputed, hashErr := block.ComputeHash(b)
		if hashErr != nil || recomputed != b.Hash {
			return i, fmt.Sprintf("hash verification failed at %s", name), names, nil
		}
		if soulErr := soul.Validate(b, prev); soulErr != nil {
			return i, fmt.Sprintf("SOUL violation at %s: %v", name, soulErr), names, nil
		}
		cp := b
		prev = &cp
	}
	return len(names), "", names, nil
}

// Revise runs repair for a single chain directory. dryRun only reports
// what would happen; apply mode (dryRun=false) actually renames the
// damaged tail into "<chainsRoot>/.quarantine/<chain>/<iso-timestamp>/".
func Revise(chainsRoot, chain string, dryRun bool, now time.Time) (Result, error) {
	dir := filepath.Join(chainsRoot, chain)
	validCount, failure, names, err := walkChain(dir)
	if err != nil {
		return Result{}, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}

	if failure == "" {
		return Result{Status: StatusOK, Head: int64(validCount) - 1}, nil
	}

	quarantineCount := len(names) - validCount
	if dryRun {
		return Result{
			Status:      dryRunStatus(validCount),
			Head:        int64(validCount) - 1,
			Quarantined: quarantineCount,
			Errors:      []string{failure},
		}, nil
	}

	qDir := filepath.Join(chainsRoot, ".quarantine", chain, now.UTC().Format("20060102T150405.000000000Z"))
	if err := atomicio.EnsureDir(qDir); err != nil {
		return Result{}, err
	}
	for i := validCount; i < len(names); i++ {
		src := filepath.Join(dir, names[i])
		dst := filepath.Join(qDir, names[i])
		if err := os.Rename(src, dst); err != nil {
			return Result{}, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
		}
	}

	status := StatusFixed
	if validCount == 0 {
		status = StatusBroken
	}
	return Result{
		Status:      status,
		Head:        int64(validCount) - 1,
		Quarantined: quarantineCount,
		Errors:      []string{failure},
	}, nil
}

// dryRunStatus reports the dry-run status label: "broken" if no valid
// prefix survives, "fixed" describing what an apply run would produce
// otherwise.
func dryRunStatus(validCount int) Status {
	if validCount == 0 {
		return StatusBroken
	}
	return StatusFixed
}
