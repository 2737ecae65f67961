// Package soul implements the SOUL validator: the set of structural
// and semantic invariants enforced on every write and on every
// full-chain verify, enumerated once in a single ordered rule list
// rather than scattered across call sites. Each rule checks a
// candidate against its predecessor and returns a typed error.
package soul

import (
	"fmt"
	"regexp"
	"time"

	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/ledgererr"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// maxBackwardSkew bounds how far a candidate's timestamp may sit behind
// its predecessor's before the timestamp-monotonic rule rejects it. The
// builder never produces a backward step, so this tolerance only matters
// for candidates built elsewhere with a slightly different clock.
const maxBackwardSkew = 2 * time.Second

// Validate runs every SOUL rule for candidate against prev (nil at
// genesis), returning a ledgererr.CodeSoulViolation error naming the
// first rule that fails.
func Validate(candidate block.Block, prev *block.Block) error {
	for _, rule := range rules {
		if err := rule.check(candidate, prev); err != nil {
			return ledgererr.Newf(ledgererr.CodeSoulViolation, "%s: %v", rule.name, err)
		}
	}
	return nil
}

// VerifyChain re-validates every structural+SOUL invariant across an
// entire in-memory chain, returning the index of the first violation,
// if any.
func VerifyChain(blocks []block.Block) (valid bool, brokenAt int, errs []error) {
	var prev *block.Block
	for i, b := range blocks {
		if recomputed, err := block.ComputeHash(b); err != nil || recomputed != b.Hash {
			errs = append(errs, ledgererr.Newf(ledgererr.CodeHashMismatch, "block %d: hash does not match recomputed digest", i))
			return false, i, errs
		}
		if err := Validate(b, prev); err != nil {
			errs = append(errs, err)
			return false, i, errs
		}
		cp := b
		prev = &cp
	}
	return true, -1, nil
}

type rule struct {
	name  string
	check func(candidate block.Block, prev *block.Block) error
}

var rules = []rule{
	{"hash-format", ruleHashFormat},
	{"prev-hash-linkage", rulePrevHashLinkage},
	{"timestamp-plausible", ruleTimestampPlausible},
	{"timestamp-monotonic", ruleTimestampMonotonic},
	{"content-non-empty", ruleContentNonEmpty},
	{"type-allowed", ruleTypeAllowed},
	{"tags-is-list", ruleTagsIsList},
	{"index-continuity", ruleIndexContinuity},
	{"vault-fields", ruleVaultFields},
	{"credential-fields", ruleCredentialFields},
}

// Rule 1: hash matches /^[0-9a-f]{64}$/.
func ruleHashFormat(c block.Block, _ *block.Block) error {
	if !hashPattern.MatchString(c.Hash) {
		return fmt.Errorf("hash %q is not 64 lowercase hex chars", c.Hash)
	}
	return nil
}

// Rule 2: prev_hash equals predecessor hash, or the zero hash at genesis.
func rulePrevHashLinkage(c block.Block, prev *block.Block) error {
	want := block.ZeroHash
	if prev != nil {
		want = prev.Hash
	}
	if c.PrevHash != want {
		return fmt.Errorf("prev_hash %q does not match expected %q", c.PrevHash, want)
	}
	return nil
}

// Rule 3 (plausibility half): timestamp is set and is no more than one
// minute ahead of now.
// Monotonicity itself (never earlier than the predecessor) is rule
// timestamp-monotonic below; this rule exists to catch blocks built with
// a clock that is grossly wrong, independent of chain position.
func ruleTimestampPlausible(c block.Block, _ *block.Block) error {
	if c.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is zero")
	}
	if c.Timestamp.After(time.Now().Add(time.Minute)) {
		return fmt.Errorf("timestamp %v is implausibly far in the future", c.Timestamp)
	}
	return nil
}

// Rule 3 (monotonicity half): timestamp is >= predecessor's, within the
// bounded backward skew tolerance.
func ruleTimestampMonotonic(c block.Block, prev *block.Block) error {
	if prev == nil {
		return nil
	}
	if c.Timestamp.Before(prev.Timestamp.Add(-maxBackwardSkew)) {
		return fmt.Errorf("timestamp %v precedes predecessor %v by more than %v", c.Timestamp, prev.Timestamp, maxBackwardSkew)
	}
	return nil
}

// Rule 4: data.content is a non-empty string for text variants.
func ruleContentNonEmpty(c block.Block, _ *block.Block) error {
	if block.IsTextType(c.Data.Type) && c.Data.Content == "" {
		return fmt.Errorf("data.content must be non-empty for type %q", c.Data.Type)
	}
	if c.Data.Type == block.TypeDecision && c.Data.Content == "" {
		return fmt.Errorf("decision block requires a serialized record in data.content")
	}
	return nil
}

// Rule 5: data.type is in the allowed set.
func ruleTypeAllowed(c block.Block, _ *block.Block) error {
	if !block.AllowedTypes[c.Data.Type] {
		return fmt.Errorf("data.type %q is not an allowed variant", c.Data.Type)
	}
	return nil
}

// Rule 6: data.tags is a list (possibly empty) — guaranteed by Go's type
// system once decoded, but a nil slice is accepted as "empty list" while
// a malformed non-array JSON value would already have failed Parse.
func ruleTagsIsList(c block.Block, _ *block.Block) error {
	_ = c.Data.Tags
	return nil
}

// Rule 7: index == predecessor.index + 1, or 0 at genesis.
func ruleIndexContinuity(c block.Block, prev *block.Block) error {
	want := uint64(0)
	if prev != nil {
		want = prev.Index + 1
	}
	if c.Index != want {
		return ledgererr.Newf(ledgererr.CodeIndexGap, "expected index %d, got %d", want, c.Index)
	}
	return nil
}

// Rule 8: vault non-genesis requires encrypted; always requires iv.
// Revocation blocks (revoked=true) are exempt from both checks.
func ruleVaultFields(c block.Block, prev *block.Block) error {
	if c.Data.Type != block.TypeVault {
		return nil
	}
	if c.Data.Revoked {
		return nil
	}
	if prev != nil && c.Data.Encrypted == "" {
		return fmt.Errorf("vault block requires data.encrypted")
	}
	if c.Data.IV == "" {
		return fmt.Errorf("vault block requires data.iv")
	}
	return nil
}

// Rule 9: credential requires schema, issuer, holder.
func ruleCredentialFields(c block.Block, _ *block.Block) error {
	if c.Data.Type != block.TypeCredential {
		return nil
	}
	if c.Data.Schema == "" || c.Data.Issuer == "" || c.Data.Holder == "" {
		return fmt.Errorf("credential block requires schema, issuer, and holder")
	}
	return nil
}
