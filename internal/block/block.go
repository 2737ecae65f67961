// Package block implements the canonical block format of the ledger:
// immutable, hash-linked records with a tagged payload union. Each
// block's hash covers a fixed encoding of everything but the
// hash itself; genesis uses an all-zero prev-hash sentinel. The payload
// is an open tagged union, so canonical JSON stands in for a fixed
// binary header.
package block

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ZeroHash is the 64 lowercase hex zero digits used as prev_hash at genesis.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Type enumerates the allowed data.type values.
type Type string

const (
	TypeJournal    Type = "journal"
	TypeBuild      Type = "build"
	TypeADR        Type = "adr"
	TypeOps        Type = "ops"
	TypeAsk        Type = "ask"
	TypeSystem     Type = "system"
	TypeDecision   Type = "decision"
	TypeSummary    Type = "summary"
	TypeVault      Type = "vault"
	TypeCredential Type = "credential"
)

// textTypes is the set of free-text variants requiring a non-empty content.
var textTypes = map[Type]bool{
	TypeJournal: true, TypeBuild: true, TypeADR: true,
	TypeOps: true, TypeAsk: true, TypeSystem: true,
}

// AllowedTypes is the full allowed set for data.type (SOUL rule 5).
var AllowedTypes = map[Type]bool{
	TypeJournal: true, TypeBuild: true, TypeADR: true, TypeOps: true,
	TypeAsk: true, TypeSystem: true, TypeDecision: true, TypeSummary: true,
	TypeVault: true, TypeCredential: true,
}

// IsTextType reports whether t is one of the free-text variants.
func IsTextType(t Type) bool { return textTypes[t] }

// Ref points back at a specific block by chain-qualified coordinate; used
// by source_ref, summary_refs, and context_refs.
type Ref struct {
	Chain string `json:"chain"`
	Index uint64 `json:"index"`
	Hash  string `json:"hash"`
}

// SummaryRange names the inclusive index span [From, To] a summary block
// covers.
type SummaryRange struct {
	Chain string `json:"chain"`
	From  uint64 `json:"from"`
	To    uint64 `json:"to"`
}

// Data is the tagged payload union carried by every block. Only fields
// relevant to Type are required; json omitempty keeps irrelevant fields
// out of the canonical encoding for variants that don't use them.
type Data struct {
	Type Type     `json:"type"`
	Tags []string `json:"tags"`

	// text variants, decision, credential label
	Content string `json:"content,omitempty"`

	// vault
	Encrypted string `json:"encrypted,omitempty"`
	IV        string `json:"iv,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	Revoked   bool   `json:"revoked,omitempty"`

	// credential
	Schema  string `json:"schema,omitempty"`
	Issuer  string `json:"issuer,omitempty"`
	Holder  string `json:"holder,omitempty"`
	Proof   string `json:"proof,omitempty"`

	// summary
	SummaryRange   *SummaryRange `json:"summary_range,omitempty"`
	SummaryRefs    []Ref         `json:"summary_refs,omitempty"`
	SummaryVersion string        `json:"summary_version,omitempty"`

	// common optional fields
	Agent       string   `json:"agent,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	TokensUsed  int64    `json:"tokens_used,omitempty"`
	ContextRefs []Ref    `json:"context_refs,omitempty"`
	SourceRef   *Ref     `json:"source_ref,omitempty"`
	Supersedes  string   `json:"supersedes,omitempty"`
}

// Block is one immutable record in a chain.
type Block struct {
	Index     uint64    `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Chain     string    `json:"chain"`
	Data      Data      `json:"data"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// canonical is the wire shape used both to compute and to verify Hash:
// field order and presence are part of the contract, and the "hash"
// field itself is never part of its own input.
type canonical struct {
	Index     uint64 `json:"index"`
	Timestamp string `json:"timestamp"`
	Chain     string `json:"chain"`
	Data      Data   `json:"data"`
	PrevHash  string `json:"prev_hash"`
}

// CanonicalJSON returns the deterministic encoding of b's hashed fields,
// in the order index, timestamp, chain, data, prev_hash. Determinism here
// is load-bearing: the writer and every verifier must produce byte-
// identical output for the same logical block.
func CanonicalJSON(b Block) ([]byte, error) {
	c := canonical{
		Index:     b.Index,
		Timestamp: b.Timestamp.UTC().Format(time.RFC3339Nano),
		Chain:     b.Chain,
		Data:      b.Data,
		PrevHash:  b.PrevHash,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	return out, nil
}

// ComputeHash returns the lowercase hex SHA-256 digest of b's canonical
// encoding (every field except hash itself).
func ComputeHash(b Block) (string, error) {
	raw, err := CanonicalJSON(b)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// FullJSON marshals b including its hash field, for on-disk storage.
func FullJSON(b Block) ([]byte, error) {
	type wire struct {
		Index     uint64 `json:"index"`
		Timestamp string `json:"timestamp"`
		Chain     string `json:"chain"`
		Data      Data   `json:"data"`
		PrevHash  string `json:"prev_hash"`
		Hash      string `json:"hash"`
	}
	w := wire{
		Index:     b.Index,
		Timestamp: b.Timestamp.UTC().Format(time.RFC3339Nano),
		Chain:     b.Chain,
		Data:      b.Data,
		PrevHash:  b.PrevHash,
		Hash:      b.Hash,
	}
	return json.MarshalIndent(w, "", "  ")
}

// Parse decodes a stored block from its on-disk JSON form.
func Parse(raw []byte) (Block, error) {
	var w struct {
		Index     uint64 `json:"index"`
		Timestamp string `json:"timestamp"`
		Chain     string `json:"chain"`
		Data      Data   `json:"data"`
		PrevHash  string `json:"prev_hash"`
		Hash      string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return Block{}, fmt.Errorf("parse block: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, w.Timestamp)
		if err != nil {
			return Block{}, fmt.Errorf("parse block timestamp: %w", err)
		}
	}
	return Block{
		Index:     w.Index,
		Timestamp: ts.UTC(),
		Chain:     w.Chain,
		Data:      w.Data,
		PrevHash:  w.PrevHash,
		Hash:      w.Hash,
	}, nil
}

// Build forms a candidate block for the next slot in a chain. prev is
// nil at genesis. The timestamp is clamped to stay monotonic: it is now,
// or prev's timestamp when that is later than now.
func Build(chain string, data Data, prev *Block, now time.Time) (Block, error) {
	var index uint64
	prevHash := ZeroHash
	ts := now.UTC()
	if prev != nil {
		index = prev.Index + 1
		prevHash = prev.Hash
		if ts.Before(prev.Timestamp) {
			ts = prev.Timestamp
		}
	}
	b := Block{
		Index:     index,
		Timestamp: ts,
		Chain:     chain,
		Data:      data,
		PrevHash:  prevHash,
	}
	h, err := ComputeHash(b)
	if err != nil {
		return Block{}, err
	}
	b.Hash = h
	return b, nil
}

// FileName returns the zero-padded-6 on-disk file name for an index.
func FileName(index uint64) string {
	return fmt.Sprintf("%06d.json", index)
}
