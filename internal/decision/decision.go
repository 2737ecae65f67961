// Package decision implements the Decision Detector: a post-append
// hook that classifies newly ingested text and, when confident,
// derives a decision block pointing back at its source. It runs
// fire-and-forget after a block is accepted, independently swallowing
// its own errors into a log line and a system diagnostic block rather
// than failing the accept path.
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/capability"
	"github.com/cogledger/ledger/internal/store"
	"github.com/cogledger/ledger/internal/telemetry"
)

// Record is the logical overlay stored as data.content of a decision
// block.
type Record struct {
	Schema     string     `json:"schema"`
	DecisionID string     `json:"decisionId"`
	RecordID   string     `json:"recordId"`
	CreatedAt  time.Time  `json:"createdAt"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	Scope      string     `json:"scope"`
	Title      string     `json:"title"`
	Options    []string   `json:"options"`
	Chosen     string     `json:"chosen"`
	Reasoning  string     `json:"reasoning"`
	Confidence float64    `json:"confidence"`
	Links      []string   `json:"links,omitempty"`
	Evidence   *Evidence  `json:"evidence,omitempty"`
	Supersedes string     `json:"supersedes,omitempty"`
}

// Evidence is the optional supporting-material field of a Record.
type Evidence struct {
	Refs []block.Ref `json:"refs,omitempty"`
	Note string       `json:"note,omitempty"`
}

const (
	ModeConscious = "conscious"
	ModeInferred  = "inferred"

	StatusActive       = "active"
	StatusRevised      = "revised"
	StatusDeprecated   = "deprecated"
	StatusContradicted = "contradicted"

	ScopePersonal = "personal"
	ScopeProject  = "project"
	ScopeLife     = "life"
)

// confidenceThreshold is the minimum classifier confidence that turns a
// DecisionHint into an appended decision block.
const confidenceThreshold = 0.6

// windowSize bounds how many of the chain's most recent blocks are
// handed to the classifier as context.
const windowSize = 10

// isDetectorTrigger reports whether a newly appended block's type
// triggers the detector at all, per spec.md §4.9: only journal and ask
// blocks are classified. build/adr/ops are ledger-authored narrative,
// not conversational decision points, and system blocks are the
// detector's own diagnostic output, so neither feeds back into
// classification.
func isDetectorTrigger(t block.Type) bool {
	return t == block.TypeJournal || t == block.TypeAsk
}

// DecisionID derives a stable identifier: 16 hex characters of
// SHA-256 over "YYYY-MM-DD"+title.
func DecisionID(createdAt time.Time, title string) string {
	sum := sha256.Sum256([]byte(createdAt.UTC().Format("2006-01-02") + title))
	return hex.EncodeToString(sum[:])[:16]
}

// NewRecord builds a Record from a classifier hint, defaulting
// confidence and mode, and validating Chosen against Options
// case-insensitive-trim.
func NewRecord(hint capability.DecisionHint, createdAt time.Time, mode, scope string, recordID string) (Record, error) {
	if len(hint.Options) == 0 {
		return Record{}, fmt.Errorf("decision: DecisionParseError: options must be non-empty")
	}
	if !matchesOption(hint.Chosen, hint.Options) {
		return Record{}, fmt.Errorf("decision: InvalidChoice(%v): chosen %q is not among options", hint.Options, hint.Chosen)
	}
	confidence := hint.Confidence
	if confidence == 0 {
		confidence = 0.7
	}
	if mode == "" {
		mode = ModeInferred
	}
	if scope == "" {
		scope = ScopePersonal
	}
	return Record{
		Schema:     "decision:v1",
		DecisionID: DecisionID(createdAt, hint.Title),
		RecordID:   recordID,
		CreatedAt:  createdAt.UTC(),
		Mode:       mode,
		Status:     StatusActive,
		Scope:      scope,
		Title:      hint.Title,
		Options:    hint.Options,
		Chosen:     hint.Chosen,
		Reasoning:  hint.Reasoning,
		Confidence: confidence,
	}, nil
}

func matchesOption(chosen string, options []string) bool {
	norm := strings.ToLower(strings.TrimSpace(chosen))
	for _, o := range options {
		if strings.ToLower(strings.TrimSpace(o)) == norm {
			return true
		}
	}
	return false
}

// Detector runs the classifier over newly appended text-bearing blocks
// and appends derived decision blocks.
type Detector struct {
	store      *store.Store
	classifier capability.Classifier
	log        telemetry.Logger
	now        func() time.Time
}

// New builds a Detector. classifier may be nil, in which case Detect is
// a no-op: the classifier capability is optional.
func New(s *store.Store, classifier capability.Classifier, log telemetry.Logger) *Detector {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Detector{store: s, classifier: classifier, log: log.With("decision"), now: time.Now}
}

// Detect runs the fixed-point-guarded classify-then-append pipeline for
// one newly appended block. It is meant to be invoked fire-and-forget
// after the append call returns to its caller; it swallows all of its
// own errors, recording a system diagnostic block on the same chain
// instead of propagating.
func (d *Detector) Detect(ctx context.Context, appended block.Block) {
	if d.classifier == nil || !d.classifier.IsConfigured() {
		return
	}
	if !isDetectorTrigger(appended.Data.Type) {
		return
	}
	// Fixed-point guarantee: never decision-detect a block that is
	// itself derived (has a source_ref), which covers both our own
	// decision output and anything else pointing back at a source.
	if appended.Data.SourceRef != nil {
		return
	}

	window, err := d.recentWindow(appended.Chain, appended.Index)
	if err != nil {
		d.diagnose(appended.Chain, "decision window read failed: %v", err)
		return
	}

	hint, err := d.classifier.Classify(ctx, appended.Data.Content, window)
	if err != nil {
		d.diagnose(appended.Chain, "classifier error: %v", err)
		return
	}
	if !hint.IsDecision || hint.Confidence < confidenceThreshold {
		return
	}

	now := d.now()
	recordID := fmt.Sprintf("%s-%06d", appended.Chain, appended.Index)
	rec, err := NewRecord(hint, now, ModeInferred, ScopePersonal, recordID)
	if err != nil {
		d.diagnose(appended.Chain, "invalid decision record: %v", err)
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		d.diagnose(appended.Chain, "marshal decision record: %v", err)
		return
	}

	data := block.Data{
		Type:    block.TypeDecision,
		Tags:    []string{},
		Content: string(raw),
		SourceRef: &block.Ref{
			Chain: appended.Chain,
			Index: appended.Index,
			Hash:  appended.Hash,
		},
	}
	if _, err := d.store.AppendBlock(appended.Chain, data, now); err != nil {
		d.diagnose(appended.Chain, "append decision block failed: %v", err)
		return
	}
	d.log.Info("decision detected", "chain", appended.Chain, "source_index", appended.Index)
}

func (d *Detector) recentWindow(chain string, beforeIndex uint64) ([]string, error) {
	blocks, err := d.store.ReadChain(chain)
	if err != nil {
		return nil, err
	}
	var window []string
	start := 0
	if len(blocks) > windowSize {
		start = len(blocks) - windowSize
	}
	for _, b := range blocks[start:] {
		if b.Index >= beforeIndex {
			break
		}
		if block.IsTextType(b.Data.Type) {
			window = append(window, b.Data.Content)
		}
	}
	return window, nil
}

func (d *Detector) diagnose(chain string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.log.Error("decision detector failure", errors.New(msg), "chain", chain)
	_, err := d.store.AppendBlock(chain, block.Data{
		Type:    block.TypeSystem,
		Tags:    []string{"decision-detector", "error"},
		Content: msg,
	}, d.now())
	if err != nil {
		d.log.Error("failed to record system diagnostic block", err, "chain", chain)
	}
}
