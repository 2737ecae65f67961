// Package summarize implements the Autosummarizer: bucketed range
// summarization triggered every N appends to a text chain, or on
// explicit force. It uses the same fire-and-forget post-hook shape as
// internal/decision, and on every trigger walks forward from the last
// known summarized point rather than rescanning from genesis.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/capability"
	"github.com/cogledger/ledger/internal/store"
	"github.com/cogledger/ledger/internal/telemetry"
)

// DefaultThreshold is N in "every N appends".
const DefaultThreshold = 50

// Summarizer runs bucketed range summarization over a chain's text
// blocks.
type Summarizer struct {
	store      *store.Store
	summarizer capability.Summarizer
	log        telemetry.Logger
	threshold  int
	now        func() time.Time
}

// New builds a Summarizer. summarizer may be nil, in which case
// Maybe/Force are no-ops.
func New(s *store.Store, summarizer capability.Summarizer, log telemetry.Logger, threshold int) *Summarizer {
	if log == nil {
		log = telemetry.Nop()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Summarizer{store: s, summarizer: summarizer, log: log.With("summarize"), threshold: threshold, now: time.Now}
}

// Maybe runs summarization for chain if appendCount (the chain's total
// block count since its last summary, or overall if none exists) has
// crossed the threshold. It is meant to be invoked fire-and-forget
// after append_block returns to the caller.
func (s *Summarizer) Maybe(ctx context.Context, chain string) {
	if s.summarizer == nil || !s.summarizer.IsConfigured() {
		return
	}
	lastTo, lastVersion, err := s.lastSummary(chain)
	if err != nil {
		s.diagnose(chain, "read last summary failed: %v", err)
		return
	}
	blocks, err := s.store.ReadChain(chain)
	if err != nil {
		s.diagnose(chain, "read chain failed: %v", err)
		return
	}
	if len(blocks) == 0 {
		return
	}
	head := blocks[len(blocks)-1].Index
	var pending uint64
	if lastTo == nil {
		pending = head + 1
	} else if head > *lastTo {
		pending = head - *lastTo
	}
	if pending < uint64(s.threshold) {
		return
	}
	s.run(ctx, chain, blocks, lastTo, lastVersion, false, false)
}

// Force runs summarization unconditionally over (lastSummary.to,
// currentHead], regardless of pending count. With preferSummaries=true
// summary blocks inside the range are passed to the summarizer along
// with the raw blocks, in index order; raw blocks that such a summary
// covers are not dropped. Per spec.md §4.10, force=true is
// the one case that re-summarizes a range the chain already has a
// summary for, rather than treating it as a no-op.
func (s *Summarizer) Force(ctx context.Context, chain string, preferSummaries bool) error {
	if s.summarizer == nil || !s.summarizer.IsConfigured() {
		return fmt.Errorf("summarize: no summarizer capability configured")
	}
	lastTo, lastVersion, err := s.lastSummary(chain)
	if err != nil {
		return err
	}
	blocks, err := s.store.ReadChain(chain)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}
	_, err = s.run(ctx, chain, blocks, lastTo, lastVersion, preferSummaries, true)
	return err
}

func (s *Summarizer) run(ctx context.Context, chain string, blocks []block.Block, lastTo *uint64, lastVersion int, preferSummaries bool, force bool) (block.Block, error) {
	from := uint64(0)
	if lastTo != nil {
		from = *lastTo + 1
	}
	head := blocks[len(blocks)-1].Index
	// Summary blocks sit after the range they cover, so coverage is
	// judged against the last block that is not itself a summary.
	sourceHead := head
	for i := len(blocks) - 1; i > 0 && blocks[i].Data.Type == block.TypeSummary; i-- {
		sourceHead = blocks[i-1].Index
	}
	if lastTo != nil && sourceHead <= *lastTo {
		if !force {
			// Covered range unchanged since the last summary: a no-op,
			// unless the caller passed force=true.
			return block.Block{}, nil
		}
		// Forced re-summarization of a range that already has a
		// summary: re-cover exactly the range the last summary did
		// (its own from/to), rather than the empty (lastTo, head]
		// slice a fresh incremental run would compute.
		from, head = s.lastSummaryRange(blocks, *lastTo)
	}

	var texts []string
	var refs []block.Ref
	for _, b := range blocks {
		if b.Index < from || b.Index > head {
			continue
		}
		if b.Data.Type == block.TypeSummary && !preferSummaries {
			continue
		}
		if !block.IsTextType(b.Data.Type) && b.Data.Type != block.TypeSummary && b.Data.Type != block.TypeDecision {
			continue
		}
		texts = append(texts, b.Data.Content)
		refs = append(refs, block.Ref{Chain: chain, Index: b.Index, Hash: b.Hash})
	}
	if len(texts) == 0 {
		return block.Block{}, nil
	}

	digest, err := s.summarizer.Summarize(ctx, texts, chain)
	if err != nil {
		s.diagnose(chain, "summarizer error: %v", err)
		return block.Block{}, err
	}

	now := s.now()
	data := block.Data{
		Type:    block.TypeSummary,
		Tags:    []string{},
		Content: digest,
		SummaryRange: &block.SummaryRange{
			Chain: chain,
			From:  from,
			To:    head,
		},
		SummaryRefs:    refs,
		SummaryVersion: strconv.Itoa(lastVersion + 1),
	}
	appended, err := s.store.AppendBlock(chain, data, now)
	if err != nil {
		s.diagnose(chain, "append summary block failed: %v", err)
		return block.Block{}, err
	}
	s.log.Info("chain summarized", "chain", chain, "from", from, "to", head)
	return appended, nil
}

// lastSummary scans chain for its most recent summary block, returning
// its covered upper bound and version number, or (nil, 0) if none
// exists yet.
func (s *Summarizer) lastSummary(chain string) (*uint64, int, error) {
	blocks, err := s.store.ReadChain(chain)
	if err != nil {
		return nil, 0, err
	}
	var lastTo *uint64
	version := 0
	for _, b := range blocks {
		if b.Data.Type != block.TypeSummary || b.Data.SummaryRange == nil {
			continue
		}
		to := b.Data.SummaryRange.To
		lastTo = &to
		if v, err := strconv.Atoi(b.Data.SummaryVersion); err == nil {
			version = v
		}
	}
	return lastTo, version, nil
}

// lastSummaryRange finds the most recent summary block in blocks (the
// one whose SummaryRange.To equals knownTo) and returns its own
// from/to, for Force to re-cover the identical range on a forced
// re-summarization.
func (s *Summarizer) lastSummaryRange(blocks []block.Block, knownTo uint64) (from, to uint64) {
	to = knownTo
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		if b.Data.Type != block.TypeSummary || b.Data.SummaryRange == nil {
			continue
		}
		if b.Data.SummaryRange.To == knownTo {
			return b.Data.SummaryRange.From, b.Data.SummaryRange.To
		}
	}
	return 0, to
}

func (s *Summarizer) diagnose(chain string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.log.Error("autosummarizer failure", errors.New(msg), "chain", chain)
	_, err := s.store.AppendBlock(chain, block.Data{
		Type:    block.TypeSystem,
		Tags:    []string{"autosummarizer", "error"},
		Content: msg,
	}, s.now())
	if err != nil {
		s.log.Error("failed to record system diagnostic block", err, "chain", chain)
	}
}
