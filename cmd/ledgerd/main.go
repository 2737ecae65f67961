// Command ledgerd is the cognitive ledger's CLI entry point, wiring
// Store, SOUL, Repair, Recall, Vault, the Decision Detector, and the
// Autosummarizer together behind a subcommand dispatcher: a
// flag.FlagSet per invocation, an exported run(args, stdout, stderr)
// int for testability, and a thin main() that only calls os.Exit.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/capability"
	"github.com/cogledger/ledger/internal/config"
	"github.com/cogledger/ledger/internal/cryptoutil"
	"github.com/cogledger/ledger/internal/decision"
	"github.com/cogledger/ledger/internal/embedindex"
	"github.com/cogledger/ledger/internal/ledgererr"
	"github.com/cogledger/ledger/internal/recall"
	"github.com/cogledger/ledger/internal/repair"
	"github.com/cogledger/ledger/internal/soul"
	"github.com/cogledger/ledger/internal/store"
	"github.com/cogledger/ledger/internal/summarize"
	"github.com/cogledger/ledger/internal/telemetry"
	"github.com/cogledger/ledger/internal/vault"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 4
	}
	cmd, rest := args[0], args[1:]

	defaults := config.DefaultConfig()
	fs := flag.NewFlagSet("ledgerd "+cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := defaults
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "ledger data directory")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.Float64Var(&cfg.SemanticWeight, "semantic-weight", defaults.SemanticWeight, "semantic blend weight in [0,1]")
	fs.IntVar(&cfg.SummaryThreshold, "summary-threshold", defaults.SummaryThreshold, "appends between autosummaries")
	fs.IntVar(&cfg.RecallDefaultLimit, "recall-limit", defaults.RecallDefaultLimit, "default recall result limit")

	chain := fs.String("chain", "journal", "chain name")
	blockType := fs.String("type", string(block.TypeJournal), "block data.type")
	content := fs.String("content", "", "block content")
	tags := fs.String("tags", "", "comma-separated tags")
	query := fs.String("query", "", "recall query text")
	limit := fs.Int("limit", 0, "recall result limit (0 = config default)")
	includeVault := fs.Bool("include-vault", false, "include vault chains in recall")
	semanticOnly := fs.Bool("semantic-only", false, "rank by semantic score only")
	noSemantic := fs.Bool("no-semantic", false, "disable semantic blending")
	apply := fs.Bool("apply", false, "apply repair (default is dry-run)")
	keyID := fs.String("key", "", "vault key id")
	password := fs.String("password", "", "vault password (prefer stdin prompt in real use)")
	force := fs.Bool("force", false, "force autosummarization")
	preferSummaries := fs.Bool("prefer-summaries", false, "include prior summary blocks alongside raw blocks")

	if err := fs.Parse(rest); err != nil {
		return 4
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 4
	}

	log := telemetry.New(stderr, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.ChainsDir(), log)
	if err != nil {
		return reportErr(stderr, err)
	}
	embedder := capability.LocalHashEmbedder{}
	registry := capability.Registry{Embedders: []capability.Embedder{embedder}}
	embedderImpl, _ := registry.FirstEmbedder()

	switch cmd {
	case "init":
		return cmdInit(cfg, stdout, stderr)
	case "append":
		return cmdAppend(ctx, s, log, cfg, embedderImpl, *chain, *blockType, *content, *tags, stdout, stderr)
	case "embed-sync":
		return cmdEmbedSync(ctx, s, cfg, embedderImpl, *chain, stdout, stderr)
	case "verify":
		return cmdVerify(s, *chain, stdout, stderr)
	case "repair":
		return cmdRepair(s, *chain, *apply, stdout, stderr)
	case "recall":
		return cmdRecall(ctx, s, cfg, embedderImpl, *query, *chain, *limit, *includeVault, *semanticOnly, *noSemantic, stdout, stderr)
	case "vault-set":
		return cmdVaultSet(s, *chain, *keyID, *password, stdout, stderr)
	case "vault-get":
		return cmdVaultGet(s, *chain, *keyID, *password, stdout, stderr)
	case "vault-revoke":
		return cmdVaultRevoke(s, *chain, *keyID, stdout, stderr)
	case "summarize":
		return cmdSummarize(ctx, s, log, cfg, *chain, *force, *preferSummaries, stdout, stderr)
	default:
		printUsage(stderr)
		return 4
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: ledgerd <init|append|verify|repair|recall|vault-set|vault-get|vault-revoke|summarize|embed-sync> [flags]")
}

func reportErr(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\n", err)
	return ledgererr.ExitCode(err)
}

func cmdInit(cfg config.Config, stdout, stderr io.Writer) int {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return reportErr(stderr, err)
	}
	rec, err := cryptoutil.InitSecurity(cfg.SecurityPath(), "", time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return reportErr(stderr, err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rec)
	return 0
}

func cmdAppend(ctx context.Context, s *store.Store, log telemetry.Logger, cfg config.Config, embedder capability.Embedder, chain, blockType, content, tags string, stdout, stderr io.Writer) int {
	var tagList []string
	if strings.TrimSpace(tags) != "" {
		for _, t := range strings.Split(tags, ",") {
			tagList = append(tagList, strings.TrimSpace(t))
		}
	} else {
		tagList = []string{}
	}
	data := block.Data{Type: block.Type(blockType), Tags: tagList, Content: content}
	b, err := s.AppendBlock(chain, data, time.Now())
	if err != nil {
		return reportErr(stderr, err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(b)

	classifier := capability.NoopClassifier{}
	det := decision.New(s, classifier, log)
	go det.Detect(ctx, b)

	summarizer := capability.ConcatSummarizer{}
	sm := summarize.New(s, summarizer, log, cfg.SummaryThreshold)
	go sm.Maybe(ctx, chain)

	if ix, ixErr := embedindex.Open(cfg.EmbeddingsDir()); ixErr == nil {
		go func() {
			if _, err := embedindex.Sync(ctx, ix, s, chain, embedder); err != nil {
				log.Error("embedding sync failed", err, "chain", chain)
			}
		}()
	}

	return 0
}

func cmdEmbedSync(ctx context.Context, s *store.Store, cfg config.Config, embedder capability.Embedder, chain string, stdout, stderr io.Writer) int {
	if chain == "" {
		fmt.Fprintln(stderr, "embed-sync requires -chain")
		return 4
	}
	ix, err := embedindex.Open(cfg.EmbeddingsDir())
	if err != nil {
		return reportErr(stderr, err)
	}
	updated, err := embedindex.Sync(ctx, ix, s, chain, embedder)
	if err != nil {
		return reportErr(stderr, err)
	}
	fmt.Fprintf(stdout, "embedded %d block(s) in chain %q\n", updated, chain)
	return 0
}

func cmdVerify(s *store.Store, chain string, stdout, stderr io.Writer) int {
	blocks, err := s.ReadChain(chain)
	if err != nil {
		return reportErr(stderr, err)
	}
	valid, brokenAt, errs := soul.VerifyChain(blocks)
	if valid {
		fmt.Fprintf(stdout, "chain %q: ok (%d blocks)\n", chain, len(blocks))
		return 0
	}
	fmt.Fprintf(stdout, "chain %q: broken at index %d: %v\n", chain, brokenAt, errs)
	return 2
}

func cmdRepair(s *store.Store, chain string, apply bool, stdout, stderr io.Writer) int {
	result, err := repair.Revise(s.ChainsRoot(), chain, !apply, time.Now())
	if err != nil {
		return reportErr(stderr, err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	if result.Status == repair.StatusBroken {
		return 2
	}
	return 0
}

func cmdRecall(ctx context.Context, s *store.Store, cfg config.Config, embedder capability.Embedder, query, chain string, limit int, includeVault, semanticOnly, noSemantic bool, stdout, stderr io.Writer) int {
	ix, err := embedindex.Open(cfg.EmbeddingsDir())
	if err != nil {
		return reportErr(stderr, err)
	}
	if limit <= 0 {
		limit = cfg.RecallDefaultLimit
	}
	q := recall.Query{
		Text:           query,
		Limit:          limit,
		IncludeVault:   includeVault,
		SemanticOnly:   semanticOnly,
		NoSemantic:     noSemantic,
		SemanticWeight: cfg.SemanticWeight,
	}
	if chain != "" {
		q.Chain = chain
	}
	cache, err := embedindex.NewQueryCache(cfg.QueryCacheMaxEntries, cfg.QueryCachePath())
	if err != nil {
		return reportErr(stderr, err)
	}
	if err := cache.Load(); err != nil {
		return reportErr(stderr, err)
	}
	e := recall.New(s, ix, embedder).WithQueryCache(cache)
	results, err := e.Recall(ctx, q)
	if err != nil {
		return reportErr(stderr, err)
	}
	if err := cache.Persist(); err != nil {
		fmt.Fprintf(stderr, "warning: failed to persist query cache: %v\n", err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)
	return 0
}

func cmdVaultSet(s *store.Store, chain, keyID, password string, stdout, stderr io.Writer) int {
	if keyID == "" {
		fmt.Fprintln(stderr, "vault-set requires -key")
		return 4
	}
	secret, err := readAllStdin()
	if err != nil {
		return reportErr(stderr, err)
	}
	v := vault.New(s, chain)
	b, err := v.Set(keyID, secret, []byte(password))
	if err != nil {
		return reportErr(stderr, err)
	}
	fmt.Fprintf(stdout, "vault entry stored: chain=%s index=%d key=%s\n", b.Chain, b.Index, keyID)
	return 0
}

func cmdVaultGet(s *store.Store, chain, keyID, password string, stdout, stderr io.Writer) int {
	if keyID == "" {
		fmt.Fprintln(stderr, "vault-get requires -key")
		return 4
	}
	v := vault.New(s, chain)
	secret, err := v.Get(keyID, []byte(password))
	if err != nil {
		return reportErr(stderr, err)
	}
	_, _ = stdout.Write(secret)
	return 0
}

func cmdVaultRevoke(s *store.Store, chain, keyID string, stdout, stderr io.Writer) int {
	if keyID == "" {
		fmt.Fprintln(stderr, "vault-revoke requires -key")
		return 4
	}
	v := vault.New(s, chain)
	b, err := v.Revoke(keyID)
	if err != nil {
		return reportErr(stderr, err)
	}
	fmt.Fprintf(stdout, "vault entry revoked: chain=%s index=%d key=%s\n", b.Chain, b.Index, keyID)
	return 0
}

func cmdSummarize(ctx context.Context, s *store.Store, log telemetry.Logger, cfg config.Config, chain string, force, preferSummaries bool, stdout, stderr io.Writer) int {
	summarizer := capability.ConcatSummarizer{}
	sm := summarize.New(s, summarizer, log, cfg.SummaryThreshold)
	if force {
		if err := sm.Force(ctx, chain, preferSummaries); err != nil {
			return reportErr(stderr, err)
		}
		fmt.Fprintf(stdout, "forced summarization complete for chain %q\n", chain)
		return 0
	}
	sm.Maybe(ctx, chain)
	fmt.Fprintf(stdout, "checked chain %q for autosummarization threshold\n", chain)
	return 0
}

func readAllStdin() ([]byte, error) {
	r := bufio.NewReader(os.Stdin)
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}
