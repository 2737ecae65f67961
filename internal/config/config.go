// Package config defines the ledger's in-process configuration struct
// and its validation rules, in the idiom of the teacher's node.Config /
// node.ValidateConfig (node/config.go): a flat struct with flag-based
// defaults and a single Validate function, no file parsing (out of
// scope per spec.md §1 — callers own config-file format).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the ledger daemon's effective configuration.
type Config struct {
	DataDir             string
	LogLevel            string
	SemanticWeight      float64
	SummaryThreshold    int
	RecallDefaultLimit  int
	EmbedderName        string
	QueryCacheMaxEntries int
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// DefaultDataDir mirrors the teacher's home-relative default, renamed
// to this project's dotdir.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".cogledger"
	}
	return filepath.Join(home, ".cogledger")
}

// DefaultConfig returns the ledger's built-in defaults, overridden by
// flags in cmd/ledgerd.
func DefaultConfig() Config {
	return Config{
		DataDir:              DefaultDataDir(),
		LogLevel:              "info",
		SemanticWeight:        0.5,
		SummaryThreshold:      50,
		RecallDefaultLimit:    20,
		EmbedderName:          "local-hash",
		QueryCacheMaxEntries:  1000,
	}
}

// ChainsDir, EmbeddingsDir, and SecurityPath name the on-disk layout
// rooted at cfg.DataDir, per spec.md §6.
func (c Config) ChainsDir() string      { return filepath.Join(c.DataDir, "chains") }
func (c Config) EmbeddingsDir() string  { return filepath.Join(c.DataDir, "embeddings") }
func (c Config) SecurityPath() string   { return filepath.Join(c.DataDir, "security.json") }
func (c Config) QueryCachePath() string { return filepath.Join(c.DataDir, "embeddings", "cache.json") }

// Validate checks cfg for internal consistency, in the manner of the
// teacher's ValidateConfig: one function, early-return on the first
// violation.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.SemanticWeight < 0 || cfg.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be in [0,1], got %v", cfg.SemanticWeight)
	}
	if cfg.SummaryThreshold <= 0 {
		return errors.New("summary_threshold must be > 0")
	}
	if cfg.RecallDefaultLimit <= 0 {
		return errors.New("recall_default_limit must be > 0")
	}
	if cfg.QueryCacheMaxEntries <= 0 {
		return errors.New("query_cache_max_entries must be > 0")
	}
	return nil
}
