package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for invalid log level")
	}
}

func TestValidateRejectsOutOfRangeSemanticWeight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SemanticWeight = 1.5
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for out-of-range semantic weight")
	}
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "  "
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for empty data dir")
	}
}

func TestValidateRejectsNonPositiveThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SummaryThreshold = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for zero summary threshold")
	}
}
