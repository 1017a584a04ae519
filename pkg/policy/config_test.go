package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TryMightyAI/rampart/pkg/scan"
)

func TestLoadPolicyFileDefaults(t *testing.T) {
	cfg, err := LoadPolicyFile("")
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	if cfg.Mode != ModeBalanced || cfg.BlockSeverity != scan.SeverityHigh {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.L2Budget() != 400*time.Millisecond {
		t.Errorf("L2Budget = %v, want 400ms", cfg.L2Budget())
	}
}

func TestLoadPolicyFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `mode: thorough
block_severity: critical
warn_severity: high
uncertain_action: challenge
suppressions:
  - pii.email
l2_budget_ms: 250
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	if cfg.Mode != ModeThorough {
		t.Errorf("mode = %s, want thorough", cfg.Mode)
	}
	if cfg.BlockSeverity != scan.SeverityCritical || cfg.WarnSeverity != scan.SeverityHigh {
		t.Errorf("severities = %s/%s", cfg.BlockSeverity, cfg.WarnSeverity)
	}
	if cfg.UncertainVerdict() != ActionChallenge {
		t.Errorf("uncertain verdict = %s", cfg.UncertainVerdict())
	}
	if cfg.L2BudgetMS != 250 {
		t.Errorf("budget = %d, want 250", cfg.L2BudgetMS)
	}
	// Unset keys keep their defaults.
	if cfg.L2Workers != 4 {
		t.Errorf("workers = %d, want default 4", cfg.L2Workers)
	}
}

func TestLoadPolicyFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("mode: yolo\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPolicyFile(path); err == nil {
		t.Fatal("invalid policy must fail to load")
	}
}
