// Package policy turns a combined scan result into an enforcement
// decision. The config is validated fail-closed at load time and
// immutable afterwards; the decision function itself is pure.
package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TryMightyAI/rampart/pkg/scan"
)

// Action is the enforcement verdict for a scan.
type Action string

const (
	ActionAllow     Action = "ALLOW"
	ActionWarn      Action = "WARN"
	ActionBlock     Action = "BLOCK"
	ActionChallenge Action = "CHALLENGE"
)

// ParseAction parses a case-insensitive action name.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALLOW":
		return ActionAllow, nil
	case "WARN":
		return ActionWarn, nil
	case "BLOCK":
		return ActionBlock, nil
	case "CHALLENGE":
		return ActionChallenge, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Scan modes.
const (
	ModeFast     = "fast"     // never run L2
	ModeThorough = "thorough" // always run L2
	ModeBalanced = "balanced" // skip L2 when L1 already found enough
)

// Config validation errors.
var (
	ErrBadThresholdOrder = errors.New("warn_severity must not exceed block_severity")
	ErrBadConfidence     = errors.New("confidence thresholds must be within [0,1]")
	ErrBadMode           = errors.New("mode must be fast, thorough, or balanced")
	ErrBadUncertain      = errors.New("uncertain_action must be warn, challenge, or block")
	ErrBadSuppression    = errors.New("suppressions must be non-empty and unique")
	ErrBadWorkers        = errors.New("l2_workers must be between 1 and 64")
	ErrBadBudget         = errors.New("l2_budget_ms must be between 10 and 10000")
)

// PolicyConfig drives both the enforcement decision and the pipeline's
// L2 scheduling. Immutable after a successful Validate.
type PolicyConfig struct {
	// Mode selects the L2 scheduling strategy.
	Mode string `yaml:"mode"`

	// BlockSeverity is the minimum severity that blocks.
	BlockSeverity scan.Severity `yaml:"block_severity"`
	// WarnSeverity is the minimum severity that warns.
	WarnSeverity scan.Severity `yaml:"warn_severity"`
	// MinConfidence is the floor below which a detection cannot drive
	// the decision (it stays visible in the result).
	MinConfidence float64 `yaml:"min_confidence"`

	// SkipSeverity and SkipConfidence gate the balanced-mode smart skip:
	// an L1 detection at least this severe and confident makes the
	// semantic pass redundant.
	SkipSeverity   scan.Severity `yaml:"skip_severity"`
	SkipConfidence float64       `yaml:"skip_confidence"`

	// UncertainAction applies when the semantic layer flags a
	// high-severity result it cannot assign to a family. Allowed values:
	// warn, challenge, block.
	UncertainAction string `yaml:"uncertain_action"`

	// Suppressions lists rule IDs or family names whose detections never
	// drive the decision.
	Suppressions []string `yaml:"suppressions"`

	// L2BudgetMS caps the semantic pass per scan, in milliseconds.
	L2BudgetMS int `yaml:"l2_budget_ms"`
	// L2Workers bounds concurrent semantic inference across scans.
	L2Workers int `yaml:"l2_workers"`
}

// DefaultPolicyConfig returns the documented defaults.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Mode:            ModeBalanced,
		BlockSeverity:   scan.SeverityHigh,
		WarnSeverity:    scan.SeverityMedium,
		MinConfidence:   0.4,
		SkipSeverity:    scan.SeverityCritical,
		SkipConfidence:  0.90,
		UncertainAction: "warn",
		L2BudgetMS:      400,
		L2Workers:       4,
	}
}

// LoadPolicyFile reads a YAML policy over the defaults and validates it.
// An empty path returns the validated defaults.
func LoadPolicyFile(path string) (PolicyConfig, error) {
	cfg := DefaultPolicyConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PolicyConfig{}, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return PolicyConfig{}, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return cfg, nil
}

// L2Budget returns the semantic pass budget as a duration.
func (c PolicyConfig) L2Budget() time.Duration {
	return time.Duration(c.L2BudgetMS) * time.Millisecond
}

// UncertainVerdict returns the configured uncertain action as an Action.
// Only valid after Validate.
func (c PolicyConfig) UncertainVerdict() Action {
	a, err := ParseAction(c.UncertainAction)
	if err != nil {
		return ActionWarn
	}
	return a
}

// Validate rejects any config a misconfigured deployment could silently
// weaken enforcement with. Fail-closed: an invalid policy never loads.
func (c PolicyConfig) Validate() error {
	switch c.Mode {
	case ModeFast, ModeThorough, ModeBalanced:
	default:
		return fmt.Errorf("%w: got %q", ErrBadMode, c.Mode)
	}

	if c.WarnSeverity > c.BlockSeverity {
		return fmt.Errorf("%w: warn=%s block=%s", ErrBadThresholdOrder, c.WarnSeverity, c.BlockSeverity)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence=%v", ErrBadConfidence, c.MinConfidence)
	}
	if c.SkipConfidence < 0 || c.SkipConfidence > 1 {
		return fmt.Errorf("%w: skip_confidence=%v", ErrBadConfidence, c.SkipConfidence)
	}

	switch strings.ToLower(c.UncertainAction) {
	case "warn", "challenge", "block":
	default:
		return fmt.Errorf("%w: got %q", ErrBadUncertain, c.UncertainAction)
	}

	seen := make(map[string]bool, len(c.Suppressions))
	for _, s := range c.Suppressions {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty entry", ErrBadSuppression)
		}
		if seen[s] {
			return fmt.Errorf("%w: duplicate %q", ErrBadSuppression, s)
		}
		seen[s] = true
	}

	if c.L2Workers < 1 || c.L2Workers > 64 {
		return fmt.Errorf("%w: got %d", ErrBadWorkers, c.L2Workers)
	}
	if c.L2BudgetMS < 10 || c.L2BudgetMS > 10000 {
		return fmt.Errorf("%w: got %d", ErrBadBudget, c.L2BudgetMS)
	}
	return nil
}
