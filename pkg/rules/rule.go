// Package rules implements the deterministic pattern-matching layer (L1).
//
// Rules are loaded once at startup from YAML packs (with a builtin default
// pack as fallback) and compiled into an immutable CompiledRuleSet. Every
// compiled pattern is guaranteed to execute in time linear in input length:
// the engine processes untrusted, adversarial text, so patterns that cannot
// be proven bounded are rejected at load time, never executed.
package rules

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/TryMightyAI/rampart/pkg/scan"
)

// Rule is the source data for a single detection rule. Immutable after load.
type Rule struct {
	// ID is unique within a loaded set. Duplicates are skipped at load.
	ID string `yaml:"id" json:"id"`
	// Family is the threat category tag; normalized to the closed set.
	Family scan.ThreatFamily `yaml:"family" json:"family"`
	// Severity ranks detections produced by this rule.
	Severity scan.Severity `yaml:"severity" json:"severity"`
	// Patterns are the regular expressions to compile. At least one.
	Patterns []string `yaml:"patterns" json:"patterns"`
	// Confidence is the static confidence attached to matches, 0.0 to 1.0.
	Confidence float64 `yaml:"confidence" json:"confidence"`
	// Description is optional explanation text for reports.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// pack is the YAML structure of a rule pack file.
type pack struct {
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}

// LoadPackFile parses a single YAML rule pack.
func LoadPackFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule pack: %w", err)
	}

	var p pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse rule pack %s: %w", path, err)
	}
	return p.Rules, nil
}

// LoadPackDir loads every *.yaml rule pack in a directory. A malformed pack
// file is skipped with a warning; the remaining packs still load.
// Returns the builtin default rules when the directory yields nothing.
func LoadPackDir(dir string) []Rule {
	if dir == "" {
		return DefaultRules()
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil || len(files) == 0 {
		log.Printf("[rules] no rule packs in %s, using builtin defaults", dir)
		return DefaultRules()
	}

	var all []Rule
	for _, file := range files {
		loaded, err := LoadPackFile(file)
		if err != nil {
			log.Printf("[rules] skipping pack %s: %v", file, err)
			continue
		}
		all = append(all, loaded...)
	}

	if len(all) == 0 {
		log.Printf("[rules] rule packs in %s were empty, using builtin defaults", dir)
		return DefaultRules()
	}
	return all
}
