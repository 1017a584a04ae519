package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Layer identifies which detection layer produced a Detection.
type Layer string

const (
	// LayerRules is the deterministic pattern-matching layer (L1).
	LayerRules Layer = "L1"
	// LayerSemantic is the ML-based semantic classification layer (L2).
	LayerSemantic Layer = "L2"
)

// Detection is a single finding from one detection layer.
// Detections are immutable value objects: create, never mutate.
type Detection struct {
	// RuleID references the rule (L1) or model head (L2) that fired.
	RuleID string `json:"rule_id"`
	// Family is the threat category of the finding.
	Family ThreatFamily `json:"family"`
	// Severity ranks the finding on the shared ordered scale.
	Severity Severity `json:"severity"`
	// Confidence is the layer's confidence in the finding, 0.0 to 1.0.
	Confidence float64 `json:"confidence"`
	// Snippet is a redacted indicator of the matched content.
	// It never contains the raw matched substring verbatim beyond what is
	// needed for explanation; PII matches are fully masked.
	Snippet string `json:"snippet,omitempty"`
	// Layer tags the producing layer.
	Layer Layer `json:"layer"`
}

// L1Result is the output of one rule-engine execution.
type L1Result struct {
	Detections     []Detection   `json:"detections"`
	Elapsed        time.Duration `json:"elapsed"`
	RulesEvaluated int           `json:"rules_evaluated"`
}

// L2Prediction is the output of the semantic classifier's voting procedure.
type L2Prediction struct {
	// Confidence is the binary (attack/benign) head confidence that the
	// input is an attack, 0.0 to 1.0.
	Confidence float64 `json:"confidence"`
	// Attack reports whether the binary head crossed the attack threshold.
	Attack bool `json:"attack"`
	// Family is the threat family assigned by the family head.
	// FamilyUnknown when benign or when Uncertain is set.
	Family ThreatFamily `json:"family"`
	// FamilyConfidence is the family head's confidence in Family.
	FamilyConfidence float64 `json:"family_confidence,omitempty"`
	// Subfamily refines the family (e.g. prompt_injection -> dan_persona).
	Subfamily string `json:"subfamily,omitempty"`
	// SubfamilyConfidence is the subfamily head's confidence.
	SubfamilyConfidence float64 `json:"subfamily_confidence,omitempty"`
	// Uncertain is set when the family head's top confidence fell below
	// the disambiguation threshold: the input looks like an attack but is
	// reported as an uncategorized threat rather than mislabeled.
	Uncertain bool `json:"uncertain,omitempty"`
	// Severity is derived from the family and the binary confidence.
	Severity Severity `json:"severity"`
	// Elapsed is the inference time for this prediction.
	Elapsed time.Duration `json:"elapsed"`
}

// Detection converts the prediction into the shared Detection shape.
func (p *L2Prediction) Detection() Detection {
	id := "l2:" + string(p.Family)
	if p.Uncertain {
		id = "l2:uncategorized"
	}
	return Detection{
		RuleID:     id,
		Family:     p.Family,
		Severity:   p.Severity,
		Confidence: p.Confidence,
		Layer:      LayerSemantic,
	}
}

// CombinedScanResult unions the L1 detections and the L2 prediction.
// Entries are never deduplicated: each layer's evidence is preserved so the
// caller can see exactly which layer flagged what.
type CombinedScanResult struct {
	Detections   []Detection   `json:"detections"`
	L2           *L2Prediction `json:"l2,omitempty"`
	// CombinedSeverity is the maximum severity across all entries.
	CombinedSeverity Severity `json:"combined_severity"`
	L1Count          int      `json:"l1_count"`
	L2Count          int      `json:"l2_count"`
}

// Total returns the number of entries in the combined result.
func (c *CombinedScanResult) Total() int {
	return c.L1Count + c.L2Count
}

// ContentHash returns a short, non-reversible hex digest of the text.
// It is the only identity of the scanned content that ever leaves the
// pipeline; the raw text is never embedded in results.
func ContentHash(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

// maskRune is the replacement used when masking matched content.
const maskRune = '*'

// RedactSnippet produces the redacted match indicator stored on a
// Detection. PII family matches are masked except for the first two runes;
// other matches are truncated to a short prefix.
func RedactSnippet(match string, family ThreatFamily) string {
	match = strings.TrimSpace(match)
	if match == "" {
		return ""
	}

	runes := []rune(match)
	if family == FamilyPII {
		masked := make([]rune, len(runes))
		for i, r := range runes {
			if i < 2 {
				masked[i] = r
				continue
			}
			masked[i] = maskRune
		}
		if len(masked) > 16 {
			masked = masked[:16]
		}
		return string(masked)
	}

	const maxSnippet = 48
	if len(runes) > maxSnippet {
		return string(runes[:maxSnippet]) + "…"
	}
	return match
}
