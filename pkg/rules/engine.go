package rules

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/TryMightyAI/rampart/pkg/scan"
)

// NormalizeText applies NFKC normalization to convert mathematical or
// stylistic Unicode variants (fullwidth, circled, bold) to their ASCII
// equivalents before matching, closing the trivial homoglyph evasion.
func NormalizeText(text string) (normalized string, wasNormalized bool) {
	normalized = norm.NFKC.String(text)
	wasNormalized = normalized != text
	return
}

// Execute runs every loaded rule against the text and returns the layer-1
// result. Execute never fails: rule sets are validated at load time, and a
// rule that does not match simply contributes nothing. Each rule yields at
// most one detection (its first matching pattern).
func (s *CompiledRuleSet) Execute(text string) scan.L1Result {
	start := time.Now()

	normalized, _ := NormalizeText(text)

	result := scan.L1Result{
		Detections:     make([]scan.Detection, 0, 4),
		RulesEvaluated: len(s.rules),
	}

	for _, cr := range s.rules {
		for _, re := range cr.patterns {
			loc := re.FindStringIndex(normalized)
			if loc == nil {
				continue
			}

			result.Detections = append(result.Detections, scan.Detection{
				RuleID:     cr.rule.ID,
				Family:     cr.rule.Family,
				Severity:   cr.rule.Severity,
				Confidence: cr.rule.Confidence,
				Snippet:    scan.RedactSnippet(normalized[loc[0]:loc[1]], cr.rule.Family),
				Layer:      scan.LayerRules,
			})
			break
		}
	}

	result.Elapsed = time.Since(start)
	return result
}
