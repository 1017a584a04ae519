package policy

import (
	"fmt"
	"strings"

	"github.com/TryMightyAI/rampart/pkg/scan"
)

// PolicyDecision is the enforcement outcome for one scan.
type PolicyDecision struct {
	Action             Action `json:"action"`
	ShouldBlock        bool   `json:"should_block"`
	SuppressionApplied bool   `json:"suppression_applied"`
	Reason             string `json:"reason"`
}

// Engine applies a validated PolicyConfig to combined scan results.
// Decide is pure: it reads the result and the config, mutates neither,
// and the same inputs always produce the same decision.
type Engine struct {
	cfg        PolicyConfig
	suppressed map[string]bool
}

// NewEngine validates the config and builds an engine. Invalid configs
// never produce an engine.
func NewEngine(cfg PolicyConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	suppressed := make(map[string]bool, len(cfg.Suppressions))
	for _, s := range cfg.Suppressions {
		suppressed[strings.ToLower(s)] = true
	}
	return &Engine{cfg: cfg, suppressed: suppressed}, nil
}

// Config returns the engine's validated config.
func (e *Engine) Config() PolicyConfig { return e.cfg }

// isSuppressed matches a detection against the suppression list by rule
// ID or family name.
func (e *Engine) isSuppressed(d scan.Detection) bool {
	return e.suppressed[strings.ToLower(d.RuleID)] || e.suppressed[strings.ToLower(string(d.Family))]
}

// Decide maps a combined result to an enforcement decision. Suppressed
// and below-MinConfidence detections stay visible in the result but
// never drive the verdict.
func (e *Engine) Decide(combined scan.CombinedScanResult) PolicyDecision {
	if len(combined.Detections) == 0 {
		return PolicyDecision{Action: ActionAllow, Reason: "no detections"}
	}

	var (
		top            scan.Detection
		haveTop        bool
		anySuppressed  bool
		anyLowConf     bool
		drivingL1Count int
	)
	for _, d := range combined.Detections {
		if e.isSuppressed(d) {
			anySuppressed = true
			continue
		}
		if d.Confidence < e.cfg.MinConfidence {
			anyLowConf = true
			continue
		}
		if d.Layer == scan.LayerRules {
			drivingL1Count++
		}
		if !haveTop || d.Severity > top.Severity ||
			(d.Severity == top.Severity && d.Confidence > top.Confidence) {
			top = d
			haveTop = true
		}
	}

	if !haveTop {
		if anySuppressed {
			return PolicyDecision{
				Action:             ActionAllow,
				SuppressionApplied: true,
				Reason:             "all driving detections suppressed by policy",
			}
		}
		if anyLowConf {
			return PolicyDecision{
				Action: ActionAllow,
				Reason: fmt.Sprintf("all detections below min confidence %.2f", e.cfg.MinConfidence),
			}
		}
		return PolicyDecision{Action: ActionAllow, Reason: "no detections"}
	}

	// An uncertain high-severity semantic verdict with no rule-layer
	// corroboration gets the configured fail-safe action instead of a
	// severity-threshold block on a family the classifier refused to name.
	if combined.L2 != nil && combined.L2.Uncertain &&
		combined.L2.Severity.AtLeast(scan.SeverityHigh) &&
		drivingL1Count == 0 {
		action := e.cfg.UncertainVerdict()
		return PolicyDecision{
			Action:             action,
			ShouldBlock:        action == ActionBlock,
			SuppressionApplied: anySuppressed,
			Reason:             "uncertain semantic verdict at high severity",
		}
	}

	switch {
	case top.Severity.AtLeast(e.cfg.BlockSeverity):
		return PolicyDecision{
			Action:             ActionBlock,
			ShouldBlock:        true,
			SuppressionApplied: anySuppressed,
			Reason:             fmt.Sprintf("severity %s meets block threshold (rule %s)", top.Severity, top.RuleID),
		}
	case top.Severity.AtLeast(e.cfg.WarnSeverity):
		return PolicyDecision{
			Action:             ActionWarn,
			SuppressionApplied: anySuppressed,
			Reason:             fmt.Sprintf("severity %s meets warn threshold (rule %s)", top.Severity, top.RuleID),
		}
	default:
		return PolicyDecision{
			Action:             ActionAllow,
			SuppressionApplied: anySuppressed,
			Reason:             fmt.Sprintf("severity %s below warn threshold", top.Severity),
		}
	}
}
