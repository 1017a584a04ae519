package rules

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"regexp/syntax"
	"unicode"

	"github.com/TryMightyAI/rampart/pkg/scan"
)

const (
	// maxGap bounds rewritten "any character" gaps. An unbounded `.*`
	// between anchors is almost always an author shorthand for "nearby",
	// so the rewrite keeps the rule useful while bounding its work.
	maxGap = 256

	// maxRepeat is the largest counted repetition accepted at load time.
	maxRepeat = 1024
)

// Pattern safety errors surfaced through RuleLoadError.
var (
	ErrNestedRepeat = errors.New("unbounded repetition nested inside another repetition")
	ErrRepeatTooBig = errors.New("counted repetition exceeds the load-time bound")
	ErrNoPatterns   = errors.New("rule has no patterns")
	ErrDuplicateID  = errors.New("duplicate rule id")
)

// RuleLoadError records a rule rejected at load time. Rejection is
// fail-closed: the rule is skipped with a warning and never executed.
type RuleLoadError struct {
	RuleID  string
	Pattern string
	Err     error
}

func (e *RuleLoadError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("rule %s: pattern %q: %v", e.RuleID, e.Pattern, e.Err)
	}
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleLoadError) Unwrap() error { return e.Err }

// compiledRule pairs a rule with its compiled patterns.
type compiledRule struct {
	rule     Rule
	patterns []*regexp.Regexp
}

// CompiledRuleSet is an immutable, load-validated rule set. It is read-only
// after Load and safe for concurrent Execute calls without locking.
type CompiledRuleSet struct {
	rules   []compiledRule
	skipped []RuleLoadError
}

// Load compiles a rule list into a CompiledRuleSet. Loading fails closed
// per rule: a rule whose pattern cannot be proven bounded and
// non-backtracking-explosive is rejected with a logged warning, and the
// rest of the set still loads. Duplicate IDs keep the first occurrence.
func Load(sourceRules []Rule) *CompiledRuleSet {
	set := &CompiledRuleSet{rules: make([]compiledRule, 0, len(sourceRules))}
	seen := make(map[string]bool, len(sourceRules))

	for _, r := range sourceRules {
		if r.ID == "" || seen[r.ID] {
			set.reject(RuleLoadError{RuleID: r.ID, Err: ErrDuplicateID})
			continue
		}
		if len(r.Patterns) == 0 {
			set.reject(RuleLoadError{RuleID: r.ID, Err: ErrNoPatterns})
			continue
		}

		r.Family = scan.NormalizeFamily(string(r.Family))
		r.Confidence = clampConfidence(r.Confidence)

		compiled := make([]*regexp.Regexp, 0, len(r.Patterns))
		ok := true
		for _, p := range r.Patterns {
			re, err := compileSafe(p)
			if err != nil {
				set.reject(RuleLoadError{RuleID: r.ID, Pattern: p, Err: err})
				ok = false
				break
			}
			compiled = append(compiled, re)
		}
		if !ok {
			continue
		}

		seen[r.ID] = true
		set.rules = append(set.rules, compiledRule{rule: r, patterns: compiled})
	}

	return set
}

func (s *CompiledRuleSet) reject(e RuleLoadError) {
	log.Printf("[rules] skipping %v", &e)
	s.skipped = append(s.skipped, e)
}

// Len returns the number of loaded rules.
func (s *CompiledRuleSet) Len() int { return len(s.rules) }

// Skipped returns the rules rejected at load time.
func (s *CompiledRuleSet) Skipped() []RuleLoadError { return s.skipped }

// Rules returns the loaded rule source data, in execution order.
func (s *CompiledRuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	for i, cr := range s.rules {
		out[i] = cr.rule
	}
	return out
}

func clampConfidence(c float64) float64 {
	switch {
	case c <= 0:
		return 0.5
	case c > 1:
		return 1.0
	default:
		return c
	}
}

// compileSafe parses, rewrites, and validates a pattern before compiling
// it with Go's RE2 engine. RE2 guarantees matching time linear in input
// length; the load-time checks additionally bound the pattern's work by
// rewriting unbounded any-char gaps and rejecting nested unbounded
// repetition outright.
func compileSafe(pattern string) (*regexp.Regexp, error) {
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, err
	}

	rewriteGaps(parsed)

	if err := checkBounded(parsed, false); err != nil {
		return nil, err
	}

	return regexp.Compile(parsed.String())
}

// isAnyChar reports whether the node matches (nearly) any character:
// `.`, `(?s).`, or a class like [\s\S] covering the full rune range.
func isAnyChar(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return true
	case syntax.OpCharClass:
		return len(re.Rune) >= 2 && re.Rune[0] <= 0 && re.Rune[len(re.Rune)-1] >= unicode.MaxRune
	default:
		return false
	}
}

// rewriteGaps replaces unbounded any-char repetitions (`.*`, `.+`,
// `[\s\S]*`) with bounded counted equivalents, in place.
func rewriteGaps(re *syntax.Regexp) {
	if (re.Op == syntax.OpStar || re.Op == syntax.OpPlus) &&
		len(re.Sub) == 1 && isAnyChar(re.Sub[0]) {
		min := 0
		if re.Op == syntax.OpPlus {
			min = 1
		}
		re.Op = syntax.OpRepeat
		re.Min = min
		re.Max = maxGap
		return
	}

	for _, sub := range re.Sub {
		rewriteGaps(sub)
	}
}

// checkBounded walks the parse tree and rejects unbounded repetition nested
// inside another repetition, plus oversized counted repeats.
func checkBounded(re *syntax.Regexp, insideRepeat bool) error {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		if insideRepeat {
			return ErrNestedRepeat
		}
		insideRepeat = true
	case syntax.OpRepeat:
		if re.Max < 0 {
			if insideRepeat {
				return ErrNestedRepeat
			}
		} else if re.Max > maxRepeat {
			return ErrRepeatTooBig
		}
		insideRepeat = true
	}

	for _, sub := range re.Sub {
		if err := checkBounded(sub, insideRepeat); err != nil {
			return err
		}
	}
	return nil
}
