package scan

import "strings"

// ThreatFamily is the closed set of threat categories shared by the rule
// engine and the semantic classifier. Rules and seeds referencing a family
// outside this set are normalized through NormalizeFamily at load time.
type ThreatFamily string

const (
	FamilyPromptInjection  ThreatFamily = "prompt_injection"
	FamilyJailbreak        ThreatFamily = "jailbreak"
	FamilyPII              ThreatFamily = "pii"
	FamilyCommandInjection ThreatFamily = "command_injection"
	FamilyEncoding         ThreatFamily = "encoding"
	FamilyRAGAttack        ThreatFamily = "rag_attack"
	FamilyHarmfulContent   ThreatFamily = "harmful_content"
	FamilyDataExfil        ThreatFamily = "data_exfil"
	FamilyImpersonation    ThreatFamily = "impersonation"

	// FamilyUnknown is the catch-all for unclassified or novel threats.
	// The classifier reports it instead of fabricating a confident label.
	FamilyUnknown ThreatFamily = "unknown"
)

// String returns the string representation of a ThreatFamily.
func (f ThreatFamily) String() string {
	return string(f)
}

// familyDescriptions provides human-readable descriptions for reports.
var familyDescriptions = map[ThreatFamily]string{
	FamilyPromptInjection:  "Core prompt injection - bypass/ignore instructions",
	FamilyJailbreak:        "DAN, mode switching, persona attacks",
	FamilyPII:              "Personally identifiable information or credentials",
	FamilyCommandInjection: "Shell/code execution attempts",
	FamilyEncoding:         "Encoded or obfuscated payloads",
	FamilyRAGAttack:        "Retrieval/context poisoning via external content",
	FamilyHarmfulContent:   "Harmful or abusive content generation",
	FamilyDataExfil:        "System prompt extraction, secrets exposure",
	FamilyImpersonation:    "Authority impersonation, privilege claims",
	FamilyUnknown:          "Unknown/unclassified threat",
}

// familyToOWASP maps families to OWASP LLM Top 10 identifiers.
var familyToOWASP = map[ThreatFamily]string{
	FamilyPromptInjection:  "LLM01",
	FamilyJailbreak:        "LLM01",
	FamilyPII:              "LLM02",
	FamilyCommandInjection: "LLM03",
	FamilyEncoding:         "LLM01",
	FamilyRAGAttack:        "LLM08",
	FamilyHarmfulContent:   "LLM09",
	FamilyDataExfil:        "LLM02",
	FamilyImpersonation:    "LLM01",
	FamilyUnknown:          "",
}

// Description returns the human-readable description for a family.
func (f ThreatFamily) Description() string {
	if desc, ok := familyDescriptions[f]; ok {
		return desc
	}
	return "Unknown threat category"
}

// OWASP returns the OWASP LLM Top 10 mapping for a family.
func (f ThreatFamily) OWASP() string {
	return familyToOWASP[f]
}

// AllFamilies returns every valid family, FamilyUnknown last.
func AllFamilies() []ThreatFamily {
	return []ThreatFamily{
		FamilyPromptInjection,
		FamilyJailbreak,
		FamilyPII,
		FamilyCommandInjection,
		FamilyEncoding,
		FamilyRAGAttack,
		FamilyHarmfulContent,
		FamilyDataExfil,
		FamilyImpersonation,
		FamilyUnknown,
	}
}

// familyAliases maps legacy/external category names onto the closed set.
var familyAliases = map[string]ThreatFamily{
	"instruction_override":   FamilyPromptInjection,
	"injection":              FamilyPromptInjection,
	"persona_hijack":         FamilyJailbreak,
	"roleplay":               FamilyJailbreak,
	"roleplay_attack":        FamilyJailbreak,
	"safety_disable":         FamilyJailbreak,
	"privacy":                FamilyPII,
	"credentials":            FamilyPII,
	"secrets":                FamilyPII,
	"code_execution":         FamilyCommandInjection,
	"rce":                    FamilyCommandInjection,
	"obfuscation":            FamilyEncoding,
	"encoding_attack":        FamilyEncoding,
	"flip_attack":            FamilyEncoding,
	"rag_poisoning":          FamilyRAGAttack,
	"indirect_injection":     FamilyRAGAttack,
	"toxicity":               FamilyHarmfulContent,
	"information_extraction": FamilyDataExfil,
	"prompt_extraction":      FamilyDataExfil,
	"authority_bypass":       FamilyImpersonation,
	"admin_override":         FamilyImpersonation,
}

// NormalizeFamily converts any category string to a member of the closed
// family set. Unrecognized categories fall back to keyword matching and
// finally to FamilyUnknown.
func NormalizeFamily(category string) ThreatFamily {
	if category == "" {
		return FamilyUnknown
	}

	lower := strings.ToLower(strings.TrimSpace(category))
	for _, f := range AllFamilies() {
		if lower == string(f) {
			return f
		}
	}
	if f, ok := familyAliases[lower]; ok {
		return f
	}

	switch {
	case containsAny(lower, "inject", "override", "ignore", "bypass"):
		return FamilyPromptInjection
	case containsAny(lower, "jailbreak", "dan", "unrestrict", "persona"):
		return FamilyJailbreak
	case containsAny(lower, "pii", "ssn", "credential", "secret", "password"):
		return FamilyPII
	case containsAny(lower, "exec", "shell", "command", "code"):
		return FamilyCommandInjection
	case containsAny(lower, "obfusc", "encod", "base64", "evas"):
		return FamilyEncoding
	case containsAny(lower, "rag", "retrieval", "poison", "indirect"):
		return FamilyRAGAttack
	case containsAny(lower, "harm", "toxic", "abuse"):
		return FamilyHarmfulContent
	case containsAny(lower, "exfil", "extract", "leak", "expose"):
		return FamilyDataExfil
	case containsAny(lower, "imperson", "authority", "admin"):
		return FamilyImpersonation
	}

	return FamilyUnknown
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
