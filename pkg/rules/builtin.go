package rules

import "github.com/TryMightyAI/rampart/pkg/scan"

// DefaultRules returns the builtin rule pack. It is used when no rule pack
// directory is configured or when the configured packs fail to load, so
// heuristic detection always works without configuration files.
func DefaultRules() []Rule {
	return []Rule{
		// === PROMPT INJECTION ===
		{
			ID:          "pi.ignore_instructions",
			Family:      scan.FamilyPromptInjection,
			Severity:    scan.SeverityCritical,
			Confidence:  0.95,
			Description: "Direct instruction-override attempt",
			Patterns: []string{
				`(?i)(ignore|disregard|forget|bypass|override)\s+(all\s+|any\s+)?(previous|prior|above|earlier|the)\s+(instructions?|prompts?|rules?|directions?)`,
			},
		},
		{
			ID:          "pi.system_prompt_probe",
			Family:      scan.FamilyPromptInjection,
			Severity:    scan.SeverityHigh,
			Confidence:  0.80,
			Description: "Attempt to elicit the hidden system prompt",
			Patterns: []string{
				`(?i)(repeat|reveal|show|print|output)\s+(everything|all\s+text|the\s+text)\s+(above|before)`,
				`(?i)your\s+(hidden|system)\s+(prompt|instructions?)`,
			},
		},
		{
			ID:          "pi.policy_block",
			Family:      scan.FamilyPromptInjection,
			Severity:    scan.SeverityHigh,
			Confidence:  0.85,
			Description: "Injected policy/config structure",
			Patterns: []string{
				`(?i)<policy[^>]{0,128}>[\s\S]{0,256}(allow\s+all|ignore\s+safety|bypass|override|no\s+restrict)`,
				`(?i)\[(SYSTEM|CONFIG|POLICY|SETTINGS|RULES)\][\s\S]{0,200}(disabled|none|false|off|unrestricted)`,
			},
		},

		// === JAILBREAK ===
		{
			ID:          "jb.persona_hijack",
			Family:      scan.FamilyJailbreak,
			Severity:    scan.SeverityCritical,
			Confidence:  0.90,
			Description: "Unrestricted-persona hijack",
			Patterns: []string{
				`(?i)you\s+are\s+now\s+\w{1,32},?\s*(an?\s+)?(AI|assistant|bot|model)?\s*(with|without|that\s+has)\s+no\s+(restrictions?|rules?|limits?|constraints?|guidelines?)`,
			},
		},
		{
			ID:          "jb.dan_mode",
			Family:      scan.FamilyJailbreak,
			Severity:    scan.SeverityHigh,
			Confidence:  0.85,
			Description: "Known jailbreak persona or mode name",
			Patterns: []string{
				`(?i)\b(DAN|STAN|DUDE)\s+mode\b`,
				`(?i)\b(developer|jailbreak)\s*mode\b`,
			},
		},
		{
			ID:          "jb.pretend_unrestricted",
			Family:      scan.FamilyJailbreak,
			Severity:    scan.SeverityHigh,
			Confidence:  0.85,
			Description: "Roleplay framing into an unrestricted persona",
			Patterns: []string{
				`(?i)(pretend|imagine|act\s+as\s+if|suppose)\s+(you'?re?|you\s+are|to\s+be)\s+(an?\s+)?(evil|unrestricted|unfiltered|uncensored|jailbroken)`,
			},
		},
		{
			ID:          "jb.safety_toggle",
			Family:      scan.FamilyJailbreak,
			Severity:    scan.SeverityHigh,
			Confidence:  0.90,
			Description: "Safety/filter toggle injection",
			Patterns: []string{
				`(?i)safety[_\-\s]{0,3}(enabled|mode|check|filter)["\s:=]{1,8}(false|off|disabled|0|none|null)`,
				`(?i)restrictions?["\s:=]{1,8}(none|off|disabled|false|null|0)`,
				`(?i)mode["\s:=]{1,8}["']?(unrestricted|unfiltered|raw|unsafe|jailbreak)["']?`,
			},
		},

		// === IMPERSONATION ===
		{
			ID:          "imp.admin_override",
			Family:      scan.FamilyImpersonation,
			Severity:    scan.SeverityHigh,
			Confidence:  0.85,
			Description: "Claimed admin/system override",
			Patterns: []string{
				`(?i)(admin|root|system|override)[_\-\s]{0,3}(override|access|mode|privileges?)["\s:=]{1,8}(true|enabled|1|on|yes)`,
				`(?i)trust[_\-\s]{0,3}level["\s:=]{1,8}["']?(max|maximum|admin|root|full)["']?`,
			},
		},

		// === PII / CREDENTIALS ===
		{
			ID:          "pii.email",
			Family:      scan.FamilyPII,
			Severity:    scan.SeverityMedium,
			Confidence:  0.70,
			Description: "Email address",
			Patterns: []string{
				`[A-Za-z0-9._%+\-]{1,64}@[A-Za-z0-9.\-]{1,255}\.[A-Za-z]{2,12}`,
			},
		},
		{
			ID:          "pii.ssn",
			Family:      scan.FamilyPII,
			Severity:    scan.SeverityHigh,
			Confidence:  0.80,
			Description: "US social security number",
			Patterns: []string{
				`\b\d{3}-\d{2}-\d{4}\b`,
			},
		},
		{
			ID:          "pii.private_key",
			Family:      scan.FamilyPII,
			Severity:    scan.SeverityCritical,
			Confidence:  0.99,
			Description: "PEM private key material",
			Patterns: []string{
				`-----BEGIN (RSA |EC |DSA |ED25519 |OPENSSH |ENCRYPTED |PGP )?PRIVATE KEY( BLOCK)?-----`,
			},
		},
		{
			ID:          "pii.cloud_key",
			Family:      scan.FamilyPII,
			Severity:    scan.SeverityCritical,
			Confidence:  0.95,
			Description: "Cloud provider access key",
			Patterns: []string{
				`\bAKIA[0-9A-Z]{16}\b`,
				`\bssh-(rsa|ed25519)\s+[A-Za-z0-9+/]{32,512}`,
			},
		},

		// === COMMAND INJECTION ===
		{
			ID:          "cmd.destructive_shell",
			Family:      scan.FamilyCommandInjection,
			Severity:    scan.SeverityHigh,
			Confidence:  0.80,
			Description: "Destructive shell invocation",
			Patterns: []string{
				`(?i)\brm\s+-rf\s+[/~\w]`,
				`(?i)\bcurl\s+[^\n|]{0,128}\|\s*(ba)?sh\b`,
			},
		},
		{
			ID:          "cmd.sql_destructive",
			Family:      scan.FamilyCommandInjection,
			Severity:    scan.SeverityHigh,
			Confidence:  0.80,
			Description: "Destructive SQL statement",
			Patterns: []string{
				`(?i)\b(drop\s+(table|database)|truncate\s+table|delete\s+from)\b`,
			},
		},
		{
			ID:          "cmd.formula_injection",
			Family:      scan.FamilyCommandInjection,
			Severity:    scan.SeverityHigh,
			Confidence:  0.90,
			Description: "CSV/spreadsheet formula injection",
			Patterns: []string{
				`(?mi)^[\s"']{0,8}=(cmd|dde|powershell|rundll32?|msexcel)[|(]`,
			},
		},

		// === ENCODING / OBFUSCATION ===
		{
			ID:          "enc.decode_request",
			Family:      scan.FamilyEncoding,
			Severity:    scan.SeverityMedium,
			Confidence:  0.65,
			Description: "Decode-then-execute framing",
			Patterns: []string{
				`(?i)(decode|unscramble|decrypt|decipher)\s+(this|the\s+following|below)`,
				`(?i)the\s+following\s+is\s+(reversed|backwards|encoded|encrypted)`,
			},
		},
		{
			ID:          "enc.base64_payload",
			Family:      scan.FamilyEncoding,
			Severity:    scan.SeverityMedium,
			Confidence:  0.60,
			Description: "Base64 payload with execution intent",
			Patterns: []string{
				`(?i)\bbase64\b.{0,64}(decode|payload|execute|run)`,
				`(?i)(decode|execute|run).{0,64}\bbase64\b`,
			},
		},

		// === DATA EXFILTRATION ===
		{
			ID:          "exfil.model_internals",
			Family:      scan.FamilyDataExfil,
			Severity:    scan.SeverityMedium,
			Confidence:  0.60,
			Description: "Probing for model internals or context",
			Patterns: []string{
				`(?i)what\s+(was|were)\s+you\s+told`,
				`(?i)\b(training\s+data|model\s+weights|internal\s+reasoning|context\s+window)\b`,
			},
		},

		// === RAG / INDIRECT INJECTION ===
		{
			ID:          "rag.hidden_instruction",
			Family:      scan.FamilyRAGAttack,
			Severity:    scan.SeverityHigh,
			Confidence:  0.85,
			Description: "Hidden instruction embedded in retrieved content",
			Patterns: []string{
				`(?i)<(important|hidden)>`,
				`(?i)do\s+not\s+(mention|tell)\s+th(is|e\s+user)`,
				`(?i)without\s+(the\s+)?user('s)?\s+knowledge`,
			},
		},

		// === HARMFUL CONTENT ===
		{
			ID:          "hc.weapon_synthesis",
			Family:      scan.FamilyHarmfulContent,
			Severity:    scan.SeverityHigh,
			Confidence:  0.70,
			Description: "Weapon synthesis request",
			Patterns: []string{
				`(?i)\b(make|build|construct|synthesi[sz]e)\s+(a\s+|an\s+)?(bomb|explosive|nerve\s+agent|bioweapon)\b`,
			},
		},
	}
}
