package pipeline

import "github.com/TryMightyAI/rampart/pkg/policy"

// scanSettings are the per-call knobs, resolved from the policy defaults
// plus any ScanOption overrides.
type scanSettings struct {
	mode string
}

// ScanOption overrides one scan's behavior without touching the
// pipeline's configuration.
type ScanOption func(*scanSettings)

// WithMode overrides the scan mode for a single call. Unknown modes are
// ignored and the configured mode applies.
func WithMode(mode string) ScanOption {
	return func(s *scanSettings) {
		switch mode {
		case policy.ModeFast, policy.ModeThorough, policy.ModeBalanced:
			s.mode = mode
		}
	}
}

func (p *Pipeline) settings(opts []ScanOption) scanSettings {
	s := scanSettings{mode: p.engine.Config().Mode}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
