// Package pipeline orchestrates the full scan: the rule layer (L1) runs
// synchronously on every call, the semantic layer (L2) runs under a
// latency budget and a bounded worker pool, and the merged result goes
// through the policy engine. Content and model failures never fail a
// scan; they degrade to warnings on the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/TryMightyAI/rampart/pkg/ml"
	"github.com/TryMightyAI/rampart/pkg/policy"
	"github.com/TryMightyAI/rampart/pkg/rules"
	"github.com/TryMightyAI/rampart/pkg/scan"
)

// Pipeline errors. These are the only errors Scan returns; everything
// else degrades to result warnings.
var (
	ErrPipelineClosed = errors.New("pipeline is closed")
)

// L2Status describes the semantic layer's outcome for one scan.
type L2Status string

const (
	L2Completed   L2Status = "completed"
	L2Skipped     L2Status = "skipped"
	L2Timeout     L2Status = "timeout"
	L2Cancelled   L2Status = "cancelled"
	L2Unavailable L2Status = "unavailable"
)

// ScanPipelineResult is the full outcome of one Scan call. It carries a
// hash and length of the scanned content, never the content itself.
type ScanPipelineResult struct {
	ScanID        uuid.UUID               `json:"scan_id"`
	ContentHash   string                  `json:"content_hash"`
	ContentLength int                     `json:"content_length"`
	Combined      scan.CombinedScanResult `json:"combined"`
	Decision      policy.PolicyDecision   `json:"decision"`
	Mode          string                  `json:"mode"`
	L2Status      L2Status                `json:"l2_status"`
	L1Duration    time.Duration           `json:"l1_duration"`
	L2Duration    time.Duration           `json:"l2_duration"`
	TotalDuration time.Duration           `json:"total_duration"`
	Warnings      []string                `json:"warnings,omitempty"`
}

// Options assembles a pipeline from prepared components.
type Options struct {
	// Rules is the compiled L1 rule set. Nil loads the builtin pack.
	Rules *rules.CompiledRuleSet
	// Provider generates embeddings. Nil degrades to the stub provider.
	Provider ml.EmbeddingProvider
	// Classifier is the semantic engine. Nil disables L2.
	Classifier *ml.BinaryFirstEngine
	// Policy is validated fail-closed at construction.
	Policy policy.PolicyConfig
}

// Pipeline is the scan orchestrator. Safe for concurrent Scan calls; the
// semaphore bounds concurrent semantic inference across all callers.
type Pipeline struct {
	ruleset    *rules.CompiledRuleSet
	provider   ml.EmbeddingProvider
	classifier *ml.BinaryFirstEngine
	engine     *policy.Engine

	sem    *semaphore.Weighted
	closed atomic.Bool

	scans      atomic.Int64
	l2Runs     atomic.Int64
	l2Timeouts atomic.Int64
	l2Errors   atomic.Int64
}

// New builds a pipeline. An invalid policy fails construction; a missing
// model does not (the pipeline runs L1-only with per-result warnings).
func New(opts Options) (*Pipeline, error) {
	engine, err := policy.NewEngine(opts.Policy)
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	ruleset := opts.Rules
	if ruleset == nil {
		ruleset = rules.Load(rules.DefaultRules())
	}
	provider := opts.Provider
	if provider == nil {
		provider = ml.NewStubProvider()
	}

	p := &Pipeline{
		ruleset:    ruleset,
		provider:   provider,
		classifier: opts.Classifier,
		engine:     engine,
		sem:        semaphore.NewWeighted(int64(opts.Policy.L2Workers)),
	}

	log.Printf("[pipeline] ready (mode: %s, rules: %d, l2: %v, workers: %d, budget: %s)",
		opts.Policy.Mode, ruleset.Len(), p.l2Available(), opts.Policy.L2Workers, opts.Policy.L2Budget())
	return p, nil
}

func (p *Pipeline) l2Available() bool {
	return p.classifier != nil && p.provider.Ready()
}

// Scan runs the full pipeline over one text. It returns an error only
// when the context is already cancelled or the pipeline is closed; all
// scan-time degradation is reported through the result's warnings.
func (p *Pipeline) Scan(ctx context.Context, text string, opts ...ScanOption) (*ScanPipelineResult, error) {
	if p.closed.Load() {
		return nil, ErrPipelineClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.scans.Add(1)

	settings := p.settings(opts)
	start := time.Now()

	result := &ScanPipelineResult{
		ScanID:        uuid.New(),
		ContentHash:   scan.ContentHash(text),
		ContentLength: len(text),
		Mode:          settings.mode,
	}

	l1 := p.ruleset.Execute(text)
	result.L1Duration = l1.Elapsed

	var l2 *scan.L2Prediction
	status, reason := p.l2Plan(settings.mode, l1)
	if status == L2Completed {
		l2, status, reason = p.runL2(ctx, text)
	}
	result.L2Status = status
	if reason != "" {
		result.Warnings = append(result.Warnings, reason)
	}
	if l2 != nil {
		result.L2Duration = l2.Elapsed
		// A benign verdict is the absence of a finding: nothing to merge.
		if !l2.Attack {
			l2 = nil
		}
	}

	result.Combined = scan.Merge(l1, l2)
	result.Decision = p.engine.Decide(result.Combined)
	result.TotalDuration = time.Since(start)
	return result, nil
}

// l2Plan decides whether the semantic layer should run at all.
// L2Completed here means "go run it".
func (p *Pipeline) l2Plan(mode string, l1 scan.L1Result) (L2Status, string) {
	if mode == policy.ModeFast {
		return L2Skipped, ""
	}
	if !p.l2Available() {
		return L2Unavailable, "semantic layer unavailable: no embedding model"
	}
	if mode == policy.ModeBalanced {
		cfg := p.engine.Config()
		for _, d := range l1.Detections {
			if d.Severity.AtLeast(cfg.SkipSeverity) && d.Confidence >= cfg.SkipConfidence {
				return L2Skipped, ""
			}
		}
	}
	return L2Completed, ""
}

// l2Outcome carries the semantic result across the worker goroutine.
type l2Outcome struct {
	pred scan.L2Prediction
	err  error
}

// runL2 embeds and classifies the text under the configured budget.
// Late results after the budget or the caller's cancellation are
// discarded: the worker's send is buffered so it never leaks.
func (p *Pipeline) runL2(ctx context.Context, text string) (*scan.L2Prediction, L2Status, string) {
	budget := p.engine.Config().L2Budget()
	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if err := p.sem.Acquire(budgetCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, L2Cancelled, "semantic layer cancelled while queued"
		}
		p.l2Timeouts.Add(1)
		return nil, L2Timeout, fmt.Sprintf("semantic layer timed out queueing after %s", budget)
	}
	p.l2Runs.Add(1)

	done := make(chan l2Outcome, 1)
	go func() {
		defer p.sem.Release(1)
		embedding, err := p.provider.Embed(budgetCtx, text)
		if err != nil {
			done <- l2Outcome{err: fmt.Errorf("embedding failed: %w", err)}
			return
		}
		pred, err := p.classifier.Classify(budgetCtx, embedding)
		if err != nil {
			done <- l2Outcome{err: fmt.Errorf("classification failed: %w", err)}
			return
		}
		done <- l2Outcome{pred: pred}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			p.l2Errors.Add(1)
			return nil, L2Unavailable, fmt.Sprintf("semantic layer degraded: %v", out.err)
		}
		return &out.pred, L2Completed, ""
	case <-budgetCtx.Done():
		if ctx.Err() != nil {
			return nil, L2Cancelled, "semantic layer cancelled mid-inference"
		}
		p.l2Timeouts.Add(1)
		return nil, L2Timeout, fmt.Sprintf("semantic layer timed out after %s", budget)
	}
}

// Health is a snapshot of pipeline activity for operational checks.
type Health struct {
	Scans       int64           `json:"scans"`
	L2Runs      int64           `json:"l2_runs"`
	L2Timeouts  int64           `json:"l2_timeouts"`
	L2Errors    int64           `json:"l2_errors"`
	L2Available bool            `json:"l2_available"`
	RulesLoaded int             `json:"rules_loaded"`
	Classifier  *ml.HealthStats `json:"classifier,omitempty"`
}

// Health reports cumulative counters and component readiness.
func (p *Pipeline) Health() Health {
	h := Health{
		Scans:       p.scans.Load(),
		L2Runs:      p.l2Runs.Load(),
		L2Timeouts:  p.l2Timeouts.Load(),
		L2Errors:    p.l2Errors.Load(),
		L2Available: p.l2Available(),
		RulesLoaded: p.ruleset.Len(),
	}
	if p.classifier != nil {
		stats := p.classifier.Stats()
		h.Classifier = &stats
	}
	return h
}

// Close marks the pipeline closed and releases the embedder if it owns
// closable resources. In-flight scans finish; new ones are rejected.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if closer, ok := p.provider.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
