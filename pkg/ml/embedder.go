// Package ml provides the semantic detection layer (L2): local embedding
// generation via Hugot/ONNX, the embedding cache, threat seeds, and the
// binary-first semantic classifier.
package ml

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// Embedding layer errors.
var (
	// ErrModelUnavailable means no inference artifact could be found.
	// Callers degrade to the stub provider; this is a first-class,
	// non-exceptional outcome, not a scan-time failure.
	ErrModelUnavailable = errors.New("no embedding model artifact available")

	// ErrNoEmbedding means the provider cannot produce embeddings
	// (stub provider, or a closed embedder).
	ErrNoEmbedding = errors.New("no embedding available")
)

// EmbeddingProvider turns text into a fixed-size numeric vector.
type EmbeddingProvider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the embedding dimension.
	Dimension() int
	// Ready reports whether the provider can serve embeddings.
	Ready() bool
}

// HugotEmbedder generates embeddings locally with an ONNX model via Hugot.
// Initialization is eager: the model loads at construction, blocking at
// startup rather than on first scan, so the first request never pays a
// multi-second model-load spike.
type HugotEmbedder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	spec     ModelSpec
	mu       sync.RWMutex
	ready    bool
}

// NewHugotEmbedder loads the model described by spec and returns a ready
// embedder, or an error if the artifact cannot be loaded.
func NewHugotEmbedder(spec ModelSpec) (*HugotEmbedder, error) {
	if spec.Path == "" {
		return nil, ErrModelUnavailable
	}
	if _, err := os.Stat(spec.Path); err != nil {
		return nil, fmt.Errorf("model path does not exist: %s: %w", spec.Path, ErrModelUnavailable)
	}

	e := &HugotEmbedder{spec: spec}

	session, err := e.createSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	e.session = session

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: spec.Path,
		Name:      "rampart-embedder",
	})
	if err != nil {
		_ = e.session.Destroy()
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	e.pipeline = pipeline
	e.ready = true
	log.Printf("[ml] embedder initialized (model: %s, dim: %d)", spec.Path, spec.Dimension)
	return e, nil
}

// createSession prefers the ONNX Runtime backend and falls back to the
// pure Go backend when the runtime library is not installed.
func (e *HugotEmbedder) createSession() (*hugot.Session, error) {
	if e.spec.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(e.spec.OnnxLibraryPath))
		if err == nil {
			log.Printf("[ml] embedder using ONNX Runtime backend")
			return session, nil
		}
		log.Printf("[ml] ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Go session: %w", err)
	}
	log.Printf("[ml] embedder using pure Go backend (slower, consider installing ONNX Runtime)")
	return session, nil
}

// Ready reports whether the embedder can serve embeddings.
func (e *HugotEmbedder) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Dimension returns the embedding dimension of the loaded model.
func (e *HugotEmbedder) Dimension() int {
	return e.spec.Dimension
}

// Embed generates an embedding for a single text.
func (e *HugotEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *HugotEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.ready || e.pipeline == nil {
		return nil, ErrNoEmbedding
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for i := range texts {
		if i < len(result.Embeddings) {
			embeddings[i] = result.Embeddings[i]
		}
	}
	return embeddings, nil
}

// Close releases the underlying ONNX session.
func (e *HugotEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ready = false
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// warnStubOnce guards the one-time degradation warning for stub providers.
var warnStubOnce sync.Once

// StubProvider is the degraded provider used when no model artifact is
// discoverable. It never becomes ready and always returns ErrNoEmbedding;
// the pipeline treats this as "skip L2 for all scans" with a one-time
// warning, not a per-call error.
type StubProvider struct{}

// NewStubProvider returns the degraded no-model provider.
func NewStubProvider() *StubProvider {
	warnStubOnce.Do(func() {
		log.Printf("[ml] no embedding model available; semantic layer (L2) disabled for this process")
	})
	return &StubProvider{}
}

func (*StubProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrNoEmbedding
}

func (*StubProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return nil, ErrNoEmbedding
}

func (*StubProvider) Dimension() int { return 0 }

func (*StubProvider) Ready() bool { return false }
