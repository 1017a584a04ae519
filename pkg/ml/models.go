package ml

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
)

// Known embedding models, ordered by the trade-off they optimize.
const (
	// ModelMiniLM is a small, fast embedding model (80MB, 384 dimensions).
	ModelMiniLM = "sentence-transformers/all-MiniLM-L6-v2"

	// ModelBGESmall is a higher quality embedding model (130MB, 384 dimensions).
	ModelBGESmall = "BAAI/bge-small-en-v1.5"

	// DefaultModelDir is searched when no model path is configured.
	DefaultModelDir = "./models"
)

// SelectionCriteria expresses which trade-off model selection optimizes.
type SelectionCriteria string

const (
	// SelectLatency picks the fastest model (default).
	SelectLatency SelectionCriteria = "latency"
	// SelectAccuracy picks the highest-quality model available.
	SelectAccuracy SelectionCriteria = "accuracy"
	// SelectMemory picks the smallest-footprint model.
	SelectMemory SelectionCriteria = "memory"
)

// ModelSpec describes a locally available embedding model artifact.
type ModelSpec struct {
	// Name is the upstream model identifier.
	Name string
	// Path is the directory containing model.onnx and the tokenizer files.
	Path string
	// Dimension is the embedding dimension the model produces.
	Dimension int
	// OnnxLibraryPath points at the ONNX Runtime shared library, if found.
	OnnxLibraryPath string
	// SizeMB is the approximate on-disk artifact size.
	SizeMB int
	// LatencyRank orders models fastest-first.
	LatencyRank int
	// AccuracyRank orders models best-first.
	AccuracyRank int
}

// knownModels is the catalog searched by SelectModel, keyed by the
// directory basename the artifact is distributed under.
var knownModels = []ModelSpec{
	{
		Name:         ModelMiniLM,
		Path:         filepath.Join(DefaultModelDir, "all-MiniLM-L6-v2"),
		Dimension:    384,
		SizeMB:       80,
		LatencyRank:  1,
		AccuracyRank: 2,
	},
	{
		Name:         ModelBGESmall,
		Path:         filepath.Join(DefaultModelDir, "bge-small-en-v1.5"),
		Dimension:    384,
		SizeMB:       130,
		LatencyRank:  2,
		AccuracyRank: 1,
	},
}

// SelectModel finds the best locally available model for the given
// criteria. The RAMPART_EMBEDDING_MODEL_PATH environment variable wins
// over the catalog search. Returns ErrModelUnavailable when nothing is
// installed; callers fall back to the stub provider.
func SelectModel(criteria SelectionCriteria) (ModelSpec, error) {
	if envPath := os.Getenv("RAMPART_EMBEDDING_MODEL_PATH"); envPath != "" {
		if hasArtifact(envPath) {
			log.Printf("[ml] using embedding model from RAMPART_EMBEDDING_MODEL_PATH: %s", envPath)
			return ModelSpec{
				Name:            filepath.Base(envPath),
				Path:            envPath,
				Dimension:       384,
				OnnxLibraryPath: findOnnxLibrary(),
			}, nil
		}
		log.Printf("[ml] RAMPART_EMBEDDING_MODEL_PATH set but no model.onnx at %s", envPath)
	}

	available := make([]ModelSpec, 0, len(knownModels))
	for _, m := range knownModels {
		if hasArtifact(m.Path) {
			available = append(available, m)
		}
	}
	if len(available) == 0 {
		auto := os.Getenv("RAMPART_AUTO_DOWNLOAD_MODEL")
		if auto == "true" || auto == "1" {
			spec := knownModels[0]
			if err := EnsureModelDownloaded(spec.Path); err != nil {
				log.Printf("[ml] model auto-download failed: %v", err)
				return ModelSpec{}, ErrModelUnavailable
			}
			spec.OnnxLibraryPath = findOnnxLibrary()
			return spec, nil
		}
		log.Printf("[ml] no embedding model found; set RAMPART_AUTO_DOWNLOAD_MODEL=true to fetch one")
		return ModelSpec{}, ErrModelUnavailable
	}

	best := available[0]
	for _, m := range available[1:] {
		if betterFor(criteria, m, best) {
			best = m
		}
	}
	best.OnnxLibraryPath = findOnnxLibrary()
	log.Printf("[ml] selected embedding model %s (criteria: %s)", best.Name, criteria)
	return best, nil
}

// betterFor reports whether a beats b under the given criteria.
func betterFor(criteria SelectionCriteria, a, b ModelSpec) bool {
	switch criteria {
	case SelectAccuracy:
		return a.AccuracyRank < b.AccuracyRank
	case SelectMemory:
		return a.SizeMB < b.SizeMB
	default:
		return a.LatencyRank < b.LatencyRank
	}
}

// hasArtifact reports whether dir contains a model.onnx file.
func hasArtifact(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "model.onnx"))
	return err == nil
}

// findOnnxLibrary locates the ONNX Runtime shared library. Empty result
// means the pure Go backend will be used.
func findOnnxLibrary() string {
	if envPath := os.Getenv("RAMPART_ONNX_LIBRARY_PATH"); envPath != "" {
		return envPath
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	default:
		candidates = []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		}
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// NewAutoDetectedEmbedder selects a model and builds an embedder for it.
// Returns the stub provider when no model is installed, never an error a
// caller has to branch on: degradation is the normal path on machines
// without model artifacts.
func NewAutoDetectedEmbedder(criteria SelectionCriteria) EmbeddingProvider {
	spec, err := SelectModel(criteria)
	if err != nil {
		return NewStubProvider()
	}

	embedder, err := NewHugotEmbedder(spec)
	if err != nil {
		log.Printf("[ml] embedder initialization failed, degrading to stub: %v", err)
		return NewStubProvider()
	}
	return embedder
}
