package ml

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// huggingFaceBaseURL is where embedding model artifacts are fetched from.
const huggingFaceBaseURL = "https://huggingface.co"

// embeddingModelFiles are the minimal files Hugot needs for ONNX
// feature extraction.
var embeddingModelFiles = []struct {
	name     string
	required bool
}{
	{"onnx/model.onnx", true},
	{"tokenizer.json", true},
	{"config.json", true},
	{"tokenizer_config.json", false},
	{"special_tokens_map.json", false},
}

// downloadMu serializes downloads of the same artifact across goroutines.
var downloadMu sync.Mutex

// EnsureModelDownloaded fetches the MiniLM embedding model into destPath
// if it is not already present. Enabled only when
// RAMPART_AUTO_DOWNLOAD_MODEL is truthy; SelectModel calls this as a
// last resort before degrading to the stub provider.
func EnsureModelDownloaded(destPath string) error {
	if hasArtifact(destPath) {
		return nil
	}

	downloadMu.Lock()
	defer downloadMu.Unlock()
	if hasArtifact(destPath) {
		return nil
	}

	log.Printf("[ml] embedding model not found at %s, downloading %s (~80MB, one time)", destPath, ModelMiniLM)
	return downloadModel(ModelMiniLM, destPath)
}

// downloadModel fetches the listed artifact files from HuggingFace.
func downloadModel(repoID, destPath string) error {
	if err := os.MkdirAll(destPath, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	baseURL := fmt.Sprintf("%s/%s/resolve/main", huggingFaceBaseURL, repoID)
	for _, file := range embeddingModelFiles {
		dest := filepath.Join(destPath, filepath.Base(file.name))
		if _, err := os.Stat(dest); err == nil {
			continue
		}

		if err := downloadFile(baseURL+"/"+file.name, dest); err != nil {
			if file.required {
				return fmt.Errorf("failed to download %s: %w", file.name, err)
			}
			log.Printf("[ml] optional model file %s not available: %v", file.name, err)
			continue
		}
		log.Printf("[ml] downloaded %s", filepath.Base(file.name))
	}

	log.Printf("[ml] embedding model ready at %s", destPath)
	return nil
}

// downloadFile streams a URL into destPath via a temp file so a partial
// download never looks like a valid artifact.
func downloadFile(url, destPath string) error {
	tmpPath := destPath + ".tmp"
	defer func() { _ = os.Remove(tmpPath) }()

	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = out.Close() }()

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	_ = out.Close()

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}
	return nil
}
