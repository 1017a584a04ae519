// Package config loads process configuration and assembles the scan
// pipeline from it. Configuration comes from an optional YAML file with
// RAMPART_* environment overrides on top; every knob has a hardcoded
// default so the pipeline runs with no configuration at all.
package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/TryMightyAI/rampart/pkg/ml"
	"github.com/TryMightyAI/rampart/pkg/pipeline"
	"github.com/TryMightyAI/rampart/pkg/policy"
	"github.com/TryMightyAI/rampart/pkg/rules"
)

// Config is the process-level configuration.
type Config struct {
	// ModelPath points directly at an embedding model directory. Empty
	// means auto-select via ModelCriteria.
	ModelPath string `yaml:"model_path"`
	// ModelCriteria is the auto-selection trade-off: latency (default),
	// accuracy, or memory.
	ModelCriteria string `yaml:"model_criteria"`
	// OnnxLibraryPath overrides ONNX Runtime discovery.
	OnnxLibraryPath string `yaml:"onnx_library_path"`

	// RulePackDir holds YAML rule packs. Empty uses the builtin pack.
	RulePackDir string `yaml:"rule_pack_dir"`
	// SeedDir holds YAML seed packs. Empty uses the builtin seeds.
	SeedDir string `yaml:"seed_dir"`
	// PolicyFile is the YAML policy. Empty uses the defaults.
	PolicyFile string `yaml:"policy_file"`

	// CacheSize bounds the in-process embedding cache.
	CacheSize int `yaml:"cache_size"`
	// CacheTTLSeconds expires cached embeddings.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	// RedisAddr switches the embedding cache to a shared Redis backend.
	RedisAddr string `yaml:"redis_addr"`
}

// NewDefaultConfig returns the builtin defaults.
func NewDefaultConfig() *Config {
	return &Config{
		ModelCriteria:   string(ml.SelectLatency),
		CacheSize:       ml.DefaultCacheSize,
		CacheTTLSeconds: int(ml.DefaultCacheTTL / time.Second),
	}
}

// Load reads the YAML config at path over the defaults, then applies
// environment overrides. A missing file is not an error; a malformed
// one is.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.Printf("[config] no config file at %s, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.CacheSize = clampInt(cfg.CacheSize, 64, 1<<20)
	cfg.CacheTTLSeconds = clampInt(cfg.CacheTTLSeconds, 1, 86400)
	return cfg, nil
}

// applyEnv layers RAMPART_* variables over the file values.
func (c *Config) applyEnv() {
	c.ModelPath = GetEnvString("RAMPART_EMBEDDING_MODEL_PATH", c.ModelPath)
	c.ModelCriteria = GetEnvString("RAMPART_MODEL_CRITERIA", c.ModelCriteria)
	c.OnnxLibraryPath = GetEnvString("RAMPART_ONNX_LIBRARY_PATH", c.OnnxLibraryPath)
	c.RulePackDir = GetEnvString("RAMPART_RULE_PACK_DIR", c.RulePackDir)
	c.SeedDir = GetEnvString("RAMPART_SEED_DIR", c.SeedDir)
	c.PolicyFile = GetEnvString("RAMPART_POLICY_FILE", c.PolicyFile)
	c.RedisAddr = GetEnvString("RAMPART_REDIS_ADDR", c.RedisAddr)
	c.CacheSize = GetEnvInt("RAMPART_CACHE_SIZE", c.CacheSize)
	c.CacheTTLSeconds = GetEnvInt("RAMPART_CACHE_TTL_SECONDS", c.CacheTTLSeconds)
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Build assembles the full pipeline from this config. Startup errors are
// fatal except model absence, which degrades the pipeline to L1-only.
func (c *Config) Build(ctx context.Context) (*pipeline.Pipeline, error) {
	policyCfg, err := policy.LoadPolicyFile(c.PolicyFile)
	if err != nil {
		return nil, err
	}

	ruleset := rules.Load(rules.LoadPackDir(c.RulePackDir))

	provider := c.buildProvider()
	var classifier *ml.BinaryFirstEngine
	if provider.Ready() {
		seeds := ml.LoadSeedDir(c.SeedDir)
		classifier, err = ml.NewBinaryFirstEngine(ctx, seeds, provider, ml.ClassifierConfig{})
		if err != nil {
			return nil, fmt.Errorf("failed to build classifier: %w", err)
		}
	}

	return pipeline.New(pipeline.Options{
		Rules:      ruleset,
		Provider:   provider,
		Classifier: classifier,
		Policy:     policyCfg,
	})
}

// buildProvider selects a model, constructs the embedder, and wraps it
// with the configured cache backend. No model means the stub provider.
func (c *Config) buildProvider() ml.EmbeddingProvider {
	var spec ml.ModelSpec
	if c.ModelPath != "" {
		spec = ml.ModelSpec{
			Name:            "custom",
			Path:            c.ModelPath,
			Dimension:       384,
			OnnxLibraryPath: c.OnnxLibraryPath,
		}
	} else {
		selected, err := ml.SelectModel(ml.SelectionCriteria(strings.ToLower(c.ModelCriteria)))
		if err != nil {
			return ml.NewStubProvider()
		}
		spec = selected
		if c.OnnxLibraryPath != "" {
			spec.OnnxLibraryPath = c.OnnxLibraryPath
		}
	}

	embedder, err := ml.NewHugotEmbedder(spec)
	if err != nil {
		log.Printf("[config] embedder init failed, degrading to stub: %v", err)
		return ml.NewStubProvider()
	}

	var cache ml.EmbeddingCache
	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		cache = ml.NewRedisCache(client, c.CacheTTL())
		log.Printf("[config] embedding cache backend: redis (%s)", c.RedisAddr)
	} else {
		cache = ml.NewLRUCache(c.CacheSize, c.CacheTTL())
	}
	return ml.NewCachingProvider(embedder, cache, spec.Name)
}

// GetEnvString returns the env value or the fallback when unset/empty.
func GetEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetEnvInt returns the env value parsed as int, or the fallback when
// unset or unparsable.
func GetEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] %s=%q is not an integer, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// GetEnvBool returns the env value parsed as bool ("true"/"1"/"yes"),
// or the fallback when unset.
func GetEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch v {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// clampInt bounds v to [min, max].
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
