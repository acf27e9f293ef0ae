// Package config provides configuration loading and structs for vecpipe.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/vecpipe/internal/models"
)

// Environment variables that override file values.
const (
	EnvIndexURL   = "VECPIPE_INDEX_URL"
	EnvCollection = "VECPIPE_COLLECTION"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Source    SourceConfig    `yaml:"source"`
	Watch     WatchConfig     `yaml:"watch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EmbeddingConfig selects and tunes the embedding engine.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"` // onnx, ollama, hash
	ModelPath   string        `yaml:"model_path"`
	Dimensions  int           `yaml:"dimensions"`
	MaxTokens   int           `yaml:"max_tokens"`
	CacheSize   int           `yaml:"cache_size"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	OllamaURL   string        `yaml:"ollama_url"`
	OllamaModel string        `yaml:"ollama_model"`
	Timeout     time.Duration `yaml:"timeout"`
}

// IndexConfig holds the index service endpoint and call policy.
type IndexConfig struct {
	Backend      string        `yaml:"backend"` // qdrant, sqlite, memory
	URL          string        `yaml:"url"`
	Collection   string        `yaml:"collection"`
	Distance     string        `yaml:"distance"`
	DatabasePath string        `yaml:"database_path"`
	SnapshotPath string        `yaml:"snapshot_path"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBase    time.Duration `yaml:"retry_base"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	BatchSize    int           `yaml:"batch_size"`
}

// PipelineConfig holds ingestion-and-query run settings.
type PipelineConfig struct {
	TopK               int           `yaml:"top_k"`
	Identity           string        `yaml:"identity"` // random, content
	SkipInvalidPayload bool          `yaml:"skip_invalid_payload"`
	RunTimeout         time.Duration `yaml:"run_timeout"`
}

// SourceConfig controls how files are turned into documents.
type SourceConfig struct {
	Extensions   []string `yaml:"extensions"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// MetricsConfig controls the Prometheus endpoint of the HTTP server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Schema returns the collection schema the configuration describes.
func (c *Config) Schema() (models.CollectionSchema, error) {
	d, err := models.ParseDistance(c.Index.Distance)
	if err != nil {
		return models.CollectionSchema{}, err
	}
	return models.CollectionSchema{
		Name:      c.Index.Collection,
		Dimension: c.Embedding.Dimensions,
		Distance:  d,
	}, nil
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, expands paths, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Index.DatabasePath = expandPath(cfg.Index.DatabasePath, configDir)
	cfg.Index.SnapshotPath = expandPath(cfg.Index.SnapshotPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, as used when no file exists.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides the index endpoint and collection from the environment.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvIndexURL); ok && v != "" {
		cfg.Index.URL = v
	}
	if v, ok := os.LookupEnv(EnvCollection); ok && v != "" {
		cfg.Index.Collection = v
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "onnx", "ollama", "hash":
	default:
		return fmt.Errorf("unknown embedding provider: %s (supported: onnx, ollama, hash)", c.Embedding.Provider)
	}
	switch c.Index.Backend {
	case "qdrant", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown index backend: %s (supported: qdrant, sqlite, memory)", c.Index.Backend)
	}
	switch c.Pipeline.Identity {
	case "random", "content":
	default:
		return fmt.Errorf("unknown identity policy: %s (supported: random, content)", c.Pipeline.Identity)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Pipeline.TopK <= 0 {
		return fmt.Errorf("pipeline top_k must be positive, got %d", c.Pipeline.TopK)
	}
	if c.Source.ChunkSize > 0 && c.Source.ChunkOverlap >= c.Source.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.Source.ChunkOverlap, c.Source.ChunkSize)
	}
	if _, err := c.Schema(); err != nil {
		return err
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
