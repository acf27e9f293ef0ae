package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/vecpipe/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.Concurrency == 0 {
		cfg.Embedding.Concurrency = 1
	}
	if cfg.Embedding.OllamaURL == "" {
		cfg.Embedding.OllamaURL = "http://localhost:11434"
	}
	if cfg.Embedding.OllamaModel == "" {
		cfg.Embedding.OllamaModel = "all-minilm"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "qdrant"
	}
	if cfg.Index.URL == "" {
		cfg.Index.URL = "http://localhost:6334"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "rig-collection"
	}
	if cfg.Index.Distance == "" {
		cfg.Index.Distance = "Cosine"
	}
	if cfg.Index.DatabasePath == "" {
		cfg.Index.DatabasePath = "/usr/local/var/vecpipe/data/index.db"
	}
	if cfg.Index.Timeout == 0 {
		cfg.Index.Timeout = 10 * time.Second
	}
	if cfg.Index.MaxRetries == 0 {
		cfg.Index.MaxRetries = 3
	}
	if cfg.Index.RetryBase == 0 {
		cfg.Index.RetryBase = 200 * time.Millisecond
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 256
	}

	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = 10
	}
	if cfg.Pipeline.Identity == "" {
		cfg.Pipeline.Identity = "random"
	}
	if cfg.Pipeline.RunTimeout == 0 {
		cfg.Pipeline.RunTimeout = 5 * time.Minute
	}

	if cfg.Source.Extensions == nil {
		cfg.Source.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx"}
	}
	if cfg.Source.ChunkSize == 0 {
		cfg.Source.ChunkSize = 200
	}
	if cfg.Source.ChunkOverlap == 0 {
		cfg.Source.ChunkOverlap = 20
	}

	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
		cfg.Metrics.Enabled = true
	}
}
