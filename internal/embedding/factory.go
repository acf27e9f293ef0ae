package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/config"
)

// New builds the embedder the config selects, wrapped in an LRU cache when cache_size > 0.
// An onnx model that cannot be loaded is an error; use provider "hash" for offline runs.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var e Embedder
	switch cfg.Provider {
	case "onnx", "":
		onnx, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize onnx embedder: %w", err)
		}
		e = onnx
	case "ollama":
		e = NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, cfg.Dimensions, cfg.Timeout)
	case "hash":
		e = NewHashEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, ollama, hash)", cfg.Provider)
	}

	logger.Debug("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", e.Dimensions()),
		zap.Int("cache_size", cfg.CacheSize),
	)
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize), nil
	}
	return e, nil
}
