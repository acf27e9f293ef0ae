package index

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/config"
)

// Backend names accepted by New.
const (
	BackendQdrant = "qdrant"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// New creates the index service the config selects.
// Supported backends: "qdrant" (default), "sqlite", "memory".
func New(cfg config.IndexConfig, logger *zap.Logger) (Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case BackendQdrant, "":
		s, err := NewQdrantService(cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		s, err := NewSQLiteService(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory:
		s, err := NewMemoryService(WithSnapshotPath(cfg.SnapshotPath), WithMemoryLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: qdrant, sqlite, memory)", cfg.Backend)
	}
}
