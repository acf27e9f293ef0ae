package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/models"
	"github.com/hyperjump/vecpipe/internal/pipeline"
	"github.com/hyperjump/vecpipe/internal/source"
)

// Ingester is the part of *pipeline.Pipeline the watcher needs.
type Ingester interface {
	Ingest(ctx context.Context, docs []models.Document) (*pipeline.RunResult, error)
	Get(ctx context.Context, ids []string) ([]models.Record, error)
	Delete(ctx context.Context, ids []string) error
	DeleteWhere(ctx context.Context, key, value string) error
}

// staleBatch is how many chunk IDs past the current chunk count are looked up per call.
const staleBatch = 64

// PipelineHandler loads changed files with a source.Loader and replaces their records.
type PipelineHandler struct {
	loader *source.Loader
	p      Ingester
	logger *zap.Logger
}

// NewPipelineHandler returns a Handler that ingests through p.
func NewPipelineHandler(loader *source.Loader, p Ingester, logger *zap.Logger) *PipelineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineHandler{loader: loader, p: p, logger: logger}
}

// FileChanged ingests the file's current chunks over the previous ones, then drops
// chunks left over from a longer previous version. A failed ingest deletes nothing.
func (h *PipelineHandler) FileChanged(ctx context.Context, path string) error {
	docs, err := h.loader.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	if len(docs) == 0 {
		return h.forget(ctx, path)
	}
	res, err := h.p.Ingest(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to ingest %s: %w", path, err)
	}
	if err := h.dropStale(ctx, path, len(docs)); err != nil {
		return err
	}
	h.logger.Info("file ingested",
		zap.String("path", path),
		zap.Int("records", len(res.RecordIDs)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return nil
}

// FileRemoved deletes every record loaded from path.
func (h *PipelineHandler) FileRemoved(ctx context.Context, path string) error {
	if err := h.forget(ctx, path); err != nil {
		return err
	}
	h.logger.Info("file removed", zap.String("path", path))
	return nil
}

// dropStale deletes the chunks of path whose index is at least from. Chunk indexes are
// contiguous, so the first lookup batch with no stored chunk ends the scan.
func (h *PipelineHandler) dropStale(ctx context.Context, path string, from int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	fileID := source.FileID(abs)
	for start := from; ; start += staleBatch {
		ids := make([]string, staleBatch)
		for i := range ids {
			ids[i] = source.ChunkID(fileID, start+i)
		}
		found, err := h.p.Get(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to look up stale chunks of %s: %w", abs, err)
		}
		if len(found) == 0 {
			return nil
		}
		if err := h.p.Delete(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete stale chunks of %s: %w", abs, err)
		}
		h.logger.Debug("stale chunks deleted", zap.String("path", abs), zap.Int("count", len(found)))
	}
}

func (h *PipelineHandler) forget(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = h.p.DeleteWhere(ctx, source.MetaSourcePath, abs)
	if err != nil && !errors.Is(err, index.ErrCollectionNotFound) {
		return fmt.Errorf("failed to delete records of %s: %w", abs, err)
	}
	return nil
}
