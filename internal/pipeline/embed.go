package pipeline

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/vecpipe/internal/embedding"
)

// Embedding batch defaults.
const (
	DefaultEmbedBatchSize   = 64
	DefaultEmbedConcurrency = 1
)

// embeddedBatch is the engine's answer for texts[start:end], unchecked.
type embeddedBatch struct {
	start, end int
	vectors    [][]float32
}

// embedBatches splits texts into batches and embeds up to concurrency of them at once.
// Batches come back in input order. Their lengths are not checked here.
func embedBatches(ctx context.Context, e embedding.Embedder, texts []string, batchSize, concurrency int, logger *zap.Logger) ([]embeddedBatch, error) {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	if concurrency <= 0 {
		concurrency = DefaultEmbedConcurrency
	}
	n := (len(texts) + batchSize - 1) / batchSize
	batches := make([]embeddedBatch, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	var done atomic.Int64
	for i := 0; i < n; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := e.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return &EngineError{Err: err}
			}
			batches[i] = embeddedBatch{start: start, end: end, vectors: vecs}
			logger.Debug("embedding progress",
				zap.Int64("done", done.Add(int64(end-start))),
				zap.Int("total", len(texts)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}
