package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/models"
)

// DefaultBatchSize is the number of records per bulk upsert call.
const DefaultBatchSize = 256

// Writer upserts records in bulk. Each batch is retried on its own with the same
// identities, so a retry never duplicates records.
type Writer struct {
	svc       index.Service
	batchSize int
	caller
}

// NewWriter returns a writer sending at most batchSize records per call (DefaultBatchSize when <= 0).
func NewWriter(svc index.Service, batchSize int, policy Policy, opts ...Option) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{svc: svc, batchSize: batchSize, caller: caller{policy: policy, options: buildOptions(opts)}}
}

// Upsert writes records to collection. An empty slice is a no-op. Rejected dimensions or
// payloads fail with *SchemaMismatchError and are not retried; other failures surface as
// *IndexWriteError once retries are exhausted.
func (w *Writer) Upsert(ctx context.Context, collection string, records []models.Record) error {
	for start := 0; start < len(records); start += w.batchSize {
		end := start + w.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		attempts, err := w.do(ctx, "upsert", func(ctx context.Context) error {
			return w.svc.Upsert(ctx, collection, batch)
		})
		if err != nil {
			switch {
			case errors.Is(err, index.ErrDimensionMismatch):
				return &SchemaMismatchError{Collection: collection, Field: "dimension", Err: err}
			case errors.Is(err, index.ErrInvalidPayload):
				return &SchemaMismatchError{Collection: collection, Field: "payload", Err: err}
			}
			return &IndexWriteError{Collection: collection, Op: "upsert", Attempts: attempts, Written: start, Err: err}
		}
		w.logger.Debug("batch upserted",
			zap.String("collection", collection),
			zap.Int("offset", start),
			zap.Int("records", len(batch)),
			zap.Int("attempts", attempts),
		)
		w.metrics.Records("written", len(batch))
	}
	return nil
}
