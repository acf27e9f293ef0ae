package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperjump/vecpipe/internal/embedding"
	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/models"
)

// fastPolicy retries quickly so failure tests stay fast.
var fastPolicy = Policy{Timeout: time.Second, MaxRetries: 3, RetryBase: time.Millisecond}

var errTransient = errors.New("connection reset")

func transient() error { return errors.Join(errTransient, index.ErrUnavailable) }

// flakyService injects queued errors per operation before delegating to a real backend.
type flakyService struct {
	index.Service
	mu           sync.Mutex
	failures     map[string][]error
	calls        map[string]int
	hideExisting bool
}

func newFlaky(t *testing.T) *flakyService {
	t.Helper()
	mem, err := index.NewMemoryService()
	require.NoError(t, err)
	return &flakyService{Service: mem, failures: map[string][]error{}, calls: map[string]int{}}
}

func (f *flakyService) fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *flakyService) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *flakyService) next(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *flakyService) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := f.next("collection_exists"); err != nil {
		return false, err
	}
	if f.hideExisting {
		return false, nil
	}
	return f.Service.CollectionExists(ctx, name)
}

func (f *flakyService) CreateCollection(ctx context.Context, schema models.CollectionSchema) error {
	if err := f.next("create_collection"); err != nil {
		return err
	}
	return f.Service.CreateCollection(ctx, schema)
}

func (f *flakyService) Upsert(ctx context.Context, collection string, records []models.Record) error {
	if err := f.next("upsert"); err != nil {
		return err
	}
	return f.Service.Upsert(ctx, collection, records)
}

func (f *flakyService) Query(ctx context.Context, collection string, q models.Query) ([]models.Match, error) {
	if err := f.next("query"); err != nil {
		return nil, err
	}
	return f.Service.Query(ctx, collection, q)
}

// miscountingEmbedder drops (or duplicates) the last vector of every batch.
type miscountingEmbedder struct {
	*embedding.HashEmbedder
	extra bool
}

func (m miscountingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := m.HashEmbedder.EmbedBatch(ctx, texts)
	if err != nil || len(out) == 0 {
		return out, err
	}
	if m.extra {
		return append(out, out[len(out)-1]), nil
	}
	return out[:len(out)-1], nil
}

// failingEmbedder always fails.
type failingEmbedder struct{ *embedding.HashEmbedder }

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model crashed")
}

// blockingEmbedder waits for cancellation.
type blockingEmbedder struct{ *embedding.HashEmbedder }

func (blockingEmbedder) EmbedBatch(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func rigSchema(dim int) models.CollectionSchema {
	return models.CollectionSchema{Name: "rig-collection", Dimension: dim, Distance: models.DistanceCosine}
}

func newTestPipeline(t *testing.T, e embedding.Embedder, svc index.Service, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Schema.Name == "" {
		cfg.Schema = rigSchema(e.Dimensions())
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = fastPolicy
	}
	p, err := New(e, svc, cfg)
	require.NoError(t, err)
	return p
}
