package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/vecpipe/internal/embedding"
	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/models"
)

// Querier runs similarity queries. Matches come back in the index service's ranking.
type Querier struct {
	svc      index.Service
	embedder embedding.Embedder
	caller
}

// NewQuerier returns a querier. embedder is only needed for QueryText and may be nil.
func NewQuerier(svc index.Service, embedder embedding.Embedder, policy Policy, opts ...Option) *Querier {
	return &Querier{svc: svc, embedder: embedder, caller: caller{policy: policy, options: buildOptions(opts)}}
}

// Query returns up to q.TopK matches. Asking for more than exist returns all of them.
func (q *Querier) Query(ctx context.Context, collection string, query models.Query) ([]models.Match, error) {
	if query.TopK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, query.TopK)
	}
	var matches []models.Match
	attempts, err := q.do(ctx, "query", func(ctx context.Context) error {
		var err error
		matches, err = q.svc.Query(ctx, collection, query)
		return err
	})
	if err != nil {
		if errors.Is(err, index.ErrDimensionMismatch) {
			return nil, &SchemaMismatchError{Collection: collection, Field: "dimension", Got: len(query.Vector), Err: err}
		}
		return nil, &IndexQueryError{Collection: collection, Op: "query", Attempts: attempts, Err: err}
	}
	if matches == nil {
		matches = []models.Match{}
	}
	return matches, nil
}

// QueryText embeds text and returns up to topK matches with payload.
func (q *Querier) QueryText(ctx context.Context, collection, text string, topK int) ([]models.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}
	if q.embedder == nil {
		return nil, &EngineError{Err: errors.New("no embedder configured for text queries")}
	}
	vecs, err := q.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, &EngineError{Err: err}
	}
	if len(vecs) != 1 {
		return nil, &AlignmentError{Documents: 1, Embeddings: len(vecs)}
	}
	return q.Query(ctx, collection, models.Query{Vector: vecs[0], TopK: topK, WithPayload: true})
}
