// Package pipeline embeds documents, stores them in a vector collection and queries it.
// A run is an explicit state machine:
//
//	Idle -> Embedding -> Aligning -> BuildingRecords -> EnsuringCollection -> Writing -> Querying -> Done
//
// Any failing step moves the run to Failed. Records already written stay written.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/config"
	"github.com/hyperjump/vecpipe/internal/embedding"
	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/models"
)

// Config holds the settings of a Pipeline.
type Config struct {
	Schema             models.CollectionSchema
	TopK               int
	Identity           IdentityPolicy
	SkipInvalidPayload bool
	BatchSize          int
	EmbedBatchSize     int
	EmbedConcurrency   int
	RunTimeout         time.Duration
	Policy             Policy
}

// ConfigFrom maps the application config onto pipeline settings.
func ConfigFrom(cfg *config.Config) (Config, error) {
	schema, err := cfg.Schema()
	if err != nil {
		return Config{}, err
	}
	identity, err := ParseIdentityPolicy(cfg.Pipeline.Identity)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Schema:             schema,
		TopK:               cfg.Pipeline.TopK,
		Identity:           identity,
		SkipInvalidPayload: cfg.Pipeline.SkipInvalidPayload,
		BatchSize:          cfg.Index.BatchSize,
		EmbedBatchSize:     cfg.Embedding.BatchSize,
		EmbedConcurrency:   cfg.Embedding.Concurrency,
		RunTimeout:         cfg.Pipeline.RunTimeout,
		Policy: Policy{
			Timeout:    cfg.Index.Timeout,
			MaxRetries: cfg.Index.MaxRetries,
			RetryBase:  cfg.Index.RetryBase,
			Limiter:    NewLimiter(cfg.Index.RateLimit),
		},
	}, nil
}

// Pipeline wires an embedder and an index service into ingestion and query runs.
// It holds no per-run state; concurrent runs are independent.
type Pipeline struct {
	embedder    embedding.Embedder
	svc         index.Service
	cfg         Config
	builder     RecordBuilder
	collections *CollectionManager
	writer      *Writer
	querier     *Querier
	caller
}

// New creates a pipeline for cfg.Schema. The embedder must produce cfg.Schema.Dimension vectors.
func New(e embedding.Embedder, svc index.Service, cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collection schema: %w", err)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 1
	}
	o := buildOptions(opts)
	return &Pipeline{
		embedder:    e,
		svc:         svc,
		cfg:         cfg,
		builder:     RecordBuilder{Identity: cfg.Identity, SkipInvalid: cfg.SkipInvalidPayload},
		collections: NewCollectionManager(svc, cfg.Policy, opts...),
		writer:      NewWriter(svc, cfg.BatchSize, cfg.Policy, opts...),
		querier:     NewQuerier(svc, e, cfg.Policy, opts...),
		caller:      caller{policy: cfg.Policy, options: o},
	}, nil
}

// Collection returns the name of the collection the pipeline writes to.
func (p *Pipeline) Collection() string {
	return p.cfg.Schema.Name
}

// RunRequest is the input of one run.
type RunRequest struct {
	Documents []models.Document
	// QueryVector, when set, is used for the query step; otherwise the embedding
	// of Documents[QueryIndex] is.
	QueryVector []float32
	QueryIndex  int
	// TopK defaults to the pipeline's TopK.
	TopK      int
	SkipQuery bool
	// Deadline bounds the whole run; the pipeline RunTimeout applies when zero.
	Deadline time.Time
}

// RunResult describes a finished or failed run.
type RunResult struct {
	State      State             `json:"state"`
	History    []Transition      `json:"history"`
	RecordIDs  []string          `json:"record_ids"`
	Skipped    []SkippedRecord   `json:"skipped,omitempty"`
	Collection CollectionState   `json:"collection,omitempty"`
	Matches    []models.Match    `json:"matches,omitempty"`
	Durations  map[State]float64 `json:"durations_ms,omitempty"`
}

type run struct {
	p       *Pipeline
	req     RunRequest
	topK    int
	batches []embeddedBatch
	vectors [][]float32
	records []models.Record
	result  *RunResult
}

// Run executes one ingestion-and-query cycle. On failure it returns the partial result
// (final state Failed, with the transition history) together with a *RunError.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	r := &run{p: p, req: req, result: &RunResult{State: StateIdle, Durations: map[State]float64{}}}
	if err := r.validate(); err != nil {
		return r.fail(StateIdle, err)
	}

	var cancel context.CancelFunc
	switch {
	case !req.Deadline.IsZero():
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
	case p.cfg.RunTimeout > 0:
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
	default:
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	r.enter(StateEmbedding)
	for !r.result.State.Terminal() {
		state := r.result.State
		if err := ctx.Err(); err != nil {
			return r.fail(state, err)
		}
		start := time.Now()
		to, err := r.step(ctx, state)
		elapsed := time.Since(start)
		p.metrics.ObserveStage(string(state), elapsed)
		r.result.Durations[state] = float64(elapsed.Microseconds()) / 1000
		if err != nil {
			return r.fail(state, err)
		}
		r.enter(to)
	}
	p.metrics.RunFinished(string(StateDone))
	p.logger.Info("pipeline run finished",
		zap.String("collection", p.cfg.Schema.Name),
		zap.Int("records", len(r.result.RecordIDs)),
		zap.Int("skipped", len(r.result.Skipped)),
		zap.Int("matches", len(r.result.Matches)),
	)
	return r.result, nil
}

func (r *run) validate() error {
	r.topK = r.req.TopK
	if r.topK == 0 {
		r.topK = r.p.cfg.TopK
	}
	if r.req.SkipQuery {
		return nil
	}
	if r.topK <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTopK, r.topK)
	}
	if r.req.QueryVector == nil && (r.req.QueryIndex < 0 || r.req.QueryIndex >= len(r.req.Documents)) {
		return fmt.Errorf("%w: %d of %d documents", ErrQueryIndexOutOfRange, r.req.QueryIndex, len(r.req.Documents))
	}
	return nil
}

func (r *run) step(ctx context.Context, state State) (State, error) {
	switch state {
	case StateEmbedding:
		return StateAligning, r.embed(ctx)
	case StateAligning:
		return StateBuildingRecords, r.align()
	case StateBuildingRecords:
		return StateEnsuringCollection, r.build()
	case StateEnsuringCollection:
		return StateWriting, r.ensure(ctx)
	case StateWriting:
		if err := r.write(ctx); err != nil {
			return StateFailed, err
		}
		if r.req.SkipQuery {
			return StateDone, nil
		}
		return StateQuerying, nil
	case StateQuerying:
		return StateDone, r.query(ctx)
	}
	return StateFailed, fmt.Errorf("no step for state %s", state)
}

func (r *run) enter(to State) {
	from := r.result.State
	if !CanTransition(from, to) {
		// Unreachable unless step wiring is broken.
		r.p.logger.Error("invalid state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
	r.result.History = append(r.result.History, Transition{From: from, To: to, At: time.Now()})
	r.result.State = to
	r.p.metrics.Transition(string(to))
	r.p.logger.Debug("state transition",
		zap.String("collection", r.p.cfg.Schema.Name),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

func (r *run) fail(state State, err error) (*RunResult, error) {
	r.enter(StateFailed)
	r.p.metrics.RunFinished(string(StateFailed))
	r.p.logger.Warn("pipeline run failed",
		zap.String("collection", r.p.cfg.Schema.Name),
		zap.String("state", string(state)),
		zap.Error(err),
	)
	return r.result, &RunError{State: state, Err: err}
}

func (r *run) embed(ctx context.Context) error {
	batches, err := embedBatches(ctx, r.p.embedder, models.Texts(r.req.Documents),
		r.p.cfg.EmbedBatchSize, r.p.cfg.EmbedConcurrency, r.p.logger)
	if err != nil {
		return err
	}
	r.batches = batches
	return nil
}

func (r *run) align() error {
	vectors := make([][]float32, 0, len(r.req.Documents))
	for _, b := range r.batches {
		if err := CheckAlignment(r.req.Documents[b.start:b.end], b.vectors); err != nil {
			var ae *AlignmentError
			if errors.As(err, &ae) {
				ae.Offset = b.start
			}
			return err
		}
		vectors = append(vectors, b.vectors...)
	}
	if err := CheckAlignment(r.req.Documents, vectors); err != nil {
		return err
	}
	if err := CheckDimensions(r.p.cfg.Schema.Name, r.p.cfg.Schema.Dimension, vectors); err != nil {
		return err
	}
	if r.req.QueryVector != nil && len(r.req.QueryVector) != r.p.cfg.Schema.Dimension {
		return &SchemaMismatchError{Collection: r.p.cfg.Schema.Name, Field: "query dimension",
			Want: r.p.cfg.Schema.Dimension, Got: len(r.req.QueryVector)}
	}
	r.vectors = vectors
	return nil
}

func (r *run) build() error {
	records, skipped, err := r.p.builder.BuildAll(r.req.Documents, r.vectors)
	if err != nil {
		return err
	}
	r.records = records
	r.result.Skipped = skipped
	r.p.metrics.Records("skipped", len(skipped))
	for _, s := range skipped {
		r.p.logger.Warn("record skipped", zap.Int("index", s.Index), zap.Error(s.Err))
	}
	return nil
}

func (r *run) ensure(ctx context.Context) error {
	state, err := r.p.collections.Ensure(ctx, r.p.cfg.Schema)
	if err != nil {
		return err
	}
	r.result.Collection = state
	return nil
}

func (r *run) write(ctx context.Context) error {
	if err := r.p.writer.Upsert(ctx, r.p.cfg.Schema.Name, r.records); err != nil {
		return err
	}
	ids := make([]string, len(r.records))
	for i, rec := range r.records {
		ids[i] = rec.ID
	}
	r.result.RecordIDs = ids
	return nil
}

func (r *run) query(ctx context.Context) error {
	vec := r.req.QueryVector
	if vec == nil {
		vec = r.vectors[r.req.QueryIndex]
	}
	matches, err := r.p.querier.Query(ctx, r.p.cfg.Schema.Name, models.Query{Vector: vec, TopK: r.topK, WithPayload: true})
	if err != nil {
		return err
	}
	r.result.Matches = matches
	return nil
}

// Ingest runs the pipeline without the query step.
func (p *Pipeline) Ingest(ctx context.Context, docs []models.Document) (*RunResult, error) {
	return p.Run(ctx, RunRequest{Documents: docs, SkipQuery: true})
}

// Query embeds text and returns up to topK matches (the pipeline TopK when topK is 0).
func (p *Pipeline) Query(ctx context.Context, text string, topK int) ([]models.Match, error) {
	if topK == 0 {
		topK = p.cfg.TopK
	}
	return p.querier.QueryText(ctx, p.cfg.Schema.Name, text, topK)
}

// QueryVector returns up to topK matches for vec.
func (p *Pipeline) QueryVector(ctx context.Context, vec []float32, topK int) ([]models.Match, error) {
	if topK == 0 {
		topK = p.cfg.TopK
	}
	return p.querier.Query(ctx, p.cfg.Schema.Name, models.Query{Vector: vec, TopK: topK, WithPayload: true})
}

// Delete removes records by ID. Document IDs that are not UUIDs are mapped the same way
// ingestion maps them, so a document can be deleted by the ID it was ingested with.
func (p *Pipeline) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	resolved := make([]string, len(ids))
	for i, id := range ids {
		resolved[i], _ = ResolveID(id)
	}
	attempts, err := p.do(ctx, "delete", func(ctx context.Context) error {
		return p.svc.Delete(ctx, p.cfg.Schema.Name, resolved)
	})
	if err != nil {
		return &IndexWriteError{Collection: p.cfg.Schema.Name, Op: "delete", Attempts: attempts, Err: err}
	}
	return nil
}

// DeleteWhere removes every record whose string payload field key equals value.
func (p *Pipeline) DeleteWhere(ctx context.Context, key, value string) error {
	attempts, err := p.do(ctx, "delete_by_payload", func(ctx context.Context) error {
		return p.svc.DeleteByPayload(ctx, p.cfg.Schema.Name, key, value)
	})
	if err != nil {
		return &IndexWriteError{Collection: p.cfg.Schema.Name, Op: "delete_by_payload", Attempts: attempts, Err: err}
	}
	return nil
}

// Info returns the collection's schema and point count as the index service reports them.
func (p *Pipeline) Info(ctx context.Context) (*models.CollectionInfo, error) {
	var info *models.CollectionInfo
	attempts, err := p.do(ctx, "collection_info", func(ctx context.Context) error {
		var err error
		info, err = p.svc.CollectionInfo(ctx, p.cfg.Schema.Name)
		return err
	})
	if err != nil {
		return nil, &IndexQueryError{Collection: p.cfg.Schema.Name, Op: "collection_info", Attempts: attempts, Err: err}
	}
	return info, nil
}

// Get fetches stored records by ID, mapping non-UUID document IDs like Delete does.
func (p *Pipeline) Get(ctx context.Context, ids []string) ([]models.Record, error) {
	resolved := make([]string, len(ids))
	for i, id := range ids {
		resolved[i], _ = ResolveID(id)
	}
	var recs []models.Record
	attempts, err := p.do(ctx, "get", func(ctx context.Context) error {
		var err error
		recs, err = p.svc.Get(ctx, p.cfg.Schema.Name, resolved)
		return err
	})
	if err != nil {
		return nil, &IndexQueryError{Collection: p.cfg.Schema.Name, Op: "get", Attempts: attempts, Err: err}
	}
	return recs, nil
}

// EnsureCollection creates or validates the pipeline's collection.
func (p *Pipeline) EnsureCollection(ctx context.Context) (CollectionState, error) {
	return p.collections.Ensure(ctx, p.cfg.Schema)
}

// DropCollection deletes the pipeline's collection and all its records.
func (p *Pipeline) DropCollection(ctx context.Context) error {
	attempts, err := p.do(ctx, "delete_collection", func(ctx context.Context) error {
		return p.svc.DeleteCollection(ctx, p.cfg.Schema.Name)
	})
	if err != nil {
		return &IndexWriteError{Collection: p.cfg.Schema.Name, Op: "delete_collection", Attempts: attempts, Err: err}
	}
	return nil
}
