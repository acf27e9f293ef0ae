package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/models"
)

// MemoryService is an in-process index using brute-force search. With a snapshot
// path it loads the snapshot on creation and writes it back on Close.
type MemoryService struct {
	collections  map[string]*memCollection
	snapshotPath string
	logger       *zap.Logger
	mu           sync.RWMutex
}

type memCollection struct {
	schema models.CollectionSchema
	points map[string]models.Record
}

// MemoryOption configures a MemoryService.
type MemoryOption func(*MemoryService)

// WithSnapshotPath persists the index to path on Close and restores it on creation.
func WithSnapshotPath(path string) MemoryOption {
	return func(m *MemoryService) {
		m.snapshotPath = path
	}
}

// WithMemoryLogger sets the logger for snapshot events.
func WithMemoryLogger(l *zap.Logger) MemoryOption {
	return func(m *MemoryService) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMemoryService creates an empty in-memory index, restoring the snapshot when one is configured.
func NewMemoryService(opts ...MemoryOption) (*MemoryService, error) {
	m := &MemoryService{
		collections: make(map[string]*memCollection),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.snapshotPath != "" {
		if err := m.Load(m.snapshotPath); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MemoryService) collection(name string) (*memCollection, error) {
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

// CollectionExists reports whether the collection has been created.
func (m *MemoryService) CollectionExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

// CreateCollection creates an empty collection with a fixed schema.
func (m *MemoryService) CreateCollection(ctx context.Context, schema models.CollectionSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[schema.Name]; ok {
		return fmt.Errorf("%w: %s", ErrCollectionExists, schema.Name)
	}
	m.collections[schema.Name] = &memCollection{schema: schema, points: make(map[string]models.Record)}
	return nil
}

// CollectionInfo returns the schema and point count of a collection.
func (m *MemoryService) CollectionInfo(ctx context.Context, name string) (*models.CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(name)
	if err != nil {
		return nil, err
	}
	return &models.CollectionInfo{CollectionSchema: c.schema, PointsCount: uint64(len(c.points))}, nil
}

// DeleteCollection drops a collection and all its points.
func (m *MemoryService) DeleteCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.collection(name); err != nil {
		return err
	}
	delete(m.collections, name)
	return nil
}

// Upsert validates the whole batch first, then writes it; a rejected batch writes nothing.
func (m *MemoryService) Upsert(ctx context.Context, collection string, records []models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Vector) != c.schema.Dimension {
			return fmt.Errorf("%w: point %s has %d dimensions, collection %s expects %d",
				ErrDimensionMismatch, r.ID, len(r.Vector), collection, c.schema.Dimension)
		}
		if err := checkPayload(r.Payload); err != nil {
			return fmt.Errorf("point %s: %w", r.ID, err)
		}
	}
	for _, r := range records {
		c.points[r.ID] = models.Record{ID: r.ID, Vector: copyVector(r.Vector), Payload: copyPayload(r.Payload)}
	}
	return nil
}

// Query scores every point against q.Vector and returns the best q.TopK.
func (m *MemoryService) Query(ctx context.Context, collection string, q models.Query) ([]models.Match, error) {
	if q.TopK <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", q.TopK)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(q.Vector) != c.schema.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %s expects %d",
			ErrDimensionMismatch, len(q.Vector), collection, c.schema.Dimension)
	}
	matches := make([]models.Match, 0, len(c.points))
	for id, p := range c.points {
		matches = append(matches, models.Match{ID: id, Score: Score(c.schema.Distance, q.Vector, p.Vector)})
	}
	Rank(c.schema.Distance, matches)
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	if q.WithPayload {
		for i := range matches {
			matches[i].Payload = copyPayload(c.points[matches[i].ID].Payload)
		}
	}
	return matches, nil
}

// Get returns copies of the records that exist among ids.
func (m *MemoryService) Get(ctx context.Context, collection string, ids []string) ([]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.points[id]; ok {
			out = append(out, models.Record{ID: id, Vector: copyVector(p.Vector), Payload: copyPayload(p.Payload)})
		}
	}
	return out, nil
}

// Delete removes points by ID; unknown IDs are ignored.
func (m *MemoryService) Delete(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

// DeleteByPayload removes points whose payload field key holds the string value.
func (m *MemoryService) DeleteByPayload(ctx context.Context, collection, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for id, p := range c.points {
		if s, ok := p.Payload[key].(string); ok && s == value {
			delete(c.points, id)
		}
	}
	return nil
}

// Count returns the number of points in a collection.
func (m *MemoryService) Count(ctx context.Context, collection string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return 0, err
	}
	return uint64(len(c.points)), nil
}

// Close writes the snapshot when a snapshot path is configured.
func (m *MemoryService) Close() error {
	if m.snapshotPath == "" {
		return nil
	}
	if err := m.Save(m.snapshotPath); err != nil {
		return err
	}
	m.logger.Debug("memory index snapshot written", zap.String("path", m.snapshotPath))
	return nil
}

// collectionNames returns the collection names in sorted order.
func (m *MemoryService) collectionNames() []string {
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
