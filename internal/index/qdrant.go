package index

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/models"
)

// QdrantService talks to a Qdrant server over gRPC.
type QdrantService struct {
	client *qdrant.Client
	logger *zap.Logger
}

// NewQdrantService connects to the gRPC endpoint in rawURL (for example http://localhost:6334).
// An https scheme enables TLS.
func NewQdrantService(rawURL string, logger *zap.Logger) (*QdrantService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := qdrantConfig(rawURL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create qdrant client for %s: %v", ErrUnavailable, rawURL, err)
	}
	logger.Debug("qdrant client created", zap.String("host", cfg.Host), zap.Int("port", cfg.Port), zap.Bool("tls", cfg.UseTLS))
	return &QdrantService{client: client, logger: logger}, nil
}

func qdrantConfig(rawURL string) (*qdrant.Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid index url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid index url %q: missing host", rawURL)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		host, portStr = u.Host, "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid index url %q: bad port %q", rawURL, portStr)
	}
	return &qdrant.Config{Host: host, Port: port, UseTLS: u.Scheme == "https"}, nil
}

// CollectionExists asks the server whether the collection exists.
func (q *QdrantService) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return false, classifyGRPC(err, name)
	}
	return ok, nil
}

// CreateCollection creates a single unnamed dense vector with the schema's size and distance.
func (q *QdrantService) CreateCollection(ctx context.Context, schema models.CollectionSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	dist, err := toQdrantDistance(schema.Distance)
	if err != nil {
		return err
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: schema.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(schema.Dimension),
			Distance: dist,
		}),
	})
	return classifyGRPC(err, schema.Name)
}

// CollectionInfo fetches the collection's vector params and point count.
func (q *QdrantService) CollectionInfo(ctx context.Context, name string) (*models.CollectionInfo, error) {
	info, err := q.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, classifyGRPC(err, name)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return nil, fmt.Errorf("collection %s has no single unnamed vector config", name)
	}
	return &models.CollectionInfo{
		CollectionSchema: models.CollectionSchema{
			Name:      name,
			Dimension: int(params.GetSize()),
			Distance:  fromQdrantDistance(params.GetDistance()),
		},
		PointsCount: info.GetPointsCount(),
	}, nil
}

// DeleteCollection drops the collection.
func (q *QdrantService) DeleteCollection(ctx context.Context, name string) error {
	return classifyGRPC(q.client.DeleteCollection(ctx, name), name)
}

// Upsert sends all records in one request and waits for the write to be applied.
func (q *QdrantService) Upsert(ctx context.Context, collection string, records []models.Record) error {
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload, err := toQdrantPayload(r.Payload)
		if err != nil {
			return fmt.Errorf("point %s: %w", r.ID, err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      toPointID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	return classifyGRPC(err, collection)
}

// Query runs a nearest-neighbour search; the server's ranking is returned unchanged.
func (q *QdrantService) Query(ctx context.Context, collection string, query models.Query) ([]models.Match, error) {
	if query.TopK <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", query.TopK)
	}
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(query.Vector...),
		Limit:          qdrant.PtrOf(uint64(query.TopK)),
		WithPayload:    qdrant.NewWithPayload(query.WithPayload),
	})
	if err != nil {
		return nil, classifyGRPC(err, collection)
	}
	matches := make([]models.Match, len(points))
	for i, p := range points {
		matches[i] = models.Match{
			ID:    fromPointID(p.GetId()),
			Score: float64(p.GetScore()),
		}
		if query.WithPayload {
			matches[i].Payload = fromQdrantPayload(p.GetPayload())
		}
	}
	return matches, nil
}

// Get retrieves points with payload and vectors.
func (q *QdrantService) Get(ctx context.Context, collection string, ids []string) ([]models.Record, error) {
	if len(ids) == 0 {
		return []models.Record{}, nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = toPointID(id)
	}
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, classifyGRPC(err, collection)
	}
	byID := make(map[string]models.Record, len(points))
	for _, p := range points {
		id := fromPointID(p.GetId())
		byID[id] = models.Record{
			ID:      id,
			Vector:  p.GetVectors().GetVector().GetData(),
			Payload: fromQdrantPayload(p.GetPayload()),
		}
	}
	out := make([]models.Record, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Delete removes points by ID.
func (q *QdrantService) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = toPointID(id)
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	return classifyGRPC(err, collection)
}

// DeleteByPayload removes points matching a keyword filter on key.
func (q *QdrantService) DeleteByPayload(ctx context.Context, collection, key, value string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(key, value)},
		}),
	})
	return classifyGRPC(err, collection)
}

// Count returns the exact number of points.
func (q *QdrantService) Count(ctx context.Context, collection string) (uint64, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, classifyGRPC(err, collection)
	}
	return n, nil
}

// Close closes the gRPC connection.
func (q *QdrantService) Close() error {
	return q.client.Close()
}
