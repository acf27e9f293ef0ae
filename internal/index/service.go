// Package index defines the vector index service boundary and its backends:
// an in-process memory index, a durable SQLite index and a Qdrant gRPC client.
package index

import (
	"context"
	"errors"

	"github.com/hyperjump/vecpipe/internal/models"
)

// Sentinel errors every backend maps its failures onto.
var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrUnavailable        = errors.New("index service unavailable")
)

// Service is a similarity-searchable store of collections of records.
type Service interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, schema models.CollectionSchema) error
	CollectionInfo(ctx context.Context, name string) (*models.CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error

	// Upsert writes records keyed by ID; an existing ID is replaced, vector and payload.
	Upsert(ctx context.Context, collection string, records []models.Record) error
	// Query returns up to q.TopK matches ranked by the collection's distance.
	Query(ctx context.Context, collection string, q models.Query) ([]models.Match, error)
	// Get returns the records that exist among ids, in request order.
	Get(ctx context.Context, collection string, ids []string) ([]models.Record, error)
	Delete(ctx context.Context, collection string, ids []string) error
	// DeleteByPayload removes every record whose string payload field key equals value.
	DeleteByPayload(ctx context.Context, collection, key, value string) error
	Count(ctx context.Context, collection string) (uint64, error)

	Close() error
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
