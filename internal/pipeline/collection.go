package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/models"
)

// CollectionState is the outcome of CollectionManager.Ensure.
type CollectionState string

const (
	CollectionCreated       CollectionState = "Created"
	CollectionAlreadyExists CollectionState = "AlreadyExists"
)

// CollectionManager creates collections at most once and validates existing ones.
type CollectionManager struct {
	svc index.Service
	caller
}

// NewCollectionManager returns a manager issuing calls to svc under policy.
func NewCollectionManager(svc index.Service, policy Policy, opts ...Option) *CollectionManager {
	return &CollectionManager{svc: svc, caller: caller{policy: policy, options: buildOptions(opts)}}
}

// Ensure makes sure the collection exists with schema. A collection created concurrently
// by another caller counts as AlreadyExists. An existing collection whose dimension or
// distance differs fails with *SchemaMismatchError.
func (m *CollectionManager) Ensure(ctx context.Context, schema models.CollectionSchema) (CollectionState, error) {
	if err := schema.Validate(); err != nil {
		return "", fmt.Errorf("invalid collection schema: %w", err)
	}

	var exists bool
	attempts, err := m.do(ctx, "collection_exists", func(ctx context.Context) error {
		var err error
		exists, err = m.svc.CollectionExists(ctx, schema.Name)
		return err
	})
	if err != nil {
		return "", &IndexQueryError{Collection: schema.Name, Op: "collection_exists", Attempts: attempts, Err: err}
	}

	if !exists {
		attempts, err = m.do(ctx, "create_collection", func(ctx context.Context) error {
			return m.svc.CreateCollection(ctx, schema)
		})
		switch {
		case err == nil:
			m.logger.Info("collection created",
				zap.String("collection", schema.Name),
				zap.Int("dimension", schema.Dimension),
				zap.String("distance", string(schema.Distance)),
			)
			return CollectionCreated, nil
		case errors.Is(err, index.ErrCollectionExists):
			m.logger.Debug("collection created concurrently", zap.String("collection", schema.Name))
		default:
			return "", &IndexWriteError{Collection: schema.Name, Op: "create_collection", Attempts: attempts, Err: err}
		}
	}

	var info *models.CollectionInfo
	attempts, err = m.do(ctx, "collection_info", func(ctx context.Context) error {
		var err error
		info, err = m.svc.CollectionInfo(ctx, schema.Name)
		return err
	})
	if err != nil {
		return "", &IndexQueryError{Collection: schema.Name, Op: "collection_info", Attempts: attempts, Err: err}
	}
	if err := compareSchema(schema, info.CollectionSchema); err != nil {
		return "", err
	}
	m.logger.Debug("collection already exists",
		zap.String("collection", schema.Name),
		zap.Uint64("points", info.PointsCount),
	)
	return CollectionAlreadyExists, nil
}

func compareSchema(want, got models.CollectionSchema) error {
	if want.Dimension != got.Dimension {
		return &SchemaMismatchError{Collection: want.Name, Field: "dimension", Want: want.Dimension, Got: got.Dimension}
	}
	if want.Distance != got.Distance {
		return &SchemaMismatchError{Collection: want.Name, Field: "distance", Want: want.Distance, Got: got.Distance}
	}
	return nil
}
