package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/models"
)

func TestCollectionManager_Ensure_idempotent(t *testing.T) {
	ctx := context.Background()
	svc := newFlaky(t)
	m := NewCollectionManager(svc, fastPolicy)

	state, err := m.Ensure(ctx, rigSchema(384))
	require.NoError(t, err)
	assert.Equal(t, CollectionCreated, state)

	state, err = m.Ensure(ctx, rigSchema(384))
	require.NoError(t, err)
	assert.Equal(t, CollectionAlreadyExists, state)

	info, err := svc.CollectionInfo(ctx, "rig-collection")
	require.NoError(t, err)
	assert.Equal(t, rigSchema(384), info.CollectionSchema)
	assert.Equal(t, 1, svc.count("create_collection"))
}

func TestCollectionManager_Ensure_schemaMismatch(t *testing.T) {
	ctx := context.Background()
	svc := newFlaky(t)
	m := NewCollectionManager(svc, fastPolicy)
	_, err := m.Ensure(ctx, rigSchema(384))
	require.NoError(t, err)

	_, err = m.Ensure(ctx, rigSchema(512))
	var se *SchemaMismatchError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "dimension", se.Field)
	assert.Equal(t, 512, se.Want)
	assert.Equal(t, 384, se.Got)

	dot := rigSchema(384)
	dot.Distance = models.DistanceDot
	_, err = m.Ensure(ctx, dot)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "distance", se.Field)
}

func TestCollectionManager_Ensure_concurrentCreate(t *testing.T) {
	ctx := context.Background()
	svc := newFlaky(t)
	require.NoError(t, svc.Service.CreateCollection(ctx, rigSchema(8)))
	svc.hideExisting = true

	state, err := NewCollectionManager(svc, fastPolicy).Ensure(ctx, rigSchema(8))
	require.NoError(t, err)
	assert.Equal(t, CollectionAlreadyExists, state)

	_, err = NewCollectionManager(svc, fastPolicy).Ensure(ctx, rigSchema(16))
	var se *SchemaMismatchError
	assert.True(t, errors.As(err, &se), "a collection lost in a race is still validated")
}

func TestCollectionManager_Ensure_retriesTransient(t *testing.T) {
	ctx := context.Background()
	svc := newFlaky(t)
	svc.fail("collection_exists", transient(), transient())

	state, err := NewCollectionManager(svc, fastPolicy).Ensure(ctx, rigSchema(4))
	require.NoError(t, err)
	assert.Equal(t, CollectionCreated, state)
	assert.Equal(t, 3, svc.count("collection_exists"))
}

func TestCollectionManager_Ensure_permanentFailure(t *testing.T) {
	ctx := context.Background()
	svc := newFlaky(t)
	svc.fail("create_collection", errors.New("forbidden"))

	_, err := NewCollectionManager(svc, fastPolicy).Ensure(ctx, rigSchema(4))
	var we *IndexWriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "create_collection", we.Op)
	assert.Equal(t, 1, we.Attempts)
	assert.Equal(t, 1, svc.count("create_collection"))
}

func TestCollectionManager_Ensure_retriesExhausted(t *testing.T) {
	ctx := context.Background()
	svc := newFlaky(t)
	svc.fail("collection_exists", transient(), transient(), transient(), transient(), transient())

	_, err := NewCollectionManager(svc, fastPolicy).Ensure(ctx, rigSchema(4))
	var qe *IndexQueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 4, qe.Attempts)
	assert.ErrorIs(t, err, index.ErrUnavailable)
}

func TestCollectionManager_Ensure_invalidSchema(t *testing.T) {
	_, err := NewCollectionManager(newFlaky(t), fastPolicy).Ensure(context.Background(), models.CollectionSchema{Name: "x"})
	assert.Error(t, err)
}
