package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/vecpipe/internal/models"
)

type serviceFactory func(t *testing.T) Service

func backends() map[string]serviceFactory {
	return map[string]serviceFactory{
		"memory": func(t *testing.T) Service {
			s, err := NewMemoryService()
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Service {
			s, err := NewSQLiteService(filepath.Join(t.TempDir(), "index.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, svc Service)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			svc := factory(t)
			t.Cleanup(func() { _ = svc.Close() })
			fn(t, svc)
		})
	}
}

var testSchema = models.CollectionSchema{Name: "docs", Dimension: 3, Distance: models.DistanceCosine}

func TestService_collectionLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc Service) {
		ctx := context.Background()

		ok, err := svc.CollectionExists(ctx, "docs")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = svc.CollectionInfo(ctx, "docs")
		assert.ErrorIs(t, err, ErrCollectionNotFound)

		require.NoError(t, svc.CreateCollection(ctx, testSchema))
		err = svc.CreateCollection(ctx, testSchema)
		assert.ErrorIs(t, err, ErrCollectionExists)

		ok, err = svc.CollectionExists(ctx, "docs")
		require.NoError(t, err)
		assert.True(t, ok)

		info, err := svc.CollectionInfo(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, testSchema, info.CollectionSchema)
		assert.Equal(t, uint64(0), info.PointsCount)

		require.NoError(t, svc.DeleteCollection(ctx, "docs"))
		assert.ErrorIs(t, svc.DeleteCollection(ctx, "docs"), ErrCollectionNotFound)
	})
}

func TestService_upsertReplacesByID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc Service) {
		ctx := context.Background()
		require.NoError(t, svc.CreateCollection(ctx, testSchema))

		recs := []models.Record{
			{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"document": "first"}},
			{ID: "b", Vector: []float32{0, 1, 0}, Payload: map[string]any{"document": "second"}},
		}
		require.NoError(t, svc.Upsert(ctx, "docs", recs))
		require.NoError(t, svc.Upsert(ctx, "docs", recs))

		n, err := svc.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)

		updated := models.Record{ID: "a", Vector: []float32{0, 0, 1}, Payload: map[string]any{"document": "changed"}}
		require.NoError(t, svc.Upsert(ctx, "docs", []models.Record{updated}))

		got, err := svc.Get(ctx, "docs", []string{"a", "missing", "b"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, []float32{0, 0, 1}, got[0].Vector)
		assert.Equal(t, "changed", got[0].Payload["document"])
		assert.Equal(t, "b", got[1].ID)
	})
}

func TestService_payloadRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc Service) {
		ctx := context.Background()
		require.NoError(t, svc.CreateCollection(ctx, testSchema))

		payload := map[string]any{
			"document": "Mofo",
			"count":    int64(7),
			"zero":     int64(0),
			"ratio":    3.0,
			"flag":     false,
			"missing":  nil,
		}
		require.NoError(t, svc.Upsert(ctx, "docs", []models.Record{{ID: "p", Vector: []float32{1, 2, 3}, Payload: payload}}))

		got, err := svc.Get(ctx, "docs", []string{"p"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, payload, got[0].Payload)
	})
}

func TestService_rejectsInvalidBatchAtomically(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc Service) {
		ctx := context.Background()
		require.NoError(t, svc.CreateCollection(ctx, testSchema))

		err := svc.Upsert(ctx, "docs", []models.Record{
			{ID: "ok", Vector: []float32{1, 0, 0}},
			{ID: "bad", Vector: []float32{1, 0}},
		})
		assert.ErrorIs(t, err, ErrDimensionMismatch)

		err = svc.Upsert(ctx, "docs", []models.Record{
			{ID: "nested", Vector: []float32{1, 0, 0}, Payload: map[string]any{"tags": []string{"x"}}},
		})
		assert.ErrorIs(t, err, ErrInvalidPayload)

		n, err := svc.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), n)

		assert.ErrorIs(t, svc.Upsert(ctx, "nope", nil), ErrCollectionNotFound)
	})
}

func TestService_query(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc Service) {
		ctx := context.Background()
		require.NoError(t, svc.CreateCollection(ctx, testSchema))
		require.NoError(t, svc.Upsert(ctx, "docs", []models.Record{
			{ID: "x", Vector: []float32{1, 0, 0}, Payload: map[string]any{"document": "x"}},
			{ID: "xy", Vector: []float32{0.9, 0.1, 0}, Payload: map[string]any{"document": "xy"}},
			{ID: "y", Vector: []float32{0, 1, 0}, Payload: map[string]any{"document": "y"}},
		}))

		matches, err := svc.Query(ctx, "docs", models.Query{Vector: []float32{1, 0, 0}, TopK: 2, WithPayload: true})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "x", matches[0].ID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
		assert.Equal(t, "xy", matches[1].ID)
		assert.Equal(t, "x", matches[0].Document())

		all, err := svc.Query(ctx, "docs", models.Query{Vector: []float32{0, 1, 0}, TopK: 50})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "y", all[0].ID)
		assert.Nil(t, all[0].Payload)

		_, err = svc.Query(ctx, "docs", models.Query{Vector: []float32{1, 0}, TopK: 1})
		assert.ErrorIs(t, err, ErrDimensionMismatch)

		_, err = svc.Query(ctx, "docs", models.Query{Vector: []float32{1, 0, 0}, TopK: 0})
		assert.Error(t, err)
	})
}

func TestService_queryEmptyCollection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc Service) {
		ctx := context.Background()
		require.NoError(t, svc.CreateCollection(ctx, testSchema))
		matches, err := svc.Query(ctx, "docs", models.Query{Vector: []float32{1, 0, 0}, TopK: 3})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestService_delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc Service) {
		ctx := context.Background()
		require.NoError(t, svc.CreateCollection(ctx, testSchema))
		require.NoError(t, svc.Upsert(ctx, "docs", []models.Record{
			{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"source_path": "/tmp/a.txt"}},
			{ID: "b", Vector: []float32{0, 1, 0}, Payload: map[string]any{"source_path": "/tmp/a.txt"}},
			{ID: "c", Vector: []float32{0, 0, 1}, Payload: map[string]any{"source_path": "/tmp/c.txt"}},
			{ID: "d", Vector: []float32{1, 1, 0}, Payload: map[string]any{"source_path": int64(1)}},
		}))

		require.NoError(t, svc.DeleteByPayload(ctx, "docs", "source_path", "/tmp/a.txt"))
		n, err := svc.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)

		require.NoError(t, svc.Delete(ctx, "docs", []string{"c", "unknown"}))
		got, err := svc.Get(ctx, "docs", []string{"a", "b", "c", "d"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "d", got[0].ID)

		require.NoError(t, svc.Delete(ctx, "docs", nil))
	})
}

func TestService_manyIDs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc Service) {
		ctx := context.Background()
		require.NoError(t, svc.CreateCollection(ctx, testSchema))
		require.NoError(t, svc.Upsert(ctx, "docs", []models.Record{
			{ID: "id-0", Vector: []float32{1, 0, 0}},
			{ID: "id-500", Vector: []float32{0, 1, 0}},
			{ID: "id-32999", Vector: []float32{0, 0, 1}},
		}))

		// more IDs than SQLite binds in one statement
		ids := make([]string, 33000)
		for i := range ids {
			ids[i] = fmt.Sprintf("id-%d", i)
		}
		got, err := svc.Get(ctx, "docs", ids)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"id-0", "id-500", "id-32999"}, []string{got[0].ID, got[1].ID, got[2].ID})

		require.NoError(t, svc.Delete(ctx, "docs", ids))
		n, err := svc.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), n)
	})
}

func TestChunkIDs(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunkIDs(ids, 2))
	assert.Equal(t, [][]string{{"a", "b", "c", "d", "e"}}, chunkIDs(ids, 5))
	assert.Nil(t, chunkIDs(nil, 2))
}

func TestService_distances(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc Service) {
		ctx := context.Background()
		schema := models.CollectionSchema{Name: "euclid", Dimension: 2, Distance: models.DistanceEuclid}
		require.NoError(t, svc.CreateCollection(ctx, schema))
		require.NoError(t, svc.Upsert(ctx, "euclid", []models.Record{
			{ID: "far", Vector: []float32{10, 10}},
			{ID: "near", Vector: []float32{1, 1}},
		}))
		matches, err := svc.Query(ctx, "euclid", models.Query{Vector: []float32{0, 0}, TopK: 2})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "near", matches[0].ID)
		assert.Less(t, matches[0].Score, matches[1].Score)
	})
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrUnavailable))
	assert.True(t, IsTransient(errors.Join(errors.New("dial"), ErrUnavailable)))
	assert.False(t, IsTransient(ErrDimensionMismatch))
	assert.False(t, IsTransient(nil))
}
