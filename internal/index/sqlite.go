package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/vecpipe/internal/models"
)

// SQLiteService is a durable index on SQLite. Vectors are stored as little-endian
// float32 BLOBs and ranked by brute force in Go.
type SQLiteService struct {
	db *sql.DB
}

// NewSQLiteService opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteService(dbPath string) (*SQLiteService, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteService{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		distance TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS points (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		vector BLOB NOT NULL,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (s *SQLiteService) schema(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, name string) (models.CollectionSchema, error) {
	schema := models.CollectionSchema{Name: name}
	var distance string
	err := q.QueryRowContext(ctx,
		`SELECT dimension, distance FROM collections WHERE name = ?`, name,
	).Scan(&schema.Dimension, &distance)
	if err == sql.ErrNoRows {
		return schema, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return schema, classify(err)
	}
	schema.Distance = models.Distance(distance)
	return schema, nil
}

// CollectionExists reports whether the collection row exists.
func (s *SQLiteService) CollectionExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections WHERE name = ?`, name).Scan(&n); err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

// CreateCollection inserts the collection schema.
func (s *SQLiteService) CreateCollection(ctx context.Context, schema models.CollectionSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, distance) VALUES (?, ?, ?)`,
		schema.Name, schema.Dimension, string(schema.Distance),
	)
	var se sqlite3.Error
	if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique) {
		return fmt.Errorf("%w: %s", ErrCollectionExists, schema.Name)
	}
	return classify(err)
}

// CollectionInfo returns the stored schema and point count.
func (s *SQLiteService) CollectionInfo(ctx context.Context, name string) (*models.CollectionInfo, error) {
	schema, err := s.schema(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	n, err := s.countPoints(ctx, name)
	if err != nil {
		return nil, err
	}
	return &models.CollectionInfo{CollectionSchema: schema, PointsCount: n}, nil
}

// DeleteCollection removes the collection and its points in one transaction.
func (s *SQLiteService) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE collection = ?`, name); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

// Upsert writes all records in one transaction; any invalid record rolls the batch back.
func (s *SQLiteService) Upsert(ctx context.Context, collection string, records []models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	schema, err := s.schema(ctx, tx, collection)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO points (collection, id, vector, payload, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (collection, id) DO UPDATE SET
		   vector = excluded.vector, payload = excluded.payload, updated_at = excluded.updated_at`)
	if err != nil {
		return classify(err)
	}
	defer stmt.Close()

	for _, r := range records {
		if len(r.Vector) != schema.Dimension {
			return fmt.Errorf("%w: point %s has %d dimensions, collection %s expects %d",
				ErrDimensionMismatch, r.ID, len(r.Vector), collection, schema.Dimension)
		}
		payload, err := encodePayload(r.Payload)
		if err != nil {
			return fmt.Errorf("point %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, r.ID, float32SliceToBytes(r.Vector), string(payload)); err != nil {
			return classify(err)
		}
	}
	return classify(tx.Commit())
}

// Query ranks every point of the collection against q.Vector.
func (s *SQLiteService) Query(ctx context.Context, collection string, q models.Query) ([]models.Match, error) {
	if q.TopK <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", q.TopK)
	}
	schema, err := s.schema(ctx, s.db, collection)
	if err != nil {
		return nil, err
	}
	if len(q.Vector) != schema.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %s expects %d",
			ErrDimensionMismatch, len(q.Vector), collection, schema.Dimension)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, vector FROM points WHERE collection = ?`, collection)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, classify(err)
		}
		matches = append(matches, models.Match{ID: id, Score: Score(schema.Distance, q.Vector, bytesToFloat32Slice(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	Rank(schema.Distance, matches)
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	if q.WithPayload && len(matches) > 0 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		recs, err := s.Get(ctx, collection, ids)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]map[string]any, len(recs))
		for _, r := range recs {
			byID[r.ID] = r.Payload
		}
		for i := range matches {
			matches[i].Payload = byID[matches[i].ID]
		}
	}
	if matches == nil {
		matches = []models.Match{}
	}
	return matches, nil
}

// Get returns the records that exist among ids, in request order.
func (s *SQLiteService) Get(ctx context.Context, collection string, ids []string) ([]models.Record, error) {
	if _, err := s.schema(ctx, s.db, collection); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Record{}, nil
	}
	found := make(map[string]models.Record, len(ids))
	for _, chunk := range chunkIDs(ids, maxIDsPerStatement) {
		if err := s.getChunk(ctx, collection, chunk, found); err != nil {
			return nil, err
		}
	}

	out := make([]models.Record, 0, len(found))
	for _, id := range ids {
		if r, ok := found[id]; ok {
			out = append(out, r)
			delete(found, id)
		}
	}
	return out, nil
}

func (s *SQLiteService) getChunk(ctx context.Context, collection string, ids []string, found map[string]models.Record) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, payload FROM points WHERE collection = ? AND id IN (`+placeholders(len(ids))+`)`,
		idArgs(collection, ids)...,
	)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, payloadJSON string
		var blob []byte
		if err := rows.Scan(&id, &blob, &payloadJSON); err != nil {
			return classify(err)
		}
		payload, err := decodePayload([]byte(payloadJSON))
		if err != nil {
			return fmt.Errorf("point %s: %w", id, err)
		}
		found[id] = models.Record{ID: id, Vector: bytesToFloat32Slice(blob), Payload: payload}
	}
	return classify(rows.Err())
}

// Delete removes points by ID; unknown IDs are ignored.
func (s *SQLiteService) Delete(ctx context.Context, collection string, ids []string) error {
	if _, err := s.schema(ctx, s.db, collection); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, chunk := range chunkIDs(ids, maxIDsPerStatement) {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM points WHERE collection = ? AND id IN (`+placeholders(len(chunk))+`)`,
			idArgs(collection, chunk)...,
		); err != nil {
			return classify(err)
		}
	}
	return classify(tx.Commit())
}

// DeleteByPayload decodes each payload and removes points whose field key equals value.
func (s *SQLiteService) DeleteByPayload(ctx context.Context, collection, key, value string) error {
	if _, err := s.schema(ctx, s.db, collection); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM points WHERE collection = ?`, collection)
	if err != nil {
		return classify(err)
	}
	var ids []string
	for rows.Next() {
		var id, payloadJSON string
		if err := rows.Scan(&id, &payloadJSON); err != nil {
			rows.Close()
			return classify(err)
		}
		payload, err := decodePayload([]byte(payloadJSON))
		if err != nil {
			rows.Close()
			return fmt.Errorf("point %s: %w", id, err)
		}
		if v, ok := payload[key].(string); ok && v == value {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return classify(err)
	}
	rows.Close()
	return s.Delete(ctx, collection, ids)
}

// Count returns the number of points in a collection.
func (s *SQLiteService) Count(ctx context.Context, collection string) (uint64, error) {
	if _, err := s.schema(ctx, s.db, collection); err != nil {
		return 0, err
	}
	return s.countPoints(ctx, collection)
}

func (s *SQLiteService) countPoints(ctx context.Context, collection string) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return uint64(n), nil
}

// Close closes the database.
func (s *SQLiteService) Close() error {
	return s.db.Close()
}

// maxIDsPerStatement keeps IN lists under SQLite's bound-variable limit.
const maxIDsPerStatement = 500

// chunkIDs splits ids into slices of at most n.
func chunkIDs(ids []string, n int) [][]string {
	var chunks [][]string
	for len(ids) > n {
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

func idArgs(collection string, ids []string) []any {
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
