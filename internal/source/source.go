// Package source turns files on disk into documents ready for the pipeline.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/config"
	"github.com/hyperjump/vecpipe/internal/models"
)

// Metadata keys set on every document loaded from a file.
const (
	MetaSourcePath  = "source_path"
	MetaTitle       = "title"
	MetaSourceSize  = "source_size"
	MetaSourceMtime = "source_mtime"
	MetaChunkIndex  = "chunk_index"
)

// Loader reads files, extracts their text and splits it into chunk documents.
type Loader struct {
	extensions []string
	chunker    *Chunker
	logger     *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// NewLoader creates a loader for the configured extensions and chunking.
func NewLoader(cfg config.SourceConfig, opts ...LoaderOption) *Loader {
	ld := &Loader{
		extensions: cfg.Extensions,
		chunker:    NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Allowed reports whether path has one of the loader's extensions. An empty list allows everything.
func (ld *Loader) Allowed(path string) bool {
	if len(ld.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, a := range ld.extensions {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
			return true
		}
	}
	return false
}

// LoadFile extracts the file at path and returns one document per chunk. Document IDs are
// "<file id>#<chunk index>", so loading the same path again yields the same identities.
// A file without text yields no documents.
func (ld *Loader) LoadFile(path string) ([]models.Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !ld.Allowed(absPath) {
		return nil, fmt.Errorf("extension %q not in allowed list", filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	text, err := Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}

	id := FileID(absPath)
	chunks := ld.chunker.Chunk(text)
	docs := make([]models.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = models.Document{
			ID:   ChunkID(id, c.Index),
			Text: c.Text,
			Metadata: map[string]any{
				MetaSourcePath:  absPath,
				MetaTitle:       filepath.Base(absPath),
				MetaSourceSize:  info.Size(),
				MetaSourceMtime: info.ModTime().UnixNano(),
				MetaChunkIndex:  c.Index,
			},
		}
	}
	ld.logger.Debug("file loaded",
		zap.String("path", absPath),
		zap.Int("chunks", len(docs)),
	)
	return docs, nil
}

// LoadDirectory loads every allowed regular file under dir, descending into
// subdirectories when recursive is set. Files that fail to load are logged and skipped.
// It returns the documents and the number of files loaded.
func (ld *Loader) LoadDirectory(ctx context.Context, dir string, recursive bool) ([]models.Document, int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, 0, fmt.Errorf("not a directory: %s", absDir)
	}

	var docs []models.Document
	files := 0
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ld.Allowed(path) {
			return nil
		}
		// Resolve symlinks so only regular files are loaded
		if fi, statErr := os.Stat(path); statErr != nil || !fi.Mode().IsRegular() {
			return nil
		}
		fileDocs, err := ld.LoadFile(path)
		if err != nil {
			ld.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		docs = append(docs, fileDocs...)
		files++
		return nil
	})
	if err != nil {
		return nil, files, err
	}
	return docs, files, nil
}
