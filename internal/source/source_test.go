package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/vecpipe/internal/config"
)

func testLoader(size, overlap int) *Loader {
	return NewLoader(config.SourceConfig{Extensions: []string{".txt", "md"}, ChunkSize: size, ChunkOverlap: overlap})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestChunker_Chunk(t *testing.T) {
	chunks := NewChunker(3, 1).Chunk("one two  three\nfour five six seven")
	require.Equal(t, []Chunk{
		{0, "one two three"},
		{1, "three four five"},
		{2, "five six seven"},
	}, chunks)

	assert.Nil(t, NewChunker(5, 1).Chunk("   \n\t  "))
	assert.Equal(t, []Chunk{{0, "a b c"}}, NewChunker(0, 0).Chunk("a b c"))
	assert.Len(t, NewChunker(2, 5).Chunk("a b c"), 2, "overlap >= size still advances")
}

func TestFileID(t *testing.T) {
	assert.Equal(t, FileID("/foo/bar.txt"), FileID("/foo/bar.txt"))
	assert.NotEqual(t, FileID("/foo/bar.txt"), FileID("/foo/baz.txt"))
	assert.Equal(t, FileID("/foo/bar"), FileID("/foo/./bar/"))
	assert.True(t, strings.HasPrefix(FileID("a/b.txt"), fileIDPrefix))
	assert.Equal(t, FileID("/a")+"#3", ChunkID(FileID("/a"), 3))
}

func TestLoader_Allowed(t *testing.T) {
	ld := testLoader(10, 0)
	assert.True(t, ld.Allowed("/x/a.TXT"))
	assert.True(t, ld.Allowed("notes.md"))
	assert.False(t, ld.Allowed("image.png"))
	assert.True(t, NewLoader(config.SourceConfig{}).Allowed("anything.bin"))
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	writeFile(t, path, "alpha beta gamma delta epsilon")

	docs, err := testLoader(3, 0).LoadFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	id := FileID(path)
	assert.Equal(t, id+"#0", docs[0].ID)
	assert.Equal(t, id+"#1", docs[1].ID)
	assert.Equal(t, "alpha beta gamma", docs[0].Text)
	assert.Equal(t, "delta epsilon", docs[1].Text)
	assert.Equal(t, path, docs[1].Metadata[MetaSourcePath])
	assert.Equal(t, "notes.txt", docs[1].Metadata[MetaTitle])
	assert.Equal(t, int64(30), docs[1].Metadata[MetaSourceSize])
	assert.Equal(t, 1, docs[1].Metadata[MetaChunkIndex])
	assert.NotZero(t, docs[0].Metadata[MetaSourceMtime])

	again, err := testLoader(3, 0).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, docs[0].ID, again[0].ID)
}

func TestLoader_LoadFile_errors(t *testing.T) {
	dir := t.TempDir()
	ld := testLoader(3, 0)

	_, err := ld.LoadFile(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)

	png := filepath.Join(dir, "a.png")
	writeFile(t, png, "x")
	_, err = ld.LoadFile(png)
	assert.ErrorContains(t, err, "not in allowed list")

	empty := filepath.Join(dir, "empty.txt")
	writeFile(t, empty, "  \n ")
	docs, err := ld.LoadFile(empty)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoader_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "top level")
	writeFile(t, filepath.Join(dir, "b.png"), "ignored")
	writeFile(t, filepath.Join(dir, "sub", "c.md"), "nested file")
	writeFile(t, filepath.Join(dir, ".git", "d.txt"), "hidden")

	ld := testLoader(50, 0)
	docs, files, err := ld.LoadDirectory(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	texts := []string{docs[0].Text, docs[1].Text}
	assert.ElementsMatch(t, []string{"top level", "nested file"}, texts)

	docs, files, err = ld.LoadDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Equal(t, "top level", docs[0].Text)

	_, _, err = ld.LoadDirectory(context.Background(), filepath.Join(dir, "a.txt"), true)
	assert.ErrorContains(t, err, "not a directory")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = ld.LoadDirectory(ctx, dir, true)
	assert.ErrorIs(t, err, context.Canceled)
}
