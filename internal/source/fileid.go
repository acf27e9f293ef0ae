package source

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"path/filepath"
)

const fileIDPrefix = "file:"

// FileID returns a stable ID for the file at path. The same cleaned path always yields the same ID.
func FileID(path string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return fileIDPrefix + hex.EncodeToString(hash[:])
}

// ChunkID returns the document ID of chunk index of the file with ID fileID.
func ChunkID(fileID string, index int) string {
	return fileID + "#" + strconv.Itoa(index)
}
