package pipeline

import "github.com/hyperjump/vecpipe/internal/models"

// CheckAlignment verifies that there is exactly one embedding per document.
// Nothing is truncated, padded or reordered.
func CheckAlignment(docs []models.Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return &AlignmentError{Documents: len(docs), Embeddings: len(embeddings)}
	}
	return nil
}

// CheckDimensions verifies that every embedding has the collection's dimension.
func CheckDimensions(collection string, dimension int, embeddings [][]float32) error {
	for _, v := range embeddings {
		if len(v) != dimension {
			return &SchemaMismatchError{Collection: collection, Field: "dimension", Want: dimension, Got: len(v)}
		}
	}
	return nil
}
