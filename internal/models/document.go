// Package models defines core data structures for documents, index records, and queries.
package models

// Document is a text record with optional scalar metadata; the unit of ingestion.
// ID is optional; when set it gives the record a stable identity across runs.
type Document struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewDocuments wraps plain texts as documents without metadata.
func NewDocuments(texts ...string) []Document {
	docs := make([]Document, len(texts))
	for i, t := range texts {
		docs[i] = Document{Text: t}
	}
	return docs
}

// Texts returns the text of each document in order.
func Texts(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Text
	}
	return out
}

// Record is an index-ready point: identity, vector and payload.
type Record struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"-"`
	Payload map[string]any `json:"payload"`
}

// Payload keys written by the record builder.
const (
	PayloadKeyDocument = "document"
	PayloadKeySourceID = "source_id"
)
