// Package embedding turns text into fixed-dimension dense vectors.
// Engines: ONNX (cgo), Ollama over HTTP, and a deterministic hash embedder.
package embedding

import "context"

// Embedder produces vector embeddings for text. EmbedBatch returns exactly one
// vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
