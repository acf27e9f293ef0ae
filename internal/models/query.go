package models

// Query is a similarity search request.
type Query struct {
	Vector      []float32 `json:"vector"`
	TopK        int       `json:"top_k"`
	WithPayload bool      `json:"with_payload"`
}

// Match is a single ranked hit returned by the index service.
type Match struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Document returns the document text stored in the payload, if any.
func (m Match) Document() string {
	s, _ := m.Payload[PayloadKeyDocument].(string)
	return s
}
