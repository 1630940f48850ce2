package driven

import "context"

// VectorRecord is one vector mirrored to the external index.
type VectorRecord struct {
	ID        string
	MessageID string
	AccountID string
	Kind      string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// VectorIndex mirrors completed embeddings for the query-serving layer.
type VectorIndex interface {
	// Upsert inserts or replaces records.
	Upsert(ctx context.Context, records []VectorRecord) error

	// DeleteMessage removes every record of a message.
	DeleteMessage(ctx context.Context, messageID string) error

	// Close releases resources.
	Close() error
}
