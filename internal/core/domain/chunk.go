package domain

// Chunk is an ordered slice of a message body that was too long for a
// single embedding call. Chunks of a message are replaced as a set.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string

	// MessageID links to the parent Message.
	MessageID string

	// Position is the zero-based sequence index.
	Position int

	// Text is the chunk content.
	Text string

	// Weight is the pooling weight. The first chunk counts double.
	Weight float64

	// Embedding is the vector for this chunk.
	Embedding []float32
}

// Chunk pooling weights.
const (
	LeadChunkWeight = 2.0
	ChunkWeight     = 1.0
)

// WeightForPosition returns the pooling weight of the chunk at pos.
func WeightForPosition(pos int) float64 {
	if pos == 0 {
		return LeadChunkWeight
	}
	return ChunkWeight
}

// PoolChunks returns the weighted mean of the chunk embeddings.
// Returns nil when no chunk carries an embedding.
func PoolChunks(chunks []Chunk) []float32 {
	var dims int
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			dims = len(c.Embedding)
			break
		}
	}
	if dims == 0 {
		return nil
	}

	sum := make([]float64, dims)
	var total float64
	for _, c := range chunks {
		if len(c.Embedding) != dims {
			continue
		}
		w := c.Weight
		if w <= 0 {
			w = ChunkWeight
		}
		for i, v := range c.Embedding {
			sum[i] += float64(v) * w
		}
		total += w
	}

	out := make([]float32, dims)
	for i := range sum {
		out[i] = float32(sum[i] / total)
	}
	return out
}
