package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightForPosition(t *testing.T) {
	assert.Equal(t, LeadChunkWeight, WeightForPosition(0))
	assert.Equal(t, ChunkWeight, WeightForPosition(1))
	assert.Equal(t, ChunkWeight, WeightForPosition(7))
}

func TestPoolChunks(t *testing.T) {
	chunks := []Chunk{
		{Position: 0, Weight: 2, Embedding: []float32{3, 0}},
		{Position: 1, Weight: 1, Embedding: []float32{0, 3}},
	}

	pooled := PoolChunks(chunks)

	assert.InDeltaSlice(t, []float32{2, 1}, pooled, 1e-6)
}

func TestPoolChunks_NoEmbeddings(t *testing.T) {
	assert.Nil(t, PoolChunks(nil))
	assert.Nil(t, PoolChunks([]Chunk{{Text: "x"}}))
}
