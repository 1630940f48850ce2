package chroma

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

func TestBuildBatch(t *testing.T) {
	b, err := buildBatch([]driven.VectorRecord{
		{
			ID: "m1:subject", MessageID: "m1", AccountID: "acc", Kind: "subject",
			Text: "Hello", Embedding: []float32{0.1, 0.2},
			Metadata: map[string]any{"tier": "PUBLIC", "position": 0},
		},
		{
			ID: "m1:body", MessageID: "m1", AccountID: "acc", Kind: "body",
			Embedding: []float32{0.3, 0.4},
		},
	})
	require.NoError(t, err)

	require.Len(t, b.ids, 2)
	assert.Equal(t, "m1:subject", string(b.ids[0]))
	assert.Equal(t, []string{"Hello", ""}, b.texts)
	require.Len(t, b.embeddings, 2)
	require.Len(t, b.metadatas, 2)

	messageID, ok := b.metadatas[1].GetString(MetaMessageID)
	require.True(t, ok)
	assert.Equal(t, "m1", messageID)
	tier, ok := b.metadatas[0].GetString("tier")
	require.True(t, ok)
	assert.Equal(t, "PUBLIC", tier)
}

func TestBuildBatch_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		records []driven.VectorRecord
	}{
		{"missing id", []driven.VectorRecord{{Embedding: []float32{1}}}},
		{"missing embedding", []driven.VectorRecord{{ID: "a"}}},
		{"duplicate", []driven.VectorRecord{
			{ID: "a", Embedding: []float32{1}},
			{ID: "a", Embedding: []float32{2}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildBatch(tt.records)
			assert.Error(t, err)
		})
	}
}

func TestOpen_RequiresConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{BaseURL: "http://localhost:8000"})
	assert.Error(t, err)
}

func TestUpsert_EmptyIsNoop(t *testing.T) {
	var x Index
	assert.NoError(t, x.Upsert(context.Background(), nil))
}
