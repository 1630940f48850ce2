package tei

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *EmbeddingService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewEmbeddingService(Config{BaseURL: srv.URL + "/", Dimensions: 3, Model: "bge-small"})
	require.NoError(t, err)
	return s
}

func TestNewEmbeddingService_RequiresBaseURL(t *testing.T) {
	_, err := NewEmbeddingService(Config{})
	assert.Error(t, err)
}

func TestEmbedBatch(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Inputs)
		_ = json.NewEncoder(w).Encode([][]float32{{1, 2, 3}, {4, 5, 6}})
	})

	vectors, err := s.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, vectors)
}

func TestEmbedBatch_Empty(t *testing.T) {
	s := newTestService(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected")
	})

	vectors, err := s.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedBatch_DimensionMismatch(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([][]float32{{1, 2}})
	})

	_, err := s.EmbedBatch(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "dimensions")
}

func TestEmbedBatch_PayloadTooLarge(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"413", http.StatusRequestEntityTooLarge, `{"error":"batch size 64 > maximum allowed batch size 32","error_type":"Validation"}`},
		{"input too long", http.StatusUnprocessableEntity, `{"error":"Input validation error: inputs must have less than 512 tokens","error_type":"Validation"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := s.EmbedBatch(context.Background(), []string{"a"})
			assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
		})
	}
}

func TestEmbedBatch_OtherErrors(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	_, err := s.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPayloadTooLarge)
	assert.Contains(t, err.Error(), "boom")
}

func TestCountTokens_IgnoresSpecialTokens(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokenize", r.URL.Path)
		_, _ = w.Write([]byte(`[[{"id":101,"special":true},{"id":7592,"special":false},{"id":2088,"special":false},{"id":102,"special":true}]]`))
	})

	n, err := s.CountTokens(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPing(t *testing.T) {
	healthy := true
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	assert.NoError(t, s.Ping(context.Background()))
	healthy = false
	assert.Error(t, s.Ping(context.Background()))
	assert.Equal(t, "bge-small", s.ModelName())
	assert.Equal(t, 3, s.Dimensions())
}
