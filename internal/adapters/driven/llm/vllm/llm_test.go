package vllm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *LLMService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewLLMService(Config{BaseURL: srv.URL + "/v1", Model: "qwen", APIKey: "secret"})
	require.NoError(t, err)
	return s
}

func TestNewLLMService_Validation(t *testing.T) {
	_, err := NewLLMService(Config{Model: "qwen"})
	assert.Error(t, err)
	_, err = NewLLMService(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestChat_SendsDeterministicOptions(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Equal(t, "qwen", raw["model"])
		assert.InDelta(t, 64, raw["max_tokens"], 0)
		assert.InDelta(t, 0, raw["temperature"], 0)
		assert.InDelta(t, 42, raw["seed"], 0)
		assert.Len(t, raw["messages"], 2)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" PERSONAL "},"finish_reason":"stop"}]}`))
	})

	answer, err := s.Chat(context.Background(), []driven.ChatMessage{
		{Role: "system", Content: "classify"},
		{Role: "user", Content: "hi"},
	}, driven.ChatOptions{MaxTokens: 64, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, " PERSONAL ", answer)
}

func TestChat_NoChoices(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := s.Chat(context.Background(), nil, driven.ChatOptions{})
	assert.Error(t, err)
}

func TestChat_ContextLengthIsPayloadTooLarge(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"object":"error","message":"This model's maximum context length is 8192 tokens.","type":"BadRequestError"}`))
	})

	_, err := s.Chat(context.Background(), nil, driven.ChatOptions{})
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
}

func TestChat_Overloaded(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"busy"}}`))
	})

	_, err := s.Chat(context.Background(), nil, driven.ChatOptions{})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "busy")
}

func TestCountTokens(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokenize", r.URL.Path)
		var req tokenizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello there", req.Prompt)
		_, _ = w.Write([]byte(`{"count":3,"max_model_len":8192,"tokens":[1,2,3]}`))
	})

	n, err := s.CountTokens(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPing(t *testing.T) {
	served := "qwen"
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"` + served + `"}]}`))
	})

	assert.NoError(t, s.Ping(context.Background()))

	served = "llama"
	err := s.Ping(context.Background())
	assert.ErrorContains(t, err, "not served")
}
