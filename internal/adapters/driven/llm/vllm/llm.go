// Package vllm provides an LLM service adapter for a vLLM server's
// OpenAI-compatible API.
package vllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// Ensure LLMService implements the interfaces.
var (
	_ driven.LLMService   = (*LLMService)(nil)
	_ driven.TokenCounter = (*LLMService)(nil)
)

// DefaultTimeout is the request timeout when none is configured.
const DefaultTimeout = 120 * time.Second

// Config holds configuration for the vLLM service.
type Config struct {
	// BaseURL is the server base URL including the /v1 prefix (required).
	BaseURL string

	// Model is the served model name (required).
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout is the request timeout (default: 120s).
	Timeout time.Duration
}

// LLMService answers chat prompts using vLLM.
type LLMService struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// chatCompletionRequest is the /chat/completions request format.
// Temperature is always sent so zero means greedy decoding.
type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []chatCompletionMsg `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature"`
	Seed        *int                `json:"seed,omitempty"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// errorResponse covers both the OpenAI error envelope and vLLM's flat form.
type errorResponse struct {
	Message string `json:"message"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type tokenizeRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type tokenizeResponse struct {
	Count int `json:"count"`
}

// NewLLMService creates a new vLLM service.
func NewLLMService(cfg Config) (*LLMService, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vllm: base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("vllm: model is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &LLMService{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}, nil
}

// Chat conducts a conversation and returns the first choice.
func (s *LLMService) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	chatMessages := make([]chatCompletionMsg, len(messages))
	for i, msg := range messages {
		chatMessages[i] = chatCompletionMsg{Role: msg.Role, Content: msg.Content}
	}

	reqBody := chatCompletionRequest{
		Model:       s.model,
		Messages:    chatMessages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.Seed != 0 {
		seed := opts.Seed
		reqBody.Seed = &seed
	}

	var chatResp chatCompletionResponse
	if err := s.post(ctx, "/chat/completions", reqBody, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("vllm: no response choices returned")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// CountTokens tokenizes text with the served model's tokenizer.
func (s *LLMService) CountTokens(ctx context.Context, text string) (int, error) {
	var resp tokenizeResponse
	// /tokenize lives beside /v1, not under it.
	root := strings.TrimSuffix(s.baseURL, "/v1")
	if err := s.postURL(ctx, root+"/tokenize", tokenizeRequest{Model: s.model, Prompt: text}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (s *LLMService) post(ctx context.Context, path string, body, out any) error {
	return s.postURL(ctx, s.baseURL+path, body, out)
}

func (s *LLMService) postURL(ctx context.Context, url string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: vllm: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(status int, raw []byte) error {
	var e errorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &e) == nil {
		switch {
		case e.Error != nil && e.Error.Message != "":
			msg = e.Error.Message
		case e.Message != "":
			msg = e.Message
		}
	}

	switch {
	case status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("vllm: %w: %s", domain.ErrPayloadTooLarge, msg)
	case status == http.StatusBadRequest && strings.Contains(msg, "maximum context length"):
		return fmt.Errorf("vllm: %w: %s", domain.ErrPayloadTooLarge, msg)
	case status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests:
		return fmt.Errorf("vllm: %w (status %d): %s", domain.ErrServiceUnavailable, status, msg)
	default:
		return fmt.Errorf("vllm error (status %d): %s", status, msg)
	}
}

func (s *LLMService) authorize(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

// ModelName returns the name of the model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping validates the server is reachable and serves the configured model.
func (s *LLMService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", http.NoBody)
	if err != nil {
		return fmt.Errorf("vllm: failed to create ping request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("vllm: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("vllm: API returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("vllm: API returned status %d: %s", resp.StatusCode, string(body))
	}

	var models struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return fmt.Errorf("vllm: decode models: %w", err)
	}
	for _, m := range models.Data {
		if m.ID == s.model {
			return nil
		}
	}
	return fmt.Errorf("vllm: model %s is not served", s.model)
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}
