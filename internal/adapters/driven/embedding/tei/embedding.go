// Package tei provides an embedding service adapter for Hugging Face
// text-embeddings-inference.
package tei

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

// Ensure EmbeddingService implements the interfaces.
var (
	_ driven.EmbeddingService = (*EmbeddingService)(nil)
	_ driven.TokenCounter     = (*EmbeddingService)(nil)
)

// Default configuration values.
const (
	DefaultTimeout    = 120 * time.Second
	DefaultDimensions = 768
)

// Config holds configuration for the TEI embedding service.
type Config struct {
	// BaseURL is the TEI server base URL (required).
	BaseURL string

	// Model is reported by ModelName. TEI serves a single model, so it
	// is informational only.
	Model string

	// Timeout is the request timeout (default: 120s).
	Timeout time.Duration

	// Dimensions is the embedding vector size (model-dependent).
	Dimensions int
}

// EmbeddingService generates embeddings using a TEI server.
type EmbeddingService struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
}

// embedRequest is the TEI /embed request format.
type embedRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// tokenizeRequest is the TEI /tokenize request format.
type tokenizeRequest struct {
	Inputs           string `json:"inputs"`
	AddSpecialTokens bool   `json:"add_special_tokens"`
}

// tokenInfo is one entry of a /tokenize response.
type tokenInfo struct {
	ID      int  `json:"id"`
	Special bool `json:"special"`
}

// errorResponse is the TEI error body.
type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// NewEmbeddingService creates a new TEI embedding service.
func NewEmbeddingService(cfg Config) (*EmbeddingService, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tei: base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Model == "" {
		cfg.Model = "tei"
	}

	return &EmbeddingService{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// EmbedBatch generates one embedding per text in a single request.
// Oversized requests return domain.ErrPayloadTooLarge.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	if err := s.post(ctx, "/embed", embedRequest{Inputs: texts}, &vectors); err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("tei: got %d embeddings for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != s.dimensions {
			return nil, fmt.Errorf("tei: embedding %d has %d dimensions, expected %d", i, len(v), s.dimensions)
		}
	}
	return vectors, nil
}

// CountTokens returns the model token count for text, excluding
// special tokens.
func (s *EmbeddingService) CountTokens(ctx context.Context, text string) (int, error) {
	var tokens [][]tokenInfo
	if err := s.post(ctx, "/tokenize", tokenizeRequest{Inputs: text}, &tokens); err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, nil
	}
	n := 0
	for _, t := range tokens[0] {
		if !t.Special {
			n++
		}
	}
	return n, nil
}

func (s *EmbeddingService) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: tei %s: %v", domain.ErrServiceUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError maps TEI error responses. 413 and input-length validation
// failures both mean the payload must shrink.
func statusError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tei error (status %d): failed to read response", resp.StatusCode)
	}

	var e errorResponse
	_ = json.Unmarshal(body, &e)
	msg := e.Error
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("tei: %w: %s", domain.ErrPayloadTooLarge, msg)
	case resp.StatusCode == http.StatusUnprocessableEntity && strings.Contains(msg, "less than"):
		return fmt.Errorf("tei: %w: %s", domain.ErrPayloadTooLarge, msg)
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("tei: %w (status %d): %s", domain.ErrServiceUnavailable, resp.StatusCode, msg)
	default:
		return fmt.Errorf("tei error (status %d): %s", resp.StatusCode, msg)
	}
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// ModelName returns the name of the embedding model being used.
func (s *EmbeddingService) ModelName() string {
	return s.model
}

// Ping validates the service is reachable by checking the /health endpoint.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("tei: failed to create ping request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("tei: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tei: health returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases resources.
func (s *EmbeddingService) Close() error {
	return nil
}
