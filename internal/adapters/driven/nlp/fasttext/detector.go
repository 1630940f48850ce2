// Package fasttext provides a language detector backed by a fastText
// language identification service.
package fasttext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// Ensure Detector implements the interface.
var _ driven.LanguageDetector = (*Detector)(nil)

// DefaultTimeout is the request timeout when none is configured.
const DefaultTimeout = 10 * time.Second

// Config holds configuration for the detector.
type Config struct {
	// BaseURL is the service base URL (required).
	BaseURL string

	// Timeout is the request timeout (default: 10s).
	Timeout time.Duration
}

// Detector detects the language of a text.
type Detector struct {
	client  *http.Client
	baseURL string
}

type detectRequest struct {
	Text string `json:"text"`
	K    int    `json:"k"`
}

type detectResponse struct {
	Predictions []struct {
		Language   string  `json:"language"`
		Confidence float64 `json:"confidence"`
	} `json:"predictions"`
}

// NewDetector creates a new detector.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fasttext: base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Detector{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// Detect returns the most likely language. A text with no prediction
// yields an empty Language; thresholding is the caller's job.
func (d *Detector) Detect(ctx context.Context, text string) (driven.Language, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return driven.Language{}, nil
	}

	// fastText predicts one line at a time.
	body, err := json.Marshal(detectRequest{Text: strings.Join(strings.Fields(text), " "), K: 1})
	if err != nil {
		return driven.Language{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return driven.Language{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return driven.Language{}, fmt.Errorf("%w: fasttext: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return driven.Language{}, fmt.Errorf("fasttext error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return driven.Language{}, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Predictions) == 0 {
		return driven.Language{}, nil
	}

	p := out.Predictions[0]
	return driven.Language{Code: NormalizeCode(p.Language), Confidence: p.Confidence}, nil
}

// NormalizeCode reduces a fastText label such as "__label__pt_BR" or
// "zh-Hant" to its base language code. Unparseable labels yield "".
func NormalizeCode(label string) string {
	label = strings.TrimPrefix(strings.TrimSpace(label), "__label__")
	label = strings.ReplaceAll(label, "_", "-")
	if label == "" {
		return ""
	}
	tag, err := language.Parse(label)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}

// Ping checks the service reports its model as loaded.
func (d *Detector) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("fasttext: failed to create ping request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fasttext: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fasttext: health returned status %d", resp.StatusCode)
	}
	var health struct {
		ModelLoaded bool `json:"model_loaded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("fasttext: decode health: %w", err)
	}
	if !health.ModelLoaded {
		return fmt.Errorf("fasttext: model not loaded")
	}
	return nil
}
