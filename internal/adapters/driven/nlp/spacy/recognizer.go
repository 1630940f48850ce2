// Package spacy provides an entity recognizer backed by a spaCy NER
// service.
package spacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// Ensure Recognizer implements the interface.
var _ driven.EntityRecognizer = (*Recognizer)(nil)

// DefaultTimeout is the request timeout when none is configured.
const DefaultTimeout = 15 * time.Second

// Config holds configuration for the recognizer.
type Config struct {
	// BaseURL is the service base URL (required).
	BaseURL string

	// Timeout is the request timeout (default: 15s).
	Timeout time.Duration
}

// Recognizer finds named entities in text.
type Recognizer struct {
	client  *http.Client
	baseURL string
}

type nerRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// entity accepts the field spellings NER services commonly emit.
type entity struct {
	Start     *int   `json:"start"`
	StartChar *int   `json:"start_char"`
	End       *int   `json:"end"`
	EndChar   *int   `json:"end_char"`
	Label     string `json:"label"`
	Entity    string `json:"entity"`
	Type      string `json:"type"`
}

func (e entity) span() (start, end int, label string, ok bool) {
	s, en := e.Start, e.End
	if s == nil {
		s = e.StartChar
	}
	if en == nil {
		en = e.EndChar
	}
	label = firstNonEmpty(e.Label, e.Entity, e.Type)
	if s == nil || en == nil || label == "" {
		return 0, 0, "", false
	}
	return *s, *en, strings.ToUpper(label), true
}

// NewRecognizer creates a new recognizer.
func NewRecognizer(cfg Config) (*Recognizer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("spacy: base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Recognizer{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// FindEntities returns the entities in text as byte-offset spans.
// The service reports character offsets.
func (r *Recognizer) FindEntities(ctx context.Context, text, lang string) ([]driven.EntitySpan, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if lang == "" {
		lang = "en"
	}

	raw, err := r.post(ctx, nerRequest{Text: text, Lang: lang})
	if err != nil {
		return nil, err
	}
	entities, err := decodeEntities(raw)
	if err != nil {
		return nil, err
	}

	offsets := runeOffsets(text)
	spans := make([]driven.EntitySpan, 0, len(entities))
	for _, e := range entities {
		start, end, label, ok := e.span()
		if !ok || start < 0 || end > len(offsets)-1 || start >= end {
			continue
		}
		spans = append(spans, driven.EntitySpan{Start: offsets[start], End: offsets[end], Label: label})
	}
	return spans, nil
}

func (r *Recognizer) post(ctx context.Context, body nerRequest) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/ner", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: spacy: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return nil, fmt.Errorf("spacy: %w", domain.ErrPayloadTooLarge)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spacy error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// decodeEntities accepts a bare list or an object wrapping the list.
func decodeEntities(raw []byte) ([]entity, error) {
	var list []entity
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Entities []entity `json:"entities"`
		Ents     []entity `json:"ents"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(wrapped.Entities) > 0 {
		return wrapped.Entities, nil
	}
	return wrapped.Ents, nil
}

// runeOffsets maps each character index to its byte offset. The extra
// final entry is len(text) so end offsets resolve.
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
