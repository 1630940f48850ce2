package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// redactEntityLabels are the entity kinds removed from PERSONAL bodies.
var redactEntityLabels = map[string]bool{
	"PERSON": true,
	"GPE":    true,
	"LOC":    true,
	"FAC":    true,
	"ORG":    true,
}

// piiRedactions run before entity recognition. Order matters.
var piiRedactions = []redaction{
	{regexp.MustCompile(`[\w.\-]+@[\w.\-]+\.\w+`), "[EMAIL]"},
	{regexp.MustCompile(`\+?\d[\d \-]{8,}\d`), "[PHONE]"},
	{regexp.MustCompile(`\b\d{4}[\s\-]?\d{4}[\s\-]?\d{4}[\s\-]?\d{4}\b`), "[CARD]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{regexp.MustCompile(`\b\d{9}\b`), "[ID]"},
}

// Sanitized is the outcome of sanitizing one body.
type Sanitized struct {
	Body     string
	Language string
}

// Sanitizer redacts personal data from PERSONAL message bodies.
type Sanitizer struct {
	detector   driven.LanguageDetector
	recognizer driven.EntityRecognizer
	settings   domain.NLPSettings
}

// NewSanitizer creates a sanitizer.
func NewSanitizer(detector driven.LanguageDetector, recognizer driven.EntityRecognizer, settings domain.NLPSettings) *Sanitizer {
	if settings.DefaultLanguage == "" {
		settings.DefaultLanguage = "en"
	}
	return &Sanitizer{
		detector:   detector,
		recognizer: recognizer,
		settings:   settings,
	}
}

// Sanitize detects the body language, then replaces contact details,
// recognised entities and secrets with placeholders.
func (s *Sanitizer) Sanitize(ctx context.Context, body string) (Sanitized, error) {
	if strings.TrimSpace(body) == "" {
		return Sanitized{Language: s.settings.DefaultLanguage}, nil
	}

	lang, err := s.detectLanguage(ctx, body)
	if err != nil {
		return Sanitized{}, err
	}

	text := body
	for _, r := range piiRedactions {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}

	spans, err := s.recognizer.FindEntities(ctx, text, lang)
	if err != nil {
		return Sanitized{}, fmt.Errorf("find entities: %w", err)
	}
	text = redactSpans(text, spans)

	return Sanitized{Body: RedactSecrets(text), Language: lang}, nil
}

func (s *Sanitizer) detectLanguage(ctx context.Context, text string) (string, error) {
	detected, err := s.detector.Detect(ctx, text)
	if err != nil {
		return "", fmt.Errorf("detect language: %w", err)
	}
	if detected.Code == "" || detected.Confidence < s.settings.MinLanguageConfidence {
		logger.Debug("Language %q below confidence %.2f, using %s",
			detected.Code, s.settings.MinLanguageConfidence, s.settings.DefaultLanguage)
		return s.settings.DefaultLanguage, nil
	}
	return detected.Code, nil
}

// redactSpans replaces entity spans with their label. Spans out of range
// are dropped; of overlapping spans the earliest (then longest) wins.
func redactSpans(text string, spans []driven.EntitySpan) string {
	valid := make([]driven.EntitySpan, 0, len(spans))
	for _, sp := range spans {
		label := strings.ToUpper(sp.Label)
		if !redactEntityLabels[label] {
			continue
		}
		if sp.Start < 0 || sp.End > len(text) || sp.Start >= sp.End {
			continue
		}
		sp.Label = label
		valid = append(valid, sp)
	}
	sort.Slice(valid, func(i, j int) bool {
		if valid[i].Start != valid[j].Start {
			return valid[i].Start < valid[j].Start
		}
		return valid[i].End > valid[j].End
	})

	keep := valid[:0]
	end := 0
	for _, sp := range valid {
		if sp.Start < end {
			continue
		}
		keep = append(keep, sp)
		end = sp.End
	}

	// Back to front so earlier offsets stay valid.
	for i := len(keep) - 1; i >= 0; i-- {
		sp := keep[i]
		text = text[:sp.Start] + "[" + sp.Label + "]" + text[sp.End:]
	}
	return text
}

// RedactSnippet returns the display-safe snippet for a tier.
func RedactSnippet(tier domain.Tier, snippet string) string {
	if tier != domain.TierPublic {
		return domain.RedactedSnippet
	}
	return RedactSecrets(snippet)
}
