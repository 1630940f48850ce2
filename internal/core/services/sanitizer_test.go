package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// sanitizerMockDetector implements driven.LanguageDetector for testing.
type sanitizerMockDetector struct {
	lang driven.Language
	err  error
}

func (m *sanitizerMockDetector) Detect(_ context.Context, _ string) (driven.Language, error) {
	return m.lang, m.err
}

// sanitizerMockRecognizer finds fixed words and reports them as entities.
type sanitizerMockRecognizer struct {
	words map[string]string
	lang  string
	text  string
}

func (m *sanitizerMockRecognizer) FindEntities(_ context.Context, text, lang string) ([]driven.EntitySpan, error) {
	m.lang = lang
	m.text = text
	var spans []driven.EntitySpan
	for word, label := range m.words {
		if i := strings.Index(text, word); i >= 0 {
			spans = append(spans, driven.EntitySpan{Start: i, End: i + len(word), Label: label})
		}
	}
	return spans, nil
}

func newTestSanitizer(lang driven.Language, words map[string]string) (*Sanitizer, *sanitizerMockRecognizer) {
	rec := &sanitizerMockRecognizer{words: words}
	return NewSanitizer(&sanitizerMockDetector{lang: lang}, rec, domain.DefaultSettings().NLP), rec
}

func TestSanitizer_RedactsEntitiesAndContacts(t *testing.T) {
	s, rec := newTestSanitizer(driven.Language{Code: "de", Confidence: 0.9}, map[string]string{
		"Anna":   "PERSON",
		"Berlin": "gpe",
		"Monday": "DATE",
	})

	out, err := s.Sanitize(context.Background(),
		"Anna from Berlin, call +49 170 1234567 or mail anna@example.com on Monday.")
	require.NoError(t, err)

	assert.Equal(t, "de", out.Language)
	assert.Equal(t, "de", rec.lang)
	assert.Equal(t, "[PERSON] from [GPE], call [PHONE] or mail [EMAIL] on Monday.", out.Body)
	assert.NotContains(t, rec.text, "anna@example.com", "entities run on the pattern-redacted text")
}

func TestSanitizer_LowConfidenceUsesDefault(t *testing.T) {
	s, rec := newTestSanitizer(driven.Language{Code: "fr", Confidence: 0.2}, nil)

	out, err := s.Sanitize(context.Background(), "bonjour")
	require.NoError(t, err)
	assert.Equal(t, "en", out.Language)
	assert.Equal(t, "en", rec.lang)
}

func TestSanitizer_EmptyBody(t *testing.T) {
	s, _ := newTestSanitizer(driven.Language{Code: "fr", Confidence: 1}, nil)

	out, err := s.Sanitize(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, "", out.Body)
	assert.Equal(t, "en", out.Language)
}

func TestSanitizer_DetectorError(t *testing.T) {
	s := NewSanitizer(&sanitizerMockDetector{err: errors.New("down")}, &sanitizerMockRecognizer{}, domain.NLPSettings{})

	_, err := s.Sanitize(context.Background(), "hello")
	assert.Error(t, err)
}

func TestRedactSpans_SkipsInvalidAndOverlapping(t *testing.T) {
	text := "Alice Smith met Bob"
	spans := []driven.EntitySpan{
		{Start: 0, End: 11, Label: "PERSON"},
		{Start: 6, End: 11, Label: "PERSON"},
		{Start: 16, End: 19, Label: "PERSON"},
		{Start: 10, End: 99, Label: "ORG"},
		{Start: 4, End: 2, Label: "ORG"},
	}
	assert.Equal(t, "[PERSON] met [PERSON]", redactSpans(text, spans))
}

func TestRedactSnippet(t *testing.T) {
	assert.Equal(t, domain.RedactedSnippet, RedactSnippet(domain.TierSensitive, "pin 1234"))
	assert.Equal(t, domain.RedactedSnippet, RedactSnippet(domain.TierPersonal, "hi Anna"))
	assert.Equal(t, "Weekly deals", RedactSnippet(domain.TierPublic, "Weekly deals"))
	assert.Equal(t, "use [REDACTED]", RedactSnippet(domain.TierPublic, "use password=letmein"))
}
