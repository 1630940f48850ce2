// Package chunker provides the text splitters used when a message body
// exceeds the embedding model's input budget.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// DefaultTargetTokens is the default token budget per chunk.
const DefaultTargetTokens = 7500

// Ensure Splitter implements the interface.
var _ driven.TextSplitter = (*Splitter)(nil)

// CountFunc returns the number of model tokens in a text.
type CountFunc func(text string) int

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Splitter packs paragraphs into chunks of at most a target token count.
// Paragraphs over the target are split on sentence boundaries. A single
// sentence over the target becomes its own chunk.
type Splitter struct {
	target int
	count  CountFunc
}

// Option configures the splitter.
type Option func(*Splitter)

// WithTargetTokens sets the token budget per chunk.
func WithTargetTokens(n int) Option {
	return func(s *Splitter) {
		if n > 0 {
			s.target = n
		}
	}
}

// WithCounter sets the token counter. The default is EstimateTokens.
func WithCounter(count CountFunc) Option {
	return func(s *Splitter) {
		if count != nil {
			s.count = count
		}
	}
}

// New creates a splitter with the given options.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		target: DefaultTargetTokens,
		count:  EstimateTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the splitter name.
func (s *Splitter) Name() string {
	return "paragraph"
}

// Split cuts text into chunks joined from whole paragraphs or sentences.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	paragraphs := Paragraphs(text)
	if len(paragraphs) == 0 {
		paragraphs = []string{strings.TrimSpace(text)}
	}

	var (
		chunks  []string
		current []string
		tokens  int
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = nil
			tokens = 0
		}
	}
	add := func(piece string, n int) {
		if tokens+n > s.target && len(current) > 0 {
			flush()
		}
		current = append(current, piece)
		tokens += n
	}

	for _, para := range paragraphs {
		n := s.count(para)
		if n <= s.target {
			add(para, n)
			continue
		}
		for _, sent := range Sentences(para) {
			add(sent, s.count(sent))
		}
	}
	flush()
	return chunks
}

// Paragraphs splits text on blank lines, trimming each block.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var (
		out   []string
		block []string
	)
	emit := func() {
		if p := strings.TrimSpace(strings.Join(block, "\n")); p != "" {
			out = append(out, p)
		}
		block = block[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			emit()
			continue
		}
		block = append(block, line)
	}
	emit()
	return out
}

// Sentences splits text after '.', '!' or '?' followed by whitespace.
func Sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
