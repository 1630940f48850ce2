package chunker

import "github.com/custodia-labs/inboxd/internal/core/ports/driven"

// DefaultChunkSize is the default number of characters per fixed chunk.
const DefaultChunkSize = 24000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 400

// Ensure Fixed implements the interface.
var _ driven.TextSplitter = (*Fixed)(nil)

// Fixed splits text into fixed-size character windows with overlap.
// It ignores sentence boundaries and is meant for bodies without any
// paragraph structure, such as long machine-generated logs.
type Fixed struct {
	chunkSize int
	overlap   int
}

// FixedOption configures the fixed splitter.
type FixedOption func(*Fixed)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) FixedOption {
	return func(f *Fixed) {
		if size > 0 {
			f.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) FixedOption {
	return func(f *Fixed) {
		if overlap >= 0 {
			f.overlap = overlap
		}
	}
}

// NewFixed creates a fixed-size splitter.
func NewFixed(opts ...FixedOption) *Fixed {
	f := &Fixed{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(f)
	}

	// Ensure overlap doesn't exceed chunk size
	if f.overlap >= f.chunkSize {
		f.overlap = f.chunkSize / 4
	}
	return f
}

// Name returns the splitter name.
func (f *Fixed) Name() string {
	return "fixed"
}

// Split cuts text into overlapping windows. Windows are measured in runes
// so multi-byte characters are never cut.
func (f *Fixed) Split(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	step := f.chunkSize - f.overlap
	chunks := make([]string, 0, n/step+1)

	for start := 0; start < n; start += step {
		end := start + f.chunkSize
		if end > n {
			end = n
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == n {
			break
		}
	}
	return chunks
}
