package driven

import "context"

// EmbeddingService generates vector embeddings from text.
//
// EmbedBatch returns domain.ErrPayloadTooLarge (wrapped) when the service
// rejects the request size, so callers can degrade.
type EmbeddingService interface {
	// EmbedBatch returns one vector per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Ping validates the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// TokenCounter counts model tokens for a text.
// Optional for embedding and language model services.
type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	// Role is "system" or "user".
	Role string

	// Content is the message text.
	Content string
}

// ChatOptions configures chat behaviour.
type ChatOptions struct {
	MaxTokens   int
	Temperature float64

	// Seed makes sampling reproducible where supported.
	Seed int
}

// LLMService answers prompts. The classifier uses it to obtain a tier
// label; parsing the answer is the caller's job.
type LLMService interface {
	// Chat conducts a single-turn or multi-turn conversation.
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error)

	// ModelName returns the name of the model being used.
	ModelName() string

	// Ping validates the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Language is a detected language with confidence.
type Language struct {
	// Code is the ISO 639-1 code, e.g. "en".
	Code string

	// Confidence is in [0, 1].
	Confidence float64
}

// LanguageDetector is the language-detection collaborator.
type LanguageDetector interface {
	Detect(ctx context.Context, text string) (Language, error)
}

// EntitySpan is a recognised entity. Start and End are byte offsets
// into the text passed to FindEntities.
type EntitySpan struct {
	Start int
	End   int
	Label string
}

// EntityRecognizer is the entity-redaction collaborator.
type EntityRecognizer interface {
	FindEntities(ctx context.Context, text, language string) ([]EntitySpan, error)
}

// TextSplitter cuts text into chunks that stay within a token budget,
// preferring paragraph and sentence boundaries.
type TextSplitter interface {
	Split(text string) []string
}
