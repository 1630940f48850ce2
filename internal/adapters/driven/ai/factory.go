// Package ai provides factory functions for creating the model service
// adapters the transform pipeline talks to.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/inboxd/internal/adapters/driven/embedding/tei"
	"github.com/custodia-labs/inboxd/internal/adapters/driven/llm/vllm"
	"github.com/custodia-labs/inboxd/internal/adapters/driven/nlp/fasttext"
	"github.com/custodia-labs/inboxd/internal/adapters/driven/nlp/spacy"
	"github.com/custodia-labs/inboxd/internal/adapters/driven/vector/chroma"
	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// openTimeout bounds connecting to the vector store.
const openTimeout = 10 * time.Second

// Services holds the model service adapters. The embedding and
// classifier adapters double as the token counters of their models.
type Services struct {
	Embeddings *tei.EmbeddingService
	LLM        *vllm.LLMService
	Detector   *fasttext.Detector
	Recognizer *spacy.Recognizer
}

// Close releases all resources held by Services.
func (s *Services) Close() error {
	var errs []error
	if s.Embeddings != nil {
		errs = append(errs, s.Embeddings.Close())
	}
	if s.LLM != nil {
		errs = append(errs, s.LLM.Close())
	}
	return errors.Join(errs...)
}

// NewServices creates every model service adapter. Missing
// configuration fails with domain.ErrCapabilityMissing before any
// adapter is built.
func NewServices(settings *domain.Settings) (*Services, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w. Run 'inboxd settings set <key> <value>' to fix", err)
	}

	embeddings, err := CreateEmbeddingService(&settings.Embedding)
	if err != nil {
		return nil, err
	}
	llm, err := CreateLLMService(&settings.Classifier)
	if err != nil {
		return nil, err
	}
	detector, err := CreateLanguageDetector(&settings.NLP)
	if err != nil {
		return nil, err
	}
	recognizer, err := CreateEntityRecognizer(&settings.NLP)
	if err != nil {
		return nil, err
	}

	return &Services{
		Embeddings: embeddings,
		LLM:        llm,
		Detector:   detector,
		Recognizer: recognizer,
	}, nil
}

// CreateEmbeddingService creates the TEI embedding service.
func CreateEmbeddingService(settings *domain.EmbeddingSettings) (*tei.EmbeddingService, error) {
	svc, err := tei.NewEmbeddingService(tei.Config{
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Timeout:    settings.Timeout,
		Dimensions: settings.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCapabilityMissing, err)
	}
	return svc, nil
}

// CreateLLMService creates the classifier model service.
func CreateLLMService(settings *domain.ClassifierSettings) (*vllm.LLMService, error) {
	svc, err := vllm.NewLLMService(vllm.Config{
		BaseURL: settings.BaseURL,
		Model:   settings.Model,
		APIKey:  settings.APIKey,
		Timeout: settings.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCapabilityMissing, err)
	}
	return svc, nil
}

// CreateLanguageDetector creates the language identification client.
func CreateLanguageDetector(settings *domain.NLPSettings) (*fasttext.Detector, error) {
	d, err := fasttext.NewDetector(fasttext.Config{BaseURL: settings.LanguageURL, Timeout: settings.Timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCapabilityMissing, err)
	}
	return d, nil
}

// CreateEntityRecognizer creates the named entity recognition client.
func CreateEntityRecognizer(settings *domain.NLPSettings) (*spacy.Recognizer, error) {
	r, err := spacy.NewRecognizer(spacy.Config{BaseURL: settings.EntityURL, Timeout: settings.Timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCapabilityMissing, err)
	}
	return r, nil
}

// OpenVectorIndex connects to the vector store. It returns a nil index
// when vector mirroring is disabled.
func OpenVectorIndex(ctx context.Context, settings *domain.VectorSettings) (driven.VectorIndex, error) {
	if !settings.Enabled {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	index, err := chroma.Open(ctx, chroma.Config{
		BaseURL:    settings.BaseURL,
		Collection: settings.Collection,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vector index: %w", domain.ErrServiceUnavailable, err)
	}
	return index, nil
}
