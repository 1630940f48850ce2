package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

func configuredSettings() *domain.Settings {
	s := domain.DefaultSettings()
	s.Embedding.BaseURL = "http://tei:8080"
	s.Embedding.Model = "nomic-embed-text"
	s.Classifier.BaseURL = "http://vllm:8000/v1"
	s.Classifier.Model = "qwen2.5-7b-instruct"
	s.NLP.LanguageURL = "http://lang:8000"
	s.NLP.EntityURL = "http://ner:8000"
	return &s
}

func TestNewServices(t *testing.T) {
	services, err := NewServices(configuredSettings())
	require.NoError(t, err)
	defer services.Close()

	require.NotNil(t, services.Embeddings)
	require.NotNil(t, services.LLM)
	require.NotNil(t, services.Detector)
	require.NotNil(t, services.Recognizer)
	assert.Equal(t, "nomic-embed-text", services.Embeddings.ModelName())
	assert.Equal(t, 768, services.Embeddings.Dimensions())
	assert.Equal(t, "qwen2.5-7b-instruct", services.LLM.ModelName())
}

func TestNewServices_MissingConfiguration(t *testing.T) {
	settings := configuredSettings()
	settings.NLP.EntityURL = ""
	settings.Classifier.Model = ""

	services, err := NewServices(settings)

	assert.Nil(t, services)
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)
	assert.Contains(t, err.Error(), "nlp.entity_url")
	assert.Contains(t, err.Error(), "classifier.model")
	assert.Contains(t, err.Error(), "inboxd settings set")
}

func TestCreateServices_RequireBaseURL(t *testing.T) {
	_, err := CreateEmbeddingService(&domain.EmbeddingSettings{})
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)

	_, err = CreateLLMService(&domain.ClassifierSettings{BaseURL: "http://vllm/v1"})
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing, "model is required")

	_, err = CreateLanguageDetector(&domain.NLPSettings{})
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)

	_, err = CreateEntityRecognizer(&domain.NLPSettings{})
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)
}

func TestServices_CloseEmpty(t *testing.T) {
	assert.NoError(t, (&Services{}).Close())
}

func TestOpenVectorIndex_Disabled(t *testing.T) {
	index, err := OpenVectorIndex(context.Background(), &domain.VectorSettings{BaseURL: "http://chroma:8000"})

	require.NoError(t, err)
	assert.Nil(t, index)
}

func TestOpenVectorIndex_MissingBaseURL(t *testing.T) {
	index, err := OpenVectorIndex(context.Background(), &domain.VectorSettings{Enabled: true, Collection: "inboxd_messages"})

	assert.Nil(t, index)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}
