package cli

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

type mockSettingsService struct {
	settings domain.Settings
	set      map[string]any
	invalid  error
}

func (m *mockSettingsService) Get() (*domain.Settings, error) {
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Set(key string, value any) error {
	if key == "unknown.key" {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	m.set[key] = value
	return nil
}

func (m *mockSettingsService) Unset(key string) error {
	if key == "unknown.key" {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	delete(m.set, key)
	return nil
}

func (m *mockSettingsService) Validate() error { return m.invalid }

func (m *mockSettingsService) GetDefaults() domain.Settings { return domain.DefaultSettings() }

func setupSettingsTest() (*mockSettingsService, func()) {
	old := settingsService
	mock := &mockSettingsService{settings: domain.DefaultSettings(), set: map[string]any{}}
	settingsService = mock
	return mock, func() { settingsService = old }
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Short key",
			input:    "abc123",
			expected: "****",
		},
		{
			name:     "Exactly 8 chars",
			input:    "12345678",
			expected: "****",
		},
		{
			name:     "Long key",
			input:    "sk-1234567890abcdef",
			expected: "sk-1...cdef",
		},
		{
			name:     "Empty key",
			input:    "",
			expected: "****",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskSecret(tt.input))
		})
	}
}

func TestParseSettingValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{name: "Integer", input: "512", expected: int64(512)},
		{name: "Float", input: "0.75", expected: 0.75},
		{name: "Bool", input: "true", expected: true},
		{name: "Duration", input: "15m", expected: "15m"},
		{name: "List", input: "INBOX, SENT,", expected: []any{"INBOX", "SENT"}},
		{name: "URL", input: " http://localhost:8081 ", expected: "http://localhost:8081"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseSettingValue(tt.input))
		})
	}
}

func TestSettingsShow(t *testing.T) {
	mock, cleanup := setupSettingsTest()
	defer cleanup()
	mock.settings.Classifier.APIKey = "sk-1234567890abcdef"
	mock.settings.Embedding.BaseURL = "http://tei:8080"
	mock.settings.Vector.Enabled = true
	mock.settings.Vector.BaseURL = "http://chroma:8000"

	out, err := executeCommand("settings")

	require.NoError(t, err)
	assert.Contains(t, out, "[Embedding]")
	assert.Contains(t, out, "Base URL: http://tei:8080")
	assert.Contains(t, out, "API key: sk-1...cdef")
	assert.NotContains(t, out, "sk-1234567890abcdef")
	assert.Contains(t, out, "yes (http://chroma:8000, collection inboxd_messages)")
	assert.Contains(t, out, "watch-renewal: every")
	assert.Contains(t, out, "Configuration is valid.")
}

func TestSettingsShow_ValidationWarning(t *testing.T) {
	mock, cleanup := setupSettingsTest()
	defer cleanup()
	mock.invalid = fmt.Errorf("%w: nlp.entity_url", domain.ErrCapabilityMissing)

	out, err := executeCommand("settings", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "Warning: capability missing: nlp.entity_url")
}

func TestSettingsSet(t *testing.T) {
	mock, cleanup := setupSettingsTest()
	defer cleanup()

	out, err := executeCommand("settings", "set", "embedding.max_tokens", "512")

	require.NoError(t, err)
	assert.Equal(t, int64(512), mock.set["embedding.max_tokens"])
	assert.Contains(t, out, "embedding.max_tokens updated.")

	_, err = executeCommand("settings", "set", "unknown.key", "x")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSettingsSet_NotConfigured(t *testing.T) {
	old := settingsService
	settingsService = nil
	defer func() { settingsService = old }()

	_, err := executeCommand("settings", "set", "a", "b")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings service not configured")
}

func TestSettingsUnset(t *testing.T) {
	mock, cleanup := setupSettingsTest()
	defer cleanup()
	mock.set["classifier.model"] = "qwen"

	out, err := executeCommand("settings", "unset", "classifier.model")

	require.NoError(t, err)
	assert.Contains(t, out, "classifier.model reset to default.")
	assert.NotContains(t, mock.set, "classifier.model")

	_, err = executeCommand("settings", "unset", "unknown.key")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
