package cli

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

func TestValidateCmd_AllGood(t *testing.T) {
	_, cleanupSettings := setupSettingsTest()
	defer cleanupSettings()
	_, cleanupTransform := setupTransformTest()
	defer cleanupTransform()

	out, err := executeCommand("validate")

	require.NoError(t, err)
	assert.Contains(t, out, "Configuration: ok")
	assert.Contains(t, out, "Services: ok")
}

func TestValidateCmd_MissingConfiguration(t *testing.T) {
	settings, cleanupSettings := setupSettingsTest()
	defer cleanupSettings()
	settings.invalid = fmt.Errorf("%w: embedding.base_url", domain.ErrCapabilityMissing)

	out, err := executeCommand("validate")

	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)
	assert.Contains(t, out, "Configuration: capability missing: embedding.base_url")
	assert.NotContains(t, out, "Services:")
}

func TestValidateCmd_UnreachableService(t *testing.T) {
	_, cleanupSettings := setupSettingsTest()
	defer cleanupSettings()
	transformer, cleanupTransform := setupTransformTest()
	defer cleanupTransform()
	transformer.preflightErr = fmt.Errorf("%w: embedding service tei", domain.ErrServiceUnavailable)

	out, err := executeCommand("validate")

	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Contains(t, out, "Services: service unavailable: embedding service tei")
}
