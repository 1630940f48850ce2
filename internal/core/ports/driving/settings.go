package driving

import "github.com/custodia-labs/inboxd/internal/core/domain"

// SettingsService manages application settings.
type SettingsService interface {
	// Get retrieves current settings, defaults applied.
	Get() (*domain.Settings, error)

	// Set stores one configuration key.
	Set(key string, value any) error

	// Unset removes a stored key so its default applies again.
	Unset(key string) error

	// Validate checks the capabilities transform requires.
	Validate() error

	// GetDefaults returns default settings.
	GetDefaults() domain.Settings
}
