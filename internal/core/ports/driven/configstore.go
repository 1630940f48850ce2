package driven

// ConfigStore holds the persisted configuration as flat dotted keys
// ("embedding.base_url"). Values keep the type they were stored or
// parsed with; SettingsService converts them.
type ConfigStore interface {
	// Get returns the raw value and whether the key is stored.
	Get(key string) (any, bool)

	// GetString returns the value if it is a string, else "".
	GetString(key string) string

	// GetBool returns the value if it is a bool, else false.
	GetBool(key string) bool

	// Set stores and persists a value.
	Set(key string, value any) error

	// Unset removes a key so its default applies again. Removing a
	// missing key is not an error.
	Unset(key string) error

	// Path returns where the configuration is persisted.
	Path() string
}
