package gmail

import (
	"strings"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// System label ids used by the filters.
const (
	LabelInbox = "INBOX"
	LabelSpam  = "SPAM"
	LabelTrash = "TRASH"
)

// MaxPageSize is the largest page Gmail returns for messages.list and history.list.
const MaxPageSize = 500

// Config holds Gmail provider configuration.
type Config struct {
	// LabelIDs limits syncing to messages carrying any of these labels.
	// If empty, all mail is synced.
	LabelIDs []string
	// Query is a Gmail search query for the full listing (optional).
	Query string
	// MaxResults is the page size for API requests.
	MaxResults int64
	// IncludeSpamTrash includes spam and trash if true.
	IncludeSpamTrash bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxResults: MaxPageSize,
	}
}

// ParseConfig builds the provider configuration from sync settings.
func ParseConfig(s domain.SyncSettings) *Config {
	cfg := DefaultConfig()

	for _, id := range s.LabelIDs {
		if id = strings.TrimSpace(id); id != "" {
			cfg.LabelIDs = append(cfg.LabelIDs, id)
		}
	}

	if s.PageSize > 0 && s.PageSize <= MaxPageSize {
		cfg.MaxResults = int64(s.PageSize)
	}

	cfg.IncludeSpamTrash = s.IncludeSpamTrash
	return cfg
}

// ShouldSync reports whether a message with these labels passes the filter.
func (c *Config) ShouldSync(labelIDs []string) bool {
	if !hasRequiredLabel(labelIDs, c.LabelIDs) {
		return false
	}
	if !c.IncludeSpamTrash && isSpamOrTrash(labelIDs) {
		return false
	}
	return true
}

// hasRequiredLabel checks if any required label is present.
func hasRequiredLabel(msgLabels, requiredLabels []string) bool {
	if len(requiredLabels) == 0 {
		return true
	}
	for _, required := range requiredLabels {
		for _, msgLabel := range msgLabels {
			if required == msgLabel {
				return true
			}
		}
	}
	return false
}

// isSpamOrTrash checks if the message has spam or trash labels.
func isSpamOrTrash(labels []string) bool {
	for _, label := range labels {
		if label == LabelSpam || label == LabelTrash {
			return true
		}
	}
	return false
}
