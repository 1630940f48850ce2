package domain

import "strings"

// Tier is the privacy classification of a message.
// The numeric values are persisted.
type Tier int

const (
	// TierUnknown means the message has not been classified.
	TierUnknown Tier = 0

	// TierSensitive covers secrets, credentials, financial and identity data.
	// The external view of a sensitive message is a fixed redaction marker.
	TierSensitive Tier = 1

	// TierPersonal covers private correspondence.
	// The external view uses the entity-redacted body.
	TierPersonal Tier = 2

	// TierPublic covers newsletters, notifications and bulk mail.
	// The external view uses the original body.
	TierPublic Tier = 3
)

// AmbiguousTierFallback is the tier assigned when the classifier answer
// cannot be parsed. This is a permissive policy choice.
const AmbiguousTierFallback = TierPublic

// AllTiers lists the classifiable tiers in parse priority order.
var AllTiers = []Tier{TierSensitive, TierPersonal, TierPublic}

// String returns the canonical label.
func (t Tier) String() string {
	switch t {
	case TierSensitive:
		return "SENSITIVE"
	case TierPersonal:
		return "PERSONAL"
	case TierPublic:
		return "PUBLIC"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true for the three classifiable tiers.
func (t Tier) IsValid() bool {
	return t == TierSensitive || t == TierPersonal || t == TierPublic
}

// ParseTier parses a canonical tier label, case-insensitively.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SENSITIVE":
		return TierSensitive, true
	case "PERSONAL":
		return TierPersonal, true
	case "PUBLIC":
		return TierPublic, true
	default:
		return TierUnknown, false
	}
}

// Redaction markers used by the external view.
const (
	// SensitiveBodyMarker replaces the body of a SENSITIVE message.
	SensitiveBodyMarker = "[SENSITIVE CONTENT REDACTED]"

	// MissingRedactionMarker is shown for a PERSONAL message without a redacted body.
	MissingRedactionMarker = "[REDACTED CONTENT]"

	// RedactedSnippet replaces snippets of SENSITIVE and PERSONAL messages.
	RedactedSnippet = "Content redacted"
)
