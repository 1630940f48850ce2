package domain

import (
	"strings"
	"time"
)

// Address is a parsed mailbox from a header.
type Address struct {
	Name  string
	Email string
}

// String formats the address as "Name <email>" or just the email.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// Attachment describes one attachment part of a message.
type Attachment struct {
	Filename string
	MIMEType string
	Size     int64
}

// Message is a stored mail message.
// Raw fields are written once by sync. Transform owns only the
// fields held in Derived.
type Message struct {
	// ID is the provider message id, unique per account.
	ID string

	// AccountID links to the owning Account.
	AccountID string

	// ThreadID is the provider thread id.
	ThreadID string

	Subject string
	From    Address
	To      []Address
	Cc      []Address
	Bcc     []Address

	// Headers holds the subset of headers the classifier uses
	// (List-Unsubscribe, Precedence, Auto-Submitted, ...), keyed canonically.
	Headers map[string]string

	Snippet string

	// BodyText is the plain text body. HTML-only messages are converted.
	BodyText string

	HasAttachments bool
	Attachments    []Attachment

	// LabelIDs are provider label ids at the time of the last sync.
	LabelIDs []string

	// SentAt is the provider's internal date.
	SentAt time.Time

	// SyncedAt is when the message was first stored.
	SyncedAt time.Time

	// DeletedAt marks a tombstone. Tombstoned messages are kept but are
	// never selected for transform and are hidden from the external view.
	DeletedAt *time.Time

	// Derived holds the transform-owned fields.
	Derived Derived
}

// IsDeleted reports whether the message is tombstoned.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Header returns a stored header value, or "".
func (m *Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[CanonicalHeader(name)]
}

// RecipientCount returns the number of To, Cc and Bcc recipients.
func (m *Message) RecipientCount() int {
	return len(m.To) + len(m.Cc) + len(m.Bcc)
}

// Derived is the set of message fields owned by the transform pipeline.
type Derived struct {
	// Tier is TierUnknown until the message is classified.
	Tier Tier

	// BodyRedacted is non-nil only when Tier is TierPersonal.
	BodyRedacted *string

	// SnippetRedacted is the display-safe snippet.
	SnippetRedacted string

	// Language is the detected body language (ISO 639-1), set for PERSONAL.
	Language string

	SubjectEmbedding []float32

	// BodyEmbedding is the full-body vector, or the weighted mean of the
	// chunk vectors when the body was chunked.
	BodyEmbedding []float32

	// Chunked reports whether the body was split into chunks.
	Chunked bool

	// CompletedAt is set only after every stage succeeded.
	CompletedAt *time.Time

	// AttemptCount counts failed transform attempts.
	AttemptCount int

	// LastError is the most recent stage failure, if any.
	LastError string

	// ClaimToken identifies the run currently transforming the message.
	ClaimToken string

	// ClaimedAt is when the current claim was taken.
	ClaimedAt *time.Time
}

// IsCompleted reports whether the transform finished for the message.
func (d *Derived) IsCompleted() bool {
	return d.CompletedAt != nil
}

// CanonicalHeader normalises a header name the way net/textproto does
// for ASCII names ("list-unsubscribe" -> "List-Unsubscribe").
func CanonicalHeader(name string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(name)), "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

// Thread summarises the messages sharing a thread id.
type Thread struct {
	ID            string
	AccountID     string
	Subject       string
	MessageCount  int
	LastMessageAt time.Time
}
