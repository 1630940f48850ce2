package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// ViewOptions selects how much of a message the external view shows.
type ViewOptions struct {
	// Full includes the (policy-filtered) body.
	Full bool

	// Raw includes derived bookkeeping fields for operators.
	Raw bool
}

// ExternalMessage is the policy-enforced view of a message handed to
// consumers outside the core. Its Body never carries the raw body of a
// SENSITIVE or PERSONAL message.
type ExternalMessage struct {
	ID             string
	ThreadID       string
	AccountID      string
	Subject        string
	From           string
	To             []string
	Date           time.Time
	Labels         []string
	Tier           string
	Snippet        string
	Body           string
	HasAttachments bool

	// Operator-only fields, populated with ViewOptions.Raw.
	TransformCompletedAt *time.Time
	AttemptCount         int
	LastError            string
	Chunks               int
	Language             string
}

// MessageViewer exposes stored messages under the redaction policy.
type MessageViewer interface {
	// Get returns the external view of a message.
	// Tombstoned messages return domain.ErrNotFound.
	Get(ctx context.Context, messageID string, opts ViewOptions) (*ExternalMessage, error)
}

// WatchService manages push notification registrations.
type WatchService interface {
	// Register (re)creates the watch for an account and returns its expiry.
	Register(ctx context.Context, accountID string) (time.Time, error)

	// RenewDue re-registers every watch expiring within the renewal window.
	RenewDue(ctx context.Context) (int, error)
}

// AccountService onboards accounts.
type AccountService interface {
	// Add creates or updates an account from an imported token and
	// returns it. The provider profile supplies the address.
	Add(ctx context.Context, creds domain.OAuthCredentials) (*domain.Account, error)

	// List returns all accounts.
	List(ctx context.Context) ([]domain.Account, error)
}
