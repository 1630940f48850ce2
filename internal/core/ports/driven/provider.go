package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// MailProvider is the provider fetch collaborator for one account.
//
// Implementations translate throttling into domain.ErrRateLimited and an
// unknown cursor into domain.ErrCursorExpired.
type MailProvider interface {
	// Profile returns the mailbox address and its current cursor.
	Profile(ctx context.Context) (domain.Profile, error)

	// Labels returns the account's label registry entries.
	Labels(ctx context.Context) ([]domain.Label, error)

	// ListAll returns one page of the full message listing.
	ListAll(ctx context.Context, pageToken string) (domain.MessagePage, error)

	// ListChanges returns one page of changes since cursor.
	ListChanges(ctx context.Context, cursor, pageToken string) (domain.ChangePage, error)

	// FetchMessage retrieves and parses a single message.
	// Returns domain.ErrNotFound if the message no longer exists.
	FetchMessage(ctx context.Context, id string) (*domain.Message, error)

	// Close releases resources.
	Close() error
}

// WatchRegistrar registers push notifications for an account.
type WatchRegistrar interface {
	// Watch (re)registers push notifications and returns the expiry.
	Watch(ctx context.Context, topic string, labelIDs []string) (time.Time, error)

	// StopWatch removes any push registration.
	StopWatch(ctx context.Context) error
}

// ProviderFactory opens provider clients for accounts.
type ProviderFactory interface {
	// Open returns a provider client authorised for the account.
	Open(ctx context.Context, account domain.Account) (MailProvider, error)
}
