package driving

import (
	"context"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// SyncEngine reconciles local storage with the provider.
type SyncEngine interface {
	// Sync runs one full or incremental sync for an account.
	Sync(ctx context.Context, accountID string, opts domain.SyncOptions) (*domain.SyncReport, error)

	// SyncAll syncs every account. Accounts are independent; errors are joined.
	SyncAll(ctx context.Context, opts domain.SyncOptions) error

	// ResetCursor forgets the stored cursor so the next sync runs in full mode.
	ResetCursor(ctx context.Context, accountID string) error

	// Status returns the state of a running sync, or an idle status.
	Status(ctx context.Context, accountID string) (*SyncStatus, error)
}

// SyncStatus represents the current state of a sync operation.
type SyncStatus struct {
	// AccountID identifies the account.
	AccountID string

	// Running indicates if sync is currently in progress.
	Running bool

	// Mode is the strategy of the running sync.
	Mode domain.SyncMode

	// MessagesProcessed is the count of messages written so far.
	MessagesProcessed int
}
