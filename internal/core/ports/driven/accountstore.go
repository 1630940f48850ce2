package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// AccountStore persists onboarded accounts.
type AccountStore interface {
	// Save stores or updates an account. The cursor is not touched;
	// use CursorStore to move it.
	Save(ctx context.Context, account domain.Account) error

	// Get retrieves an account by ID.
	// Returns domain.ErrNotFound if the account does not exist.
	Get(ctx context.Context, id string) (*domain.Account, error)

	// GetByEmail retrieves an account by its provider address.
	// Returns domain.ErrNotFound if no account matches.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// List returns all accounts.
	List(ctx context.Context) ([]domain.Account, error)

	// SetWatchExpiry records when the push registration lapses.
	SetWatchExpiry(ctx context.Context, id string, expiry time.Time) error
}

// CursorStore holds the durable per-account delta cursor.
//
// AdvanceCursor replaces the stored value atomically and never merges.
// Implementations serialise concurrent advances for one account.
type CursorStore interface {
	// GetCursor returns the stored cursor and whether one exists.
	// Absence means a full initial sync is required.
	GetCursor(ctx context.Context, accountID string) (string, bool, error)

	// AdvanceCursor atomically replaces the cursor.
	AdvanceCursor(ctx context.Context, accountID, cursor string, syncedAt time.Time) error

	// ClearCursor removes the cursor, forcing the next sync to be full.
	ClearCursor(ctx context.Context, accountID string) error
}

// LabelStore holds each account's label registry.
type LabelStore interface {
	// ReplaceLabels atomically replaces the registry for an account.
	ReplaceLabels(ctx context.Context, accountID string, labels []domain.Label) error

	// Labels returns the registry as an id to name map.
	Labels(ctx context.Context, accountID string) (domain.LabelRegistry, error)
}

// SyncEventStore records sync run history.
type SyncEventStore interface {
	// Record stores or updates a sync event.
	Record(ctx context.Context, event domain.SyncEvent) error

	// Recent returns the latest events for an account, newest first.
	Recent(ctx context.Context, accountID string, limit int) ([]domain.SyncEvent, error)
}
