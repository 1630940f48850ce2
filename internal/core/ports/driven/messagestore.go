package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// MessageStore persists raw messages. It is written only by sync.
// All writes are keyed by provider message id.
type MessageStore interface {
	// Exists reports whether a message id is already stored for the account.
	Exists(ctx context.Context, accountID, messageID string) (bool, error)

	// Insert stores a new message and updates its thread summary.
	// Inserting an id that already exists is a no-op and returns false.
	Insert(ctx context.Context, msg *domain.Message) (bool, error)

	// UpdateLabels replaces the label ids of a stored message.
	// Returns domain.ErrNotFound if the message is not stored.
	UpdateLabels(ctx context.Context, accountID, messageID string, labelIDs []string) error

	// Tombstone marks a message deleted. Tombstoning a missing or already
	// tombstoned message is a no-op and returns false.
	Tombstone(ctx context.Context, accountID, messageID string, at time.Time) (bool, error)

	// LiveIDs returns the ids of an account's messages that are not
	// tombstoned.
	LiveIDs(ctx context.Context, accountID string) ([]string, error)

	// Get retrieves a message with its derived fields.
	// Returns domain.ErrNotFound if the message does not exist.
	Get(ctx context.Context, messageID string) (*domain.Message, error)

	// Chunks returns the chunk set of a message in position order.
	Chunks(ctx context.Context, messageID string) ([]domain.Chunk, error)

	// Count returns the number of stored messages for an account,
	// tombstones included.
	Count(ctx context.Context, accountID string) (int, error)
}
