package driving

import (
	"context"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// NotificationBridge turns provider notifications into sync runs.
type NotificationBridge interface {
	// Notify accepts one notification. It never blocks on the sync itself.
	Notify(ctx context.Context, n domain.Notification) error

	// Run processes triggers until ctx is cancelled.
	Run(ctx context.Context) error
}
