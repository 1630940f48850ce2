package domain

import "time"

// NotificationSource identifies how a notification was delivered.
type NotificationSource string

const (
	NotificationPush NotificationSource = "push"
	NotificationPull NotificationSource = "pull"
)

// Notification is a provider change signal as received.
// Marker is the provider's change marker; it is informational only and
// never replaces the stored cursor.
type Notification struct {
	EmailAddress string
	Marker       string
	Source       NotificationSource
	ReceivedAt   time.Time
}

// SyncTrigger is the normalised "sync due for account" event.
type SyncTrigger struct {
	AccountID string
	Marker    string
	Source    NotificationSource

	// Coalesced counts the notifications folded into this trigger.
	Coalesced int
}
