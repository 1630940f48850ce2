package domain

import "time"

// Account identifies a mailbox at a provider.
// The delta cursor only moves forward after fetched data is durable,
// and is cleared only by an explicit full resync.
type Account struct {
	// ID is the local identifier for the account.
	ID string

	// EmailAddress is the provider's address for the mailbox.
	// Notifications identify accounts by this value.
	EmailAddress string

	// Cursor is the opaque provider delta marker. Empty means a full
	// initial sync is required.
	Cursor string

	// LastSyncAt is when the cursor last advanced.
	LastSyncAt time.Time

	// WatchExpiry is when the push notification registration lapses.
	// Zero when no registration exists.
	WatchExpiry time.Time

	// CreatedAt is when the account was onboarded.
	CreatedAt time.Time
}

// HasCursor reports whether an incremental sync is possible.
func (a *Account) HasCursor() bool {
	return a.Cursor != ""
}

// WatchDue reports whether the watch registration must be renewed
// at now, given a renewal window before expiry.
func (a *Account) WatchDue(now time.Time, window time.Duration) bool {
	if a.WatchExpiry.IsZero() {
		return true
	}
	return !now.Add(window).Before(a.WatchExpiry)
}

// Label is one entry in an account's label registry.
type Label struct {
	// ID is the provider label id (e.g. "INBOX", "Label_12").
	ID string

	// Name is the display name.
	Name string

	// Type is "system" or "user".
	Type string
}

// LabelRegistry maps label ids to display names for one account.
type LabelRegistry map[string]string

// Resolve maps ids to names, keeping unknown ids as-is.
func (r LabelRegistry) Resolve(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := r[id]; ok && name != "" {
			out = append(out, name)
			continue
		}
		out = append(out, id)
	}
	return out
}
