package domain

import "time"

// SyncMode is the strategy used by a sync run.
type SyncMode string

const (
	// SyncModeFull lists every message at the provider.
	SyncModeFull SyncMode = "full"

	// SyncModeIncremental replays the provider change log since the cursor.
	SyncModeIncremental SyncMode = "incremental"
)

// ChangeKind is the kind of a provider change log entry.
type ChangeKind int

const (
	// ChangeAdded reports a new message.
	ChangeAdded ChangeKind = iota

	// ChangeLabelsChanged reports a label update on an existing message.
	ChangeLabelsChanged

	// ChangeDeleted reports a permanently removed message.
	ChangeDeleted
)

// String returns a short name for logs.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeLabelsChanged:
		return "labels"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one entry of a provider change log.
type Change struct {
	Kind      ChangeKind
	MessageID string
	ThreadID  string

	// LabelIDs is the message's label set after the change, when known.
	LabelIDs []string
}

// MessagePage is one page of a full listing.
type MessagePage struct {
	MessageIDs    []string
	NextPageToken string
}

// ChangePage is one page of a change log listing.
// NewCursor is set on the final page.
type ChangePage struct {
	Changes       []Change
	NextPageToken string
	NewCursor     string
}

// Profile is the provider's view of the mailbox.
type Profile struct {
	EmailAddress string

	// Cursor is the provider's current delta marker.
	Cursor string

	MessagesTotal int64
}

// SyncOptions tunes one sync run.
type SyncOptions struct {
	// Concurrency bounds parallel message fetches. Zero uses the configured default.
	Concurrency int

	// Limit caps the number of messages a full listing fetches. Zero is unlimited.
	Limit int

	// ForceFull ignores any stored cursor.
	ForceFull bool
}

// SyncReport summarises one sync run.
type SyncReport struct {
	AccountID string
	Mode      SyncMode

	// FellBack is true when an expired cursor forced a full listing.
	FellBack bool

	Pages      int
	Fetched    int
	Skipped    int
	Relabelled int
	Tombstoned int

	// RateLimited counts provider throttling responses that were retried.
	RateLimited int

	// Recommendation is operator-facing advice, e.g. lowering concurrency.
	Recommendation string

	PreviousCursor string
	Cursor         string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Processed is the number of messages written by the run.
func (r *SyncReport) Processed() int {
	return r.Fetched + r.Relabelled + r.Tombstoned
}

// SyncEventStatus is the state of a recorded sync run.
type SyncEventStatus string

const (
	SyncEventStarted   SyncEventStatus = "started"
	SyncEventCompleted SyncEventStatus = "completed"
	SyncEventFailed    SyncEventStatus = "failed"
)

// SyncEvent is the durable record of a sync run.
type SyncEvent struct {
	ID                string
	AccountID         string
	Mode              SyncMode
	Status            SyncEventStatus
	MessagesProcessed int
	Error             string
	StartedAt         time.Time
	FinishedAt        *time.Time
}
