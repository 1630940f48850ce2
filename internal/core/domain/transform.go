package domain

import (
	"fmt"
	"time"
)

// TransformOptions selects and tunes one transform run.
type TransformOptions struct {
	// AccountID limits the run to one account. Empty means all accounts.
	AccountID string

	// MessageID transforms a single message regardless of completion.
	MessageID string

	// Force re-transforms completed messages. Requires Confirmed.
	Force bool

	// Confirmed records that the operator accepted a forced run.
	Confirmed bool

	// BatchSize is the number of messages per pipeline pass.
	BatchSize int

	// Limit caps the number of selected messages. Zero is unlimited.
	Limit int

	// OnProgress, if set, is called after every batch.
	OnProgress func(TransformProgress)
}

// Selection describes which messages a run considers.
type Selection struct {
	AccountID string
	MessageID string

	// IncludeCompleted selects completed messages too.
	IncludeCompleted bool

	Limit int
}

// SelectionFor derives the store selection from run options.
func SelectionFor(opts TransformOptions) Selection {
	return Selection{
		AccountID:        opts.AccountID,
		MessageID:        opts.MessageID,
		IncludeCompleted: opts.Force || opts.MessageID != "",
		Limit:            opts.Limit,
	}
}

// TransformPlan is what a run would touch, shown before confirmation.
type TransformPlan struct {
	Total int
	Force bool

	// Scope is a readable description of the selection.
	Scope string
}

// TransformProgress is the run state reported after each batch.
type TransformProgress struct {
	Total     int
	Processed int
	Failed    int

	// Contended counts messages another run owned at claim time.
	Contended int

	ByTier      map[Tier]int
	BodyFull    int
	BodyChunked int

	Batch   int
	Batches int
}

// TransformReport summarises a finished run.
type TransformReport struct {
	TransformProgress

	// Failures maps message ids to the recorded error.
	Failures map[string]string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Claim is ownership of one message by one transform run.
type Claim struct {
	MessageID string
	Token     string
	ClaimedAt time.Time
}

// ClaimRequest asks to take ownership of a message.
type ClaimRequest struct {
	MessageID string
	Token     string
	Now       time.Time

	// StaleBefore: an existing claim taken before this instant is reclaimable.
	StaleBefore time.Time

	// CompletedBefore, when non-zero, allows claiming a completed message
	// whose completion is older than this instant (forced runs). When zero
	// only incomplete messages can be claimed.
	CompletedBefore time.Time
}

// TransformResult is the full set of derived fields for one message.
type TransformResult struct {
	MessageID string
	Tier      Tier

	// BodyRedacted must be set iff Tier is TierPersonal.
	BodyRedacted *string

	SnippetRedacted string
	Language        string

	SubjectEmbedding []float32
	BodyEmbedding    []float32
	Chunked          bool
	Chunks           []Chunk
}

// Validate checks the tier invariants the store relies on.
func (r *TransformResult) Validate() error {
	if !r.Tier.IsValid() {
		return fmt.Errorf("%w: message %s has no tier", ErrInvalidInput, r.MessageID)
	}
	if (r.Tier == TierPersonal) != (r.BodyRedacted != nil) {
		return fmt.Errorf("%w: message %s body_redacted must be set iff tier is PERSONAL", ErrInvalidInput, r.MessageID)
	}
	if r.Chunked && len(r.Chunks) == 0 {
		return fmt.Errorf("%w: message %s chunked without chunks", ErrInvalidInput, r.MessageID)
	}
	return nil
}
