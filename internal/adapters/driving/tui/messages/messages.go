// Package messages defines Bubbletea message types for the terminal views.
package messages

import (
	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// ProgressUpdated carries the run state after a completed batch.
type ProgressUpdated struct {
	Progress domain.TransformProgress
}

// RunFinished is sent once when the transform run returns.
type RunFinished struct {
	Report *domain.TransformReport
	Err    error
}
