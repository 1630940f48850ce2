package driven

import (
	"context"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// TaskHistoryStore persists scheduler task runs so intervals survive restarts.
type TaskHistoryStore interface {
	// RecordResult stores the outcome of one task run.
	RecordResult(ctx context.Context, result domain.TaskResult) error

	// LastRun returns the most recent run of a task, or ErrNotFound.
	LastRun(ctx context.Context, taskID string) (*domain.TaskResult, error)

	// History returns recent runs of a task, newest first.
	History(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)
}
