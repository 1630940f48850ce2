package driving

import (
	"context"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// TransformOrchestrator drives stored messages through enrichment.
type TransformOrchestrator interface {
	// Preflight verifies every enrichment collaborator is usable.
	Preflight(ctx context.Context) error

	// Plan counts what a run with these options would select.
	Plan(ctx context.Context, opts domain.TransformOptions) (*domain.TransformPlan, error)

	// Run executes the pipeline. Forced runs must set Confirmed.
	Run(ctx context.Context, opts domain.TransformOptions) (*domain.TransformReport, error)

	// Reset clears derived fields for an account, or all accounts when empty.
	Reset(ctx context.Context, accountID string) (int, error)
}
