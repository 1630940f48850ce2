package driven

import (
	"context"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// TokenStore holds OAuth tokens per account.
// Obtaining tokens is outside inboxd; tokens are imported and refreshed.
type TokenStore interface {
	// Token returns the stored token for an account.
	// Returns domain.ErrNotFound if none is stored.
	Token(ctx context.Context, accountID string) (*domain.OAuthCredentials, error)

	// SaveToken stores or replaces a token.
	SaveToken(ctx context.Context, accountID string, creds *domain.OAuthCredentials) error

	// DeleteToken removes a stored token.
	DeleteToken(ctx context.Context, accountID string) error
}
