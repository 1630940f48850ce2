package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// DefaultLoginTimeout bounds how long a login waits for the browser.
const DefaultLoginTimeout = 5 * time.Minute

// Opener shows the authorization URL to the user.
type Opener func(url string) error

// Login runs the authorization code flow with PKCE against cfg and
// returns the exchanged token. The redirect URL of cfg is replaced with
// the loopback callback.
func Login(ctx context.Context, cfg *oauth2.Config, open Opener) (domain.OAuthCredentials, error) {
	state := uuid.NewString()
	callback := NewCallbackServer(0, state)
	if err := callback.Start(); err != nil {
		return domain.OAuthCredentials{}, err
	}
	defer func() {
		if err := callback.Stop(); err != nil {
			logger.Debug("stopping oauth callback: %v", err)
		}
	}()

	flow := *cfg
	flow.RedirectURL = callback.RedirectURI()

	verifier := oauth2.GenerateVerifier()
	authURL := flow.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
	if err := open(authURL); err != nil {
		return domain.OAuthCredentials{}, fmt.Errorf("open authorization page: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultLoginTimeout)
		defer cancel()
	}

	code, err := callback.WaitForCode(ctx)
	if err != nil {
		return domain.OAuthCredentials{}, err
	}

	token, err := flow.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return domain.OAuthCredentials{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	return domain.OAuthCredentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}, nil
}
