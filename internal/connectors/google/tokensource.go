package google

import (
	"context"
	"sync"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// PersistingTokenSource refreshes tokens through the oauth2 config and
// writes every refreshed token back to the token store, so a restart
// does not need a new consent.
type PersistingTokenSource struct {
	mu        sync.Mutex
	ctx       context.Context
	cfg       *oauth2.Config
	store     driven.TokenStore
	accountID string
	src       oauth2.TokenSource
	current   string
}

// NewTokenSource creates an oauth2.TokenSource for an account.
// The returned TokenSource can be used with option.WithTokenSource().
func NewTokenSource(ctx context.Context, cfg *oauth2.Config, store driven.TokenStore, accountID string) *PersistingTokenSource {
	return &PersistingTokenSource{
		ctx:       ctx,
		cfg:       cfg,
		store:     store,
		accountID: accountID,
	}
}

// Token implements oauth2.TokenSource.
func (t *PersistingTokenSource) Token() (*oauth2.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.src == nil {
		creds, err := t.store.Token(t.ctx, t.accountID)
		if err != nil {
			return nil, err
		}
		initial := ToOAuth2(creds)
		t.current = initial.AccessToken
		t.src = oauth2.ReuseTokenSource(initial, t.cfg.TokenSource(t.ctx, initial))
	}

	tok, err := t.src.Token()
	if err != nil {
		return nil, err
	}

	if tok.AccessToken != t.current {
		t.current = tok.AccessToken
		if err := t.store.SaveToken(t.ctx, t.accountID, FromOAuth2(tok)); err != nil {
			logger.Warn("persist refreshed token for %s: %v", t.accountID, err)
		}
	}
	return tok, nil
}

// ToOAuth2 converts stored credentials to an oauth2 token.
func ToOAuth2(c *domain.OAuthCredentials) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// FromOAuth2 converts an oauth2 token to stored credentials.
func FromOAuth2(t *oauth2.Token) *domain.OAuthCredentials {
	return &domain.OAuthCredentials{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}
