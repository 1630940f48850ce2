// Package google provides shared infrastructure for the Gmail provider.
//
// It contains:
//   - a persisting oauth2.TokenSource backed by the keyring token store
//   - the Gmail service factory
//   - mapping of Google API errors (401, 403, 404, 429) onto domain errors
//   - a token bucket rate limiter for provider calls
//
// # Usage
//
//	ts := google.NewTokenSource(ctx, oauthCfg, tokens, account.ID)
//	svc, err := google.NewGmailService(ctx, ts)
//
// # OAuth2 Scopes
//
// inboxd requests https://www.googleapis.com/auth/gmail.readonly (restricted).
// For user-created internal apps, restricted scopes don't require verification.
package google
