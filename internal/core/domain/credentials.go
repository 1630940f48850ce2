package domain

import "time"

// OAuthCredentials stores OAuth tokens for one account.
// The JSON form is what the token store persists.
type OAuthCredentials struct {
	// AccessToken is the bearer token for API access.
	AccessToken string `json:"access_token"`
	// RefreshToken is used to obtain new access tokens.
	RefreshToken string `json:"refresh_token,omitempty"`
	// TokenType is typically "Bearer".
	TokenType string `json:"token_type"`
	// Expiry is when the access token expires.
	Expiry time.Time `json:"expiry,omitempty"`
}

// IsExpired returns true if the OAuth access token has expired.
func (c *OAuthCredentials) IsExpired() bool {
	if c.Expiry.IsZero() {
		return false
	}
	return time.Now().After(c.Expiry)
}

// CanRefresh returns true if a refresh token is available.
func (c *OAuthCredentials) CanRefresh() bool {
	return c.RefreshToken != ""
}
