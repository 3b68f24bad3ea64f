package tokens

import (
	"time"

	"golang.org/x/oauth2"

	"tether/internal/api"
)

// OAuth2Token converts a stored token record into the oauth2.Token shape
// expected by OAuth-aware HTTP clients. A nil record converts to nil; an
// unreadable expiry yields a token without one, which oauth2 treats as
// never expiring.
func OAuth2Token(t *api.Token) *oauth2.Token {
	if t == nil {
		return nil
	}

	out := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if expiry, ok := t.Expiry(); ok {
		out.Expiry = expiry
	}
	return out
}

// FromOAuth2Token converts an oauth2.Token obtained by an authorization flow
// into the stored record shape for one (user, server) pair. The expiry is
// persisted as RFC 3339 so other consumers of the document see the ISO form.
func FromOAuth2Token(userID, serverName string, t *oauth2.Token) *api.Token {
	if t == nil {
		return nil
	}

	record := &api.Token{
		UserID:       userID,
		ServerName:   serverName,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if !t.Expiry.IsZero() {
		record.ExpiresAt = t.Expiry.UTC().Format(time.RFC3339)
	}
	return record
}
