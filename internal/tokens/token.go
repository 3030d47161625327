// Package tokens owns the in-memory credential cache and the
// refresh-on-demand access-token lifecycle. Persistence goes through a
// credstore.Store; the cached Token is always a private copy, never a shared
// reference.
package tokens

import (
	"encoding/json"
	"fmt"
	"time"
)

// Token is the credential record the agent persists and caches. It is
// serialized as a single JSON document in the credential store.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is an absolute epoch-millisecond timestamp.
	ExpiresAt int64  `json:"expires_at"`
	UserID    string `json:"user_id"`
}

// ExpiredAt reports whether the access token is expired at the given instant.
// A token expiring exactly now counts as expired.
func (t *Token) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt <= now.UnixMilli()
}

// clone returns an independent copy, or nil for a nil token.
func (t *Token) clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func encode(t *Token) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encoding credential: %w", err)
	}
	return string(data), nil
}

func decode(raw string) (*Token, error) {
	var t Token
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decoding credential: %w", err)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("stored credential has no access token")
	}
	return &t, nil
}

// Grant is a successful token-endpoint response, from either an
// authorization-code exchange or a refresh.
type Grant struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token validity in seconds.
	ExpiresIn int64
	UserID    string
}

// Token mints a Token from the grant at the given instant. When the grant
// omits a refresh token the previous one is carried forward, so a refresh
// response without a refresh_token field never erases the stored one.
func (g *Grant) Token(now time.Time, prevRefreshToken string) *Token {
	refreshToken := g.RefreshToken
	if refreshToken == "" {
		refreshToken = prevRefreshToken
	}
	return &Token{
		AccessToken:  g.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(time.Duration(g.ExpiresIn) * time.Second).UnixMilli(),
		UserID:       g.UserID,
	}
}
