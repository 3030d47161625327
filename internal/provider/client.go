// Package provider implements the HTTP client for the CodeLock authorization
// server: authorization-URL construction, authorization-code exchange, token
// refresh, and best-effort revocation.
//
// The token and revoke endpoints take JSON-encoded requests rather than the
// form encoding of standard OAuth2, so exchange and refresh are issued
// directly instead of going through oauth2.Config.Exchange.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/Safariblocks-LTD/codelock-agent/internal/tokens"
)

// DefaultHTTPTimeout bounds every call to the authorization server.
const DefaultHTTPTimeout = 30 * time.Second

// Config describes the authorization server this client talks to.
type Config struct {
	// AuthURL is the browser-facing authorization endpoint.
	AuthURL string

	// TokenURL serves both authorization-code exchange and refresh.
	TokenURL string

	// RevokeURL invalidates an access token server-side.
	RevokeURL string

	// ClientID is the public OAuth2 client identifier (no client secret).
	ClientID string

	// RedirectURI is the private-scheme redirect the OS routes back to the agent.
	RedirectURI string

	// Scopes is the fixed scope set requested on every login.
	Scopes []string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client, e.g. for tests or proxies.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client talks to the authorization server. It holds no credential state;
// callers own token caching and persistence.
type Client struct {
	cfg         Config
	oauthConfig *oauth2.Config
	httpClient  *http.Client
}

// Compile-time check to ensure Client can drive token refreshes
var _ tokens.Refresher = (*Client)(nil)

// New creates a Client for the given authorization server.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.RevokeURL == "" {
		return nil, fmt.Errorf("auth, token, and revoke URLs are required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("redirect URI is required")
	}

	c := &Client{
		cfg: cfg,
		oauthConfig: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AuthCodeURL builds the authorization URL binding the attempt to state:
// client_id, response_type=code, the fixed scope set, state, and the
// private-scheme redirect URI.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauthConfig.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*tokens.Grant, error) {
	return c.postToken(ctx, "token exchange", map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"client_id":    c.cfg.ClientID,
		"redirect_uri": c.cfg.RedirectURI,
	})
}

// Refresh trades a refresh token for a new grant. The response may omit
// refresh_token; the caller retains the old one in that case.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*tokens.Grant, error) {
	return c.postToken(ctx, "token refresh", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.cfg.ClientID,
	})
}

// Revoke invalidates the access token server-side. Fire-and-forget: the
// response body is ignored, only a non-2xx status is reported.
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	body, err := json.Marshal(map[string]string{"token": accessToken})
	if err != nil {
		return fmt.Errorf("encoding revoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RevokeURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: "token revoke", StatusCode: resp.StatusCode}
	}
	return nil
}

// tokenResponse is the token endpoint's wire format.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
}

func (c *Client) postToken(ctx context.Context, op string, params map[string]string) (*tokens.Grant, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", op, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%s response has no access token", op)
	}

	return &tokens.Grant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
		UserID:       tr.UserID,
	}, nil
}

// StatusError reports a non-2xx response from the authorization server.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}
