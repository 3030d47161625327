package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Safariblocks-LTD/codelock-agent/internal/credstore"
)

// ErrNoToken is returned when no credential is available. Callers should
// treat it as "logged out", not as a transient failure.
var ErrNoToken = errors.New("no token available")

// Refresher obtains a new grant from the token endpoint using a refresh token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// Lifecycle owns the in-memory token cache and decides validity.
// GetValidToken is the authoritative path: it loads from the credential store
// on first use, refreshes expired tokens, and demotes the session to
// logged-out when a refresh fails. IsAuthenticated is a cheap cache-only hint.
type Lifecycle struct {
	store     credstore.Store
	refresher Refresher
	now       func() time.Time

	mu     sync.Mutex
	cached *Token
	loaded bool

	refreshGroup singleflight.Group
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// NewLifecycle creates a Lifecycle backed by the given store and refresher.
// No I/O is performed until the first read.
func NewLifecycle(store credstore.Store, refresher Refresher, opts ...LifecycleOption) (*Lifecycle, error) {
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}
	if refresher == nil {
		return nil, fmt.Errorf("missing refresher")
	}

	l := &Lifecycle{
		store:     store,
		refresher: refresher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// GetValidToken returns a currently valid access token, refreshing first if
// the cached token is expired. Returns ErrNoToken when logged out, including
// after a failed refresh: refresh failure clears the cache and both storage
// backends instead of surfacing an error.
func (l *Lifecycle) GetValidToken(ctx context.Context) (string, error) {
	l.mu.Lock()
	l.loadLocked(ctx)
	token := l.cached.clone()
	l.mu.Unlock()

	if token == nil {
		return "", ErrNoToken
	}
	if !token.ExpiredAt(l.now()) {
		return token.AccessToken, nil
	}

	// Concurrent callers share one refresh. The refresh runs detached from
	// the caller's context so one caller's cancellation cannot abort a
	// refresh other callers are waiting on.
	value, err, _ := l.refreshGroup.Do("refresh", func() (any, error) {
		return l.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// refresh exchanges the current refresh token for a new grant and persists
// the result. Exactly one refresh runs at a time (callers go through the
// singleflight group).
func (l *Lifecycle) refresh(ctx context.Context) (string, error) {
	l.mu.Lock()
	token := l.cached.clone()
	l.mu.Unlock()

	if token == nil {
		return "", ErrNoToken
	}
	// A flight that finished while we queued may already have replaced the token.
	if !token.ExpiredAt(l.now()) {
		return token.AccessToken, nil
	}

	grant, err := l.refresher.Refresh(ctx, token.RefreshToken)
	if err != nil {
		// Refresh failure is an implicit logout, never an error to the caller.
		slog.WarnContext(ctx, "token refresh failed, clearing credentials", "error", err)
		if clearErr := l.Clear(ctx); clearErr != nil {
			slog.WarnContext(ctx, "credential clear reported errors", "error", clearErr)
		}
		return "", ErrNoToken
	}

	fresh := grant.Token(l.now(), token.RefreshToken)
	if err := l.SetToken(ctx, fresh); err != nil {
		// Keep serving the refreshed token from memory; persistence is
		// retried on the next refresh.
		slog.ErrorContext(ctx, "failed to persist refreshed credential", "error", err)
		l.mu.Lock()
		l.cached = fresh.clone()
		l.loaded = true
		l.mu.Unlock()
	}
	return fresh.AccessToken, nil
}

// SetToken validates, persists, and caches a token. The cache is updated only
// after the store accepted the write.
func (l *Lifecycle) SetToken(ctx context.Context, token *Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("invalid token")
	}
	if token.ExpiredAt(l.now()) {
		return fmt.Errorf("refusing to store an already expired token")
	}

	raw, err := encode(token)
	if err != nil {
		return err
	}
	if err := l.store.Write(ctx, raw); err != nil {
		return fmt.Errorf("persisting credential: %w", err)
	}

	l.mu.Lock()
	l.cached = token.clone()
	l.loaded = true
	l.mu.Unlock()
	return nil
}

// Current returns a copy of the stored token without validating expiry,
// loading from the credential store on first use. Returns nil when logged out.
func (l *Lifecycle) Current(ctx context.Context) *Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked(ctx)
	return l.cached.clone()
}

// IsAuthenticated reports whether a token is cached in memory. It performs no
// I/O and no expiry validation; GetValidToken is the authoritative check.
func (l *Lifecycle) IsAuthenticated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cached != nil
}

// Clear drops the in-memory cache and removes the credential from every
// storage backend.
func (l *Lifecycle) Clear(ctx context.Context) error {
	l.mu.Lock()
	l.cached = nil
	l.loaded = true
	l.mu.Unlock()
	return l.store.Delete(ctx)
}

// loadLocked populates the cache from the credential store on first use.
// Read failures and malformed records degrade to "logged out". Must be called
// with l.mu held.
func (l *Lifecycle) loadLocked(ctx context.Context) {
	if l.loaded {
		return
	}
	l.loaded = true

	raw, err := l.store.Read(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			slog.WarnContext(ctx, "credential read failed, treating as logged out", "error", err)
		}
		return
	}

	token, err := decode(raw)
	if err != nil {
		slog.WarnContext(ctx, "stored credential is malformed, treating as logged out", "error", err)
		return
	}
	l.cached = token
}
