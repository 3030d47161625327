// Package authflow orchestrates browser-based login attempts: it issues the
// per-attempt nonce, opens the authorization URL externally, races the
// redirect delivery against user cancellation and a timeout, and drives the
// code exchange and credential storage on success.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Safariblocks-LTD/codelock-agent/internal/provider"
	"github.com/Safariblocks-LTD/codelock-agent/internal/tokens"
)

// DefaultLoginTimeout is how long an attempt waits for the redirect.
const DefaultLoginTimeout = 5 * time.Minute

// Result is the outcome of a resolved login attempt. Status is never
// StatusPending or StatusFailed here: fatal failures are returned as errors.
type Result struct {
	Status Status

	// UserID is set when Status is StatusCompleted.
	UserID string
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Provider   *provider.Client
	Lifecycle  *tokens.Lifecycle
	Dispatcher *Dispatcher

	// OpenURL triggers external browser navigation. Defaults to OpenBrowser.
	OpenURL func(url string) error

	// LoginTimeout bounds the wait for the redirect. Defaults to
	// DefaultLoginTimeout.
	LoginTimeout time.Duration
}

// Coordinator runs login attempts and logout. At most one attempt is pending
// at a time; a second Begin while one is pending returns ErrLoginInProgress.
type Coordinator struct {
	provider   *provider.Client
	lifecycle  *tokens.Lifecycle
	dispatcher *Dispatcher
	openURL    func(string) error
	timeout    time.Duration
	now        func() time.Time

	mu      sync.Mutex
	pending *pendingLogin
}

// pendingLogin is the coordinator's handle on the one in-flight attempt.
type pendingLogin struct {
	session    *Session
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

func (p *pendingLogin) cancel() {
	p.cancelOnce.Do(func() { close(p.cancelCh) })
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("missing provider client")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("missing token lifecycle")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("missing redirect dispatcher")
	}

	c := &Coordinator{
		provider:   cfg.Provider,
		lifecycle:  cfg.Lifecycle,
		dispatcher: cfg.Dispatcher,
		openURL:    cfg.OpenURL,
		timeout:    cfg.LoginTimeout,
		now:        time.Now,
	}
	if c.openURL == nil {
		c.openURL = OpenBrowser
	}
	if c.timeout <= 0 {
		c.timeout = DefaultLoginTimeout
	}
	return c, nil
}

// Begin starts a login attempt: issues a fresh nonce, registers the redirect
// listener, and opens the authorization URL in the external browser. It
// returns the authorization URL and a wait function that blocks until the
// attempt resolves. A browser failure is fatal and surfaced immediately.
func (c *Coordinator) Begin(ctx context.Context) (string, func() (*Result, error), error) {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return "", nil, ErrLoginInProgress
	}
	session, err := newSession()
	if err != nil {
		c.mu.Unlock()
		return "", nil, err
	}
	p := &pendingLogin{session: session, cancelCh: make(chan struct{})}
	c.pending = p
	c.mu.Unlock()

	// Register before opening the browser so an immediate redirect cannot
	// arrive with nothing listening.
	reg := c.dispatcher.Register(session.Nonce)
	authURL := c.provider.AuthCodeURL(session.Nonce)

	if err := c.openURL(authURL); err != nil {
		session.resolve(StatusFailed)
		c.finish(p, reg)
		return "", nil, fmt.Errorf("opening browser: %w", err)
	}

	slog.InfoContext(ctx, "login attempt started", "session_id", session.ID)

	wait := func() (*Result, error) {
		return c.await(ctx, p, reg)
	}
	return authURL, wait, nil
}

// Login runs a complete attempt: Begin plus waiting for resolution.
func (c *Coordinator) Login(ctx context.Context) (*Result, error) {
	_, wait, err := c.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return wait()
}

// Cancel delivers the user-cancellation signal to the pending attempt.
// Returns false when no attempt is pending. Cancelling an attempt that has
// already resolved is a no-op.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()

	if p == nil {
		return false
	}
	p.cancel()
	return true
}

// Logout revokes the current access token (best effort, failures are logged
// and swallowed) and unconditionally clears the credential from memory and
// every storage backend.
func (c *Coordinator) Logout(ctx context.Context) error {
	if token := c.lifecycle.Current(ctx); token != nil {
		if err := c.provider.Revoke(ctx, token.AccessToken); err != nil {
			slog.WarnContext(ctx, "token revoke failed", "error", err)
		}
	}

	if err := c.lifecycle.Clear(ctx); err != nil {
		// Backend deletion failures are swallowed; the in-memory credential
		// is gone either way.
		slog.WarnContext(ctx, "credential clear reported errors", "error", err)
	}

	slog.InfoContext(ctx, "logged out")
	return nil
}

// await races the redirect delivery against user cancellation, context
// cancellation, and the login timeout. Whichever signal arrives first
// resolves the session; the deferred finish disposes the listener so the
// losing signals can never fire a second resolution.
func (c *Coordinator) await(ctx context.Context, p *pendingLogin, reg *Registration) (*Result, error) {
	defer c.finish(p, reg)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	session := p.session

	select {
	case cb := <-reg.C():
		return c.resolveCallback(ctx, session, cb)

	case <-p.cancelCh:
		session.resolve(StatusCancelled)
		slog.InfoContext(ctx, "login cancelled", "session_id", session.ID)
		return &Result{Status: StatusCancelled}, nil

	case <-ctx.Done():
		session.resolve(StatusCancelled)
		slog.InfoContext(ctx, "login aborted by caller", "session_id", session.ID)
		return &Result{Status: StatusCancelled}, nil

	case <-timer.C:
		session.resolve(StatusTimedOut)
		slog.WarnContext(ctx, "login timed out waiting for redirect",
			"session_id", session.ID,
			"timeout", c.timeout,
		)
		return &Result{Status: StatusTimedOut}, nil
	}
}

// resolveCallback validates the delivered redirect and completes the attempt.
func (c *Coordinator) resolveCallback(ctx context.Context, session *Session, cb Callback) (*Result, error) {
	// State must match the issued nonce exactly, even when a code is present.
	if cb.State != session.Nonce {
		session.resolve(StatusFailed)
		slog.WarnContext(ctx, "redirect state does not match issued nonce",
			"session_id", session.ID,
		)
		return nil, &FlowError{Kind: KindInvalidState, Err: errors.New("state parameter does not match the issued nonce")}
	}

	if cb.IsError() {
		session.resolve(StatusFailed)
		var err error
		if cb.ErrorDescription != "" {
			err = errors.New(cb.ErrorDescription)
		}
		return nil, &FlowError{Kind: KindProviderError, Code: cb.ErrorCode, Err: err}
	}

	if cb.Code == "" {
		session.resolve(StatusFailed)
		return nil, &FlowError{Kind: KindMissingCode, Err: errors.New("redirect carried neither a code nor an error")}
	}

	grant, err := c.provider.Exchange(ctx, cb.Code)
	if err != nil {
		session.resolve(StatusFailed)
		return nil, &FlowError{Kind: KindExchangeFailed, Err: err}
	}

	if err := c.lifecycle.SetToken(ctx, grant.Token(c.now(), "")); err != nil {
		session.resolve(StatusFailed)
		return nil, &FlowError{Kind: KindStorageError, Err: err}
	}

	session.resolve(StatusCompleted)
	slog.InfoContext(ctx, "login completed",
		"session_id", session.ID,
		"user_id", grant.UserID,
	)
	return &Result{Status: StatusCompleted, UserID: grant.UserID}, nil
}

// finish disposes the redirect listener and releases the pending slot.
func (c *Coordinator) finish(p *pendingLogin, reg *Registration) {
	reg.Dispose()
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}
