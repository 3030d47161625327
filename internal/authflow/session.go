package authflow

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the resolution state of a login attempt. Transitions are
// monotonic: once a session leaves StatusPending it never changes again.
type Status int

const (
	// StatusPending means the attempt is waiting for a redirect, cancellation,
	// or timeout.
	StatusPending Status = iota

	// StatusCompleted means a credential was obtained and stored.
	StatusCompleted

	// StatusCancelled means the user aborted the attempt. Not a failure.
	StatusCancelled

	// StatusTimedOut means no redirect arrived within the login window.
	StatusTimedOut

	// StatusFailed means the attempt failed fatally; the error carries the Kind.
	StatusFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusTimedOut:
		return "timed_out"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is a single login attempt. Sessions are never reused: each call to
// Begin creates one and it is discarded once resolved. Only the resolving
// goroutine touches status, so no locking is needed.
type Session struct {
	// ID identifies the attempt in logs.
	ID string

	// Nonce is the per-attempt state value binding the redirect to this
	// session. Cryptographically random, unique per attempt.
	Nonce string

	// StartedAt is when the attempt was created.
	StartedAt time.Time

	status Status
}

func newSession() (*Session, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        uuid.NewString(),
		Nonce:     nonce,
		StartedAt: time.Now(),
		status:    StatusPending,
	}, nil
}

// resolve transitions the session to a terminal status. The first resolution
// wins; later calls are no-ops.
func (s *Session) resolve(status Status) bool {
	if s.status != StatusPending {
		return false
	}
	s.status = status
	return true
}

// Status returns the current resolution state.
func (s *Session) Status() Status {
	return s.status
}

// generateNonce returns a fresh random state value (32 bytes, base64url).
func generateNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
