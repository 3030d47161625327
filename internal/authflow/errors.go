package authflow

import (
	"errors"
	"fmt"
)

// ErrLoginInProgress is returned when a login attempt is started while
// another attempt is still pending. Only one attempt may be in flight.
var ErrLoginInProgress = errors.New("a login attempt is already in progress")

// Kind classifies how an authentication operation failed.
type Kind string

const (
	// KindProviderError means the authorization server reported an error code
	// on the redirect.
	KindProviderError Kind = "provider_error"

	// KindInvalidState means the redirect's state did not match the issued
	// nonce. Always fatal: this is the anti-CSRF check.
	KindInvalidState Kind = "invalid_state"

	// KindMissingCode means the redirect carried neither a code nor an error.
	KindMissingCode Kind = "missing_code"

	// KindTimeout means no redirect arrived within the login window. Reported
	// through Result rather than as a FlowError.
	KindTimeout Kind = "timeout"

	// KindCancelled means the user aborted the attempt. Reported through
	// Result rather than as a FlowError.
	KindCancelled Kind = "cancelled"

	// KindExchangeFailed means the authorization-code exchange was rejected.
	KindExchangeFailed Kind = "exchange_failed"

	// KindRefreshFailed means a token refresh was rejected. Never surfaced to
	// callers: the lifecycle demotes the session to logged-out instead.
	KindRefreshFailed Kind = "refresh_failed"

	// KindStorageError means every credential storage backend failed.
	KindStorageError Kind = "storage_error"
)

// FlowError is a fatal login failure. Cancellation and timeout are not
// FlowErrors; they resolve the attempt as "no credential obtained".
type FlowError struct {
	Kind Kind

	// Code is the provider-reported error code for KindProviderError.
	Code string

	Err error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	switch {
	case e.Kind == KindProviderError && e.Code != "":
		return fmt.Sprintf("login failed (%s): authorization server reported %q", e.Kind, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("login failed (%s): %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("login failed (%s)", e.Kind)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *FlowError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a FlowError of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *FlowError
	return errors.As(err, &fe) && fe.Kind == kind
}
