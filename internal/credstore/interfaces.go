package credstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when a backend holds no credential.
var ErrNotFound = errors.New("credential not found")

// ErrReadOnly is returned by Write and Delete on read-only backends.
var ErrReadOnly = errors.New("credential store is read-only")

// Store reads and writes a single serialized credential record.
type Store interface {
	// Name identifies the backend in logs. Credential values are never logged.
	Name() string

	// Read returns the stored credential. Returns ErrNotFound if the backend
	// holds no credential.
	Read(ctx context.Context) (string, error)

	// Write persists the credential, overwriting any existing value. Returns
	// ErrReadOnly if the backend cannot be written to.
	Write(ctx context.Context, value string) error

	// Delete removes the credential. Deleting an absent credential is not an
	// error.
	Delete(ctx context.Context) error
}
