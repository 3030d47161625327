package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// The backing service may be unavailable at runtime (headless hosts, locked
// keychains); callers are expected to fall back to another Store.
type KeyringStore struct {
	service string
	key     string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore addressing the credential under the
// given service and key identifiers.
func NewKeyringStore(service, key string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}

	return &KeyringStore{
		service: service,
		key:     key,
	}, nil
}

// Name identifies this backend in logs.
func (k *KeyringStore) Name() string { return "keyring" }

// Read returns the credential from the system keyring.
func (k *KeyringStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, err := keyring.Get(k.service, k.key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	if value == "" {
		return "", ErrNotFound
	}

	return value, nil
}

// Write persists the credential to the system keyring, overwriting any
// existing value.
func (k *KeyringStore) Write(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return keyring.Set(k.service, k.key, value)
}

// Delete removes the credential from the system keyring.
func (k *KeyringStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Delete(k.service, k.key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
