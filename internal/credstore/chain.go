package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chain combines multiple stores in priority order. The first store is the
// primary; later stores are fallbacks tried in sequence.
//
// Reads return the first value found. Writes stop at the first store that
// accepts the value, so the credential lives in exactly one backend. Deletes
// are attempted on every backend independently so a failing primary cannot
// leave a credential reachable in a fallback. A credential written to a
// fallback is not migrated back to the primary when the primary recovers.
type Chain struct {
	stores []Store
}

// Compile-time check to ensure Chain implements Store
var _ Store = (*Chain)(nil)

// NewChain creates a Chain over the given stores in priority order.
func NewChain(stores ...Store) (*Chain, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("at least one store is required")
	}

	return &Chain{stores: stores}, nil
}

// Name identifies this backend in logs.
func (c *Chain) Name() string { return "chain" }

// Read returns the credential from the first store that has one. Backend
// failures degrade to "not found": a broken keyring must not make a caller
// error out when the fallback has the credential.
func (c *Chain) Read(ctx context.Context) (string, error) {
	for _, store := range c.stores {
		value, err := store.Read(ctx)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			slog.DebugContext(ctx, "credential read failed, trying next store",
				"store", store.Name(),
				"error", err,
			)
		}
	}
	return "", ErrNotFound
}

// Write persists the credential to the first store that accepts it and stops
// there. Returns an error only when every store fails.
func (c *Chain) Write(ctx context.Context, value string) error {
	var errs []error
	for i, store := range c.stores {
		err := store.Write(ctx, value)
		if err == nil {
			if i > 0 {
				slog.WarnContext(ctx, "credential written to fallback store",
					"store", store.Name(),
				)
			}
			return nil
		}
		if !errors.Is(err, ErrReadOnly) {
			slog.DebugContext(ctx, "credential write failed, trying next store",
				"store", store.Name(),
				"error", err,
			)
		}
		errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
	}
	return fmt.Errorf("all credential stores failed: %w", errors.Join(errs...))
}

// Delete removes the credential from every backend. A failure on one backend
// does not prevent the attempt on the others; read-only backends are skipped.
func (c *Chain) Delete(ctx context.Context) error {
	var errs []error
	for _, store := range c.stores {
		if err := store.Delete(ctx); err != nil && !errors.Is(err, ErrReadOnly) {
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		}
	}
	return errors.Join(errs...)
}
