package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Safariblocks-LTD/codelock-agent/internal/credstore"
)

// memStore is an in-memory credstore.Store with injectable failures.
type memStore struct {
	mu       sync.Mutex
	value    string
	writeErr error
	deletes  int
}

func (m *memStore) Name() string { return "mem" }

func (m *memStore) Read(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.value == "" {
		return "", credstore.ErrNotFound
	}
	return m.value, nil
}

func (m *memStore) Write(_ context.Context, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.value = value
	return nil
}

func (m *memStore) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	m.value = ""
	return nil
}

func (m *memStore) stored(t *testing.T) *Token {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.value == "" {
		return nil
	}
	var token Token
	require.NoError(t, json.Unmarshal([]byte(m.value), &token))
	return &token
}

// refresherFunc adapts a function to the Refresher interface.
type refresherFunc func(ctx context.Context, refreshToken string) (*Grant, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	return f(ctx, refreshToken)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedToken(t *testing.T, store *memStore, token *Token) {
	t.Helper()
	data, err := json.Marshal(token)
	require.NoError(t, err)
	store.value = string(data)
}

func noRefresh(t *testing.T) Refresher {
	return refresherFunc(func(context.Context, string) (*Grant, error) {
		t.Error("unexpected refresh call")
		return nil, errors.New("unexpected")
	})
}

func TestGetValidTokenNoCredential(t *testing.T) {
	lc, err := NewLifecycle(&memStore{}, noRefresh(t))
	require.NoError(t, err)

	_, err = lc.GetValidToken(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
	assert.False(t, lc.IsAuthenticated())
}

func TestGetValidTokenFreshTokenSkipsRefresh(t *testing.T) {
	store := &memStore{}
	seedToken(t, store, &Token{
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		ExpiresAt:    testNow.Add(time.Hour).UnixMilli(),
		UserID:       "u1",
	})

	lc, err := NewLifecycle(store, noRefresh(t), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	got, err := lc.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AT1", got)
	assert.True(t, lc.IsAuthenticated())
}

func TestGetValidTokenRefreshesExpired(t *testing.T) {
	store := &memStore{}
	seedToken(t, store, &Token{
		AccessToken:  "AT-old",
		RefreshToken: "RT-old",
		ExpiresAt:    testNow.Add(-time.Minute).UnixMilli(),
		UserID:       "u1",
	})

	var gotRefreshToken string
	refresher := refresherFunc(func(_ context.Context, refreshToken string) (*Grant, error) {
		gotRefreshToken = refreshToken
		return &Grant{AccessToken: "AT-new", RefreshToken: "RT-new", ExpiresIn: 3600, UserID: "u1"}, nil
	})

	lc, err := NewLifecycle(store, refresher, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	got, err := lc.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AT-new", got)
	assert.Equal(t, "RT-old", gotRefreshToken)

	// The refreshed credential must be persisted, not just cached.
	stored := store.stored(t)
	require.NotNil(t, stored)
	assert.Equal(t, "AT-new", stored.AccessToken)
	assert.Equal(t, "RT-new", stored.RefreshToken)
	assert.Equal(t, testNow.Add(time.Hour).UnixMilli(), stored.ExpiresAt)
}

func TestGetValidTokenRetainsRefreshTokenWhenOmitted(t *testing.T) {
	store := &memStore{}
	seedToken(t, store, &Token{
		AccessToken:  "AT-old",
		RefreshToken: "RT-old",
		ExpiresAt:    testNow.Add(-time.Minute).UnixMilli(),
	})

	refresher := refresherFunc(func(context.Context, string) (*Grant, error) {
		return &Grant{AccessToken: "AT-new", ExpiresIn: 3600}, nil
	})

	lc, err := NewLifecycle(store, refresher, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	_, err = lc.GetValidToken(context.Background())
	require.NoError(t, err)

	stored := store.stored(t)
	require.NotNil(t, stored)
	assert.Equal(t, "RT-old", stored.RefreshToken)
}

func TestGetValidTokenRefreshFailureIsImplicitLogout(t *testing.T) {
	store := &memStore{}
	seedToken(t, store, &Token{
		AccessToken:  "AT-old",
		RefreshToken: "RT-old",
		ExpiresAt:    testNow.Add(-time.Minute).UnixMilli(),
	})

	refresher := refresherFunc(func(context.Context, string) (*Grant, error) {
		return nil, errors.New("invalid_grant")
	})

	lc, err := NewLifecycle(store, refresher, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	_, err = lc.GetValidToken(context.Background())
	require.ErrorIs(t, err, ErrNoToken, "refresh failure surfaces as logged out, not as the provider error")

	assert.False(t, lc.IsAuthenticated())
	assert.Nil(t, store.stored(t), "stored credential must be cleared")
	assert.Equal(t, 1, store.deletes)
}

func TestGetValidTokenSingleFlight(t *testing.T) {
	store := &memStore{}
	seedToken(t, store, &Token{
		AccessToken:  "AT-old",
		RefreshToken: "RT-old",
		ExpiresAt:    testNow.Add(-time.Minute).UnixMilli(),
	})

	var calls atomic.Int32
	refresher := refresherFunc(func(context.Context, string) (*Grant, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return &Grant{AccessToken: "AT-new", RefreshToken: "RT-new", ExpiresIn: 3600}, nil
	})

	lc, err := NewLifecycle(store, refresher, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	const callers = 10
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := lc.GetValidToken(context.Background())
			require.NoError(t, err)
			results[i] = got
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent callers must share one refresh")
	for _, got := range results {
		assert.Equal(t, "AT-new", got)
	}
}

func TestGetValidTokenSurvivesCallerCancellation(t *testing.T) {
	store := &memStore{}
	seedToken(t, store, &Token{
		AccessToken:  "AT-old",
		RefreshToken: "RT-old",
		ExpiresAt:    testNow.Add(-time.Minute).UnixMilli(),
	})

	refresher := refresherFunc(func(ctx context.Context, _ string) (*Grant, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Grant{AccessToken: "AT-new", ExpiresIn: 3600}, nil
	})

	lc, err := NewLifecycle(store, refresher, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := lc.GetValidToken(ctx)
	require.NoError(t, err, "refresh runs detached from the caller's context")
	assert.Equal(t, "AT-new", got)
}

func TestGetValidTokenKeepsTokenInMemoryWhenPersistFails(t *testing.T) {
	store := &memStore{writeErr: errors.New("disk full")}
	seedToken(t, store, &Token{
		AccessToken:  "AT-old",
		RefreshToken: "RT-old",
		ExpiresAt:    testNow.Add(-time.Minute).UnixMilli(),
	})

	refresher := refresherFunc(func(context.Context, string) (*Grant, error) {
		return &Grant{AccessToken: "AT-new", ExpiresIn: 3600}, nil
	})

	lc, err := NewLifecycle(store, refresher, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	got, err := lc.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AT-new", got)

	// Second call serves the cached token without another refresh.
	got, err = lc.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AT-new", got)
}

func TestSetToken(t *testing.T) {
	store := &memStore{}
	lc, err := NewLifecycle(store, noRefresh(t), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	t.Run("rejects nil and empty tokens", func(t *testing.T) {
		require.Error(t, lc.SetToken(context.Background(), nil))
		require.Error(t, lc.SetToken(context.Background(), &Token{}))
	})

	t.Run("rejects already expired token", func(t *testing.T) {
		err := lc.SetToken(context.Background(), &Token{
			AccessToken: "AT1",
			ExpiresAt:   testNow.UnixMilli(),
		})
		require.Error(t, err)
	})

	t.Run("caches only after the store accepted the write", func(t *testing.T) {
		failing := &memStore{writeErr: errors.New("keyring locked")}
		flc, err := NewLifecycle(failing, noRefresh(t), WithClock(func() time.Time { return testNow }))
		require.NoError(t, err)

		err = flc.SetToken(context.Background(), &Token{
			AccessToken: "AT1",
			ExpiresAt:   testNow.Add(time.Hour).UnixMilli(),
		})
		require.Error(t, err)
		assert.False(t, flc.IsAuthenticated())
	})

	t.Run("persists and caches", func(t *testing.T) {
		token := &Token{
			AccessToken:  "AT1",
			RefreshToken: "RT1",
			ExpiresAt:    testNow.Add(time.Hour).UnixMilli(),
			UserID:       "u1",
		}
		require.NoError(t, lc.SetToken(context.Background(), token))
		assert.True(t, lc.IsAuthenticated())
		assert.Equal(t, token, store.stored(t))
	})
}

func TestCurrentDoesNotValidateExpiry(t *testing.T) {
	store := &memStore{}
	seedToken(t, store, &Token{
		AccessToken: "AT-old",
		ExpiresAt:   testNow.Add(-time.Hour).UnixMilli(),
		UserID:      "u1",
	})

	lc, err := NewLifecycle(store, noRefresh(t), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	token := lc.Current(context.Background())
	require.NotNil(t, token)
	assert.Equal(t, "AT-old", token.AccessToken)

	// The returned token is a copy; mutating it must not poison the cache.
	token.AccessToken = "mutated"
	assert.Equal(t, "AT-old", lc.Current(context.Background()).AccessToken)
}

func TestClear(t *testing.T) {
	store := &memStore{}
	seedToken(t, store, &Token{
		AccessToken: "AT1",
		ExpiresAt:   testNow.Add(time.Hour).UnixMilli(),
	})

	lc, err := NewLifecycle(store, noRefresh(t), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	_, err = lc.GetValidToken(context.Background())
	require.NoError(t, err)
	require.True(t, lc.IsAuthenticated())

	require.NoError(t, lc.Clear(context.Background()))
	assert.False(t, lc.IsAuthenticated())
	assert.Nil(t, store.stored(t))

	// Cleared means logged out even though the store read already happened.
	_, err = lc.GetValidToken(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
}

func TestMalformedStoredCredentialDegradesToLoggedOut(t *testing.T) {
	store := &memStore{value: "not json"}
	lc, err := NewLifecycle(store, noRefresh(t))
	require.NoError(t, err)

	_, err = lc.GetValidToken(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
}
