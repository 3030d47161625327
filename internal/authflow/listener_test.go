package authflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Callback
	}{
		{
			name: "code and state",
			raw:  "codelock://auth/callback?code=abc&state=xyz",
			want: Callback{Code: "abc", State: "xyz"},
		},
		{
			name: "provider error",
			raw:  "codelock://auth/callback?error=access_denied&error_description=user+denied&state=xyz",
			want: Callback{State: "xyz", ErrorCode: "access_denied", ErrorDescription: "user denied"},
		},
		{
			name: "empty query",
			raw:  "codelock://auth/callback",
			want: Callback{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCallback(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCallbackIsError(t *testing.T) {
	assert.True(t, Callback{ErrorCode: "access_denied"}.IsError())
	assert.False(t, Callback{Code: "abc"}.IsError())
}

func TestDispatcherDeliversExactlyOnce(t *testing.T) {
	d := NewDispatcher()
	reg := d.Register("nonce-1")

	require.True(t, d.Deliver(Callback{Code: "abc", State: "nonce-1"}))

	got := <-reg.C()
	assert.Equal(t, "abc", got.Code)

	// A second delivery has nothing pending and is dropped.
	assert.False(t, d.Deliver(Callback{Code: "def", State: "nonce-1"}))
}

func TestDispatcherNothingPending(t *testing.T) {
	d := NewDispatcher()
	assert.False(t, d.Deliver(Callback{Code: "abc"}))
}

func TestRegistrationDisposeWins(t *testing.T) {
	d := NewDispatcher()
	reg := d.Register("nonce-1")

	reg.Dispose()

	assert.False(t, d.Deliver(Callback{Code: "abc", State: "nonce-1"}))
	select {
	case <-reg.C():
		t.Fatal("disposed registration must never fire")
	default:
	}
}

func TestRegistrationDisposeAfterFireIsNoOp(t *testing.T) {
	d := NewDispatcher()
	reg := d.Register("nonce-1")

	require.True(t, d.Deliver(Callback{Code: "abc", State: "nonce-1"}))
	reg.Dispose()
	reg.Dispose()

	got := <-reg.C()
	assert.Equal(t, "abc", got.Code, "delivery that fired before Dispose stays consumable")
}

func TestRegisterSupersedesPrevious(t *testing.T) {
	d := NewDispatcher()
	old := d.Register("nonce-old")
	fresh := d.Register("nonce-new")

	assert.Equal(t, "nonce-new", fresh.Nonce())

	// The superseded registration was disposed; delivery reaches the new one.
	require.True(t, d.Deliver(Callback{Code: "abc", State: "nonce-new"}))
	select {
	case <-old.C():
		t.Fatal("superseded registration must never fire")
	default:
	}
	got := <-fresh.C()
	assert.Equal(t, "abc", got.Code)
}
