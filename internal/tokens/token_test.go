package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt int64
		want      bool
	}{
		{"well before expiry", now.Add(time.Hour).UnixMilli(), false},
		{"one millisecond left", now.Add(time.Millisecond).UnixMilli(), false},
		{"exactly now counts as expired", now.UnixMilli(), true},
		{"past expiry", now.Add(-time.Second).UnixMilli(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := &Token{AccessToken: "AT", ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, token.ExpiredAt(now))
		})
	}
}

func TestGrantToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("mints absolute expiry from expires_in", func(t *testing.T) {
		grant := &Grant{AccessToken: "AT1", RefreshToken: "RT1", ExpiresIn: 3600, UserID: "u1"}
		token := grant.Token(now, "")

		assert.Equal(t, "AT1", token.AccessToken)
		assert.Equal(t, "RT1", token.RefreshToken)
		assert.Equal(t, "u1", token.UserID)
		assert.Equal(t, now.Add(time.Hour).UnixMilli(), token.ExpiresAt)
	})

	t.Run("carries forward previous refresh token when omitted", func(t *testing.T) {
		grant := &Grant{AccessToken: "AT2", ExpiresIn: 3600, UserID: "u1"}
		token := grant.Token(now, "RT-old")

		assert.Equal(t, "RT-old", token.RefreshToken)
	})

	t.Run("new refresh token replaces previous", func(t *testing.T) {
		grant := &Grant{AccessToken: "AT2", RefreshToken: "RT-new", ExpiresIn: 3600}
		token := grant.Token(now, "RT-old")

		assert.Equal(t, "RT-new", token.RefreshToken)
	})
}

func TestDecodeRejectsMissingAccessToken(t *testing.T) {
	_, err := decode(`{"refresh_token":"RT1","expires_at":123}`)
	require.Error(t, err)

	_, err = decode(`not json`)
	require.Error(t, err)

	token, err := decode(`{"access_token":"AT1","refresh_token":"RT1","expires_at":123,"user_id":"u1"}`)
	require.NoError(t, err)
	assert.Equal(t, "AT1", token.AccessToken)
	assert.Equal(t, int64(123), token.ExpiresAt)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &Token{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: 1750000000000, UserID: "u1"}

	raw, err := encode(in)
	require.NoError(t, err)

	out, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
