// ABOUTME: Tests for session credential decoders.
// ABOUTME: Covers unverified sub extraction, HS256 verification, and failure paths.

package auth

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signedToken mints an HS256 token with the given claims and secret.
func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestUnverifiedDecoder(t *testing.T) {
	d := NewUnverifiedDecoder(testLogger())

	t.Run("extracts sub without checking signature", func(t *testing.T) {
		// Signed with a secret the decoder never sees.
		token := signedToken(t, "some-other-secret", jwt.MapClaims{"sub": "session-abc"})

		sessionID, ok := d.Decode(token)
		assert.True(t, ok)
		assert.Equal(t, "session-abc", sessionID)
	})

	t.Run("empty credential", func(t *testing.T) {
		_, ok := d.Decode("")
		assert.False(t, ok)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, ok := d.Decode("not.a.jwt")
		assert.False(t, ok)
	})

	t.Run("missing sub claim", func(t *testing.T) {
		token := signedToken(t, "secret", jwt.MapClaims{"aud": "nobody"})
		_, ok := d.Decode(token)
		assert.False(t, ok)
	})

	t.Run("empty sub claim", func(t *testing.T) {
		token := signedToken(t, "secret", jwt.MapClaims{"sub": ""})
		_, ok := d.Decode(token)
		assert.False(t, ok)
	})
}

func TestHS256Decoder(t *testing.T) {
	secret := []byte("test-secret-for-hs256-decoder")
	d := NewHS256Decoder(secret, testLogger())

	t.Run("round-trips generated tokens", func(t *testing.T) {
		token, err := d.Generate("session-xyz", time.Hour)
		require.NoError(t, err)

		sessionID, ok := d.Decode(token)
		assert.True(t, ok)
		assert.Equal(t, "session-xyz", sessionID)
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		token := signedToken(t, "wrong-secret", jwt.MapClaims{"sub": "session-xyz"})
		_, ok := d.Decode(token)
		assert.False(t, ok)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		token, err := d.Generate("session-xyz", -time.Minute)
		require.NoError(t, err)

		_, err = d.Verify(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("rejects missing sub", func(t *testing.T) {
		token := signedToken(t, string(secret), jwt.MapClaims{"iat": time.Now().Unix()})
		_, err := d.Verify(token)
		assert.ErrorIs(t, err, ErrMissingClaim)
	})
}
