// ABOUTME: Session credential decoding for HTTP and WebSocket connections.
// ABOUTME: Extracts a session ID from a bearer token, unverified or HS256-verified.

package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// SessionDecoder extracts a session ID from a bearer credential.
// Implementations must never panic or surface decode internals: a credential
// that cannot be decoded yields ok=false.
type SessionDecoder interface {
	Decode(credential string) (sessionID string, ok bool)
}

// UnverifiedDecoder extracts the "sub" claim from a JWT without checking its
// signature. This is deliberately mock-grade: it asserts identity, not
// authenticity. Production deployments substitute HS256Decoder (or any other
// SessionDecoder) without touching the bridge.
type UnverifiedDecoder struct {
	logger *slog.Logger
}

// NewUnverifiedDecoder creates a decoder that trusts token contents as-is.
func NewUnverifiedDecoder(logger *slog.Logger) *UnverifiedDecoder {
	return &UnverifiedDecoder{logger: logger}
}

// Decode extracts the subject claim. Malformed tokens and missing claims are
// logged and reported as ok=false; no error ever reaches the caller.
func (d *UnverifiedDecoder) Decode(credential string) (string, bool) {
	if credential == "" {
		return "", false
	}

	token, _, err := jwt.NewParser().ParseUnverified(credential, jwt.MapClaims{})
	if err != nil {
		d.logger.Debug("credential decode failed", "error", err)
		return "", false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		d.logger.Debug("credential decode failed", "error", "unexpected claims type")
		return "", false
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		d.logger.Debug("credential decode failed", "error", "missing sub claim")
		return "", false
	}

	d.logger.Debug("credential decoded", "session_id", sub)
	return sub, true
}

// HS256Decoder verifies HS256-signed JWTs and extracts the session ID from
// the "sub" claim. It is the hardened counterpart to UnverifiedDecoder and
// doubles as the token mint for the CLI and tests.
type HS256Decoder struct {
	secret []byte
	logger *slog.Logger
}

// NewHS256Decoder creates a verifying decoder with the given secret.
func NewHS256Decoder(secret []byte, logger *slog.Logger) *HS256Decoder {
	return &HS256Decoder{secret: secret, logger: logger}
}

// Decode implements SessionDecoder. Verification failures are logged and
// collapse to ok=false, matching the decoder contract.
func (d *HS256Decoder) Decode(credential string) (string, bool) {
	sessionID, err := d.Verify(credential)
	if err != nil {
		d.logger.Debug("credential verification failed", "error", err)
		return "", false
	}
	d.logger.Debug("credential verified", "session_id", sessionID)
	return sessionID, true
}

// Verify validates the token signature and extracts the session ID from the
// "sub" claim.
func (d *HS256Decoder) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return d.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates a new HS256 token carrying the session ID with expiration.
func (d *HS256Decoder) Generate(sessionID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(d.secret)
}
