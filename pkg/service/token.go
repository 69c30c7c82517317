package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// tokenLength is the raw bearer token length in bytes before encoding.
const tokenLength = 32

// TokenMinter derives app bearer tokens from a server secret via
// HKDF-SHA256. Derivation is deterministic per (secret, app ID), so a
// returning app's token can be verified without token storage.
type TokenMinter struct {
	secret []byte
}

// NewTokenMinter creates a minter over the given server secret.
func NewTokenMinter(secret []byte) *TokenMinter {
	return &TokenMinter{secret: secret}
}

// Mint derives the bearer token for an app ID.
func (m *TokenMinter) Mint(appID string) (string, error) {
	r := hkdf.New(sha256.New, m.secret, nil, []byte("app-token:"+appID))
	raw := make([]byte, tokenLength)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", fmt.Errorf("token derivation: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Verify reports whether the presented token matches the app's derived
// token. Comparison is constant-time.
func (m *TokenMinter) Verify(appID, presented string) bool {
	if presented == "" {
		return false
	}
	expected, err := m.Mint(appID)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
