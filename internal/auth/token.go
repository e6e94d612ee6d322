// Package auth guards the upload endpoint with an optional shared bearer
// token. When no token is configured the guard accepts every request, which
// keeps the default single-machine setup friction-free.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenHashIterations = 600_000
	tokenHashSaltLength = 16
	tokenHashKeyLength  = 32
)

// ErrInvalidToken is returned when a request carries a missing or wrong
// bearer token.
var ErrInvalidToken = errors.New("invalid upload token")

// TokenGuard authorizes upload requests against a shared secret. Only a
// pbkdf2 digest of the token is held in memory.
type TokenGuard struct {
	hash string
}

// NewTokenGuard derives a guard from the configured token. An empty token
// returns nil, which callers treat as authentication disabled.
func NewTokenGuard(token string) (*TokenGuard, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	hash, err := hashToken(token)
	if err != nil {
		return nil, fmt.Errorf("hash upload token: %w", err)
	}
	return &TokenGuard{hash: hash}, nil
}

// Enabled reports whether the guard enforces a token.
func (g *TokenGuard) Enabled() bool {
	return g != nil && g.hash != ""
}

// Authorize checks the Authorization header of an upload request.
func (g *TokenGuard) Authorize(r *http.Request) error {
	if !g.Enabled() {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ErrInvalidToken
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ErrInvalidToken
	}
	candidate := strings.TrimSpace(header[len(prefix):])
	if candidate == "" {
		return ErrInvalidToken
	}
	return verifyToken(g.hash, candidate)
}

func hashToken(token string) (string, error) {
	salt := make([]byte, tokenHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(token), salt, tokenHashIterations, tokenHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", tokenHashIterations, encodedSalt, encodedKey), nil
}

func verifyToken(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify token: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify token: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify token: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify token: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify token: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidToken
	}
	return nil
}
