// Package auth authenticates admin API keys. Keys are never stored in plain
// text: only their HMAC-SHA256 under a server-side pepper is persisted.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to the admin checkout routes.
const ScopeAdmin = "checkout:admin"

var (
	// ErrUnauthorized is returned for unknown, revoked or malformed keys.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrKeyNotFound is returned by a Repository when no active key has the hash.
	ErrKeyNotFound = errors.New("api key not found")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	// FindByHash returns ErrKeyNotFound for unknown or revoked keys.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator resolves raw API keys.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate returns the key's info or ErrUnauthorized. The stored hash is
// compared in constant time against the computed one. Lookup failures other
// than ErrKeyNotFound are returned wrapped and do not match ErrUnauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := HashKey(a.pepper, key)
	info, err := a.keys.FindByHash(ctx, hash)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return nil, ErrUnauthorized
	case err != nil:
		return nil, errors.Wrap(err, "find api key")
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}
