// Package auth authenticates admin API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

var (
	// ErrKeyNotFound is returned by a Repository when no active key matches.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrUnauthorized is returned by Authenticate for any rejected key.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored.
func HashKey(pepper []byte, key string) string {
	return hex.EncodeToString(sum(pepper, key))
}

func sum(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Authenticator checks raw API keys against the repository.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator that hashes keys with pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate returns the key's info, or ErrUnauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := sum(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	// The lookup is by hash; compare again so a wrong row can't authenticate.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}
