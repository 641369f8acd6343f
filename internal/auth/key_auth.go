package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// KeyAuthenticator checks the internal key against a configured bcrypt
// hash. Verified keys are cached by SHA-256 digest with
// stale-while-revalidate, so bcrypt stays off the hot path.
type KeyAuthenticator struct {
	hash   []byte
	cache  *keyCache
	logger *zap.Logger
}

// KeyAuthConfig configures the KeyAuthenticator.
type KeyAuthConfig struct {
	Hash     string        // bcrypt hash of the internal key
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewKeyAuthenticator validates the hash and returns an authenticator.
func NewKeyAuthenticator(cfg KeyAuthConfig) (*KeyAuthenticator, error) {
	if _, err := bcrypt.Cost([]byte(cfg.Hash)); err != nil {
		return nil, fmt.Errorf("NewKeyAuthenticator: invalid bcrypt hash: %w", err)
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyAuthenticator{
		hash:   []byte(cfg.Hash),
		cache:  newKeyCache(ttl),
		logger: logger,
	}, nil
}

// Authenticate validates the x-internal-key metadata entry.
func (a *KeyAuthenticator) Authenticate(ctx context.Context) (*Caller, error) {
	key, err := KeyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return a.Verify(key)
}

// Verify validates a key.
//
// Flow:
//  1. Cache lookup by digest (stale-while-revalidate):
//     - Fresh hit: return immediately
//     - Stale hit: return cached caller, re-verify in the background
//     - Miss: bcrypt compare synchronously
//  2. Only successful verifications are cached.
func (a *KeyAuthenticator) Verify(key string) (*Caller, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	digest := digestOf(key)

	switch caller, state := a.cache.lookup(digest); state {
	case stateStale:
		go a.backgroundRefresh(key, digest)
		return caller, nil
	case stateFresh:
		return caller, nil
	}

	caller, err := a.verify(key)
	if err != nil {
		a.logger.Warn("internal key rejected", zap.String("key_prefix", prefixOf(key)))
		return nil, err
	}
	a.cache.remember(digest, caller)
	return caller, nil
}

// backgroundRefresh re-runs bcrypt for a stale entry. On failure the entry
// is dropped so the next request verifies synchronously.
func (a *KeyAuthenticator) backgroundRefresh(key, digest string) {
	caller, err := a.verify(key)
	if err != nil {
		a.logger.Warn("background key refresh failed", zap.Error(err))
		a.cache.forget(digest)
		return
	}
	a.cache.remember(digest, caller)
}

func (a *KeyAuthenticator) verify(key string) (*Caller, error) {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
		return nil, ErrInvalidKey
	}
	return &Caller{KeyPrefix: prefixOf(key)}, nil
}

func hashKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func digestOf(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
