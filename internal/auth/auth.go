package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/metadata"
)

// HeaderInternalKey carries the shared internal key on both transports.
const HeaderInternalKey = "x-internal-key"

// KeyPrefix starts every generated internal key.
const KeyPrefix = "tik_"

var (
	ErrMissingKey = errors.New("missing x-internal-key")
	ErrInvalidKey = errors.New("invalid internal key")
)

// Caller identifies an authenticated request.
type Caller struct {
	// KeyPrefix is the first 8 characters of the presented key, safe to log.
	KeyPrefix string
}

// Authenticator validates incoming requests.
type Authenticator interface {
	// Authenticate reads the key from incoming gRPC metadata.
	Authenticate(ctx context.Context) (*Caller, error)
	// Verify checks a key taken from any other transport.
	Verify(key string) (*Caller, error)
}

// OpenAuthenticator accepts every request. It is used when no key hash is
// configured, e.g. a consumer on the same host.
type OpenAuthenticator struct{}

func NewOpenAuthenticator() *OpenAuthenticator {
	return &OpenAuthenticator{}
}

func (a *OpenAuthenticator) Authenticate(context.Context) (*Caller, error) {
	return &Caller{}, nil
}

func (a *OpenAuthenticator) Verify(string) (*Caller, error) {
	return &Caller{}, nil
}

// KeyFromContext extracts the internal key from incoming gRPC metadata.
func KeyFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingKey
	}
	values := md.Get(HeaderInternalKey)
	if len(values) == 0 {
		return "", ErrMissingKey
	}
	key := strings.TrimSpace(values[0])
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

// GenerateInternalKey creates a new tik_ key and its bcrypt hash. The key is
// shown once; only the hash goes into configuration.
func GenerateInternalKey() (key, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("GenerateInternalKey: %w", err)
	}
	key = KeyPrefix + hex.EncodeToString(raw) // 68 chars total

	hash, err = hashKey(key)
	if err != nil {
		return "", "", fmt.Errorf("GenerateInternalKey: %w", err)
	}
	return key, hash, nil
}

func prefixOf(key string) string {
	if len(key) < 8 {
		return key
	}
	return key[:8]
}
