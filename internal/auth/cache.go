package auth

import (
	"sync"
	"time"
)

// cacheState is the state of a digest in the verified-key cache.
type cacheState int

const (
	stateMiss cacheState = iota
	stateFresh
	// stateStale means the entry outlived its TTL and the caller won the
	// right to re-verify it. Other readers of the same stale entry get
	// stateFresh until the re-verify lands.
	stateStale
)

// keyCache remembers which key digests passed bcrypt and for how long. An
// expired entry is still served while one re-verify runs.
type keyCache struct {
	mu      sync.RWMutex
	entries map[string]*keyEntry
	ttl     time.Duration
	now     func() time.Time
}

type keyEntry struct {
	caller    *Caller
	expiresAt time.Time
	renewing  bool
}

func newKeyCache(ttl time.Duration) *keyCache {
	return &keyCache{entries: make(map[string]*keyEntry), ttl: ttl, now: time.Now}
}

// lookup returns the cached caller for digest.
func (c *keyCache) lookup(digest string) (*Caller, cacheState) {
	c.mu.RLock()
	e, ok := c.entries[digest]
	if !ok {
		c.mu.RUnlock()
		return nil, stateMiss
	}
	if c.now().Before(e.expiresAt) || e.renewing {
		caller := e.caller
		c.mu.RUnlock()
		return caller, stateFresh
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the write lock; another reader may have claimed it.
	if e, ok = c.entries[digest]; !ok {
		return nil, stateMiss
	}
	if e.renewing || c.now().Before(e.expiresAt) {
		return e.caller, stateFresh
	}
	e.renewing = true
	return e.caller, stateStale
}

// remember stores a verified caller until now+ttl.
func (c *keyCache) remember(digest string, caller *Caller) {
	c.mu.Lock()
	c.entries[digest] = &keyEntry{caller: caller, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// forget drops digest, so the next request verifies synchronously.
func (c *keyCache) forget(digest string) {
	c.mu.Lock()
	delete(c.entries, digest)
	c.mu.Unlock()
}
