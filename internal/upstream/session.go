package upstream

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// SessionRegistry maps a scope key (tenant endpoint plus caller) to the
// conversation token sent upstream. Tokens are created on first use and live
// until invalidated, or until ttl passes when ttl is positive.
type SessionRegistry struct {
	tokens *cache.Cache
}

// NewSessionRegistry returns an empty registry. A ttl of zero keeps tokens
// until they are invalidated.
func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
	}
	return &SessionRegistry{tokens: cache.New(expiration, cleanup)}
}

// Resolve returns the token for key, minting one if none exists. Concurrent
// callers on the same key always agree on the token.
func (r *SessionRegistry) Resolve(key string) string {
	for {
		if token, ok := r.tokens.Get(key); ok {
			return token.(string)
		}
		token := uuid.NewString()
		if err := r.tokens.Add(key, token, cache.DefaultExpiration); err == nil {
			return token
		}
	}
}

// Invalidate drops the token for key. It is a no-op for unknown keys.
func (r *SessionRegistry) Invalidate(key string) {
	r.tokens.Delete(key)
}

// Len reports how many tokens are cached.
func (r *SessionRegistry) Len() int {
	return r.tokens.ItemCount()
}
