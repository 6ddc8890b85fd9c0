package auth

import (
	"context"
	"sync"
	"time"

	"container-telemetry/loadgen/internal/config"
)

// KeyLookup resolves an API key to its owner, returning "" when unknown.
// *store.RedisStore satisfies it.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	owner     string
	expiresAt time.Time
}

type Authenticator struct {
	localCache sync.Map
	keys       KeyLookup
	ttl        time.Duration
	staticKeys map[string]bool
	now        func() time.Time
}

// NewAuthenticator checks static keys first, then a local cache, then keys.
// keys may be nil when only static keys are configured.
func NewAuthenticator(cfg *config.Config, keys KeyLookup) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		keys:       keys,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		now:        time.Now,
	}
}

// Open reports whether no key source is configured. The middleware then lets
// every request through.
func (a *Authenticator) Open() bool {
	return len(a.staticKeys) == 0 && a.keys == nil
}

func (a *Authenticator) Validate(ctx context.Context, apiKey string) bool {
	if a.staticKeys[apiKey] {
		return true
	}

	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			return true
		}
		a.localCache.Delete(apiKey)
	}

	if a.keys == nil {
		return false
	}
	owner, err := a.keys.GetAPIKey(ctx, apiKey)
	if err != nil || owner == "" {
		return false
	}

	a.localCache.Store(apiKey, cacheEntry{
		owner:     owner,
		expiresAt: a.now().Add(a.ttl),
	})

	return true
}
