package auth

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultReplayCacheSize bounds the number of remembered flow states.
const DefaultReplayCacheSize = 100_000

// ReplayCache remembers consumed login flow states so a flow cookie can
// complete at most one callback within this process. Entries expire after
// the flow cookie itself would.
type ReplayCache struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewReplayCache creates a cache holding up to size states for ttl.
func NewReplayCache(size int, ttl time.Duration) *ReplayCache {
	if size <= 0 {
		size = DefaultReplayCacheSize
	}
	return &ReplayCache{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Consume records state and reports whether it was seen for the first time.
func (c *ReplayCache) Consume(state string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.cache.Get(state); seen {
		return false
	}
	c.cache.Add(state, struct{}{})
	return true
}
