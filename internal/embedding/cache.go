package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// cacheEntry represents a cached embedding.
type cacheEntry struct {
	expiry time.Time
	vector []float32
}

// CachingEmbedder memoizes another Embedder by text for a fixed TTL.
type CachingEmbedder struct {
	next    Embedder
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

// NewCachingEmbedder wraps next with a TTL cache.
func NewCachingEmbedder(next Embedder, ttl time.Duration) *CachingEmbedder {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	c := &CachingEmbedder{
		next:    next,
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Name returns the wrapped provider's name.
func (c *CachingEmbedder) Name() string { return c.next.Name() }

// Embed returns a cached vector or asks the wrapped embedder.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.next.Name(), text)
	if v, ok := c.get(key); ok {
		return v, nil
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(key, v)
	return v, nil
}

func cacheKey(provider, text string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *CachingEmbedder) get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		return nil, false
	}
	return entry.vector, true
}

func (c *CachingEmbedder) set(key string, v []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		vector: v,
		expiry: time.Now().Add(c.ttl),
	}
}

// cleanup periodically removes expired entries.
func (c *CachingEmbedder) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// size returns the number of entries in the cache.
func (c *CachingEmbedder) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *CachingEmbedder) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	return nil
}
