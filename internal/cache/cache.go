package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is an in-memory TTL cache of strings.
type Cache struct {
	items *gocache.Cache
}

// New creates a cache whose entries expire after ttl; expired entries are purged hourly.
func New(ttl time.Duration) *Cache {
	return &Cache{items: gocache.New(ttl, time.Hour)}
}

func (c *Cache) Set(key, value string) {
	c.items.SetDefault(key, value)
}

func (c *Cache) Get(key string) (string, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (c *Cache) Delete(key string) {
	c.items.Delete(key)
}

// GenerateKey hashes the parts into a stable key.
func (c *Cache) GenerateKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
