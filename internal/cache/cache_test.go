package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGetDelete(t *testing.T) {
	c := New(time.Minute)
	key := c.GenerateKey("summarize", "600", "text")

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, "short")
	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, "short", got)

	c.Delete(key)
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestCache_GenerateKeySeparatesParts(t *testing.T) {
	c := New(time.Minute)
	assert.NotEqual(t, c.GenerateKey("ab", "c"), c.GenerateKey("a", "bc"))
	assert.Equal(t, c.GenerateKey("a", "b"), c.GenerateKey("a", "b"))
}

func TestCache_Expires(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Set("k", "v")
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}
