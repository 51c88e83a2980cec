package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The cache must never be a point of failure: with no backing Redis,
// every operation degrades to a miss or no-op.
func TestDisabledCacheDegrades(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, "")
	require.NoError(t, err)

	_, ok := c.Get(ctx, "wallet:abc:balances")
	assert.False(t, ok)

	assert.False(t, c.Set(ctx, "wallet:abc:balances", "1", 5*time.Minute))
	assert.False(t, c.Delete(ctx, "wallet:abc:balances"))
	assert.False(t, c.ClearPrefix(ctx, "wallet:*"))
	assert.Error(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}

func TestNilCacheDegrades(t *testing.T) {
	ctx := context.Background()
	var c *Cache

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, c.Set(ctx, "k", "v", time.Minute))
	assert.False(t, c.Delete(ctx, "k"))
	assert.Error(t, c.Ping(ctx))
}

func TestNewRejectsMalformedURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}
