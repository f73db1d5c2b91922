package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(DefaultCacheConfig())
	c.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "catalog", []byte("v1"), time.Minute))

	got, err := c.Get(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "catalog")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, c.Set(ctx, "other", []byte("v2"), -1))
	require.NoError(t, c.Delete(ctx, "other"))
	_, err = c.Get(ctx, "other")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCache_CancelledContext(t *testing.T) {
	c := NewMemoryCache(DefaultCacheConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
