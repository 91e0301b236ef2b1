package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisIdempotencyStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()

	t.Run("MarkProcessedFirstTime", func(t *testing.T) {
		first, err := store.MarkProcessed(ctx, "payment_cb:1:success", time.Hour)
		require.NoError(t, err)
		assert.True(t, first)
	})

	t.Run("MarkProcessedDuplicate", func(t *testing.T) {
		first, err := store.MarkProcessed(ctx, "payment_cb:2:success", time.Hour)
		require.NoError(t, err)
		assert.True(t, first)

		first, err = store.MarkProcessed(ctx, "payment_cb:2:success", time.Hour)
		require.NoError(t, err)
		assert.False(t, first)
	})

	t.Run("MarkProcessedAfterTTL", func(t *testing.T) {
		first, err := store.MarkProcessed(ctx, "payment_cb:3:success", time.Second)
		require.NoError(t, err)
		assert.True(t, first)

		s.FastForward(time.Second + time.Millisecond)

		first, err = store.MarkProcessed(ctx, "payment_cb:3:success", time.Second)
		require.NoError(t, err)
		assert.True(t, first)
	})

	t.Run("RateLimit", func(t *testing.T) {
		key := "client-x"
		limit := 2
		window := time.Second

		// First request
		allowed, err := store.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		// Second request
		allowed, err = store.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		// Third request (exceeds limit)
		allowed, err = store.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		// Wait for window to expire
		s.FastForward(window + time.Millisecond)

		// Should be allowed again
		allowed, err = store.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("NilClient", func(t *testing.T) {
		store := NewRedisIdempotencyStore(nil)
		_, err := store.MarkProcessed(ctx, "k", time.Hour)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("Ping", func(t *testing.T) {
		err := Ping(ctx, client)
		assert.NoError(t, err)
	})

	t.Run("Close", func(t *testing.T) {
		err := Close(client)
		assert.NoError(t, err)
	})
}
