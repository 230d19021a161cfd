package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/platform/config"
)

func TestOptions(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		_, err := options(config.RedisConfig{})
		assert.ErrorIs(t, err, ErrNoURL)
	})

	t.Run("malformed url", func(t *testing.T) {
		_, err := options(config.RedisConfig{URL: "http://not-redis"})
		assert.Error(t, err)
	})

	t.Run("url carries address and db", func(t *testing.T) {
		opts, err := options(config.RedisConfig{URL: "redis://cache:6380/3"})
		require.NoError(t, err)
		assert.Equal(t, "cache:6380", opts.Addr)
		assert.Equal(t, 3, opts.DB)
	})

	t.Run("pool settings override url", func(t *testing.T) {
		opts, err := options(config.RedisConfig{
			URL:          "redis://cache:6379/0?pool_size=3",
			PoolSize:     12,
			MinIdleConns: 4,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: 1500 * time.Millisecond,
		})
		require.NoError(t, err)
		assert.Equal(t, 12, opts.PoolSize)
		assert.Equal(t, 4, opts.MinIdleConns)
		assert.Equal(t, 2*time.Second, opts.DialTimeout)
		assert.Equal(t, time.Second, opts.ReadTimeout)
		assert.Equal(t, 1500*time.Millisecond, opts.WriteTimeout)
	})

	t.Run("zero values keep url settings", func(t *testing.T) {
		opts, err := options(config.RedisConfig{URL: "redis://cache:6379/0?pool_size=3"})
		require.NoError(t, err)
		assert.Equal(t, 3, opts.PoolSize)
	})
}

func TestNew_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := New(ctx, config.RedisConfig{
		URL:         "redis://127.0.0.1:1/0",
		DialTimeout: 200 * time.Millisecond,
	})

	assert.Nil(t, client)
	assert.ErrorContains(t, err, "ping redis at 127.0.0.1:1")
}
