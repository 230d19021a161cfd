//go:build integration

package containers

import (
	"context"
	"testing"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"beacon/internal/platform/config"
	platformredis "beacon/internal/platform/redis"
)

const redisImage = "redis:7-alpine"

// RedisContainer is a Redis server plus a client opened the way the server
// opens it.
type RedisContainer struct {
	URL    string
	Client *platformredis.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	c, err := tcredis.Run(ctx, redisImage)
	c = started(t, "redis", c, err)

	url, err := c.ConnectionString(ctx)
	check(t, "redis connection string", err)
	client, err := platformredis.New(ctx, config.RedisConfig{URL: url})
	check(t, "connect redis", err)
	t.Cleanup(func() { _ = client.Close() })

	return &RedisContainer{URL: url, Client: client}
}

// FlushAll isolates tests that share one container.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
