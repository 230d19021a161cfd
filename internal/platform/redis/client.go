// Package redis opens the go-redis client backing the telemetry stream reader.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"beacon/internal/platform/config"
)

// ErrNoURL is returned when the redis backend is selected without REDIS_URL.
var ErrNoURL = errors.New("redis url is required")

// Client is a pinged go-redis client.
type Client struct {
	*goredis.Client
}

// New connects and pings. A failed ping closes the client before returning.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return &Client{Client: rdb}, nil
}

// options parses the URL and lets non-zero pool settings override it.
func options(cfg config.RedisConfig) (*goredis.Options, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	overrideInt(&opts.PoolSize, cfg.PoolSize)
	overrideInt(&opts.MinIdleConns, cfg.MinIdleConns)
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

func overrideInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Health is the readiness probe used by /health.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
