package main

import (
	"context"
	"fmt"
	"log/slog"

	"beacon/internal/platform/config"
	"beacon/internal/platform/postgres"
	"beacon/internal/platform/redis"
	"beacon/internal/telemetry"
	"beacon/internal/telemetry/store/memory"
	pgstore "beacon/internal/telemetry/store/postgres"
	"beacon/internal/telemetry/store/redisstream"
)

// resources are the telemetry backend connections owned by main.
type resources struct {
	source  telemetry.Source
	checks  []healthCheck
	closers []func() error
}

func (r *resources) close(log *slog.Logger) {
	for _, c := range r.closers {
		if err := c(); err != nil {
			log.Warn("closing telemetry backend", "error", err)
		}
	}
}

func openTelemetry(ctx context.Context, cfg config.Server, log *slog.Logger) (*resources, error) {
	switch cfg.Telemetry.Backend {
	case config.TelemetryBackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("opening telemetry postgres: %w", err)
		}
		log.Info("reading telemetry from postgres")
		return &resources{
			source:  pgstore.New(db),
			checks:  []healthCheck{{name: "postgres", check: db.PingContext}},
			closers: []func() error{db.Close},
		}, nil

	case config.TelemetryBackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("opening telemetry redis: %w", err)
		}
		log.Info("reading telemetry from redis stream", "stream", cfg.Telemetry.Stream)
		return &resources{
			source:  redisstream.New(client, cfg.Telemetry.Stream),
			checks:  []healthCheck{{name: "redis", check: client.Health}},
			closers: []func() error{client.Close},
		}, nil

	default:
		log.Info("reading telemetry from in-memory store")
		return &resources{source: memory.New()}, nil
	}
}
