package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"beacon/internal/metricsquery"
	querymetrics "beacon/internal/metricsquery/metrics"
	"beacon/internal/notification"
	notificationhandler "beacon/internal/notification/handler"
	notificationmetrics "beacon/internal/notification/metrics"
	"beacon/internal/platform/config"
	"beacon/internal/platform/httpserver"
	"beacon/internal/platform/logger"
	"beacon/internal/platform/metrics"
	"beacon/internal/platform/middleware"
	"beacon/internal/platform/scheduler"
	"beacon/internal/strategy"
	strategyhandler "beacon/internal/strategy/handler"
	strategymetrics "beacon/internal/strategy/metrics"
	"beacon/internal/strategy/sink"
	"beacon/pkg/platform/circuit"
)

// main wires dependencies, starts the control loop and the HTTP server, and
// keeps the process lifecycle small. Behavior lives in internal packages.
func main() {
	if err := run(); err != nil {
		slog.Error("beacon exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	breaker := circuit.New("metrics-query",
		circuit.WithFailureThreshold(cfg.Metrics.BreakerFailures),
		circuit.WithCooldown(cfg.Metrics.BreakerCooldown),
	)
	querier, err := metricsquery.New(cfg.Metrics.QueryAddress,
		metricsquery.WithTimeout(cfg.Metrics.QueryTimeout),
		metricsquery.WithBreaker(breaker),
		metricsquery.WithLogger(log),
		metricsquery.WithMetrics(querymetrics.New(reg)),
	)
	if err != nil {
		return err
	}

	res, err := openTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer res.close(log)

	store := strategy.NewStore(cfg.Strategy.EventLogCapacity)

	translator, err := notification.NewTranslator(store, res.source,
		notification.WithTenant(cfg.Telemetry.TenantID),
		notification.WithEventType(cfg.Telemetry.EventType),
		notification.WithTranslatorLogger(log),
	)
	if err != nil {
		return err
	}
	hub, err := notification.NewHub(translator,
		notification.WithLogger(log),
		notification.WithMetrics(notificationmetrics.New(reg)),
	)
	if err != nil {
		return err
	}

	listeners := []strategy.TransitionListener{hub}
	if cfg.Kafka.Enabled() {
		client, err := sink.NewClient(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := sink.EnsureTopic(ctx, client, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return err
		}
		publisher, err := sink.NewKafkaPublisher(client, cfg.Kafka.Topic, log)
		if err != nil {
			return err
		}
		// runs before client.Close
		defer func() {
			if err := publisher.Flush(sink.FlushTimeout); err != nil {
				log.Warn("unflushed strategy transitions dropped", "error", err)
			}
		}()
		listeners = append(listeners, publisher)
		log.Info("publishing strategy transitions to kafka", "topic", cfg.Kafka.Topic)
	}

	engine, err := strategy.NewEngine(querier, store,
		strategy.WithQueries(strategy.Queries{
			Latency:  cfg.Metrics.LatencyQuery,
			RagRatio: cfg.Metrics.RagRatioQuery,
		}),
		strategy.WithListeners(listeners...),
		strategy.WithLogger(log),
		strategy.WithMetrics(strategymetrics.New(reg)),
	)
	if err != nil {
		return err
	}

	sched := scheduler.New(log)
	if err := sched.Every("strategy-evaluate", cfg.Strategy.EvaluateInterval, func(ctx context.Context) {
		engine.EvaluateAll(ctx, cfg.Strategy.Domains)
	}); err != nil {
		return err
	}
	if err := sched.Every("notification-broadcast", cfg.Notifications.BroadcastInterval, hub.BroadcastTick); err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	router.Get("/health", healthHandler(res.checks))
	strategyhandler.New(engine, log, cfg.Strategy.EnableTestTrigger).Register(router)
	notificationhandler.New(hub, log,
		notificationhandler.WithStreamTimeout(cfg.Notifications.StreamTimeout),
		notificationhandler.WithSendTimeout(cfg.Notifications.SendTimeout),
	).Register(router)

	srv := httpserver.New(cfg.Addr, router, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting beacon",
			"addr", cfg.Addr,
			"domains", cfg.Strategy.Domains,
			"telemetry_backend", cfg.Telemetry.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		// streams are long-lived; close them so Shutdown does not wait on them
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
