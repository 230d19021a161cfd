package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"beacon/internal/strategy/metrics"
)

const tracerName = "beacon/internal/strategy"

// MetricsQuerier resolves an expression to a scalar. Implementations must not
// fail; they return 0.0 when no value is available.
type MetricsQuerier interface {
	Query(ctx context.Context, expression string) float64
}

// TransitionListener is notified after a transition has been recorded.
type TransitionListener interface {
	OnTransition(ctx context.Context, ev TransitionEvent)
}

// TransitionListenerFunc adapts a function to TransitionListener.
type TransitionListenerFunc func(ctx context.Context, ev TransitionEvent)

func (f TransitionListenerFunc) OnTransition(ctx context.Context, ev TransitionEvent) {
	f(ctx, ev)
}

// Queries are fmt templates where %[1]s is the domain.
type Queries struct {
	Latency  string
	RagRatio string
}

// DefaultQueries read the RAG pipeline's request metrics.
var DefaultQueries = Queries{
	Latency:  `avg(rate(rag_request_duration_seconds_sum{domain="%[1]s"}[5m]) / rate(rag_request_duration_seconds_count{domain="%[1]s"}[5m]))`,
	RagRatio: `sum(rate(rag_requests_total{domain="%[1]s",rag="true"}[5m])) / sum(rate(rag_requests_total{domain="%[1]s"}[5m]))`,
}

// Engine turns live metrics into a per-domain strategy and records changes.
type Engine struct {
	querier   MetricsQuerier
	store     *Store
	queries   Queries
	listeners []TransitionListener
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
	tracer    trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithQueries overrides DefaultQueries. Empty fields keep their default.
func WithQueries(q Queries) EngineOption {
	return func(e *Engine) {
		if q.Latency != "" {
			e.queries.Latency = q.Latency
		}
		if q.RagRatio != "" {
			e.queries.RagRatio = q.RagRatio
		}
	}
}

// WithListeners registers transition listeners, called in order.
func WithListeners(listeners ...TransitionListener) EngineOption {
	return func(e *Engine) {
		for _, l := range listeners {
			if l != nil {
				e.listeners = append(e.listeners, l)
			}
		}
	}
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine builds an engine over querier and store.
func NewEngine(querier MetricsQuerier, store *Store, opts ...EngineOption) (*Engine, error) {
	if querier == nil {
		return nil, errors.New("metrics querier is required")
	}
	if store == nil {
		return nil, errors.New("strategy store is required")
	}
	e := &Engine{
		querier: querier,
		store:   store,
		queries: DefaultQueries,
		logger:  slog.Default(),
		clock:   time.Now,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Decide applies the fixed thresholds. This is pure domain logic.
func Decide(latencySeconds, ragRatio float64) Strategy {
	if latencySeconds > LatencyThresholdSeconds && ragRatio > RagRatioThreshold {
		return QualityGateStrategy
	}
	return BaselineStrategy
}

// Evaluate returns the strategy that applies to domain now. When latency is
// missing (NaN or exactly zero) it returns DefaultStrategy without touching the
// store. Otherwise a change against the last known strategy is recorded and
// listeners are notified.
func (e *Engine) Evaluate(ctx context.Context, domain string) Strategy {
	ctx, span := e.tracer.Start(ctx, "strategy.Evaluate",
		trace.WithAttributes(attribute.String("strategy.domain", domain)))
	defer span.End()

	start := time.Now()
	defer func() { e.metrics.ObserveEvaluateLatency(time.Since(start)) }()

	latency, ragRatio := e.readMetrics(ctx, domain)
	if math.IsNaN(latency) || latency == 0 {
		e.metrics.IncrementEvaluation(domain, string(ReasonNoMetricData))
		span.SetAttributes(attribute.String("strategy.reason", string(ReasonNoMetricData)))
		return DefaultStrategy
	}

	candidate := Decide(latency, ragRatio)
	e.metrics.IncrementEvaluation(domain, string(candidate.Reason))
	e.metrics.SetDegraded(domain, candidate.Reason.IsDegraded())
	span.SetAttributes(attribute.String("strategy.reason", string(candidate.Reason)))

	if ev, changed := e.store.Apply(domain, candidate, e.clock()); changed {
		e.logger.InfoContext(ctx, "strategy changed",
			"domain", domain,
			"from", ev.From.Reason.String(),
			"to", ev.To.Reason.String(),
			"latency_seconds", latency,
			"rag_ratio", ragRatio,
		)
		e.notify(ctx, ev)
	}
	return candidate
}

// readMetrics issues the latency and RAG ratio queries concurrently.
func (e *Engine) readMetrics(ctx context.Context, domain string) (latency, ragRatio float64) {
	var g errgroup.Group
	g.Go(func() error {
		latency = e.querier.Query(ctx, fmt.Sprintf(e.queries.Latency, domain))
		return nil
	})
	g.Go(func() error {
		ragRatio = e.querier.Query(ctx, fmt.Sprintf(e.queries.RagRatio, domain))
		return nil
	})
	_ = g.Wait()
	return latency, ragRatio
}

// EvaluateAll evaluates every domain concurrently.
func (e *Engine) EvaluateAll(ctx context.Context, domains []string) map[string]Strategy {
	var (
		mu  sync.Mutex
		out = make(map[string]Strategy, len(domains))
		g   errgroup.Group
	)
	for _, domain := range domains {
		g.Go(func() error {
			st := e.Evaluate(ctx, domain)
			mu.Lock()
			out[domain] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Simulate flips domain between the baseline and the quality gate regardless of
// metrics and records the change. It exists to exercise the notification path
// without waiting for real metric conditions.
func (e *Engine) Simulate(ctx context.Context, domain string) TransitionEvent {
	ev, _ := e.store.Transition(domain, func(from Strategy) Strategy {
		if from == QualityGateStrategy {
			return BaselineStrategy
		}
		return QualityGateStrategy
	}, e.clock())

	e.logger.InfoContext(ctx, "strategy change simulated",
		"domain", domain,
		"from", ev.From.Reason.String(),
		"to", ev.To.Reason.String(),
	)
	e.metrics.SetDegraded(domain, ev.To.Reason.IsDegraded())
	e.notify(ctx, ev)
	return ev
}

// Current returns the last recorded strategy per domain.
func (e *Engine) Current() map[string]Strategy {
	return e.store.Snapshot()
}

// RecentEvents exposes the store's log for diagnostics.
func (e *Engine) RecentEvents(limit int) []TransitionEvent {
	return e.store.RecentEvents(limit)
}

func (e *Engine) notify(ctx context.Context, ev TransitionEvent) {
	e.metrics.IncrementTransition(ev.Domain, string(ev.To.Reason))
	e.metrics.SetEventsDropped(e.store.Dropped())
	for _, l := range e.listeners {
		e.callListener(ctx, l, ev)
	}
}

func (e *Engine) callListener(ctx context.Context, l TransitionListener, ev TransitionEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "transition listener panicked",
				"domain", ev.Domain,
				"panic", r,
			)
		}
	}()
	l.OnTransition(ctx, ev)
}
