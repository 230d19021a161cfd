// Package metricsquery is the gateway to the external time-series backend.
// Every failure is folded into a 0.0 result so the strategy loop never sees an
// error from it.
package metricsquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"beacon/internal/metricsquery/metrics"
	"beacon/pkg/platform/circuit"
	"beacon/pkg/platform/sentinel"
)

// DefaultTimeout bounds a single backend query.
const DefaultTimeout = 3 * time.Second

var errEmptyResult = errors.New("empty result set")

// Client issues instant queries and reduces the answer to one float.
type Client struct {
	api     promv1.API
	timeout time.Duration
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker installs a circuit breaker in front of the backend.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithClock sets the evaluation timestamp source for instant queries.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a client for the Prometheus-compatible API at address.
func New(address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, fmt.Errorf("metrics query address is required: %w", sentinel.ErrInvalidInput)
	}
	c := &Client{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	apiClient, err := promapi.NewClient(promapi.Config{
		Address: address,
		Client:  &http.Client{Timeout: c.timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create metrics api client: %w", err)
	}
	c.api = promv1.NewAPI(apiClient)
	return c, nil
}

// Query returns the first scalar of expression's result, or 0.0 on any failure:
// transport errors, API errors, empty results and unsupported result types.
// NaN values are passed through untouched. Only transport, API and malformed
// answers count against the breaker; an empty result counts as a success.
func (c *Client) Query(ctx context.Context, expression string) float64 {
	if c.breaker != nil && !c.breaker.Allow() {
		c.metrics.IncrementQuery(metrics.OutcomeShortCircuit)
		return 0
	}

	v, err := c.query(ctx, expression)
	if errors.Is(err, errEmptyResult) {
		// The backend answered; an idle series is not an outage.
		c.metrics.IncrementQuery(metrics.OutcomeEmpty)
		c.recordSuccess()
		return 0
	}
	if err != nil {
		c.metrics.IncrementQuery(metrics.OutcomeError)
		c.recordFailure()
		c.logger.DebugContext(ctx, "metric query failed, using fallback",
			"expression", expression,
			"error", err,
		)
		return 0
	}

	c.metrics.IncrementQuery(metrics.OutcomeSuccess)
	c.recordSuccess()
	return v
}

func (c *Client) query(ctx context.Context, expression string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	val, warnings, err := c.api.Query(ctx, expression, c.now())
	c.metrics.ObserveQueryLatency(time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("query backend: %w", errors.Join(err, sentinel.ErrUnavailable))
	}
	if len(warnings) > 0 {
		c.logger.DebugContext(ctx, "metric query returned warnings",
			"expression", expression,
			"warnings", warnings,
		)
	}
	return firstScalar(val)
}

// firstScalar extracts the value of a scalar result or the first sample of an
// instant vector.
func firstScalar(val model.Value) (float64, error) {
	switch v := val.(type) {
	case *model.Scalar:
		if v == nil {
			return 0, errEmptyResult
		}
		return float64(v.Value), nil
	case model.Vector:
		if len(v) == 0 || v[0] == nil {
			return 0, errEmptyResult
		}
		return float64(v[0].Value), nil
	case nil:
		return 0, errEmptyResult
	default:
		return 0, fmt.Errorf("unsupported result type %s: %w", val.Type(), sentinel.ErrMalformed)
	}
}

func (c *Client) recordFailure() {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.metrics.IncrementBreakerOpened()
		c.logger.Warn("metric backend circuit opened", "breaker", c.breaker.Name())
	}
}

func (c *Client) recordSuccess() {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("metric backend circuit closed", "breaker", c.breaker.Name())
	}
}
