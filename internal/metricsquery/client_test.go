package metricsquery

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"beacon/internal/metricsquery/metrics"
	"beacon/pkg/platform/circuit"
)

// =============================================================================
// Metrics Gateway Test Suite
// =============================================================================
// The gateway must never surface an error: every failure mode collapses to 0.0
// so the strategy engine falls into its no-data branch.

type GatewaySuite struct {
	suite.Suite
	server   *httptest.Server
	hits     atomic.Int32
	lastExpr atomic.Value

	mu     sync.Mutex
	body   string
	status int
	delay  time.Duration
	byExpr map[string]string
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.respond(http.StatusOK, "")
	s.setDelay(0)
	s.byExpr = nil
	s.hits.Store(0)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.lastExpr.Store(r.FormValue("query"))

		s.mu.Lock()
		status, body, delay := s.status, s.body, s.delay
		if b, ok := s.byExpr[r.FormValue("query")]; ok {
			body = b
		}
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

func (s *GatewaySuite) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

// respondPerExpression answers 200 with a body chosen by the query expression.
func (s *GatewaySuite) respondPerExpression(bodies map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = http.StatusOK
	s.byExpr = bodies
}

func (s *GatewaySuite) setDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *GatewaySuite) TearDownTest() {
	s.server.Close()
}

func (s *GatewaySuite) newClient(opts ...Option) *Client {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTimeout(time.Second),
	}
	c, err := New(s.server.URL, append(base, opts...)...)
	s.Require().NoError(err)
	return c
}

func vectorBody(value string) string {
	return `{"status":"success","data":{"resultType":"vector","result":[{"metric":{"domain":"HR"},"value":[1700000000.123,"` + value + `"]}]}}`
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *GatewaySuite) TestNew() {
	s.Run("empty address returns error", func() {
		_, err := New("")
		s.Error(err)
		s.Contains(err.Error(), "address is required")
	})

	s.Run("valid address returns client", func() {
		c, err := New(s.server.URL)
		s.NoError(err)
		s.NotNil(c)
	})
}

// =============================================================================
// Successful Queries
// =============================================================================

func (s *GatewaySuite) TestQuery_VectorFirstSample() {
	s.respond(http.StatusOK, `{"status":"success","data":{"resultType":"vector","result":[`+
		`{"metric":{"domain":"HR"},"value":[1700000000,"6.25"]},`+
		`{"metric":{"domain":"FAQ"},"value":[1700000000,"1.5"]}]}}`)

	got := s.newClient().Query(context.Background(), `avg(latency{domain="HR"})`)

	s.InDelta(6.25, got, 1e-9)
	s.Equal(`avg(latency{domain="HR"})`, s.lastExpr.Load())
}

func (s *GatewaySuite) TestQuery_Scalar() {
	s.respond(http.StatusOK, `{"status":"success","data":{"resultType":"scalar","result":[1700000000,"0.7"]}}`)

	got := s.newClient().Query(context.Background(), "scalar(ratio)")

	s.InDelta(0.7, got, 1e-9)
}

func (s *GatewaySuite) TestQuery_NaNPassesThrough() {
	s.respond(http.StatusOK, vectorBody("NaN"))

	got := s.newClient().Query(context.Background(), "latency")

	s.True(math.IsNaN(got))
}

// =============================================================================
// Failure Modes Fall Back To Zero
// =============================================================================

func (s *GatewaySuite) TestQuery_FailuresReturnZero() {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"empty vector", http.StatusOK, `{"status":"success","data":{"resultType":"vector","result":[]}}`},
		{"matrix result", http.StatusOK, `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{},"values":[[1700000000,"3"]]}]}}`},
		{"non numeric value", http.StatusOK, vectorBody("fast")},
		{"malformed json", http.StatusOK, `not json`},
		{"backend error", http.StatusInternalServerError, `{"status":"error","errorType":"internal","error":"boom"}`},
		{"bad query", http.StatusBadRequest, `{"status":"error","errorType":"bad_data","error":"parse error"}`},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.respond(tc.status, tc.body)
			s.Equal(0.0, s.newClient().Query(context.Background(), "latency"))
		})
	}
}

func (s *GatewaySuite) TestQuery_TimeoutReturnsZero() {
	s.setDelay(500 * time.Millisecond)
	s.respond(http.StatusOK, vectorBody("9"))

	start := time.Now()
	got := s.newClient(WithTimeout(50 * time.Millisecond)).Query(context.Background(), "latency")

	s.Equal(0.0, got)
	s.Less(time.Since(start), 400*time.Millisecond, "query must not wait for the slow backend")
}

func (s *GatewaySuite) TestQuery_UnreachableBackendReturnsZero() {
	c := s.newClient()
	s.server.Close()

	s.Equal(0.0, c.Query(context.Background(), "latency"))
}

// =============================================================================
// Circuit Breaker
// =============================================================================

func (s *GatewaySuite) TestQuery_BreakerShortCircuitsAfterFailures() {
	s.respond(http.StatusInternalServerError, `{"status":"error","errorType":"internal","error":"down"}`)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	breaker := circuit.New("metrics", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	c := s.newClient(WithBreaker(breaker), WithMetrics(m))

	s.Equal(0.0, c.Query(context.Background(), "latency"))
	s.Equal(0.0, c.Query(context.Background(), "latency"))
	s.True(breaker.IsOpen())
	hitsWhenOpened := s.hits.Load()

	s.Equal(0.0, c.Query(context.Background(), "latency"))
	s.Equal(hitsWhenOpened, s.hits.Load(), "open breaker must not reach the backend")
}

func (s *GatewaySuite) TestQuery_BreakerClosesAfterRecovery() {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := circuit.New("metrics",
		circuit.WithFailureThreshold(1),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }),
	)
	c := s.newClient(WithBreaker(breaker))

	s.respond(http.StatusInternalServerError, `{"status":"error","errorType":"internal","error":"down"}`)
	c.Query(context.Background(), "latency")
	s.True(breaker.IsOpen())

	now = now.Add(time.Minute)
	s.respond(http.StatusOK, vectorBody("2.5"))

	s.InDelta(2.5, c.Query(context.Background(), "latency"), 1e-9)
	s.False(breaker.IsOpen())
}

func (s *GatewaySuite) TestQuery_HealthyAnswersKeepBreakerClosed() {
	cases := []struct {
		name string
		body string
		want float64
	}{
		{"empty vector", `{"status":"success","data":{"resultType":"vector","result":[]}}`, 0},
		{"NaN sample", vectorBody("NaN"), math.NaN()},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.respond(http.StatusOK, tc.body)
			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			breaker := circuit.New("metrics", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
			c := s.newClient(WithBreaker(breaker), WithMetrics(m))

			for range 5 {
				got := c.Query(context.Background(), "latency")
				if math.IsNaN(tc.want) {
					s.True(math.IsNaN(got))
				} else {
					s.Equal(tc.want, got)
				}
			}

			s.False(breaker.IsOpen())
			s.Zero(testutil.ToFloat64(m.BreakerOpened))
			s.Zero(testutil.ToFloat64(m.Queries.WithLabelValues(metrics.OutcomeShortCircuit)))
		})
	}
}

func (s *GatewaySuite) TestQuery_IdleDomainDoesNotBlindBusyDomain() {
	idle := `avg(latency{domain="IDLE"})`
	busy := `avg(latency{domain="HR"})`
	s.respondPerExpression(map[string]string{
		idle: `{"status":"success","data":{"resultType":"vector","result":[]}}`,
		busy: vectorBody("6.0"),
	})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := s.newClient(WithBreaker(circuit.New("metrics")), WithMetrics(m))

	for range 5 {
		s.Equal(0.0, c.Query(context.Background(), idle))
	}

	s.InDelta(6.0, c.Query(context.Background(), busy), 1e-9)
	s.EqualValues(6, s.hits.Load())
	s.Equal(5.0, testutil.ToFloat64(m.Queries.WithLabelValues(metrics.OutcomeEmpty)))
}
