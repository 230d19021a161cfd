package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"beacon/internal/strategy"
	"beacon/internal/strategy/handler/mocks"
	"beacon/pkg/testutil"
)

// =============================================================================
// Strategy Handler Test Suite
// =============================================================================

type HandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	now     time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
}

func (s *HandlerSuite) router(enableTrigger bool) chi.Router {
	r := chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil)), enableTrigger).Register(r)
	return r
}

func (s *HandlerSuite) do(r chi.Router, method, target string) *httptest.ResponseRecorder {
	return testutil.Serve(r, method, target)
}

// =============================================================================
// Events
// =============================================================================

func (s *HandlerSuite) TestEventsReturnsLastFifty() {
	s.service.EXPECT().RecentEvents(EventsLimit).Return([]strategy.TransitionEvent{{
		Seq:        1,
		Domain:     "HR",
		From:       strategy.BaselineStrategy,
		To:         strategy.QualityGateStrategy,
		Reason:     strategy.ReasonHighLatencyHighRag,
		OccurredAt: s.now,
	}})

	w := s.do(s.router(false), http.MethodGet, "/admin/strategy/events")

	s.Equal(http.StatusOK, w.Code)
	resp := testutil.DecodeJSON[struct {
		Events []map[string]any `json:"events"`
		Total  int              `json:"total"`
	}](s.T(), w)
	s.Equal(1, resp.Total)
	s.Equal("HR", resp.Events[0]["domain"])
	to := resp.Events[0]["to"].(map[string]any)
	s.Equal("quality-gate", to["modelOverride"])
	from := resp.Events[0]["from"].(map[string]any)
	s.Nil(from["modelOverride"])
}

func (s *HandlerSuite) TestEventsEmpty() {
	s.service.EXPECT().RecentEvents(EventsLimit).Return(nil)

	w := s.do(s.router(false), http.MethodGet, "/admin/strategy/events")

	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"events":[],"total":0}`, w.Body.String())
}

// =============================================================================
// Current
// =============================================================================

func (s *HandlerSuite) TestCurrent() {
	s.service.EXPECT().Current().Return(map[string]strategy.Strategy{
		"HR":  strategy.QualityGateStrategy,
		"FAQ": strategy.DefaultStrategy,
	})

	w := s.do(s.router(false), http.MethodGet, "/admin/strategy/current")

	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"strategies":{
		"HR":{"useRag":false,"modelOverride":"quality-gate","reason":"HIGH_LATENCY_HIGH_RAG"},
		"FAQ":{"useRag":true,"modelOverride":null,"reason":"NO_METRIC_DATA"}
	}}`, w.Body.String())
}

// =============================================================================
// Test Trigger
// =============================================================================

func (s *HandlerSuite) TestTriggerDisabledIsNotFound() {
	w := s.do(s.router(false), http.MethodPost, "/admin/strategy/test-trigger?domain=HR")

	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlerSuite) TestTriggerDefaultsDomain() {
	s.service.EXPECT().Simulate(gomock.Any(), DefaultDomain).Return(strategy.TransitionEvent{
		Domain: DefaultDomain,
		From:   strategy.BaselineStrategy,
		To:     strategy.QualityGateStrategy,
	})

	w := s.do(s.router(true), http.MethodPost, "/admin/strategy/test-trigger")

	s.Equal(http.StatusOK, w.Code)
	resp := testutil.DecodeJSON[map[string]any](s.T(), w)
	s.Equal("HR", resp["domain"])
}

func (s *HandlerSuite) TestTriggerNormalizesDomain() {
	s.service.EXPECT().Simulate(gomock.Any(), "FAQ").Return(strategy.TransitionEvent{Domain: "FAQ"})

	w := s.do(s.router(true), http.MethodPost, "/admin/strategy/test-trigger?domain=%20faq")

	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerSuite) TestTriggerRequiresPost() {
	w := s.do(s.router(true), http.MethodGet, "/admin/strategy/test-trigger")

	s.Equal(http.StatusMethodNotAllowed, w.Code)
}
