package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"beacon/internal/strategy"
	"beacon/pkg/platform/httputil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Diagnostics sizing.
const (
	EventsLimit   = 50
	DefaultDomain = "HR"
)

// Service defines the strategy operations exposed over HTTP.
type Service interface {
	RecentEvents(limit int) []strategy.TransitionEvent
	Current() map[string]strategy.Strategy
	Simulate(ctx context.Context, domain string) strategy.TransitionEvent
}

// Handler serves the strategy diagnostics endpoints.
type Handler struct {
	service       Service
	logger        *slog.Logger
	enableTrigger bool
}

// New constructs a strategy handler. The test trigger is only mounted when
// enableTrigger is set.
func New(service Service, logger *slog.Logger, enableTrigger bool) *Handler {
	return &Handler{
		service:       service,
		logger:        logger,
		enableTrigger: enableTrigger,
	}
}

// Register mounts strategy endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/strategy/events", h.HandleEvents)
	r.Get("/admin/strategy/current", h.HandleCurrent)
	if h.enableTrigger {
		r.Post("/admin/strategy/test-trigger", h.HandleTestTrigger)
	}
}

// HandleEvents handles GET /admin/strategy/events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	events := h.service.RecentEvents(EventsLimit)
	if events == nil {
		events = []strategy.TransitionEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, EventsResponse{Events: events, Total: len(events)})
}

// HandleCurrent handles GET /admin/strategy/current.
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	current := h.service.Current()
	if current == nil {
		current = map[string]strategy.Strategy{}
	}
	httputil.WriteJSON(w, http.StatusOK, CurrentResponse{Strategies: current})
}

// HandleTestTrigger handles POST /admin/strategy/test-trigger. It records a
// synthetic transition, which listeners broadcast like a real one.
func (h *Handler) HandleTestTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	domain := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("domain")))
	if domain == "" {
		domain = DefaultDomain
	}

	ev := h.service.Simulate(ctx, domain)

	h.logger.InfoContext(ctx, "test transition triggered",
		"domain", ev.Domain,
		"from", ev.From.Reason.String(),
		"to", ev.To.Reason.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, ev)
}
