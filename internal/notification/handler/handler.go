package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"beacon/internal/notification"
	"beacon/pkg/platform/httputil"
	"beacon/pkg/platform/sentinel"
)

// Polling limits.
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// Defaults for stream connections.
const (
	DefaultStreamTimeout = time.Hour
	DefaultSendTimeout   = 5 * time.Second
)

// Hub defines the notification operations the handler needs.
type Hub interface {
	Subscribe(ctx context.Context, sender notification.Sender) (*notification.Subscription, error)
	Unsubscribe(id string, state notification.State) bool
	PollRecent(ctx context.Context, limit int) []notification.Notification
	Connections() []notification.ConnectionInfo
}

// Handler serves the admin notification endpoints.
type Handler struct {
	hub           Hub
	logger        *slog.Logger
	streamTimeout time.Duration
	sendTimeout   time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithStreamTimeout bounds how long one stream stays open.
func WithStreamTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.streamTimeout = d
		}
	}
}

// WithSendTimeout bounds a single frame write.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// New constructs a notification handler.
func New(hub Hub, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		hub:           hub,
		logger:        logger,
		streamTimeout: DefaultStreamTimeout,
		sendTimeout:   DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts notification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/notifications/stream", h.HandleStream)
	r.Get("/admin/notifications/recent", h.HandleRecent)
	r.Get("/admin/notifications/connections", h.HandleConnections)
}

// HandleStream handles GET /admin/notifications/stream. The request stays open
// until the client leaves, the stream timeout elapses or the hub drops the
// connection.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := w.(http.Flusher); !ok {
		httputil.WriteError(w, errors.New("response does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub, err := h.hub.Subscribe(ctx, newSSESender(w, h.sendTimeout))
	if err != nil {
		h.logger.WarnContext(ctx, "notification stream handshake failed", "error", err)
		return
	}

	timer := time.NewTimer(h.streamTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		h.hub.Unsubscribe(sub.ID(), notification.StateClosedByClient)
	case <-timer.C:
		h.hub.Unsubscribe(sub.ID(), notification.StateClosedByTimeout)
	case <-sub.Done():
	}
}

// HandleRecent handles GET /admin/notifications/recent.
func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	notifications := h.hub.PollRecent(r.Context(), limit)
	if notifications == nil {
		notifications = []notification.Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, RecentResponse{Notifications: notifications})
}

// HandleConnections handles GET /admin/notifications/connections.
func (h *Handler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conns := h.hub.Connections()
	httputil.WriteJSON(w, http.StatusOK, ConnectionsResponse{
		Connections: conns,
		Total:       len(conns),
	})
}

// parseLimit applies the default and clamps to [1, MaxRecentLimit].
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultRecentLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit must be an integer: %w", sentinel.ErrInvalidInput)
	}
	return max(1, min(limit, MaxRecentLimit)), nil
}
