package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"beacon/internal/notification/metrics"
	"beacon/internal/strategy"
	"beacon/pkg/platform/sentinel"
)

const tracerName = "beacon/internal/notification"

// Batch sizes.
const (
	InitialSyncLimit = 10
	BroadcastLimit   = 20
)

// Feed produces notifications for the hub.
type Feed interface {
	Recent(ctx context.Context, limit int) []Notification
	FromStrategyEvent(ev strategy.TransitionEvent) Notification
}

// ConnectionInfo describes a registered connection.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	State       State     `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Hub keeps the registry of push connections and fans notifications out to
// them.
type Hub struct {
	feed    Feed
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
	newID   func() string
	tracer  trace.Tracer

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	// detached initial-sync goroutines; Add happens under mu while !closed
	syncs sync.WaitGroup
}

// HubOption configures a Hub.
type HubOption func(*Hub)

func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

func WithClock(clock func() time.Time) HubOption {
	return func(h *Hub) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithIDGenerator overrides the connection id source.
func WithIDGenerator(newID func() string) HubOption {
	return func(h *Hub) {
		if newID != nil {
			h.newID = newID
		}
	}
}

// NewHub creates an empty hub.
func NewHub(feed Feed, opts ...HubOption) (*Hub, error) {
	if feed == nil {
		return nil, errors.New("feed is required")
	}
	h := &Hub{
		feed:   feed,
		logger: slog.Default(),
		clock:  time.Now,
		newID:  uuid.NewString,
		tracer: otel.Tracer(tracerName),
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Subscribe registers sender, writes the handshake and starts the initial sync
// in the background. The returned subscription is OPEN. After Close it returns
// sentinel.ErrClosed without registering anything.
func (h *Hub) Subscribe(ctx context.Context, sender Sender) (*Subscription, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	now := h.clock()
	sub := newSubscription(h.newID(), sender, now)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("hub shut down: %w", sentinel.ErrClosed)
	}
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.syncs.Add(1)
	h.mu.Unlock()
	h.metrics.SetActiveConnections(n)

	payload, err := json.Marshal(handshake{
		ConnectionID: sub.id,
		ConnectedAt:  FormatTimestamp(now),
		Message:      "connected",
	})
	if err != nil {
		h.syncs.Done()
		h.Unsubscribe(sub.id, StateClosedByError)
		return nil, fmt.Errorf("encoding handshake: %w", err)
	}
	if err := sub.send(EventConnected, payload); err != nil {
		h.syncs.Done()
		h.Unsubscribe(sub.id, StateClosedByError)
		return nil, fmt.Errorf("sending handshake: %w", err)
	}
	sub.open()

	h.logger.InfoContext(ctx, "notification connection opened",
		"connection_id", sub.id,
		"connections", n,
	)

	go h.initialSync(ctx, sub)

	return sub, nil
}

func (h *Hub) initialSync(ctx context.Context, sub *Subscription) {
	defer h.syncs.Done()
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "initial sync panicked",
				"connection_id", sub.id,
				"panic", r,
			)
		}
	}()

	for _, n := range h.feed.Recent(ctx, InitialSyncLimit) {
		data, err := json.Marshal(n)
		if err != nil {
			h.logger.WarnContext(ctx, "skipping unencodable notification", "id", n.ID, "error", err)
			continue
		}
		sent, err := sub.deliver(n.ID, data)
		if err != nil {
			h.metrics.IncrementFailed()
			h.logger.DebugContext(ctx, "initial sync stopped",
				"connection_id", sub.id,
				"error", err,
			)
			return
		}
		if sent {
			h.metrics.IncrementSent()
		}
	}
}

// Unsubscribe deregisters a connection and closes it with state. It waits for
// an in-flight write on that connection. Only the first call returns true.
func (h *Hub) Unsubscribe(id string, state State) bool {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	n := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return false
	}

	closed := sub.close(state)
	h.metrics.SetActiveConnections(n)
	if closed {
		h.metrics.IncrementDisconnect(state.String())
		h.logger.Info("notification connection closed",
			"connection_id", id,
			"state", state.String(),
			"connections", n,
		)
	}
	return closed
}

// BroadcastTick pushes the latest notifications to every connection. With no
// connections it does nothing, not even read the feed.
func (h *Hub) BroadcastTick(ctx context.Context) {
	if h.Len() == 0 {
		return
	}
	h.Publish(ctx, h.feed.Recent(ctx, BroadcastLimit))
}

// OnTransition publishes a recorded strategy transition immediately.
func (h *Hub) OnTransition(ctx context.Context, ev strategy.TransitionEvent) {
	if h.Len() == 0 {
		return
	}
	h.Publish(ctx, []Notification{h.feed.FromStrategyEvent(ev)})
}

// Publish fans notifications out to every registered connection, one
// goroutine per connection. A connection whose send fails is deregistered.
func (h *Hub) Publish(ctx context.Context, notifications []Notification) {
	if len(notifications) == 0 {
		return
	}
	subs := h.snapshot()
	if len(subs) == 0 {
		return
	}

	ctx, span := h.tracer.Start(ctx, "notification.publish",
		trace.WithAttributes(
			attribute.Int("notifications", len(notifications)),
			attribute.Int("connections", len(subs)),
		),
	)
	defer span.End()
	start := h.clock()

	type frame struct {
		id   string
		data []byte
	}
	frames := make([]frame, 0, len(notifications))
	for _, n := range notifications {
		data, err := json.Marshal(n)
		if err != nil {
			h.logger.WarnContext(ctx, "skipping unencodable notification", "id", n.ID, "error", err)
			continue
		}
		frames = append(frames, frame{id: n.ID, data: data})
	}

	var g errgroup.Group
	for _, sub := range subs {
		g.Go(func() error {
			for _, f := range frames {
				sent, err := sub.deliver(f.id, f.data)
				if err != nil {
					h.metrics.IncrementFailed()
					h.logger.WarnContext(ctx, "notification push failed",
						"connection_id", sub.id,
						"error", err,
					)
					h.Unsubscribe(sub.id, StateClosedByError)
					return nil
				}
				if sent {
					h.metrics.IncrementSent()
				} else {
					h.metrics.IncrementDuplicate()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	h.metrics.ObserveBroadcastLatency(h.clock().Sub(start))
}

// PollRecent returns the current notifications without touching connections.
func (h *Hub) PollRecent(ctx context.Context, limit int) []Notification {
	return h.feed.Recent(ctx, limit)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Connections lists registered connections, oldest first.
func (h *Hub) Connections() []ConnectionInfo {
	subs := h.snapshot()
	out := make([]ConnectionInfo, 0, len(subs))
	for _, sub := range subs {
		out = append(out, ConnectionInfo{
			ID:          sub.id,
			State:       sub.State(),
			ConnectedAt: sub.connectedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Close refuses further subscriptions, deregisters every connection and waits
// for background syncs.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, sub := range h.snapshot() {
		h.Unsubscribe(sub.id, StateClosedByShutdown)
	}
	h.syncs.Wait()
}

// Wait blocks until all initial syncs started so far have finished.
func (h *Hub) Wait() {
	h.syncs.Wait()
}

func (h *Hub) snapshot() []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, sub)
	}
	return out
}
