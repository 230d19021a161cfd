package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"beacon/internal/strategy"
	"beacon/internal/telemetry"
)

// Translation windows.
const (
	StrategyWindow         = 50
	DefaultTelemetryWindow = time.Hour
	DefaultEventType       = "SECURITY"
)

// strategyIDNamespace scopes the name-based UUIDs of strategy notifications.
var strategyIDNamespace = uuid.MustParse("6f1f5c3e-8d2a-4b7e-9a41-3c0d2e7b5a10")

// StrategyEventLister is the read side of the strategy event log.
type StrategyEventLister interface {
	RecentEvents(limit int) []strategy.TransitionEvent
}

// Translator builds Notifications from strategy transitions and security
// telemetry.
type Translator struct {
	strategies StrategyEventLister
	telemetry  telemetry.Source
	eventType  string
	tenantID   string
	window     time.Duration
	logger     *slog.Logger
	clock      func() time.Time
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithTenant restricts telemetry reads to one tenant.
func WithTenant(tenantID string) TranslatorOption {
	return func(t *Translator) {
		t.tenantID = tenantID
	}
}

// WithEventType selects the telemetry event type to read.
func WithEventType(eventType string) TranslatorOption {
	return func(t *Translator) {
		if eventType != "" {
			t.eventType = eventType
		}
	}
}

// WithTelemetryWindow sets how far back telemetry is read.
func WithTelemetryWindow(d time.Duration) TranslatorOption {
	return func(t *Translator) {
		if d > 0 {
			t.window = d
		}
	}
}

func WithTranslatorLogger(logger *slog.Logger) TranslatorOption {
	return func(t *Translator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithTranslatorClock(clock func() time.Time) TranslatorOption {
	return func(t *Translator) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewTranslator creates a translator over both event sources.
func NewTranslator(strategies StrategyEventLister, source telemetry.Source, opts ...TranslatorOption) (*Translator, error) {
	if strategies == nil {
		return nil, errors.New("strategy event lister is required")
	}
	if source == nil {
		return nil, errors.New("telemetry source is required")
	}
	t := &Translator{
		strategies: strategies,
		telemetry:  source,
		eventType:  DefaultEventType,
		window:     DefaultTelemetryWindow,
		logger:     slog.Default(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// FromStrategyEvent translates a transition. The id is derived from domain and
// occurrence time, so translating the same stored event twice yields the same id.
func (t *Translator) FromStrategyEvent(ev strategy.TransitionEvent) Notification {
	severity := SeverityInfo
	if ev.Reason.IsDegraded() {
		severity = SeverityWarning
	}
	return Notification{
		ID:        StrategyNotificationID(ev),
		Timestamp: FormatTimestamp(ev.OccurredAt),
		Severity:  severity,
		Message: fmt.Sprintf("Strategy for domain %s changed from %s to %s",
			ev.Domain, ev.From.Reason, ev.To.Reason),
	}
}

// StrategyNotificationID is the deterministic id of a transition notification.
func StrategyNotificationID(ev strategy.TransitionEvent) string {
	name := ev.Domain + "|" + ev.OccurredAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(strategyIDNamespace, []byte(name)).String()
}

// FromTelemetryEvent translates a security event. It returns false when the
// payload is malformed and the event should be skipped.
func (t *Translator) FromTelemetryEvent(ev telemetry.Event) (Notification, bool) {
	action, raw, err := telemetry.PayloadAction(ev.Payload)
	if err != nil {
		t.logger.Debug("skipping telemetry event",
			"event_id", ev.EventID,
			"error", err,
		)
		return Notification{}, false
	}

	n := Notification{
		ID:        ev.EventID,
		Timestamp: FormatTimestamp(ev.OccurredAt),
	}
	switch action {
	case telemetry.ActionPIIBlocked:
		n.Severity = SeverityWarning
		n.Message = "Personal data was detected and blocked"
	case telemetry.ActionExternalDomainBlocked:
		n.Severity = SeverityError
		n.Message = "A request to an external domain was blocked"
	case telemetry.ActionSuspiciousActivity:
		n.Severity = SeverityError
		n.Message = "Suspicious activity was detected"
	default:
		n.Severity = SeverityInfo
		n.Message = "Security event recorded: " + raw
	}
	if detail, ok := ev.Payload["detail"].(string); ok && detail != "" {
		n.Message += " (" + detail + ")"
	}
	return n, true
}

// Recent merges the newest strategy notifications with telemetry from the
// configured window, newest first, truncated to limit. A failing telemetry
// source only removes its own share of the result.
func (t *Translator) Recent(ctx context.Context, limit int) []Notification {
	if limit <= 0 {
		return []Notification{}
	}

	out := t.strategyNotifications(ctx)
	out = append(out, t.telemetryNotifications(ctx)...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (t *Translator) strategyNotifications(ctx context.Context) (out []Notification) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.ErrorContext(ctx, "strategy notifications unavailable", "panic", r)
			out = nil
		}
	}()

	events := t.strategies.RecentEvents(StrategyWindow)
	out = make([]Notification, 0, len(events))
	for _, ev := range events {
		out = append(out, t.FromStrategyEvent(ev))
	}
	return out
}

func (t *Translator) telemetryNotifications(ctx context.Context) (out []Notification) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.ErrorContext(ctx, "telemetry notifications unavailable", "panic", r)
			out = nil
		}
	}()

	now := t.clock()
	events, err := t.telemetry.ListEvents(ctx, telemetry.Query{
		EventType: t.eventType,
		TenantID:  t.tenantID,
		From:      now.Add(-t.window),
		To:        now,
	})
	if err != nil {
		t.logger.WarnContext(ctx, "telemetry lookup failed, returning strategy notifications only",
			"error", err,
		)
		return nil
	}

	out = make([]Notification, 0, len(events))
	for _, ev := range events {
		if n, ok := t.FromTelemetryEvent(ev); ok {
			out = append(out, n)
		}
	}
	return out
}
