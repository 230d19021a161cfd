// Package telemetry reads the external security telemetry feed. Records are
// owned by another service; this package only decodes and filters them.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"beacon/pkg/platform/sentinel"
)

//go:generate mockgen -source=models.go -destination=mocks/mocks.go -package=mocks Source

// Event is one security telemetry record.
type Event struct {
	EventID    string
	TenantID   string
	EventType  string
	OccurredAt time.Time
	Payload    map[string]any
}

// Query filters a telemetry read. Zero Limit means no limit.
type Query struct {
	EventType string
	TenantID  string
	From      time.Time
	To        time.Time
	Limit     int
}

// Matches reports whether ev satisfies the filters of q. From and To are
// inclusive; empty string filters match everything.
func (q Query) Matches(ev Event) bool {
	if q.EventType != "" && ev.EventType != q.EventType {
		return false
	}
	if q.TenantID != "" && ev.TenantID != q.TenantID {
		return false
	}
	if !q.From.IsZero() && ev.OccurredAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ev.OccurredAt.After(q.To) {
		return false
	}
	return true
}

// Source lists telemetry events, newest first.
type Source interface {
	ListEvents(ctx context.Context, q Query) ([]Event, error)
}

// Action is the decoded payload["action"] of a security event.
type Action int

const (
	ActionUnknown Action = iota
	ActionPIIBlocked
	ActionExternalDomainBlocked
	ActionSuspiciousActivity
)

var actionNames = map[string]Action{
	"PII_BLOCKED":             ActionPIIBlocked,
	"EXTERNAL_DOMAIN_BLOCKED": ActionExternalDomainBlocked,
	"SUSPICIOUS_ACTIVITY":     ActionSuspiciousActivity,
}

func (a Action) String() string {
	for name, v := range actionNames {
		if v == a {
			return name
		}
	}
	return "UNKNOWN"
}

// PayloadAction decodes payload["action"]. Unrecognized actions decode to
// ActionUnknown together with the raw value. A nil payload or a missing,
// non-string or blank action is malformed.
func PayloadAction(payload map[string]any) (Action, string, error) {
	if payload == nil {
		return ActionUnknown, "", fmt.Errorf("payload is nil: %w", sentinel.ErrMalformed)
	}
	raw, ok := payload["action"]
	if !ok {
		return ActionUnknown, "", fmt.Errorf("payload has no action: %w", sentinel.ErrMalformed)
	}
	name, ok := raw.(string)
	if !ok {
		return ActionUnknown, "", fmt.Errorf("action is %T, not string: %w", raw, sentinel.ErrMalformed)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ActionUnknown, "", fmt.Errorf("action is blank: %w", sentinel.ErrMalformed)
	}
	if a, ok := actionNames[strings.ToUpper(name)]; ok {
		return a, name, nil
	}
	return ActionUnknown, name, nil
}
