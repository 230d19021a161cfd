// Package redisstream reads security telemetry from a Redis Stream whose entry
// IDs are millisecond timestamps, so a time range maps onto an ID range.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"beacon/internal/telemetry"
	"beacon/pkg/platform/sentinel"
)

// Stream entry fields.
const (
	fieldEventID    = "event_id"
	fieldTenantID   = "tenant_id"
	fieldEventType  = "event_type"
	fieldOccurredAt = "occurred_at"
	fieldPayload    = "payload"
)

const defaultPageSize = 200

// Store pages backwards through a stream with XREVRANGE.
type Store struct {
	client   redis.Cmdable
	stream   string
	pageSize int64
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets how many entries each XREVRANGE call fetches.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = int64(n)
		}
	}
}

// New creates a stream-backed telemetry source.
func New(client redis.Cmdable, stream string, opts ...Option) *Store {
	s := &Store{client: client, stream: stream, pageSize: defaultPageSize}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ListEvents returns matching events, newest first. Entries that cannot be
// decoded are skipped.
func (s *Store) ListEvents(ctx context.Context, q telemetry.Query) ([]telemetry.Event, error) {
	end, start := rangeIDs(q)

	var events []telemetry.Event
	for {
		msgs, err := s.client.XRevRangeN(ctx, s.stream, end, start, s.pageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("read telemetry stream %s: %w", s.stream, err)
		}
		for _, msg := range msgs {
			ev, err := decodeMessage(msg)
			if err != nil || !q.Matches(ev) {
				continue
			}
			events = append(events, ev)
			if q.Limit > 0 && len(events) >= q.Limit {
				return events, nil
			}
		}
		if int64(len(msgs)) < s.pageSize {
			return events, nil
		}
		end = "(" + msgs[len(msgs)-1].ID
	}
}

// rangeIDs converts the query's time range into XREVRANGE end/start IDs.
func rangeIDs(q telemetry.Query) (end, start string) {
	end, start = "+", "-"
	if !q.To.IsZero() {
		end = strconv.FormatInt(q.To.UnixMilli(), 10)
	}
	if !q.From.IsZero() {
		start = strconv.FormatInt(q.From.UnixMilli(), 10)
	}
	return end, start
}

// decodeMessage maps a stream entry onto an Event. A missing occurred_at falls
// back to the entry ID's timestamp; an undecodable payload becomes nil.
func decodeMessage(msg redis.XMessage) (telemetry.Event, error) {
	ev := telemetry.Event{
		EventID:   stringField(msg.Values, fieldEventID),
		TenantID:  stringField(msg.Values, fieldTenantID),
		EventType: stringField(msg.Values, fieldEventType),
	}
	if ev.EventID == "" {
		ev.EventID = msg.ID
	}

	if raw := stringField(msg.Values, fieldOccurredAt); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return telemetry.Event{}, fmt.Errorf("entry %s occurred_at %q: %w", msg.ID, raw, sentinel.ErrMalformed)
		}
		ev.OccurredAt = at
	} else {
		at, err := idTime(msg.ID)
		if err != nil {
			return telemetry.Event{}, err
		}
		ev.OccurredAt = at
	}

	if raw := stringField(msg.Values, fieldPayload); raw != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			ev.Payload = payload
		}
	}
	return ev, nil
}

func idTime(id string) (time.Time, error) {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("entry id %q: %w", id, sentinel.ErrMalformed)
	}
	return time.UnixMilli(n).UTC(), nil
}

func stringField(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
