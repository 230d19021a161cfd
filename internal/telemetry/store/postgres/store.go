package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"beacon/internal/telemetry"
)

const listEventsQuery = `
	SELECT event_id, tenant_id, event_type, occurred_at, payload
	FROM security_telemetry_events
	WHERE ($1 = '' OR event_type = $1)
	  AND ($2 = '' OR tenant_id = $2)
	  AND occurred_at >= $3
	  AND occurred_at <= $4
	ORDER BY occurred_at DESC
	LIMIT $5
`

// Store reads telemetry from the security_telemetry_events table.
type Store struct {
	db *sql.DB
}

// New creates a Postgres-backed telemetry source.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListEvents returns matching events, newest first. Rows whose payload is not a
// JSON object are returned with a nil payload so callers can skip them.
func (s *Store) ListEvents(ctx context.Context, q telemetry.Query) ([]telemetry.Event, error) {
	from, to := queryBounds(q)
	var limit sql.NullInt64
	if q.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(q.Limit), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, listEventsQuery, q.EventType, q.TenantID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list telemetry events: %w", err)
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var (
			ev      telemetry.Event
			payload []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.TenantID, &ev.EventType, &ev.OccurredAt, &payload); err != nil {
			return nil, fmt.Errorf("scan telemetry event: %w", err)
		}
		ev.Payload = decodePayload(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry events: %w", err)
	}
	return events, nil
}

func decodePayload(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return payload
}
