package memory

import (
	"context"
	"sort"
	"sync"

	"beacon/internal/telemetry"
)

// Store is an in-process telemetry source for development and tests.
type Store struct {
	mu     sync.RWMutex
	events []telemetry.Event
}

func New() *Store {
	return &Store{}
}

// Append adds events to the store.
func (s *Store) Append(events ...telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// Clear removes every event.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// ListEvents returns matching events, newest first.
func (s *Store) ListEvents(ctx context.Context, q telemetry.Query) ([]telemetry.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]telemetry.Event, 0, len(s.events))
	for _, ev := range s.events {
		if q.Matches(ev) {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
