package strategy

import (
	"sync"
	"time"
)

// Event log sizing.
const (
	DefaultEventLogCapacity = 500
	MinEventLogCapacity     = 100
)

// Store holds the last known strategy per domain and a bounded, append-only
// log of transitions. When the log is full the oldest event is overwritten.
// Every appended event's To equals the domain's last strategy at append time.
type Store struct {
	mu   sync.RWMutex
	last map[string]Strategy

	events  []TransitionEvent
	head    int // next write position
	count   int
	seq     uint64
	dropped int64
}

// NewStore creates a store whose log keeps capacity events. Capacities below
// MinEventLogCapacity are raised to it; zero or negative selects the default.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	if capacity < MinEventLogCapacity {
		capacity = MinEventLogCapacity
	}
	return &Store{
		last:   make(map[string]Strategy),
		events: make([]TransitionEvent, capacity),
	}
}

// RecordEvent appends a transition and makes to the domain's last strategy.
func (s *Store) RecordEvent(domain string, from, to Strategy, at time.Time) TransitionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(domain, from, to, at)
}

// Apply records a transition to candidate if it differs from the domain's last
// strategy. A domain with no history compares as the zero Strategy.
func (s *Store) Apply(domain string, candidate Strategy, at time.Time) (TransitionEvent, bool) {
	return s.Transition(domain, func(Strategy) Strategy { return candidate }, at)
}

// Transition computes the next strategy from the current one and records it
// when it changed. The read and the write happen under one lock, so concurrent
// evaluations of the same domain cannot both append the same change.
func (s *Store) Transition(domain string, next func(from Strategy) Strategy, at time.Time) (TransitionEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.last[domain]
	to := next(from)
	if to == from {
		return TransitionEvent{}, false
	}
	return s.appendLocked(domain, from, to, at), true
}

func (s *Store) appendLocked(domain string, from, to Strategy, at time.Time) TransitionEvent {
	s.seq++
	ev := TransitionEvent{
		Seq:        s.seq,
		Domain:     domain,
		From:       from,
		To:         to,
		Reason:     to.Reason,
		OccurredAt: at,
	}

	capacity := len(s.events)
	if s.count == capacity {
		s.dropped++
	} else {
		s.count++
	}
	s.events[s.head] = ev
	s.head = (s.head + 1) % capacity

	s.last[domain] = to
	return ev
}

// Last returns the domain's last recorded strategy.
func (s *Store) Last(domain string) (Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.last[domain]
	return st, ok
}

// RecentEvents returns up to limit of the newest events, oldest first.
func (s *Store) RecentEvents(limit int) []TransitionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []TransitionEvent{}
	}
	n := min(limit, s.count)
	return s.tailLocked(n)
}

func (s *Store) tailLocked(n int) []TransitionEvent {
	capacity := len(s.events)
	out := make([]TransitionEvent, n)
	start := (s.head - n + capacity) % capacity
	for i := 0; i < n; i++ {
		out[i] = s.events[(start+i)%capacity]
	}
	return out
}

// Snapshot copies the last-strategy map.
func (s *Store) Snapshot() map[string]Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Strategy, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Capacity returns the size of the event log.
func (s *Store) Capacity() int {
	return len(s.events)
}

// Dropped returns how many events were overwritten.
func (s *Store) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}
