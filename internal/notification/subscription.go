package notification

import (
	"fmt"
	"sync"
	"time"

	"beacon/pkg/platform/sentinel"
)

// seenCapacity bounds the per-connection set of delivered ids.
const seenCapacity = 256

// State is the lifecycle state of a push connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosedByClient
	StateClosedByError
	StateClosedByTimeout
	StateClosedByShutdown
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosedByClient:
		return "CLOSED_BY_CLIENT"
	case StateClosedByError:
		return "CLOSED_BY_ERROR"
	case StateClosedByTimeout:
		return "CLOSED_BY_TIMEOUT"
	case StateClosedByShutdown:
		return "CLOSED_BY_SHUTDOWN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Closed reports whether s is terminal.
func (s State) Closed() bool {
	return s >= StateClosedByClient
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sender writes one named event to a client. Implementations enforce their own
// write timeout.
type Sender interface {
	Send(event string, data []byte) error
}

// Subscription is one registered push connection. All writes go through its
// mutex, so a connection never sees interleaved frames.
type Subscription struct {
	id          string
	connectedAt time.Time
	sender      Sender
	done        chan struct{}

	mu    sync.Mutex
	state State
	seen  seenSet
}

func newSubscription(id string, sender Sender, at time.Time) *Subscription {
	return &Subscription{
		id:          id,
		connectedAt: at,
		sender:      sender,
		done:        make(chan struct{}),
		state:       StateConnecting,
		seen:        newSeenSet(seenCapacity),
	}
}

func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) ConnectedAt() time.Time {
	return s.connectedAt
}

// Done is closed once the subscription is deregistered.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) send(event string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Closed() {
		return sentinel.ErrClosed
	}
	return s.sender.Send(event, data)
}

// deliver pushes a notification unless this connection has already received
// its id. It reports whether a frame was written.
func (s *Subscription) deliver(id string, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Closed() {
		return false, sentinel.ErrClosed
	}
	if s.seen.contains(id) {
		return false, nil
	}
	if err := s.sender.Send(EventNotification, data); err != nil {
		return false, err
	}
	s.seen.add(id)
	return true, nil
}

func (s *Subscription) open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.state = StateOpen
	}
}

// close moves to a terminal state. Only the first call has effect.
func (s *Subscription) close(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Closed() {
		return false
	}
	s.state = state
	close(s.done)
	return true
}

// seenSet is a fixed-size FIFO set of ids.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	next  int
}

func newSeenSet(capacity int) seenSet {
	return seenSet{
		ids:   make(map[string]struct{}, capacity),
		order: make([]string, 0, capacity),
	}
}

func (s *seenSet) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	if s.contains(id) {
		return
	}
	if len(s.order) < cap(s.order) {
		s.order = append(s.order, id)
	} else {
		delete(s.ids, s.order[s.next])
		s.order[s.next] = id
		s.next = (s.next + 1) % len(s.order)
	}
	s.ids[id] = struct{}{}
}
