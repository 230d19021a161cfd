package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"beacon/internal/notification/metrics"
	"beacon/internal/strategy"
	"beacon/pkg/platform/sentinel"
)

// =============================================================================
// Hub Test Suite
// =============================================================================
// The hub owns the connection registry; these tests pin registration,
// failure isolation during fan-out and per-connection dedup.

type fakeFeed struct {
	mu            sync.Mutex
	notifications []Notification
	recentCalls   atomic.Int32
}

func (f *fakeFeed) set(notifications ...Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = notifications
}

func (f *fakeFeed) Recent(_ context.Context, limit int) []Notification {
	f.recentCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]Notification(nil), f.notifications...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *fakeFeed) FromStrategyEvent(ev strategy.TransitionEvent) Notification {
	return Notification{
		ID:        "strategy-" + ev.Domain,
		Timestamp: FormatTimestamp(ev.OccurredAt),
		Severity:  SeverityInfo,
		Message:   "changed " + ev.Domain,
	}
}

type frame struct {
	event string
	data  []byte
}

type fakeSender struct {
	mu     sync.Mutex
	frames []frame
	fail   error
	// failAfter fails every send once this many frames were written; <0 disables
	failAfter int
}

func newFakeSender() *fakeSender {
	return &fakeSender{failAfter: -1}
}

func (f *fakeSender) Send(event string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if f.failAfter >= 0 && len(f.frames) >= f.failAfter {
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, frame{event: event, data: data})
	return nil
}

func (f *fakeSender) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeSender) events(name string) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Notification
	for _, fr := range f.frames {
		if fr.event != name {
			continue
		}
		var n Notification
		if err := json.Unmarshal(fr.data, &n); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeSender) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fr := range f.frames {
		if fr.event == name {
			n++
		}
	}
	return n
}

type HubSuite struct {
	suite.Suite
	feed    *fakeFeed
	metrics *metrics.Metrics
	hub     *Hub
	ids     atomic.Int32
	now     time.Time
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) SetupTest() {
	s.feed = &fakeFeed{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s.ids.Store(0)

	var err error
	s.hub, err = NewHub(s.feed,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return s.now }),
		WithIDGenerator(func() string { return fmt.Sprintf("conn-%d", s.ids.Add(1)) }),
	)
	s.Require().NoError(err)
}

func (s *HubSuite) TearDownTest() {
	s.hub.Close()
}

func note(id string, minute int) Notification {
	return Notification{
		ID:        id,
		Timestamp: FormatTimestamp(time.Date(2026, 3, 2, 12, minute, 0, 0, time.UTC)),
		Severity:  SeverityInfo,
		Message:   "message " + id,
	}
}

func (s *HubSuite) subscribe(sender Sender) *Subscription {
	sub, err := s.hub.Subscribe(context.Background(), sender)
	s.Require().NoError(err)
	s.hub.Wait()
	return sub
}

// =============================================================================
// Subscribe
// =============================================================================

func (s *HubSuite) TestNewHubRequiresFeed() {
	_, err := NewHub(nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "feed is required")
}

func (s *HubSuite) TestSubscribeSendsHandshakeThenInitialSync() {
	s.feed.set(note("a", 3), note("b", 2))
	sender := newFakeSender()

	sub := s.subscribe(sender)

	s.Equal(StateOpen, sub.State())
	s.Equal(1, s.hub.Len())
	s.Require().Equal(1, sender.count(EventConnected))
	s.Equal(EventConnected, sender.frames[0].event)

	var hs handshake
	s.Require().NoError(json.Unmarshal(sender.frames[0].data, &hs))
	s.Equal("conn-1", hs.ConnectionID)
	s.Equal("2026-03-02T12:00:00.000Z", hs.ConnectedAt)

	got := sender.events(EventNotification)
	s.Require().Len(got, 2)
	s.Equal("a", got[0].ID)
	s.Equal("b", got[1].ID)
}

func (s *HubSuite) TestSubscribeInitialSyncIsBounded() {
	var batch []Notification
	for i := range 15 {
		batch = append(batch, note(fmt.Sprintf("n%d", i), i))
	}
	s.feed.set(batch...)
	sender := newFakeSender()

	s.subscribe(sender)

	s.Len(sender.events(EventNotification), InitialSyncLimit)
}

func (s *HubSuite) TestSubscribeHandshakeFailureDeregisters() {
	sender := newFakeSender()
	sender.setFail(errors.New("reset by peer"))

	sub, err := s.hub.Subscribe(context.Background(), sender)

	s.Require().Error(err)
	s.Nil(sub)
	s.Equal(0, s.hub.Len())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Disconnects.WithLabelValues("CLOSED_BY_ERROR")))
}

func (s *HubSuite) TestInitialSyncFailureKeepsConnection() {
	s.feed.set(note("a", 1), note("b", 2))
	sender := newFakeSender()
	sender.failAfter = 1 // handshake only

	sub := s.subscribe(sender)

	s.Equal(StateOpen, sub.State())
	s.Equal(1, s.hub.Len())
	s.Empty(sender.events(EventNotification))
}

// =============================================================================
// Unsubscribe
// =============================================================================

func (s *HubSuite) TestUnsubscribeIsIdempotent() {
	sub := s.subscribe(newFakeSender())

	s.True(s.hub.Unsubscribe(sub.ID(), StateClosedByClient))
	s.False(s.hub.Unsubscribe(sub.ID(), StateClosedByTimeout))

	s.Equal(StateClosedByClient, sub.State())
	s.Equal(0, s.hub.Len())
	select {
	case <-sub.Done():
	default:
		s.Fail("done channel not closed")
	}
}

func (s *HubSuite) TestSendAfterUnsubscribeReturnsClosed() {
	sender := newFakeSender()
	sub := s.subscribe(sender)
	s.hub.Unsubscribe(sub.ID(), StateClosedByClient)

	_, err := sub.deliver("late", []byte(`{}`))

	s.ErrorIs(err, sentinel.ErrClosed)
	s.Empty(sender.events(EventNotification))
}

func (s *HubSuite) TestUnsubscribeUnknownID() {
	s.False(s.hub.Unsubscribe("missing", StateClosedByClient))
}

// =============================================================================
// Broadcast
// =============================================================================

func (s *HubSuite) TestBroadcastTickWithoutConnectionsSkipsFeed() {
	s.hub.BroadcastTick(context.Background())

	s.Equal(int32(0), s.feed.recentCalls.Load())
}

func (s *HubSuite) TestBroadcastTickFailureIsolatesConnection() {
	a := newFakeSender()
	b := newFakeSender()
	subA := s.subscribe(a)
	subB := s.subscribe(b)
	a.setFail(errors.New("broken pipe"))
	s.feed.set(note("x", 5))

	s.hub.BroadcastTick(context.Background())

	s.Equal(1, s.hub.Len())
	s.Equal(StateClosedByError, subA.State())
	s.Equal(StateOpen, subB.State())
	got := b.events(EventNotification)
	s.Require().Len(got, 1)
	s.Equal("x", got[0].ID)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues("failed")))
}

func (s *HubSuite) TestBroadcastTickReadsFeedOnce() {
	s.subscribe(newFakeSender())
	s.subscribe(newFakeSender())
	s.subscribe(newFakeSender())
	before := s.feed.recentCalls.Load()

	s.hub.BroadcastTick(context.Background())

	s.Equal(before+1, s.feed.recentCalls.Load())
}

func (s *HubSuite) TestBroadcastSkipsAlreadyDelivered() {
	s.feed.set(note("a", 1))
	sender := newFakeSender()
	s.subscribe(sender)
	s.Require().Len(sender.events(EventNotification), 1)

	s.feed.set(note("b", 2), note("a", 1))
	s.hub.BroadcastTick(context.Background())
	s.hub.BroadcastTick(context.Background())

	got := sender.events(EventNotification)
	s.Require().Len(got, 2)
	s.Equal("a", got[0].ID)
	s.Equal("b", got[1].ID)
	s.Equal(float64(3), testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues("duplicate")))
}

func (s *HubSuite) TestOnTransitionPublishesImmediately() {
	sender := newFakeSender()
	s.subscribe(sender)

	s.hub.OnTransition(context.Background(), strategy.TransitionEvent{Domain: "HR", OccurredAt: s.now})

	got := sender.events(EventNotification)
	s.Require().Len(got, 1)
	s.Equal("strategy-HR", got[0].ID)
}

func (s *HubSuite) TestConcurrentBroadcastAndUnsubscribe() {
	var subs []*Subscription
	for range 20 {
		subs = append(subs, s.subscribe(newFakeSender()))
	}
	s.feed.set(note("a", 1), note("b", 2))

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.hub.BroadcastTick(context.Background())
		}()
		go func() {
			defer wg.Done()
			s.hub.Unsubscribe(sub.ID(), StateClosedByClient)
		}()
	}
	wg.Wait()

	s.Equal(0, s.hub.Len())
	for _, sub := range subs {
		s.Equal(StateClosedByClient, sub.State())
	}
}

// =============================================================================
// Diagnostics
// =============================================================================

func (s *HubSuite) TestConnectionsSnapshot() {
	s.subscribe(newFakeSender())
	s.now = s.now.Add(time.Second)
	s.subscribe(newFakeSender())

	got := s.hub.Connections()

	s.Require().Len(got, 2)
	s.Equal("conn-1", got[0].ID)
	s.Equal("conn-2", got[1].ID)
	s.Equal(StateOpen, got[0].State)
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.ActiveConnections))
}

func (s *HubSuite) TestCloseDeregistersAll() {
	sub := s.subscribe(newFakeSender())

	s.hub.Close()

	s.Equal(0, s.hub.Len())
	s.Equal(StateClosedByShutdown, sub.State())
}

func (s *HubSuite) TestSubscribeAfterCloseIsRefused() {
	s.hub.Close()
	sender := newFakeSender()

	sub, err := s.hub.Subscribe(context.Background(), sender)

	s.ErrorIs(err, sentinel.ErrClosed)
	s.Nil(sub)
	s.Equal(0, s.hub.Len())
	s.Zero(sender.count(EventConnected), "no handshake after shutdown")
}

func (s *HubSuite) TestSubscribeRacingCloseLeavesNoConnections() {
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.hub.Subscribe(context.Background(), newFakeSender())
		}()
	}
	s.hub.Close()
	wg.Wait()
	s.hub.Close()

	s.Equal(0, s.hub.Len())
}

func (s *HubSuite) TestStateText() {
	b, err := json.Marshal(ConnectionInfo{ID: "c", State: StateClosedByTimeout})
	s.Require().NoError(err)
	s.Contains(string(b), `"state":"CLOSED_BY_TIMEOUT"`)
}

// =============================================================================
// Seen Set
// =============================================================================

func TestSeenSetEvictsOldest(t *testing.T) {
	set := newSeenSet(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		set.add(id)
	}
	if set.contains("a") {
		t.Fatal("expected oldest id to be evicted")
	}
	for _, id := range []string{"b", "c", "d"} {
		if !set.contains(id) {
			t.Fatalf("expected %s to be retained", id)
		}
	}
	set.add("b")
	set.add("e")
	if set.contains("b") {
		t.Fatal("re-adding an id must not refresh its position")
	}
}
