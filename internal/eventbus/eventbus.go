// Package eventbus implements C10: an in-process, broadcast, multi-consumer
// publish/subscribe bus for domain.Event. Every subscriber gets its own
// bounded, drop-oldest channel so a slow consumer can never make Publish
// block, per §4.9; a Sink seam lets external bridges (internal/notify's
// webhook notifier, internal/telemetry's logger) observe the same stream
// without going through a channel at all.
package eventbus

import (
	"sync"
	"time"

	"github.com/worldforge/orchestrator/internal/domain"
)

// DefaultBufferSize is the per-subscriber channel capacity (§4.9's "bounded
// buffer (default 1000)").
const DefaultBufferSize = 1000

// Sink is the narrow interface a notification bridge implements to receive
// every published event, independent of the bounded per-subscriber
// channels Subscribe hands out. internal/notify's HTTP notifier is adapted
// to this shape so the webhook sees every lifecycle event, not just the
// ones a particular subscriber happened to be draining.
type Sink interface {
	Publish(event domain.Event)
}

// subscriber is one bounded, drop-oldest event channel plus the counter of
// events it has dropped.
type subscriber struct {
	ch      chan domain.Event
	dropped *uint64
}

// Bus is the event bus. Publish never blocks: a full subscriber channel has
// its oldest event evicted to make room, mirroring a ring buffer's
// drop-oldest semantics without requiring every subscriber to drain at the
// same rate.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int
	sinks       []Sink
	clock       func() time.Time
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithBufferSize overrides the default per-subscriber channel capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) { b.bufferSize = n }
}

// WithSink attaches a Sink that receives every published event, in
// addition to whatever Subscribe channels exist. Used to bridge into
// external notifiers and observability backends.
func WithSink(s Sink) Option {
	return func(b *Bus) { b.sinks = append(b.sinks, s) }
}

// WithClock overrides the bus's time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.clock = now }
}

// New constructs a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[int]*subscriber),
		bufferSize:  DefaultBufferSize,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is a live handle on a subscriber's channel, returned by
// Subscribe. Callers read Events until they call Close, after which no
// more events are delivered and the channel is closed.
type Subscription struct {
	id     int
	bus    *Bus
	Events <-chan domain.Event
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subscribers, s.id)
	}
}

// Dropped reports how many events this subscription has had evicted due to
// a full buffer.
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		return *sub.dropped
	}
	return 0
}

// Subscribe registers a new consumer and returns its Subscription. Multiple
// subscriptions receive every published event independently (broadcast,
// not work-queue, semantics) — for a given run, events arrive at every
// subscriber in publication order, per §5's ordering guarantee.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped uint64
	sub := &subscriber{
		ch:      make(chan domain.Event, b.bufferSize),
		dropped: &dropped,
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub

	return &Subscription{id: id, bus: b, Events: sub.ch}
}

// Publish broadcasts event to every live subscription and sink. It never
// blocks: if a subscriber's channel is full, the oldest queued event is
// dropped to make room and that subscriber's dropped counter increments.
func (b *Bus) Publish(event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.clock()
	}

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()

	for _, sub := range subs {
		deliver(sub, event)
	}
	for _, sink := range sinks {
		sink.Publish(event)
	}
}

// deliver sends event to sub's channel, evicting the oldest queued event
// (if any) and incrementing the drop counter when the channel is full.
func deliver(sub *subscriber, event domain.Event) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	select {
	case <-sub.ch:
		*sub.dropped++
	default:
	}
	select {
	case sub.ch <- event:
	default:
		*sub.dropped++
	}
}

