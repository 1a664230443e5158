package eventbus

import (
	"testing"
	"time"

	"github.com/worldforge/orchestrator/internal/domain"
)

func TestBus_SubscribeReceivesPublishedEvents(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(domain.Event{Kind: domain.EventRunStarted, RunID: "run-1"})

	select {
	case ev := <-sub.Events:
		if ev.RunID != "run-1" || ev.Kind != domain.EventRunStarted {
			t.Fatalf("got %+v, want run-1/RunStarted", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_BroadcastsToMultipleSubscribers(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()
	defer a.Close()
	defer c.Close()

	b.Publish(domain.Event{Kind: domain.EventRunStarted, RunID: "run-1"})

	for _, sub := range []*Subscription{a, c} {
		select {
		case <-sub.Events:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive broadcast event")
		}
	}
}

func TestBus_DropsOldestOnFullBuffer(t *testing.T) {
	b := New(WithBufferSize(2))
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(domain.Event{Kind: domain.EventRunStarted, RunID: "1"})
	b.Publish(domain.Event{Kind: domain.EventRunStarted, RunID: "2"})
	b.Publish(domain.Event{Kind: domain.EventRunStarted, RunID: "3"}) // evicts "1"

	first := <-sub.Events
	second := <-sub.Events
	if first.RunID != "2" || second.RunID != "3" {
		t.Fatalf("got %s, %s; want 2, 3 (1 dropped)", first.RunID, second.RunID)
	}
	if sub.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", sub.Dropped())
	}
}

func TestBus_PublishReachesAttachedSink(t *testing.T) {
	var got []domain.Event
	sinkFn := sinkFunc(func(e domain.Event) { got = append(got, e) })
	b := New(WithSink(sinkFn))

	b.Publish(domain.Event{Kind: domain.EventRunFailed, RunID: "run-1"})

	if len(got) != 1 || got[0].RunID != "run-1" {
		t.Fatalf("sink received %+v, want one RunFailed event for run-1", got)
	}
}

type sinkFunc func(domain.Event)

func (f sinkFunc) Publish(e domain.Event) { f(e) }

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Close()

	b.Publish(domain.Event{Kind: domain.EventRunStarted, RunID: "run-1"})

	if _, ok := <-sub.Events; ok {
		t.Fatal("expected closed channel after Close()")
	}
}
