package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusPublishMatchesTopic(t *testing.T) {
	bus := New(testLogger())
	nodeEvents, unsubscribe := bus.Subscribe(Topic{Kind: KindNode})
	defer unsubscribe()

	podEvents, unsubscribePod := bus.Subscribe(Topic{Kind: KindPod})
	defer unsubscribePod()

	bus.Publish(context.Background(), ChangeEvent{Kind: KindNode, Action: ActionCreated, ResourceID: "n1"})

	select {
	case ev := <-nodeEvents:
		if ev.ResourceID != "n1" {
			t.Errorf("resourceID = %q, want n1", ev.ResourceID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for node subscriber")
	}

	select {
	case ev := <-podEvents:
		t.Fatalf("pod subscriber received unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusWildcardSubscriberReceivesEverything(t *testing.T) {
	bus := New(testLogger())
	all, unsubscribe := bus.Subscribe(Topic{})
	defer unsubscribe()

	bus.Publish(context.Background(), ChangeEvent{Kind: KindService, Action: ActionUpdated, ResourceID: "s1"})
	bus.Publish(context.Background(), ChangeEvent{Kind: KindPod, Action: ActionDeleted, ResourceID: "p1"})

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := New(testLogger())
	events, unsubscribe := bus.Subscribe(Topic{Kind: KindPack})
	unsubscribe()

	_, ok := <-events
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestBusPublishDropsOnFullBuffer(t *testing.T) {
	bus := New(testLogger())
	events, unsubscribe := bus.Subscribe(Topic{Kind: KindNode})
	defer unsubscribe()

	ctx := context.Background()
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(ctx, ChangeEvent{Kind: KindNode, Action: ActionUpdated, ResourceID: "n1"})
	}

	count := 0
drain:
	for {
		select {
		case <-events:
			count++
		default:
			break drain
		}
	}
	if count != subscriberBuffer {
		t.Errorf("drained %d events, want %d (excess should have been dropped)", count, subscriberBuffer)
	}
}
