package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe(EventTick, 4)
	defer unsub()

	bus.Publish(EventTick, 42)

	select {
	case got := <-ch:
		if got != 42 {
			t.Fatalf("got %v, want 42", got)
		}
	default:
		t.Fatal("no message delivered")
	}
}

func TestPublishDoesNotReachOtherEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe(EventTriggerCreated, 4)
	defer unsub()

	bus.Publish(EventTick, 1)

	select {
	case got := <-ch:
		t.Fatalf("unexpected message %v", got)
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe(EventTick, 1)
	defer unsub()

	bus.Publish(EventTick, 1)
	bus.Publish(EventTick, 2) // buffer full, must not block

	if got := <-ch; got != 1 {
		t.Fatalf("got %v, want 1", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("second message %v should have been dropped", got)
	default:
	}
}

func TestReliableSubscriberLosesNothing(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.SubscribeReliable(EventTriggerCreated)
	defer unsub()

	// Publish a burst far beyond any buffer before reading a single
	// message: every payload must arrive, in order.
	const n = 1000
	for i := 0; i < n; i++ {
		bus.Publish(EventTriggerCreated, i)
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-ch:
			if got != i {
				t.Fatalf("message %d = %v, want %d", i, got, i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestReliableUnsubscribeDrainsThenCloses(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.SubscribeReliable(EventTriggerDeleted)
	bus.Publish(EventTriggerDeleted, "a")
	bus.Publish(EventTriggerDeleted, "b")
	unsub()
	unsub() // idempotent

	var got []any
	for v := range ch {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("drained %v, want [a b]", got)
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventTriggerDeleted, "c")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe(EventTick, 1)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventTick, 1)
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe(EventTick, 1)

	bus.Close()
	bus.Close() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after bus close")
	}
	bus.Publish(EventTick, 1) // no-op
}
