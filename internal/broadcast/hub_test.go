package broadcast

import (
	"testing"
	"time"
)

func TestHubDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	a, cancelA := hub.Subscribe(4)
	defer cancelA()
	b, cancelB := hub.Subscribe(4)
	defer cancelB()

	hub.Publish(7)

	if got := receive(t, a); got != 7 {
		t.Fatalf("subscriber a got %d", got)
	}
	if got := receive(t, b); got != 7 {
		t.Fatalf("subscriber b got %d", got)
	}
}

func TestHubDropsOldestOnBackpressure(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Publish(1)
	hub.Publish(2)
	hub.Publish(3)

	if got := receive(t, ch); got != 3 {
		t.Fatalf("expected newest value 3, got %d", got)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	hub := NewHub[string]()
	ch, cancel := hub.Subscribe(2)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if hub.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", hub.Len())
	}

	hub.Publish("ignored")
}

func TestHubSubscribeWithInitialValue(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	ch, cancel := hub.SubscribeWith(2, 10)
	defer cancel()
	hub.Publish(11)

	if got := receive(t, ch); got != 10 {
		t.Fatalf("expected initial value first, got %d", got)
	}
	if got := receive(t, ch); got != 11 {
		t.Fatalf("expected published value, got %d", got)
	}
}

func TestHubClose(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	ch, _ := hub.Subscribe(1)
	hub.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after hub close")
	}

	late, cancel := hub.Subscribe(1)
	defer cancel()
	if _, ok := <-late; ok {
		t.Fatalf("expected late subscription to be closed")
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return v
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}
