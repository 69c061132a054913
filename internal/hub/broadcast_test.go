package hub

import (
	"context"
	"testing"
	"time"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(8)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	b.Publish([]byte("hello"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev1, err := sub1.Recv(ctx)
	if err != nil || ev1.Kind != EventMessage || string(ev1.Payload) != "hello" {
		t.Fatalf("sub1 recv: %+v %v", ev1, err)
	}
	ev2, err := sub2.Recv(ctx)
	if err != nil || ev2.Kind != EventMessage || string(ev2.Payload) != "hello" {
		t.Fatalf("sub2 recv: %+v %v", ev2, err)
	}
}

func TestBroadcasterLaggedWhenBufferFull(t *testing.T) {
	b := NewBroadcaster(2)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Publish([]byte{byte(i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The first two publishes fit in the buffer; the remaining three are
	// dropped and reported as a single Lagged(3) on next Recv.
	var sawLag bool
	for i := 0; i < 3; i++ {
		ev, err := sub.Recv(ctx)
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if ev.Kind == EventLagged {
			sawLag = true
			if ev.Lagged != 3 {
				t.Fatalf("expected lag of 3, got %d", ev.Lagged)
			}
		}
	}
	if !sawLag {
		t.Fatalf("expected a Lagged event")
	}
}

func TestBroadcasterCloseSignalsAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe()
	defer sub.Close()

	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Recv(ctx)
	if err != nil || ev.Kind != EventClosed {
		t.Fatalf("expected closed event, got %+v %v", ev, err)
	}
}

func TestPortfolioWatchCoalesces(t *testing.T) {
	w := NewPortfolioWatch()
	w.Notify()
	w.Notify()
	w.Notify()

	select {
	case <-w.Changed():
	default:
		t.Fatalf("expected a pending change")
	}

	select {
	case <-w.Changed():
		t.Fatalf("expected no second pending change after coalescing")
	default:
	}
}
