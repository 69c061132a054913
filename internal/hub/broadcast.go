// Package hub implements the subscription/fan-out layer: a bounded
// multi-consumer public broadcast, one bounded multi-consumer stream per
// user for payments, and a per-user single-slot portfolio-change watch.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventKind discriminates what a Subscription.Recv returned.
type EventKind int

const (
	EventMessage EventKind = iota
	EventLagged
	EventClosed
)

// Event is what a Subscription.Recv yields: either a pre-encoded payload,
// a Lagged(n) signal (this subscriber missed n messages because its
// buffer filled up), or Closed (the broadcaster is shutting down, fatal
// to whatever session holds the subscription).
type Event struct {
	Kind    EventKind
	Payload []byte
	Lagged  int64
}

// Broadcaster is a bounded, multi-producer, multi-consumer fan-out
// channel. A slow subscriber never blocks a publisher: once its buffer is
// full, further messages increment a per-subscriber drop counter instead
// of blocking, and the subscriber's next Recv reports that count as a
// single Lagged event — the same "drop instead of block, tell the
// consumer it lagged" policy go-server/pkg/websocket/hub.go applies to
// its single broadcast channel, generalized here to support many
// independent subscribers with independent buffers.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	bufCap int
}

func NewBroadcaster(bufCap int) *Broadcaster {
	if bufCap <= 0 {
		bufCap = 256
	}
	return &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		bufCap: bufCap,
	}
}

// Subscription is one consumer's view of a Broadcaster.
type Subscription struct {
	ch       chan []byte
	lagged   int64
	closedCh chan struct{}
	broadcaster *Broadcaster
}

func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ch:          make(chan []byte, b.bufCap),
		closedCh:    make(chan struct{}),
		broadcaster: b,
	}
	if b.closed {
		close(sub.closedCh)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub from the broadcaster. Safe to call more than
// once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// Publish fans payload out to every current subscriber without blocking.
func (b *Broadcaster) Publish(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- payload:
		default:
			atomic.AddInt64(&sub.lagged, 1)
		}
	}
}

// Close shuts the broadcaster down; every current and future subscription
// observes EventClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.closedCh)
	}
	b.subs = make(map[*Subscription]struct{})
}

func (s *Subscription) Recv(ctx context.Context) (Event, error) {
	if n := atomic.SwapInt64(&s.lagged, 0); n > 0 {
		return Event{Kind: EventLagged, Lagged: n}, nil
	}

	select {
	case payload := <-s.ch:
		return Event{Kind: EventMessage, Payload: payload}, nil
	case <-s.closedCh:
		return Event{Kind: EventClosed}, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close releases sub's slot in its broadcaster. Call when the owning
// session exits.
func (s *Subscription) Close() {
	s.broadcaster.Unsubscribe(s)
}
