package hub

import (
	"sync"

	"go.uber.org/zap"

	"odin-exchange/internal/protocol"
)

// paymentsEntry and portfolioEntry are refcounted so a user's per-user
// broadcaster/watch is dropped from the hub once its last subscribing
// session disconnects, instead of accumulating one entry per user for
// the life of the process.
type paymentsEntry struct {
	broadcaster *Broadcaster
	refs        int
}

type portfolioEntry struct {
	watch *PortfolioWatch
	refs  int
}

// SubscriptionHub is the fan-out point every session attaches to: one
// shared public broadcast (markets, orders, trades, settlements) plus one
// payments broadcast and one portfolio watch per user. It is the
// generalization of go-server/pkg/websocket/hub.go's single
// broadcast-room model to the per-user payment and portfolio streams
// spec.md's session design calls for.
type SubscriptionHub struct {
	logger *zap.Logger
	codec  protocol.Codec
	relay  Relay

	public *Broadcaster

	mu         sync.Mutex
	payments   map[string]*paymentsEntry
	portfolios map[string]*portfolioEntry
}

func NewHub(logger *zap.Logger, relay Relay) *SubscriptionHub {
	if relay == nil {
		relay = noopRelay{}
	}
	h := &SubscriptionHub{
		logger:     logger,
		codec:      protocol.NewCodec(),
		relay:      relay,
		public:     NewBroadcaster(256),
		payments:   make(map[string]*paymentsEntry),
		portfolios: make(map[string]*portfolioEntry),
	}
	return h
}

// NewHubWithNats wires a SubscriptionHub to a live NATS relay so public
// and payment broadcasts mirror across every server process sharing url.
func NewHubWithNats(logger *zap.Logger, url string) (*SubscriptionHub, error) {
	h := NewHub(logger, nil)
	relay, err := NewNatsRelay(url, logger,
		func(payload []byte) { h.public.Publish(payload) },
		func(userID string, payload []byte) { h.paymentBroadcaster(userID).Publish(payload) },
	)
	if err != nil {
		return nil, err
	}
	h.relay = relay
	return h, nil
}

// paymentBroadcaster fetches or lazily creates userID's broadcaster
// without affecting its refcount; used by SendPayment and the NATS
// relay callback, neither of which subscribes.
func (h *SubscriptionHub) paymentBroadcaster(userID string) *Broadcaster {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.payments[userID]
	if !ok {
		e = &paymentsEntry{broadcaster: NewBroadcaster(64)}
		h.payments[userID] = e
	}
	return e.broadcaster
}

// portfolioWatch fetches or lazily creates userID's watch without
// affecting its refcount; used by NotifyUserPortfolio, which must be
// able to wake a watch even for a user with no session currently
// subscribed to it.
func (h *SubscriptionHub) portfolioWatch(userID string) *PortfolioWatch {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.portfolios[userID]
	if !ok {
		e = &portfolioEntry{watch: NewPortfolioWatch()}
		h.portfolios[userID] = e
	}
	return e.watch
}

func (h *SubscriptionHub) SubscribePublic() *Subscription {
	return h.public.Subscribe()
}

// SubscribePayments returns userID's payment subscription, incrementing
// its refcount. Pair with UnsubscribePayments when the session ends.
func (h *SubscriptionHub) SubscribePayments(userID string) *Subscription {
	h.mu.Lock()
	e, ok := h.payments[userID]
	if !ok {
		e = &paymentsEntry{broadcaster: NewBroadcaster(64)}
		h.payments[userID] = e
	}
	e.refs++
	h.mu.Unlock()
	if nr, ok := h.relay.(*NatsRelay); ok {
		if err := nr.EnsurePaymentSubscription(userID); err != nil {
			h.logger.Warn("relay payment subscribe failed", zap.Error(err), zap.String("user_id", userID))
		}
	}
	return e.broadcaster.Subscribe()
}

// UnsubscribePayments closes sub and, once userID has no more
// subscribers, drops its broadcaster from the hub.
func (h *SubscriptionHub) UnsubscribePayments(userID string, sub *Subscription) {
	sub.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.payments[userID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(h.payments, userID)
	}
}

// SubscribePortfolio returns userID's portfolio watch, incrementing its
// refcount. Pair with UnsubscribePortfolio when the session ends.
func (h *SubscriptionHub) SubscribePortfolio(userID string) *PortfolioWatch {
	h.mu.Lock()
	e, ok := h.portfolios[userID]
	if !ok {
		e = &portfolioEntry{watch: NewPortfolioWatch()}
		h.portfolios[userID] = e
	}
	e.refs++
	h.mu.Unlock()
	return e.watch
}

// UnsubscribePortfolio drops userID's portfolio watch once it has no
// more subscribers.
func (h *SubscriptionHub) UnsubscribePortfolio(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.portfolios[userID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(h.portfolios, userID)
	}
}

// SendPublic encodes msg and fans it out to every public subscriber on
// this process, then mirrors it to any other process sharing a relay.
func (h *SubscriptionHub) SendPublic(msg protocol.ServerMessage) {
	payload, err := h.codec.EncodeServer(msg)
	if err != nil {
		h.logger.Error("encode public message failed", zap.Error(err), zap.String("kind", string(msg.Kind)))
		return
	}
	h.public.Publish(payload)
	if err := h.relay.PublishPublic(payload); err != nil {
		h.logger.Warn("relay publish public failed", zap.Error(err))
	}
}

// SendPayment encodes msg and fans it out to userID's payment subscribers
// on this process and, via the relay, on every other process.
func (h *SubscriptionHub) SendPayment(userID string, msg protocol.ServerMessage) {
	payload, err := h.codec.EncodeServer(msg)
	if err != nil {
		h.logger.Error("encode payment message failed", zap.Error(err), zap.String("kind", string(msg.Kind)))
		return
	}
	h.paymentBroadcaster(userID).Publish(payload)
	if err := h.relay.PublishPayment(userID, payload); err != nil {
		h.logger.Warn("relay publish payment failed", zap.Error(err), zap.String("user_id", userID))
	}
}

// NotifyUserPortfolio wakes userID's portfolio watch on this process
// only. Portfolio changes are not relayed across processes, so a session
// for userID connected to another process is not woken by this call.
func (h *SubscriptionHub) NotifyUserPortfolio(userID string) {
	h.portfolioWatch(userID).Notify()
}

func (h *SubscriptionHub) Close() {
	h.public.Close()
	h.mu.Lock()
	for _, e := range h.payments {
		e.broadcaster.Close()
	}
	h.mu.Unlock()
	if err := h.relay.Close(); err != nil {
		h.logger.Warn("relay close failed", zap.Error(err))
	}
}
