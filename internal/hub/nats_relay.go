package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Relay lets a SubscriptionHub mirror local broadcasts across processes.
// A deployment with a single server instance runs without one; NewHub
// falls back to a no-op relay when none is configured.
type Relay interface {
	PublishPublic(payload []byte) error
	PublishPayment(userID string, payload []byte) error
	Close() error
}

// envelope wraps a relayed payload with a dedup id, grounded on the nonce
// scheme go-server/pkg/websocket/hub.go uses to recognize its own
// messages echoed back by a relay.
type envelope struct {
	EventID string          `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}

const publicSubject = "odin.public"

func paymentSubject(userID string) string {
	return fmt.Sprintf("odin.payments.%s", userID)
}

// NatsRelay mirrors hub broadcasts onto NATS subjects so multiple server
// processes behind a load balancer share one logical subscription space,
// grounded on go-server/pkg/nats/client.go's connection/subscription
// bookkeeping, adapted to a zap logger and to feed straight back into a
// SubscriptionHub.
type NatsRelay struct {
	conn   *nats.Conn
	logger *zap.Logger

	mu      sync.Mutex
	seen    map[string]time.Time
	paySubs map[string]*nats.Subscription

	onPublic  func(payload []byte)
	onPayment func(userID string, payload []byte)
}

func NewNatsRelay(url string, logger *zap.Logger, onPublic func([]byte), onPayment func(string, []byte)) (*NatsRelay, error) {
	r := &NatsRelay{
		logger:    logger,
		seen:      make(map[string]time.Time),
		paySubs:   make(map[string]*nats.Subscription),
		onPublic:  onPublic,
		onPayment: onPayment,
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info("nats connected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			logger.Error("nats error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	r.conn = conn

	if _, err := conn.Subscribe(publicSubject, r.handlePublic); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", publicSubject, err)
	}

	go r.cleanupSeen()

	return r, nil
}

func (r *NatsRelay) handlePublic(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Error("nats public envelope decode failed", zap.Error(err))
		return
	}
	if r.markSeen(env.EventID) {
		return
	}
	r.onPublic(env.Payload)
}

// EnsurePaymentSubscription subscribes to a given user's payment subject
// the first time that user's session connects to this process.
func (r *NatsRelay) EnsurePaymentSubscription(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.paySubs[userID]; ok {
		return nil
	}
	subject := paymentSubject(userID)
	sub, err := r.conn.Subscribe(subject, func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			r.logger.Error("nats payment envelope decode failed", zap.Error(err))
			return
		}
		if r.markSeen(env.EventID) {
			return
		}
		r.onPayment(userID, env.Payload)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	r.paySubs[userID] = sub
	return nil
}

// markSeen reports whether eventID has already been observed, recording
// it if not. Dedup is required because NATS delivers a publisher's own
// message back to its own subscriptions by default.
func (r *NatsRelay) markSeen(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[eventID]; ok {
		return true
	}
	r.seen[eventID] = time.Now()
	return false
}

func (r *NatsRelay) cleanupSeen() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-5 * time.Minute)
		r.mu.Lock()
		for id, seenAt := range r.seen {
			if seenAt.Before(cutoff) {
				delete(r.seen, id)
			}
		}
		r.mu.Unlock()
	}
}

func (r *NatsRelay) PublishPublic(payload []byte) error {
	return r.publish(publicSubject, payload)
}

func (r *NatsRelay) PublishPayment(userID string, payload []byte) error {
	if err := r.EnsurePaymentSubscription(userID); err != nil {
		return err
	}
	return r.publish(paymentSubject(userID), payload)
}

func (r *NatsRelay) publish(subject string, payload []byte) error {
	env := envelope{EventID: uuid.NewString(), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	// Record our own event id before publishing: NATS delivers a
	// connection's own publish back to its own subscriptions, and the
	// payload was already handed to local subscribers by the hub, so the
	// echo must be a no-op rather than a duplicate broadcast.
	r.markSeen(env.EventID)
	if err := r.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (r *NatsRelay) Close() error {
	r.mu.Lock()
	for _, sub := range r.paySubs {
		sub.Unsubscribe()
	}
	r.mu.Unlock()
	r.conn.Close()
	return nil
}

// noopRelay is used when no NATS URL is configured.
type noopRelay struct{}

func (noopRelay) PublishPublic(payload []byte) error          { return nil }
func (noopRelay) PublishPayment(userID string, payload []byte) error { return nil }
func (noopRelay) Close() error                                { return nil }
