// Package session drives one authenticated websocket connection through
// Connecting -> Authenticating -> Bootstrapping -> Ready -> Closed,
// grounded on original_source/backend/src/handle_socket.rs's
// handle_socket_fallible and on go-server/pkg/websocket/client.go's
// read-pump/write-loop split.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"odin-exchange/internal/auth"
	"odin-exchange/internal/db"
	"odin-exchange/internal/hub"
	"odin-exchange/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Session owns one connection end to end.
type Session struct {
	conn     *websocket.Conn
	codec    protocol.Codec
	verifier auth.Verifier
	store    db.DB
	hub      *hub.SubscriptionHub
	logger   *zap.Logger

	adminInitialBalance decimal.Decimal
	limiter             *rate.Limiter
}

func New(
	conn *websocket.Conn,
	verifier auth.Verifier,
	store db.DB,
	h *hub.SubscriptionHub,
	logger *zap.Logger,
	adminInitialBalance decimal.Decimal,
	rateLimitPerSec float64,
	rateLimitBurst int,
) *Session {
	return &Session{
		conn:                conn,
		codec:               protocol.NewCodec(),
		verifier:            verifier,
		store:               store,
		hub:                 h,
		logger:              logger,
		adminInitialBalance: adminInitialBalance,
		limiter:             rate.NewLimiter(rate.Limit(rateLimitPerSec), rateLimitBurst),
	}
}

type readResult struct {
	msgType int
	data    []byte
	err     error
}

// Run drives the session to completion: returns when the client
// disconnects, ctx is cancelled, or an unrecoverable I/O error occurs.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	reads := make(chan readResult, 8)
	go s.readPump(reads)

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	client, err := s.authenticate(ctx, reads)
	if err != nil {
		return err
	}
	logger := s.logger.With(zap.String("user_id", client.ID))

	initialBalance := decimal.Zero
	if client.IsAdmin() {
		initialBalance = s.adminInitialBalance
	}
	ensured, err := s.store.EnsureUserCreated(ctx, client.ID, client.Name, initialBalance)
	if err != nil {
		return fmt.Errorf("ensure user created: %w", err)
	}
	if ensured.Status == db.EnsureUserCreatedCreated {
		s.hub.SendPublic(protocol.ServerMessage{
			Kind: protocol.ServerUser,
			User: &protocol.UserMsg{ID: client.ID, Name: client.Name, IsBot: false},
		})
	}

	portfolioWatch := s.hub.SubscribePortfolio(client.ID)
	publicSub := s.hub.SubscribePublic()
	paymentSub := s.hub.SubscribePayments(client.ID)
	defer publicSub.Close()
	defer s.hub.UnsubscribePayments(client.ID, paymentSub)
	defer s.hub.UnsubscribePortfolio(client.ID)

	publicEvents := subscriptionEvents(ctx, publicSub)
	paymentEvents := subscriptionEvents(ctx, paymentSub)

	if err := s.sendBootstrap(ctx, client.ID); err != nil {
		return err
	}

	disp := &dispatcher{store: s.store, hub: s.hub, client: client, send: s.sendServer, logger: logger}

	for {
		// Biased poll, highest priority first: public broadcast, payment
		// broadcast, portfolio change, only falling through to a blocking
		// multi-way select (which treats every remaining case uniformly)
		// once none of those is immediately ready. Inbound client frames
		// are read only in that blocking select. This is the Go
		// rendition of `tokio::select! biased;` in handle_socket.rs;
		// Go's select has no biased mode of its own.
		select {
		case ev, ok := <-publicEvents:
			if !ok {
				return errors.New("public subscription closed")
			}
			if err := s.forwardSubscriptionEvent(ev, logger); err != nil {
				return err
			}
			continue
		default:
		}
		select {
		case ev, ok := <-paymentEvents:
			if !ok {
				return errors.New("payment subscription closed")
			}
			if err := s.forwardSubscriptionEvent(ev, logger); err != nil {
				return err
			}
			continue
		default:
		}
		select {
		case <-portfolioWatch.Changed():
			if err := s.sendPortfolio(ctx, client.ID); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-publicEvents:
			if !ok {
				return errors.New("public subscription closed")
			}
			if err := s.forwardSubscriptionEvent(ev, logger); err != nil {
				return err
			}

		case ev, ok := <-paymentEvents:
			if !ok {
				return errors.New("payment subscription closed")
			}
			if err := s.forwardSubscriptionEvent(ev, logger); err != nil {
				return err
			}

		case <-portfolioWatch.Changed():
			if err := s.sendPortfolio(ctx, client.ID); err != nil {
				return err
			}

		case <-pingTicker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}

		case r, ok := <-reads:
			if !ok {
				return nil
			}
			if r.err != nil {
				if isExpectedCloseErr(r.err) {
					return nil
				}
				return r.err
			}
			if err := s.handleClientFrame(ctx, disp, r); err != nil {
				return err
			}
		}
	}
}

func (s *Session) readPump(out chan<- readResult) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		out <- readResult{msgType: msgType, data: data, err: err}
		if err != nil {
			return
		}
	}
}

func isExpectedCloseErr(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// authenticate loops until it receives a well-formed Authenticate command
// whose tokens verify, sending RequestFailed for anything else without
// giving up the connection — grounded on handle_socket.rs's authenticate.
func (s *Session) authenticate(ctx context.Context, reads <-chan readResult) (auth.ValidatedClient, error) {
	for {
		select {
		case <-ctx.Done():
			return auth.ValidatedClient{}, ctx.Err()
		case r, ok := <-reads:
			if !ok || r.err != nil {
				if r.err != nil && isExpectedCloseErr(r.err) {
					return auth.ValidatedClient{}, errors.New("client disconnected before authenticating")
				}
				return auth.ValidatedClient{}, fmt.Errorf("read before authenticate: %w", r.err)
			}
			if r.msgType != websocket.BinaryMessage {
				if err := s.sendRequestFailed(ctx, protocol.FailUnknown, "Expected Binary message"); err != nil {
					return auth.ValidatedClient{}, err
				}
				continue
			}
			msg, err := s.codec.DecodeClient(r.data)
			if err != nil || msg.Kind != protocol.ClientAuthenticate || msg.Authenticate == nil {
				if err := s.sendRequestFailed(ctx, protocol.FailAuthenticate, "Expected Authenticate message"); err != nil {
					return auth.ValidatedClient{}, err
				}
				continue
			}
			client, err := s.verifier.Verify(msg.Authenticate.JWT, msg.Authenticate.IDJWT)
			if err != nil {
				s.logger.Warn("jwt validation failed", zap.Error(err))
				if err := s.sendRequestFailed(ctx, protocol.FailAuthenticate, "JWT validation failed"); err != nil {
					return auth.ValidatedClient{}, err
				}
				continue
			}
			if err := s.sendServer(ctx, protocol.ServerMessage{
				Kind:          protocol.ServerAuthenticated,
				Authenticated: &protocol.AuthenticatedMsg{},
			}); err != nil {
				return auth.ValidatedClient{}, err
			}
			return client, nil
		}
	}
}

func (s *Session) handleClientFrame(ctx context.Context, disp *dispatcher, r readResult) error {
	if r.msgType != websocket.BinaryMessage {
		return s.sendRequestFailed(ctx, protocol.FailUnknown, "Expected Binary message")
	}
	if !s.limiter.Allow() {
		return s.sendRequestFailed(ctx, protocol.FailRateLimited, "Too many requests")
	}
	msg, err := s.codec.DecodeClient(r.data)
	if err != nil {
		return s.sendRequestFailed(ctx, protocol.FailUnknown, "Expected Client message")
	}
	return disp.dispatch(ctx, msg)
}

func (s *Session) forwardSubscriptionEvent(ev hub.Event, logger *zap.Logger) error {
	switch ev.Kind {
	case hub.EventMessage:
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.BinaryMessage, ev.Payload); err != nil {
			return fmt.Errorf("forward subscription message: %w", err)
		}
		return nil
	case hub.EventLagged:
		// TODO: surface lagged broadcasts to the client instead of only
		// logging; today a lagging subscriber silently misses messages.
		logger.Warn("subscription lagged", zap.Int64("count", ev.Lagged))
		return nil
	case hub.EventClosed:
		return errors.New("subscription closed")
	default:
		return fmt.Errorf("unknown subscription event kind %d", ev.Kind)
	}
}

func (s *Session) sendPortfolio(ctx context.Context, userID string) error {
	portfolio, ok, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		return fmt.Errorf("get portfolio: %w", err)
	}
	if !ok {
		return errors.New("authenticated user not found")
	}
	msg := protocol.FromPortfolio(portfolio)
	return s.sendServer(ctx, protocol.ServerMessage{Kind: protocol.ServerPortfolio, Portfolio: &msg})
}

func (s *Session) sendRequestFailed(ctx context.Context, kind protocol.RequestFailKind, message string) error {
	s.logger.Error("request failed", zap.String("kind", string(kind)), zap.String("message", message))
	return s.sendServer(ctx, protocol.RequestFailed(kind, message))
}

func (s *Session) sendServer(ctx context.Context, msg protocol.ServerMessage) error {
	payload, err := s.codec.EncodeServer(msg)
	if err != nil {
		return fmt.Errorf("encode server message: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("write server message: %w", err)
	}
	return nil
}

// subscriptionEvents fans a hub.Subscription's blocking Recv calls onto a
// plain channel so Run's select statements can treat it like any other
// channel operand.
func subscriptionEvents(ctx context.Context, sub *hub.Subscription) <-chan hub.Event {
	out := make(chan hub.Event)
	go func() {
		defer close(out)
		for {
			ev, err := sub.Recv(ctx)
			if err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Kind == hub.EventClosed {
				return
			}
		}
	}()
	return out
}
