package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"odin-exchange/internal/auth"
	"odin-exchange/internal/db"
	"odin-exchange/internal/hub"
	"odin-exchange/internal/protocol"
)

// newTestServer upgrades every accepted connection and runs a Session
// over it, exercising the full authenticate -> bootstrap -> dispatch
// loop over a real network socket rather than an in-process fake.
func newTestServer(t *testing.T, verifier auth.Verifier, store db.DB, h *hub.SubscriptionHub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	logger := zap.NewNop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		sess := New(conn, verifier, store, h, logger, decimal.RequireFromString("1000000"), 1000, 1000)
		go sess.Run(context.Background())
	})
	return httptest.NewServer(mux)
}

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	codec := protocol.NewCodec()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := codec.DecodeServer(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func sendClientMessage(t *testing.T, conn *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()
	frame, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func drainBootstrap(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	// Authenticated, Portfolio, Payments, Users: no markets exist yet so
	// no MarketData frames follow.
	for i := 0; i < 4; i++ {
		readServerMessage(t, conn)
	}
}

func TestSessionAuthenticateAndBootstrap(t *testing.T) {
	secret := "test-secret"
	verifier := auth.NewJWTVerifier(secret)
	store := db.NewMemoryDB()
	h := hub.NewHub(zap.NewNop(), nil)
	defer h.Close()

	srv := newTestServer(t, verifier, store, h)
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close()

	access, identity, err := verifier.GenerateTestTokens("alice", "Alice", []string{"Admin"}, time.Hour)
	if err != nil {
		t.Fatalf("generate tokens: %v", err)
	}

	sendClientMessage(t, conn, protocol.ClientMessage{
		Kind:         protocol.ClientAuthenticate,
		Authenticate: &protocol.AuthenticateCmd{JWT: access, IDJWT: identity},
	})

	authResp := readServerMessage(t, conn)
	if authResp.Kind != protocol.ServerAuthenticated {
		t.Fatalf("expected Authenticated, got %+v", authResp)
	}

	portfolioResp := readServerMessage(t, conn)
	if portfolioResp.Kind != protocol.ServerPortfolio || portfolioResp.Portfolio == nil {
		t.Fatalf("expected Portfolio, got %+v", portfolioResp)
	}
	if portfolioResp.Portfolio.Balance != "1000000" {
		t.Fatalf("expected admin balance 1000000, got %s", portfolioResp.Portfolio.Balance)
	}

	paymentsResp := readServerMessage(t, conn)
	if paymentsResp.Kind != protocol.ServerPayments {
		t.Fatalf("expected Payments, got %+v", paymentsResp)
	}

	usersResp := readServerMessage(t, conn)
	if usersResp.Kind != protocol.ServerUsers || usersResp.Users == nil || len(usersResp.Users.Users) != 1 {
		t.Fatalf("expected one bootstrapped user, got %+v", usersResp)
	}
}

func TestSessionRejectsBadAuthBeforeRetrying(t *testing.T) {
	secret := "test-secret"
	verifier := auth.NewJWTVerifier(secret)
	store := db.NewMemoryDB()
	h := hub.NewHub(zap.NewNop(), nil)
	defer h.Close()

	srv := newTestServer(t, verifier, store, h)
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close()

	sendClientMessage(t, conn, protocol.ClientMessage{
		Kind:         protocol.ClientAuthenticate,
		Authenticate: &protocol.AuthenticateCmd{JWT: "not-a-real-token", IDJWT: "also-not-real"},
	})
	failResp := readServerMessage(t, conn)
	if failResp.Kind != protocol.ServerRequestFailed || failResp.RequestFailed == nil {
		t.Fatalf("expected RequestFailed, got %+v", failResp)
	}
	if failResp.RequestFailed.RequestDetails.Kind != protocol.FailAuthenticate {
		t.Fatalf("expected Authenticate failure kind, got %q", failResp.RequestFailed.RequestDetails.Kind)
	}

	access, identity, err := verifier.GenerateTestTokens("bob", "Bob", nil, time.Hour)
	if err != nil {
		t.Fatalf("generate tokens: %v", err)
	}
	sendClientMessage(t, conn, protocol.ClientMessage{
		Kind:         protocol.ClientAuthenticate,
		Authenticate: &protocol.AuthenticateCmd{JWT: access, IDJWT: identity},
	})
	okResp := readServerMessage(t, conn)
	if okResp.Kind != protocol.ServerAuthenticated {
		t.Fatalf("expected Authenticated after retry, got %+v", okResp)
	}
}

func TestSessionCreateMarketAndOrderRoundTrip(t *testing.T) {
	secret := "test-secret"
	verifier := auth.NewJWTVerifier(secret)
	store := db.NewMemoryDB()
	h := hub.NewHub(zap.NewNop(), nil)
	defer h.Close()

	srv := newTestServer(t, verifier, store, h)
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close()

	access, identity, err := verifier.GenerateTestTokens("alice", "Alice", []string{"Admin"}, time.Hour)
	if err != nil {
		t.Fatalf("generate tokens: %v", err)
	}
	sendClientMessage(t, conn, protocol.ClientMessage{
		Kind:         protocol.ClientAuthenticate,
		Authenticate: &protocol.AuthenticateCmd{JWT: access, IDJWT: identity},
	})
	drainBootstrap(t, conn)

	sendClientMessage(t, conn, protocol.ClientMessage{
		Kind: protocol.ClientCreateMarket,
		CreateMarket: &protocol.CreateMarketCmd{
			Name: "Will it rain", MinSettlement: "0", MaxSettlement: "100",
		},
	})
	created := readServerMessage(t, conn)
	if created.Kind != protocol.ServerMarketCreated || created.MarketCreated == nil {
		t.Fatalf("expected MarketCreated, got %+v", created)
	}
	marketID := created.MarketCreated.ID

	sendClientMessage(t, conn, protocol.ClientMessage{
		Kind: protocol.ClientCreateOrder,
		CreateOrder: &protocol.CreateOrderCmd{
			MarketID: marketID, Price: "60", Size: "10", Side: protocol.WireSideBid,
		},
	})
	// The dispatcher also wakes this user's portfolio watch, so Portfolio
	// frames may arrive before or after each public broadcast.
	orderCreated := readServerMessage(t, conn)
	for orderCreated.Kind == protocol.ServerPortfolio {
		orderCreated = readServerMessage(t, conn)
	}
	if orderCreated.Kind != protocol.ServerOrderCreated || orderCreated.OrderCreated == nil {
		t.Fatalf("expected OrderCreated, got %+v", orderCreated)
	}
	if orderCreated.OrderCreated.Order == nil {
		t.Fatalf("expected a resting order in the response, got %+v", orderCreated.OrderCreated)
	}

	sendClientMessage(t, conn, protocol.ClientMessage{
		Kind:        protocol.ClientCancelOrder,
		CancelOrder: &protocol.CancelOrderCmd{ID: orderCreated.OrderCreated.Order.ID},
	})
	cancelled := readServerMessage(t, conn)
	for cancelled.Kind == protocol.ServerPortfolio {
		cancelled = readServerMessage(t, conn)
	}
	if cancelled.Kind != protocol.ServerOrderCancelled || cancelled.OrderCancelled == nil {
		t.Fatalf("expected OrderCancelled, got %+v", cancelled)
	}
	if cancelled.OrderCancelled.ID != orderCreated.OrderCreated.Order.ID {
		t.Fatalf("expected cancelled id %d, got %d", orderCreated.OrderCreated.Order.ID, cancelled.OrderCancelled.ID)
	}
}

func TestSessionRejectsNonBinaryFrames(t *testing.T) {
	secret := "test-secret"
	verifier := auth.NewJWTVerifier(secret)
	store := db.NewMemoryDB()
	h := hub.NewHub(zap.NewNop(), nil)
	defer h.Close()

	srv := newTestServer(t, verifier, store, h)
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"Authenticate"}`)); err != nil {
		t.Fatalf("write text frame: %v", err)
	}
	resp := readServerMessage(t, conn)
	if resp.Kind != protocol.ServerRequestFailed {
		t.Fatalf("expected RequestFailed for a non-binary frame, got %+v", resp)
	}
}
