package protocol

import "testing"

func TestServerMessageRoundTrip(t *testing.T) {
	codec := NewCodec()
	cases := []ServerMessage{
		{Kind: ServerAuthenticated, Authenticated: &AuthenticatedMsg{}},
		RequestFailed(FailCreateOrder, "Insufficient funds"),
		{
			Kind: ServerMarketCreated,
			MarketCreated: &MarketMsg{
				ID: 1, Name: "M", Description: "", OwnerID: "alice",
				MinSettlement: "0", MaxSettlement: "100",
			},
		},
	}

	for _, want := range cases {
		frame, err := codec.EncodeServer(want)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := codec.DecodeServer(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Kind != want.Kind {
			t.Fatalf("kind mismatch: got %q want %q", got.Kind, want.Kind)
		}
	}
}

func TestDecodeClientMessageRejectsMismatchedPayload(t *testing.T) {
	codec := NewCodec()
	frame := []byte(`{"kind":"CreateOrder","authenticate":{"jwt":"x","idJwt":"y"}}`)
	if _, err := codec.DecodeClient(frame); err == nil {
		t.Fatal("expected decode error for mismatched kind/payload")
	}
}

func TestDecodeClientMessageCreateOrder(t *testing.T) {
	codec := NewCodec()
	frame := []byte(`{"kind":"CreateOrder","createOrder":{"marketId":1,"price":"60","size":"10","side":"Bid"}}`)
	msg, err := codec.DecodeClient(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.CreateOrder == nil || msg.CreateOrder.Side != WireSideBid {
		t.Fatalf("unexpected decode result: %+v", msg)
	}
}
