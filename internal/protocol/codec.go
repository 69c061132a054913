package protocol

import (
	"encoding/json"
	"fmt"
)

// Codec encodes/decodes the tagged unions to/from binary WebSocket frame
// payloads. It is the one place the wire representation (JSON today) is
// named, so swapping it for a schema-compiled format later touches only
// this file.
type Codec struct{}

func NewCodec() Codec { return Codec{} }

func (Codec) EncodeServer(msg ServerMessage) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode server message: %w", err)
	}
	return b, nil
}

func (Codec) DecodeClient(frame []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client message: %w", err)
	}
	if err := validateClientMessage(msg); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

func (Codec) DecodeServer(frame []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("decode server message: %w", err)
	}
	return msg, nil
}

func validateClientMessage(msg ClientMessage) error {
	present := 0
	check := func(ok bool) {
		if ok {
			present++
		}
	}
	check(msg.Authenticate != nil)
	check(msg.CreateMarket != nil)
	check(msg.SettleMarket != nil)
	check(msg.CreateOrder != nil)
	check(msg.CancelOrder != nil)
	check(msg.MakePayment != nil)
	check(msg.Out != nil)

	if present != 1 {
		return fmt.Errorf("client message must carry exactly one payload matching its kind, got %d", present)
	}

	var kindOK bool
	switch msg.Kind {
	case ClientAuthenticate:
		kindOK = msg.Authenticate != nil
	case ClientCreateMarket:
		kindOK = msg.CreateMarket != nil
	case ClientSettleMarket:
		kindOK = msg.SettleMarket != nil
	case ClientCreateOrder:
		kindOK = msg.CreateOrder != nil
	case ClientCancelOrder:
		kindOK = msg.CancelOrder != nil
	case ClientMakePayment:
		kindOK = msg.MakePayment != nil
	case ClientOut:
		kindOK = msg.Out != nil
	}
	if !kindOK {
		return fmt.Errorf("client message kind %q does not match its populated payload", msg.Kind)
	}
	return nil
}
