// Package protocol defines the wire-level ClientMessage/ServerMessage
// tagged unions and their binary-frame codec. Decimal fields are carried
// as strings so client and server never disagree on a binary floating
// point rounding.
package protocol

import "odin-exchange/internal/model"

// ClientKind discriminates the ClientMessage tagged union.
type ClientKind string

const (
	ClientAuthenticate  ClientKind = "Authenticate"
	ClientCreateMarket  ClientKind = "CreateMarket"
	ClientSettleMarket  ClientKind = "SettleMarket"
	ClientCreateOrder   ClientKind = "CreateOrder"
	ClientCancelOrder   ClientKind = "CancelOrder"
	ClientMakePayment   ClientKind = "MakePayment"
	ClientOut           ClientKind = "Out"
)

// ClientMessage is the closed set of commands a connected client may send.
// Exactly one of the pointer fields matching Kind is populated; decoding
// validates this.
type ClientMessage struct {
	Kind ClientKind `json:"kind"`

	Authenticate *AuthenticateCmd `json:"authenticate,omitempty"`
	CreateMarket *CreateMarketCmd `json:"createMarket,omitempty"`
	SettleMarket *SettleMarketCmd `json:"settleMarket,omitempty"`
	CreateOrder  *CreateOrderCmd  `json:"createOrder,omitempty"`
	CancelOrder  *CancelOrderCmd  `json:"cancelOrder,omitempty"`
	MakePayment  *MakePaymentCmd  `json:"makePayment,omitempty"`
	Out          *OutCmd          `json:"out,omitempty"`
}

type AuthenticateCmd struct {
	JWT   string `json:"jwt"`
	IDJWT string `json:"idJwt"`
}

type CreateMarketCmd struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	MinSettlement string `json:"minSettlement"`
	MaxSettlement string `json:"maxSettlement"`
}

type SettleMarketCmd struct {
	MarketID     int64  `json:"marketId"`
	SettlePrice  string `json:"settlePrice"`
}

// WireSide is the wire encoding of model.Side: a string so malformed or
// absent values decode to "Unknown" rather than a silently wrong zero
// value of a different side.
type WireSide string

const (
	WireSideUnknown WireSide = "Unknown"
	WireSideBid     WireSide = "Bid"
	WireSideOffer   WireSide = "Offer"
)

func (w WireSide) ToModel() model.Side {
	switch w {
	case WireSideBid:
		return model.SideBid
	case WireSideOffer:
		return model.SideOffer
	default:
		return model.SideUnknown
	}
}

func FromModelSide(s model.Side) WireSide {
	switch s {
	case model.SideBid:
		return WireSideBid
	case model.SideOffer:
		return WireSideOffer
	default:
		return WireSideUnknown
	}
}

type CreateOrderCmd struct {
	MarketID int64    `json:"marketId"`
	Price    string   `json:"price"`
	Size     string   `json:"size"`
	Side     WireSide `json:"side"`
}

type CancelOrderCmd struct {
	ID int64 `json:"id"`
}

type MakePaymentCmd struct {
	RecipientID string `json:"recipientId"`
	Amount      string `json:"amount"`
	Note        string `json:"note"`
}

type OutCmd struct {
	MarketID int64 `json:"marketId"`
}

// ServerKind discriminates the ServerMessage tagged union.
type ServerKind string

const (
	ServerAuthenticated  ServerKind = "Authenticated"
	ServerPortfolio      ServerKind = "Portfolio"
	ServerPayments       ServerKind = "Payments"
	ServerUsers          ServerKind = "Users"
	ServerMarketData     ServerKind = "MarketData"
	ServerMarketCreated  ServerKind = "MarketCreated"
	ServerMarketSettled  ServerKind = "MarketSettled"
	ServerOrderCreated   ServerKind = "OrderCreated"
	ServerOrderCancelled ServerKind = "OrderCancelled"
	ServerPaymentCreated ServerKind = "PaymentCreated"
	ServerUser           ServerKind = "User"
	ServerOut            ServerKind = "Out"
	ServerRequestFailed  ServerKind = "RequestFailed"
)

// ServerMessage is the closed set of frames the server ever sends.
type ServerMessage struct {
	Kind ServerKind `json:"kind"`

	Authenticated  *AuthenticatedMsg  `json:"authenticated,omitempty"`
	Portfolio      *PortfolioMsg      `json:"portfolio,omitempty"`
	Payments       *PaymentsMsg       `json:"payments,omitempty"`
	Users          *UsersMsg          `json:"users,omitempty"`
	MarketData     *MarketDataMsg     `json:"marketData,omitempty"`
	MarketCreated  *MarketMsg         `json:"marketCreated,omitempty"`
	MarketSettled  *MarketSettledMsg  `json:"marketSettled,omitempty"`
	OrderCreated   *OrderCreatedMsg   `json:"orderCreated,omitempty"`
	OrderCancelled *OrderCancelledMsg `json:"orderCancelled,omitempty"`
	PaymentCreated *PaymentMsg        `json:"paymentCreated,omitempty"`
	User           *UserMsg           `json:"user,omitempty"`
	Out            *OutMsg            `json:"out,omitempty"`
	RequestFailed  *RequestFailedMsg  `json:"requestFailed,omitempty"`
}

type AuthenticatedMsg struct{}

type UserMsg struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	IsBot bool   `json:"isBot"`
}

type UsersMsg struct {
	Users []UserMsg `json:"users"`
}

type PositionMsg struct {
	MarketID   int64      `json:"marketId"`
	LiveOrders []OrderMsg `json:"liveOrders"`
}

type PortfolioMsg struct {
	UserID    string        `json:"userId"`
	Balance   string        `json:"balance"`
	Positions []PositionMsg `json:"positions"`
}

type PaymentMsg struct {
	ID          int64  `json:"id"`
	PayerID     string `json:"payerId"`
	RecipientID string `json:"recipientId"`
	Amount      string `json:"amount"`
	Note        string `json:"note"`
	CreatedAt   int64  `json:"createdAt"`
}

type PaymentsMsg struct {
	Payments []PaymentMsg `json:"payments"`
}

type OrderMsg struct {
	ID        int64    `json:"id"`
	MarketID  int64    `json:"marketId"`
	OwnerID   string   `json:"ownerId"`
	Side      WireSide `json:"side"`
	Price     string   `json:"price"`
	Size      string   `json:"size"`
	CreatedAt int64    `json:"createdAt"`
}

type TradeMsg struct {
	ID        int64  `json:"id"`
	MarketID  int64  `json:"marketId"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	BuyerID   string `json:"buyerId"`
	SellerID  string `json:"sellerId"`
	CreatedAt int64  `json:"createdAt"`
}

type MarketMsg struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	OwnerID       string  `json:"ownerId"`
	MinSettlement string  `json:"minSettlement"`
	MaxSettlement string  `json:"maxSettlement"`
	SettledPrice  *string `json:"settledPrice,omitempty"`
}

type MarketDataMsg struct {
	Market MarketMsg  `json:"market"`
	Orders []OrderMsg `json:"orders"`
	Trades []TradeMsg `json:"trades"`
}

type MarketSettledMsg struct {
	ID           int64  `json:"id"`
	SettlePrice  string `json:"settlePrice"`
}

type OrderFillMsg struct {
	OrderID int64  `json:"orderId"`
	OwnerID string `json:"ownerId"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

type OrderCreatedMsg struct {
	MarketID int64          `json:"marketId"`
	UserID   string         `json:"userId"`
	Order    *OrderMsg      `json:"order,omitempty"`
	Fills    []OrderFillMsg `json:"fills"`
	Trades   []TradeMsg     `json:"trades"`
}

type OrderCancelledMsg struct {
	ID       int64 `json:"id"`
	MarketID int64 `json:"marketId"`
}

type OutMsg struct {
	MarketID int64 `json:"marketId"`
}

// RequestFailKind enumerates the command kind a RequestFailed refers to,
// closed so handlers cannot typo a string into an unrecognized value.
type RequestFailKind string

const (
	FailUnknown      RequestFailKind = "Unknown"
	FailAuthenticate RequestFailKind = "Authenticate"
	FailCreateMarket RequestFailKind = "CreateMarket"
	FailSettleMarket RequestFailKind = "SettleMarket"
	FailCreateOrder  RequestFailKind = "CreateOrder"
	FailCancelOrder  RequestFailKind = "CancelOrder"
	FailMakePayment  RequestFailKind = "MakePayment"
	FailOut          RequestFailKind = "Out"
	FailRateLimited  RequestFailKind = "RateLimited"
)

type RequestFailedMsg struct {
	RequestDetails struct {
		Kind RequestFailKind `json:"kind"`
	} `json:"requestDetails"`
	ErrorDetails struct {
		Message string `json:"message"`
	} `json:"errorDetails"`
}

// RequestFailed builds a RequestFailed ServerMessage, the one helper every
// dispatcher branch that fails reaches for.
func RequestFailed(kind RequestFailKind, message string) ServerMessage {
	msg := ServerMessage{Kind: ServerRequestFailed, RequestFailed: &RequestFailedMsg{}}
	msg.RequestFailed.RequestDetails.Kind = kind
	msg.RequestFailed.ErrorDetails.Message = message
	return msg
}
