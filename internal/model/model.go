// Package model defines the entities shared by the DB collaborator, the
// subscription hub, and the wire protocol: users, markets, orders, trades
// and payments.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the side of an order book a resting order sits on.
type Side int

const (
	SideUnknown Side = iota
	SideBid
	SideOffer
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "Bid"
	case SideOffer:
		return "Offer"
	default:
		return "Unknown"
	}
}

// Role is a permission grant held by a user. Admin is the only role this
// core cares about: it controls the initial balance grant in
// ensure-user-created.
type Role string

const (
	RoleAdmin Role = "Admin"
)

// RoleSet is an unordered collection of roles with a fast membership check.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// User is a stable account identity plus its cash balance. Balance must
// never go negative; every mutation path in the DB enforces this before
// committing.
type User struct {
	ID      string
	Name    string
	Roles   RoleSet
	Balance decimal.Decimal
	IsBot   bool
}

// Market is a single prediction-market contract. MinSettlement and
// MaxSettlement bound both valid order prices and the eventual settlement
// price. SettledPrice is nil until SettleMarket succeeds, after which it is
// immutable.
type Market struct {
	ID            int64
	Name          string
	Description   string
	OwnerID       string
	MinSettlement decimal.Decimal
	MaxSettlement decimal.Decimal
	SettledPrice  *decimal.Decimal
	CreatedAt     time.Time
}

func (m Market) IsSettled() bool {
	return m.SettledPrice != nil
}

// Order is a resting or historical limit order. Live is false once the
// order has been fully filled or cancelled; cancellation is idempotent, so
// cancelling an already-cancelled order is a no-op that reports NotFound.
type Order struct {
	ID        int64
	MarketID  int64
	OwnerID   string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	CreatedAt time.Time
	Live      bool
}

// Trade is an immutable fill record between two distinct users.
type Trade struct {
	ID        int64
	MarketID  int64
	Price     decimal.Decimal
	Size      decimal.Decimal
	BuyerID   string
	SellerID  string
	CreatedAt time.Time
}

// Payment is an immutable balance transfer between two distinct users.
type Payment struct {
	ID          int64
	PayerID     string
	RecipientID string
	Amount      decimal.Decimal
	Note        string
	CreatedAt   time.Time
}

// Fill attributes part of a resting order's size to the incoming order
// during matching.
type Fill struct {
	OrderID  int64
	OwnerID  string
	Price    decimal.Decimal
	Size     decimal.Decimal
}

// Position is a user's net exposure in a single market: their live orders
// plus their settled/unsettled P&L is computed by the caller from this plus
// Market; the core only tracks open orders here.
type Position struct {
	MarketID   int64
	LiveOrders []Order
}

// Portfolio is the per-user projection sent on bootstrap and on every
// portfolio-change notification: balance plus open positions across
// markets.
type Portfolio struct {
	UserID    string
	Balance   decimal.Decimal
	Positions []Position
}
