// Package db specifies the DB collaborator contract (spec.md §3, §6) and
// provides an in-memory reference implementation. A production deployment
// swaps MemoryDB for a SQL-backed implementation behind the same interface;
// nothing above this package would need to change.
package db

import (
	"context"

	"github.com/shopspring/decimal"

	"odin-exchange/internal/model"
)

// DB is the transactional store every session/dispatcher call goes
// through. Implementations must serialize mutations themselves; callers
// never take an external lock.
type DB interface {
	// EnsureUserCreated upserts a user row at first authenticated connect.
	// initialBalance is applied only when the row does not already exist.
	EnsureUserCreated(ctx context.Context, id, name string, initialBalance decimal.Decimal) (EnsureUserCreatedResult, error)

	GetPortfolio(ctx context.Context, userID string) (model.Portfolio, bool, error)
	GetPayments(ctx context.Context, userID string) ([]model.Payment, error)
	GetAllUsers(ctx context.Context) ([]model.User, error)

	// GetAllMarkets, GetAllLiveOrders and GetAllTrades back the bootstrap
	// snapshot's sort-merge streaming join; all three are ordered by
	// (market_id, id) and must stay in lockstep with each other.
	GetAllMarkets(ctx context.Context) ([]model.Market, error)
	GetAllLiveOrders(ctx context.Context) ([]model.Order, error)
	GetAllTrades(ctx context.Context) ([]model.Trade, error)

	CreateMarket(ctx context.Context, name, description, ownerID string, min, max decimal.Decimal) (CreateMarketResult, error)
	SettleMarket(ctx context.Context, marketID int64, settlePrice decimal.Decimal, callerID string) (SettleMarketResult, error)
	CreateOrder(ctx context.Context, marketID int64, ownerID string, price, size decimal.Decimal, side model.Side) (CreateOrderResult, error)
	CancelOrder(ctx context.Context, orderID int64, callerID string) (CancelOrderResult, error)
	MakePayment(ctx context.Context, payerID, recipientID string, amount decimal.Decimal, note string) (MakePaymentResult, error)

	// Out cancels every live order the caller owns in marketID and returns
	// the cancelled order ids in no particular order.
	Out(ctx context.Context, marketID int64, callerID string) ([]int64, error)
}
