package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"odin-exchange/internal/model"
)

// MemoryDB is the in-memory reference implementation of DB: a single
// mutex guards every table, the way a single-node SQL transaction would
// serialize these same operations. It is the DB used by tests and by a
// single-process local deployment.
//
// Matching-engine economics simplification (see DESIGN.md): both Bid and
// Offer orders escrow price*size from their owner's balance at creation
// time, so a side with no funds to back its own listed price can never
// rest in the book or cross one. A fill moves (maker price * fill size)
// out of the bid owner's escrow and credits the offer owner, releasing
// the offer owner's own escrow for that fill size in the same step;
// either owner is refunded any price-improvement between their order's
// own price and the trade price. Cancelling (or `Out`) refunds whatever
// escrow remains unfilled, on either side. The matching engine's real
// economics (margin beyond the listed price, settlement-time redemption)
// are explicitly out of scope for this specification; this reference
// keeps the invariants in spec.md §8 true without inventing unspecified
// behavior.
type MemoryDB struct {
	mu sync.Mutex

	users map[string]*model.User

	nextMarketID int64
	markets      map[int64]*model.Market

	nextOrderID int64
	orders      map[int64]*model.Order

	nextTradeID int64
	trades      []model.Trade

	nextPaymentID int64
	payments      []model.Payment
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:        make(map[string]*model.User),
		markets:      make(map[int64]*model.Market),
		orders:       make(map[int64]*model.Order),
		nextMarketID: 1,
		nextOrderID:  1,
		nextTradeID:  1,
		nextPaymentID: 1,
	}
}

var _ DB = (*MemoryDB)(nil)

func (db *MemoryDB) EnsureUserCreated(_ context.Context, id, name string, initialBalance decimal.Decimal) (EnsureUserCreatedResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if u, ok := db.users[id]; ok {
		if u.Name != name {
			u.Name = name
		}
		return EnsureUserCreatedResult{Status: EnsureUserCreatedUnchanged}, nil
	}

	db.users[id] = &model.User{
		ID:      id,
		Name:    name,
		Roles:   model.NewRoleSet(),
		Balance: initialBalance,
	}
	return EnsureUserCreatedResult{Status: EnsureUserCreatedCreated}, nil
}

func (db *MemoryDB) GetPortfolio(_ context.Context, userID string) (model.Portfolio, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, ok := db.users[userID]
	if !ok {
		return model.Portfolio{}, false, nil
	}

	byMarket := make(map[int64][]model.Order)
	for _, o := range db.orders {
		if o.OwnerID == userID && o.Live {
			byMarket[o.MarketID] = append(byMarket[o.MarketID], *o)
		}
	}
	marketIDs := make([]int64, 0, len(byMarket))
	for id := range byMarket {
		marketIDs = append(marketIDs, id)
	}
	sort.Slice(marketIDs, func(i, j int) bool { return marketIDs[i] < marketIDs[j] })

	positions := make([]model.Position, 0, len(marketIDs))
	for _, id := range marketIDs {
		orders := byMarket[id]
		sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
		positions = append(positions, model.Position{MarketID: id, LiveOrders: orders})
	}

	return model.Portfolio{
		UserID:    userID,
		Balance:   user.Balance,
		Positions: positions,
	}, true, nil
}

func (db *MemoryDB) GetPayments(_ context.Context, userID string) ([]model.Payment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]model.Payment, 0)
	for _, p := range db.payments {
		if p.PayerID == userID || p.RecipientID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (db *MemoryDB) GetAllUsers(_ context.Context) ([]model.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]model.User, 0, len(db.users))
	for _, u := range db.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (db *MemoryDB) GetAllMarkets(_ context.Context) ([]model.Market, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]model.Market, 0, len(db.markets))
	for _, m := range db.markets {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (db *MemoryDB) GetAllLiveOrders(_ context.Context) ([]model.Order, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]model.Order, 0)
	for _, o := range db.orders {
		if o.Live {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (db *MemoryDB) GetAllTrades(_ context.Context) ([]model.Trade, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]model.Trade, len(db.trades))
	copy(out, db.trades)
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (db *MemoryDB) CreateMarket(_ context.Context, name, description, ownerID string, min, max decimal.Decimal) (CreateMarketResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if min.GreaterThan(max) {
		return CreateMarketResult{Status: CreateMarketInvalidSettlementPrices}, nil
	}

	market := &model.Market{
		ID:            db.nextMarketID,
		Name:          name,
		Description:   description,
		OwnerID:       ownerID,
		MinSettlement: min,
		MaxSettlement: max,
		CreatedAt:     time.Now(),
	}
	db.markets[market.ID] = market
	db.nextMarketID++

	return CreateMarketResult{Status: CreateMarketSuccess, Market: *market}, nil
}

func (db *MemoryDB) SettleMarket(_ context.Context, marketID int64, settlePrice decimal.Decimal, callerID string) (SettleMarketResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	market, ok := db.markets[marketID]
	if !ok {
		return SettleMarketResult{Status: SettleMarketNotOwner}, nil
	}
	if market.IsSettled() {
		return SettleMarketResult{Status: SettleMarketAlreadySettled}, nil
	}
	if market.OwnerID != callerID {
		return SettleMarketResult{Status: SettleMarketNotOwner}, nil
	}
	if settlePrice.LessThan(market.MinSettlement) || settlePrice.GreaterThan(market.MaxSettlement) {
		return SettleMarketResult{Status: SettleMarketInvalidSettlementPrice}, nil
	}

	price := settlePrice
	market.SettledPrice = &price

	affected := make(map[string]struct{})
	for _, o := range db.orders {
		if o.MarketID == marketID {
			affected[o.OwnerID] = struct{}{}
		}
	}
	users := make([]string, 0, len(affected))
	for u := range affected {
		users = append(users, u)
	}
	sort.Strings(users)

	return SettleMarketResult{Status: SettleMarketSuccess, AffectedUsers: users}, nil
}

func (db *MemoryDB) CreateOrder(_ context.Context, marketID int64, ownerID string, price, size decimal.Decimal, side model.Side) (CreateOrderResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	market, ok := db.markets[marketID]
	if !ok {
		return CreateOrderResult{Status: CreateOrderMarketNotFound}, nil
	}
	if market.IsSettled() {
		return CreateOrderResult{Status: CreateOrderMarketSettled}, nil
	}
	owner, ok := db.users[ownerID]
	if !ok {
		return CreateOrderResult{Status: CreateOrderUserNotFound}, nil
	}
	// dispatcher rejects SideUnknown before ever calling CreateOrder; this
	// guards the DB interface boundary itself for any other caller.
	if side == model.SideUnknown {
		return CreateOrderResult{Status: CreateOrderInvalidPrice}, nil
	}
	if price.LessThan(market.MinSettlement) || price.GreaterThan(market.MaxSettlement) {
		return CreateOrderResult{Status: CreateOrderInvalidPrice}, nil
	}
	if !size.IsPositive() {
		return CreateOrderResult{Status: CreateOrderInvalidPrice}, nil
	}

	cost := price.Mul(size)
	if owner.Balance.LessThan(cost) {
		return CreateOrderResult{Status: CreateOrderInsufficientFunds}, nil
	}
	owner.Balance = owner.Balance.Sub(cost)

	incoming := &model.Order{
		ID:        db.nextOrderID,
		MarketID:  marketID,
		OwnerID:   ownerID,
		Side:      side,
		Price:     price,
		Size:      size,
		CreatedAt: time.Now(),
		Live:      true,
	}
	db.nextOrderID++

	fills, trades := db.match(incoming)

	incoming.Live = incoming.Size.IsPositive()
	db.orders[incoming.ID] = incoming

	var orderOut *model.Order
	if incoming.Live {
		cp := *incoming
		orderOut = &cp
	}

	return CreateOrderResult{
		Status: CreateOrderSuccess,
		Order:  orderOut,
		Fills:  fills,
		Trades: trades,
	}, nil
}

// match crosses incoming against the resting book on the opposite side,
// price-time priority, and mutates both incoming and the resting orders it
// touches in place. Resting orders owned by the incoming order's owner are
// skipped, so every trade is between two distinct users. Caller holds
// db.mu.
func (db *MemoryDB) match(incoming *model.Order) ([]model.Fill, []model.Trade) {
	var resting []*model.Order
	for _, o := range db.orders {
		if !o.Live || o.MarketID != incoming.MarketID || o.Side == incoming.Side || o.OwnerID == incoming.OwnerID {
			continue
		}
		switch incoming.Side {
		case model.SideBid:
			if o.Price.LessThanOrEqual(incoming.Price) {
				resting = append(resting, o)
			}
		case model.SideOffer:
			if o.Price.GreaterThanOrEqual(incoming.Price) {
				resting = append(resting, o)
			}
		}
	}

	sort.Slice(resting, func(i, j int) bool {
		if !resting[i].Price.Equal(resting[j].Price) {
			if incoming.Side == model.SideBid {
				return resting[i].Price.LessThan(resting[j].Price)
			}
			return resting[i].Price.GreaterThan(resting[j].Price)
		}
		return resting[i].CreatedAt.Before(resting[j].CreatedAt)
	})

	var fills []model.Fill
	var trades []model.Trade

	for _, maker := range resting {
		if !incoming.Size.IsPositive() {
			break
		}
		fillSize := decimal.Min(incoming.Size, maker.Size)
		tradePrice := maker.Price

		var bidOrder, offerOrder *model.Order
		if incoming.Side == model.SideBid {
			bidOrder, offerOrder = incoming, maker
		} else {
			bidOrder, offerOrder = maker, incoming
		}

		// Both sides escrowed fillSize at their own order's price when
		// created. Crediting tradePrice*fillSize here is simultaneously
		// the bid side's purchase settling and the offer side's escrow
		// release plus sale proceeds; whichever side is the maker nets to
		// exactly its own escrowed price (refund 0), and whichever side
		// is the taker gets the difference back as price improvement.
		refund := bidOrder.Price.Sub(tradePrice).Mul(fillSize)
		if refund.IsPositive() {
			if buyer, ok := db.users[bidOrder.OwnerID]; ok {
				buyer.Balance = buyer.Balance.Add(refund)
			}
		}
		if seller, ok := db.users[offerOrder.OwnerID]; ok {
			seller.Balance = seller.Balance.Add(tradePrice.Mul(fillSize))
		}

		incoming.Size = incoming.Size.Sub(fillSize)
		maker.Size = maker.Size.Sub(fillSize)
		if !maker.Size.IsPositive() {
			maker.Live = false
		}

		trade := model.Trade{
			ID:        db.nextTradeID,
			MarketID:  incoming.MarketID,
			Price:     tradePrice,
			Size:      fillSize,
			BuyerID:   bidOrder.OwnerID,
			SellerID:  offerOrder.OwnerID,
			CreatedAt: time.Now(),
		}
		db.nextTradeID++
		trades = append(trades, trade)

		fills = append(fills, model.Fill{
			OrderID: maker.ID,
			OwnerID: maker.OwnerID,
			Price:   tradePrice,
			Size:    fillSize,
		})
	}

	return fills, trades
}

func (db *MemoryDB) CancelOrder(_ context.Context, orderID int64, callerID string) (CancelOrderResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	order, ok := db.orders[orderID]
	if !ok || !order.Live {
		return CancelOrderResult{Status: CancelOrderNotFound}, nil
	}
	if order.OwnerID != callerID {
		return CancelOrderResult{Status: CancelOrderNotOwner}, nil
	}

	db.cancelLocked(order)

	return CancelOrderResult{Status: CancelOrderSuccess, MarketID: order.MarketID}, nil
}

// cancelLocked marks order cancelled and refunds whatever escrow remains
// unfilled, on either side. Caller holds db.mu.
func (db *MemoryDB) cancelLocked(order *model.Order) {
	order.Live = false
	if order.Size.IsPositive() {
		if owner, ok := db.users[order.OwnerID]; ok {
			owner.Balance = owner.Balance.Add(order.Price.Mul(order.Size))
		}
	}
	order.Size = decimal.Zero
}

func (db *MemoryDB) MakePayment(_ context.Context, payerID, recipientID string, amount decimal.Decimal, note string) (MakePaymentResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if payerID == recipientID {
		return MakePaymentResult{Status: MakePaymentSameUser}, nil
	}
	if !amount.IsPositive() {
		return MakePaymentResult{Status: MakePaymentInvalidAmount}, nil
	}
	payer, ok := db.users[payerID]
	if !ok {
		return MakePaymentResult{Status: MakePaymentPayerNotFound}, nil
	}
	recipient, ok := db.users[recipientID]
	if !ok {
		return MakePaymentResult{Status: MakePaymentRecipientNotFound}, nil
	}
	if payer.Balance.LessThan(amount) {
		return MakePaymentResult{Status: MakePaymentInsufficientFunds}, nil
	}

	payer.Balance = payer.Balance.Sub(amount)
	recipient.Balance = recipient.Balance.Add(amount)

	payment := model.Payment{
		ID:          db.nextPaymentID,
		PayerID:     payerID,
		RecipientID: recipientID,
		Amount:      amount,
		Note:        note,
		CreatedAt:   time.Now(),
	}
	db.nextPaymentID++
	db.payments = append(db.payments, payment)

	return MakePaymentResult{Status: MakePaymentSuccess, Payment: payment}, nil
}

func (db *MemoryDB) Out(_ context.Context, marketID int64, callerID string) ([]int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var ids []int64
	for _, o := range db.orders {
		if o.MarketID == marketID && o.OwnerID == callerID && o.Live {
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		db.cancelLocked(db.orders[id])
	}

	return ids, nil
}
