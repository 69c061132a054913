package protocol

import "odin-exchange/internal/model"

func FromUser(u model.User) UserMsg {
	return UserMsg{ID: u.ID, Name: u.Name, IsBot: u.IsBot}
}

func FromUsers(users []model.User) UsersMsg {
	out := make([]UserMsg, 0, len(users))
	for _, u := range users {
		out = append(out, FromUser(u))
	}
	return UsersMsg{Users: out}
}

func FromOrder(o model.Order) OrderMsg {
	return OrderMsg{
		ID:        o.ID,
		MarketID:  o.MarketID,
		OwnerID:   o.OwnerID,
		Side:      FromModelSide(o.Side),
		Price:     o.Price.String(),
		Size:      o.Size.String(),
		CreatedAt: o.CreatedAt.UnixMilli(),
	}
}

func FromTrade(t model.Trade) TradeMsg {
	return TradeMsg{
		ID:        t.ID,
		MarketID:  t.MarketID,
		Price:     t.Price.String(),
		Size:      t.Size.String(),
		BuyerID:   t.BuyerID,
		SellerID:  t.SellerID,
		CreatedAt: t.CreatedAt.UnixMilli(),
	}
}

func FromMarket(m model.Market) MarketMsg {
	msg := MarketMsg{
		ID:            m.ID,
		Name:          m.Name,
		Description:   m.Description,
		OwnerID:       m.OwnerID,
		MinSettlement: m.MinSettlement.String(),
		MaxSettlement: m.MaxSettlement.String(),
	}
	if m.SettledPrice != nil {
		s := m.SettledPrice.String()
		msg.SettledPrice = &s
	}
	return msg
}

func FromMarketData(m model.Market, orders []model.Order, trades []model.Trade) MarketDataMsg {
	orderMsgs := make([]OrderMsg, 0, len(orders))
	for _, o := range orders {
		orderMsgs = append(orderMsgs, FromOrder(o))
	}
	tradeMsgs := make([]TradeMsg, 0, len(trades))
	for _, t := range trades {
		tradeMsgs = append(tradeMsgs, FromTrade(t))
	}
	return MarketDataMsg{Market: FromMarket(m), Orders: orderMsgs, Trades: tradeMsgs}
}

func FromPayment(p model.Payment) PaymentMsg {
	return PaymentMsg{
		ID:          p.ID,
		PayerID:     p.PayerID,
		RecipientID: p.RecipientID,
		Amount:      p.Amount.String(),
		Note:        p.Note,
		CreatedAt:   p.CreatedAt.UnixMilli(),
	}
}

func FromPayments(payments []model.Payment) PaymentsMsg {
	out := make([]PaymentMsg, 0, len(payments))
	for _, p := range payments {
		out = append(out, FromPayment(p))
	}
	return PaymentsMsg{Payments: out}
}

func FromPortfolio(p model.Portfolio) PortfolioMsg {
	positions := make([]PositionMsg, 0, len(p.Positions))
	for _, pos := range p.Positions {
		orders := make([]OrderMsg, 0, len(pos.LiveOrders))
		for _, o := range pos.LiveOrders {
			orders = append(orders, FromOrder(o))
		}
		positions = append(positions, PositionMsg{MarketID: pos.MarketID, LiveOrders: orders})
	}
	return PortfolioMsg{
		UserID:    p.UserID,
		Balance:   p.Balance.String(),
		Positions: positions,
	}
}

func FromFill(f model.Fill) OrderFillMsg {
	return OrderFillMsg{
		OrderID: f.OrderID,
		OwnerID: f.OwnerID,
		Price:   f.Price.String(),
		Size:    f.Size.String(),
	}
}

func FromFills(fills []model.Fill) []OrderFillMsg {
	out := make([]OrderFillMsg, 0, len(fills))
	for _, f := range fills {
		out = append(out, FromFill(f))
	}
	return out
}

func FromTrades(trades []model.Trade) []TradeMsg {
	out := make([]TradeMsg, 0, len(trades))
	for _, t := range trades {
		out = append(out, FromTrade(t))
	}
	return out
}
