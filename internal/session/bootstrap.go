package session

import (
	"context"
	"errors"
	"fmt"

	"odin-exchange/internal/model"
	"odin-exchange/internal/protocol"
)

// sendBootstrap streams the initial snapshot every client needs right
// after authenticating: its own portfolio, its payment history, the
// current user roster, then one MarketData frame per market carrying
// that market's live orders and trades. The per-market join walks
// GetAllLiveOrders and GetAllTrades with a cursor each rather than
// re-filtering the full slice per market, grounded on
// original_source/backend/src/handle_socket.rs's send_initial_data.
func (s *Session) sendBootstrap(ctx context.Context, userID string) error {
	portfolio, ok, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		return fmt.Errorf("get portfolio: %w", err)
	}
	if !ok {
		return errors.New("authenticated user not found")
	}
	portfolioMsg := protocol.FromPortfolio(portfolio)
	if err := s.sendServer(ctx, protocol.ServerMessage{Kind: protocol.ServerPortfolio, Portfolio: &portfolioMsg}); err != nil {
		return err
	}

	payments, err := s.store.GetPayments(ctx, userID)
	if err != nil {
		return fmt.Errorf("get payments: %w", err)
	}
	paymentsMsg := protocol.FromPayments(payments)
	if err := s.sendServer(ctx, protocol.ServerMessage{Kind: protocol.ServerPayments, Payments: &paymentsMsg}); err != nil {
		return err
	}

	users, err := s.store.GetAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("get all users: %w", err)
	}
	usersMsg := protocol.FromUsers(users)
	if err := s.sendServer(ctx, protocol.ServerMessage{Kind: protocol.ServerUsers, Users: &usersMsg}); err != nil {
		return err
	}

	markets, err := s.store.GetAllMarkets(ctx)
	if err != nil {
		return fmt.Errorf("get all markets: %w", err)
	}
	allOrders, err := s.store.GetAllLiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("get all live orders: %w", err)
	}
	allTrades, err := s.store.GetAllTrades(ctx)
	if err != nil {
		return fmt.Errorf("get all trades: %w", err)
	}

	orderCursor := newCursor(allOrders)
	tradeCursor := newCursor(allTrades)
	for _, market := range markets {
		marketOrders := orderCursor.takeWhile(func(o model.Order) bool { return o.MarketID == market.ID })
		marketTrades := tradeCursor.takeWhile(func(t model.Trade) bool { return t.MarketID == market.ID })
		marketData := protocol.FromMarketData(market, marketOrders, marketTrades)
		if err := s.sendServer(ctx, protocol.ServerMessage{Kind: protocol.ServerMarketData, MarketData: &marketData}); err != nil {
			return err
		}
	}

	return nil
}
