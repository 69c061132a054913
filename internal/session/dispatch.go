package session

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"odin-exchange/internal/auth"
	"odin-exchange/internal/db"
	"odin-exchange/internal/hub"
	"odin-exchange/internal/model"
	"odin-exchange/internal/protocol"
)

// dispatcher applies one already-authenticated client command to the
// store and emits the resulting broadcasts/notifications/replies,
// grounded on original_source/backend/src/handle_socket.rs's
// handle_client_message — each branch below mirrors one arm of that
// match, including its error message text.
type dispatcher struct {
	store  db.DB
	hub    *hub.SubscriptionHub
	client auth.ValidatedClient
	send   func(ctx context.Context, msg protocol.ServerMessage) error
	logger *zap.Logger
}

func (d *dispatcher) dispatch(ctx context.Context, msg protocol.ClientMessage) error {
	switch msg.Kind {
	case protocol.ClientAuthenticate:
		return d.fail(ctx, protocol.FailAuthenticate, "Already authenticated, to re-authenticate open a new websocket connection")
	case protocol.ClientCreateMarket:
		return d.createMarket(ctx, msg.CreateMarket)
	case protocol.ClientSettleMarket:
		return d.settleMarket(ctx, msg.SettleMarket)
	case protocol.ClientCreateOrder:
		return d.createOrder(ctx, msg.CreateOrder)
	case protocol.ClientCancelOrder:
		return d.cancelOrder(ctx, msg.CancelOrder)
	case protocol.ClientMakePayment:
		return d.makePayment(ctx, msg.MakePayment)
	case protocol.ClientOut:
		return d.out(ctx, msg.Out)
	default:
		return d.fail(ctx, protocol.FailUnknown, fmt.Sprintf("Unrecognized command kind %q", msg.Kind))
	}
}

func (d *dispatcher) fail(ctx context.Context, kind protocol.RequestFailKind, message string) error {
	d.logger.Error("request failed", zap.String("kind", string(kind)), zap.String("message", message))
	return d.send(ctx, protocol.RequestFailed(kind, message))
}

func (d *dispatcher) createMarket(ctx context.Context, cmd *protocol.CreateMarketCmd) error {
	minSettlement, err := decimal.NewFromString(cmd.MinSettlement)
	if err != nil {
		return d.fail(ctx, protocol.FailCreateMarket, "Failed parsing min_settlement")
	}
	maxSettlement, err := decimal.NewFromString(cmd.MaxSettlement)
	if err != nil {
		return d.fail(ctx, protocol.FailCreateMarket, "Failed parsing max_settlement")
	}

	result, err := d.store.CreateMarket(ctx, cmd.Name, cmd.Description, d.client.ID, minSettlement, maxSettlement)
	if err != nil {
		return fmt.Errorf("create market: %w", err)
	}
	if result.Status != db.CreateMarketSuccess {
		return d.fail(ctx, protocol.FailCreateMarket, "Invalid settlement prices")
	}

	marketMsg := protocol.FromMarket(result.Market)
	d.hub.SendPublic(protocol.ServerMessage{Kind: protocol.ServerMarketCreated, MarketCreated: &marketMsg})
	return nil
}

func (d *dispatcher) settleMarket(ctx context.Context, cmd *protocol.SettleMarketCmd) error {
	settlePrice, err := decimal.NewFromString(cmd.SettlePrice)
	if err != nil {
		return d.fail(ctx, protocol.FailSettleMarket, "Failed parsing settle_price")
	}

	result, err := d.store.SettleMarket(ctx, cmd.MarketID, settlePrice, d.client.ID)
	if err != nil {
		return fmt.Errorf("settle market: %w", err)
	}

	switch result.Status {
	case db.SettleMarketSuccess:
		d.hub.SendPublic(protocol.ServerMessage{
			Kind: protocol.ServerMarketSettled,
			MarketSettled: &protocol.MarketSettledMsg{
				ID:          cmd.MarketID,
				SettlePrice: cmd.SettlePrice,
			},
		})
		for _, userID := range result.AffectedUsers {
			d.hub.NotifyUserPortfolio(userID)
		}
		return nil
	case db.SettleMarketAlreadySettled:
		return d.fail(ctx, protocol.FailSettleMarket, "Market already settled")
	case db.SettleMarketNotOwner:
		return d.fail(ctx, protocol.FailSettleMarket, "Not market owner")
	case db.SettleMarketInvalidSettlementPrice:
		return d.fail(ctx, protocol.FailSettleMarket, "Invalid settlement price")
	default:
		return fmt.Errorf("unhandled settle market status %q", result.Status)
	}
}

func (d *dispatcher) createOrder(ctx context.Context, cmd *protocol.CreateOrderCmd) error {
	size, err := decimal.NewFromString(cmd.Size)
	if err != nil {
		return d.fail(ctx, protocol.FailCreateOrder, "Failed parsing size")
	}
	price, err := decimal.NewFromString(cmd.Price)
	if err != nil {
		return d.fail(ctx, protocol.FailCreateOrder, "Failed parsing price")
	}
	side := cmd.Side.ToModel()
	if side == model.SideUnknown {
		return d.fail(ctx, protocol.FailCreateOrder, "Unknown side")
	}

	result, err := d.store.CreateOrder(ctx, cmd.MarketID, d.client.ID, price, size, side)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	switch result.Status {
	case db.CreateOrderSuccess:
		for _, fill := range result.Fills {
			d.hub.NotifyUserPortfolio(fill.OwnerID)
		}
		d.hub.NotifyUserPortfolio(d.client.ID)

		var orderMsg *protocol.OrderMsg
		if result.Order != nil {
			m := protocol.FromOrder(*result.Order)
			orderMsg = &m
		}
		d.hub.SendPublic(protocol.ServerMessage{
			Kind: protocol.ServerOrderCreated,
			OrderCreated: &protocol.OrderCreatedMsg{
				MarketID: cmd.MarketID,
				UserID:   d.client.ID,
				Order:    orderMsg,
				Fills:    protocol.FromFills(result.Fills),
				Trades:   protocol.FromTrades(result.Trades),
			},
		})
		return nil
	case db.CreateOrderMarketSettled:
		return d.fail(ctx, protocol.FailCreateOrder, "Market already settled")
	case db.CreateOrderInvalidPrice:
		return d.fail(ctx, protocol.FailCreateOrder, "Invalid price")
	case db.CreateOrderInsufficientFunds:
		return d.fail(ctx, protocol.FailCreateOrder, "Insufficient funds")
	case db.CreateOrderMarketNotFound:
		return d.fail(ctx, protocol.FailCreateOrder, "Market not found")
	case db.CreateOrderUserNotFound:
		d.logger.Error("authenticated user not found")
		return d.fail(ctx, protocol.FailCreateOrder, "User not found")
	default:
		return fmt.Errorf("unhandled create order status %q", result.Status)
	}
}

func (d *dispatcher) cancelOrder(ctx context.Context, cmd *protocol.CancelOrderCmd) error {
	result, err := d.store.CancelOrder(ctx, cmd.ID, d.client.ID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}

	switch result.Status {
	case db.CancelOrderSuccess:
		d.hub.SendPublic(protocol.ServerMessage{
			Kind:           protocol.ServerOrderCancelled,
			OrderCancelled: &protocol.OrderCancelledMsg{ID: cmd.ID, MarketID: result.MarketID},
		})
		d.hub.NotifyUserPortfolio(d.client.ID)
		return nil
	case db.CancelOrderNotOwner:
		return d.fail(ctx, protocol.FailCancelOrder, "Not order owner")
	case db.CancelOrderNotFound:
		return d.fail(ctx, protocol.FailCancelOrder, "Order not found")
	default:
		return fmt.Errorf("unhandled cancel order status %q", result.Status)
	}
}

func (d *dispatcher) makePayment(ctx context.Context, cmd *protocol.MakePaymentCmd) error {
	amount, err := decimal.NewFromString(cmd.Amount)
	if err != nil {
		return d.fail(ctx, protocol.FailMakePayment, "Failed parsing amount")
	}

	result, err := d.store.MakePayment(ctx, d.client.ID, cmd.RecipientID, amount, cmd.Note)
	if err != nil {
		return fmt.Errorf("make payment: %w", err)
	}

	switch result.Status {
	case db.MakePaymentSuccess:
		paymentMsg := protocol.FromPayment(result.Payment)
		resp := protocol.ServerMessage{Kind: protocol.ServerPaymentCreated, PaymentCreated: &paymentMsg}
		d.hub.SendPayment(d.client.ID, resp)
		d.hub.SendPayment(cmd.RecipientID, resp)
		d.hub.NotifyUserPortfolio(d.client.ID)
		d.hub.NotifyUserPortfolio(cmd.RecipientID)
		return nil
	case db.MakePaymentInsufficientFunds:
		return d.fail(ctx, protocol.FailMakePayment, "Insufficient funds")
	case db.MakePaymentInvalidAmount:
		return d.fail(ctx, protocol.FailMakePayment, "Invalid amount")
	case db.MakePaymentPayerNotFound:
		return d.fail(ctx, protocol.FailMakePayment, "Payer not found")
	case db.MakePaymentRecipientNotFound:
		return d.fail(ctx, protocol.FailMakePayment, "Recipient not found")
	case db.MakePaymentSameUser:
		return d.fail(ctx, protocol.FailMakePayment, "Cannot pay yourself")
	default:
		return fmt.Errorf("unhandled make payment status %q", result.Status)
	}
}

func (d *dispatcher) out(ctx context.Context, cmd *protocol.OutCmd) error {
	cancelledIDs, err := d.store.Out(ctx, cmd.MarketID, d.client.ID)
	if err != nil {
		return fmt.Errorf("out: %w", err)
	}
	for _, id := range cancelledIDs {
		d.hub.SendPublic(protocol.ServerMessage{
			Kind:           protocol.ServerOrderCancelled,
			OrderCancelled: &protocol.OrderCancelledMsg{ID: id, MarketID: cmd.MarketID},
		})
		d.hub.NotifyUserPortfolio(d.client.ID)
	}
	return d.send(ctx, protocol.ServerMessage{Kind: protocol.ServerOut, Out: &protocol.OutMsg{MarketID: cmd.MarketID}})
}
