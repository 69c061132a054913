package db

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"odin-exchange/internal/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDB()

	aRes, err := store.EnsureUserCreated(ctx, "alice", "Alice", dec("1000000"))
	if err != nil || aRes.Status != EnsureUserCreatedCreated {
		t.Fatalf("ensure alice: %v %v", aRes, err)
	}
	bRes, err := store.EnsureUserCreated(ctx, "bob", "Bob", dec("0"))
	if err != nil || bRes.Status != EnsureUserCreatedCreated {
		t.Fatalf("ensure bob: %v %v", bRes, err)
	}

	// 1. CreateMarket
	mkt, err := store.CreateMarket(ctx, "M", "", "alice", dec("0"), dec("100"))
	if err != nil || mkt.Status != CreateMarketSuccess {
		t.Fatalf("create market: %v %v", mkt, err)
	}
	if mkt.Market.ID != 1 {
		t.Fatalf("expected market id 1, got %d", mkt.Market.ID)
	}

	// 2. A bids 10 @ 60
	order1, err := store.CreateOrder(ctx, 1, "alice", dec("60"), dec("10"), model.SideBid)
	if err != nil || order1.Status != CreateOrderSuccess {
		t.Fatalf("create order 1: %v %v", order1, err)
	}
	if order1.Order == nil || len(order1.Trades) != 0 {
		t.Fatalf("expected resting unfilled order, got %+v", order1)
	}

	// 3. B (balance 0) offers 10 @ 60 against A's resting bid: offers escrow
	// price*size same as bids, so a zero-balance seller is rejected before
	// ever touching the book.
	failOrder, err := store.CreateOrder(ctx, 1, "bob", dec("60"), dec("10"), model.SideOffer)
	if err != nil {
		t.Fatalf("create order bob: %v", err)
	}
	if failOrder.Status != CreateOrderInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", failOrder.Status)
	}

	// 4. A pays B 1000
	pay, err := store.MakePayment(ctx, "alice", "bob", dec("1000"), "seed")
	if err != nil || pay.Status != MakePaymentSuccess {
		t.Fatalf("make payment: %v %v", pay, err)
	}

	// 5. B now offers 10 @ 60, should cross A's resting bid
	order2, err := store.CreateOrder(ctx, 1, "bob", dec("60"), dec("10"), model.SideOffer)
	if err != nil || order2.Status != CreateOrderSuccess {
		t.Fatalf("create order 2: %v %v", order2, err)
	}
	if order2.Order != nil {
		t.Fatalf("expected offer to fully fill with no resting remainder, got %+v", order2.Order)
	}
	if len(order2.Trades) != 1 || !order2.Trades[0].Price.Equal(dec("60")) || !order2.Trades[0].Size.Equal(dec("10")) {
		t.Fatalf("unexpected trades: %+v", order2.Trades)
	}

	// 6. A settles the market at 75
	settle, err := store.SettleMarket(ctx, 1, dec("75"), "alice")
	if err != nil || settle.Status != SettleMarketSuccess {
		t.Fatalf("settle market: %v %v", settle, err)
	}
	if len(settle.AffectedUsers) != 2 {
		t.Fatalf("expected 2 affected users, got %v", settle.AffectedUsers)
	}

	failCreate, err := store.CreateOrder(ctx, 1, "alice", dec("50"), dec("1"), model.SideBid)
	if err != nil || failCreate.Status != CreateOrderMarketSettled {
		t.Fatalf("expected market settled failure, got %v %v", failCreate, err)
	}
}

func TestCancelOrderIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDB()
	store.EnsureUserCreated(ctx, "alice", "Alice", dec("1000"))
	store.CreateMarket(ctx, "M", "", "alice", dec("0"), dec("100"))
	order, _ := store.CreateOrder(ctx, 1, "alice", dec("10"), dec("5"), model.SideBid)
	if order.Status != CreateOrderSuccess {
		t.Fatalf("create order: %v", order)
	}

	first, err := store.CancelOrder(ctx, order.Order.ID, "alice")
	if err != nil || first.Status != CancelOrderSuccess {
		t.Fatalf("first cancel: %v %v", first, err)
	}
	second, err := store.CancelOrder(ctx, order.Order.ID, "alice")
	if err != nil || second.Status != CancelOrderNotFound {
		t.Fatalf("second cancel should be NotFound, got %v %v", second, err)
	}
}

func TestMakePaymentBoundaries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDB()
	store.EnsureUserCreated(ctx, "alice", "Alice", dec("100"))

	same, err := store.MakePayment(ctx, "alice", "alice", dec("10"), "")
	if err != nil || same.Status != MakePaymentSameUser {
		t.Fatalf("expected SameUser, got %v %v", same, err)
	}

	store.EnsureUserCreated(ctx, "bob", "Bob", dec("0"))
	invalidAmount, err := store.MakePayment(ctx, "alice", "bob", dec("0"), "")
	if err != nil || invalidAmount.Status != MakePaymentInvalidAmount {
		t.Fatalf("expected InvalidAmount, got %v %v", invalidAmount, err)
	}

	negative, err := store.MakePayment(ctx, "alice", "bob", dec("-5"), "")
	if err != nil || negative.Status != MakePaymentInvalidAmount {
		t.Fatalf("expected InvalidAmount for negative, got %v %v", negative, err)
	}
}

func TestCreateMarketMinEqualsMax(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDB()
	store.EnsureUserCreated(ctx, "alice", "Alice", dec("100"))

	res, err := store.CreateMarket(ctx, "M", "", "alice", dec("50"), dec("50"))
	if err != nil || res.Status != CreateMarketSuccess {
		t.Fatalf("expected success for min==max, got %v %v", res, err)
	}

	invalid, err := store.CreateMarket(ctx, "M2", "", "alice", dec("51"), dec("50"))
	if err != nil || invalid.Status != CreateMarketInvalidSettlementPrices {
		t.Fatalf("expected InvalidSettlementPrices, got %v %v", invalid, err)
	}
}

func TestCreateOrderPriceAtBounds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDB()
	store.EnsureUserCreated(ctx, "alice", "Alice", dec("1000"))
	store.CreateMarket(ctx, "M", "", "alice", dec("0"), dec("100"))

	atMin, err := store.CreateOrder(ctx, 1, "alice", dec("0"), dec("1"), model.SideBid)
	if err != nil || atMin.Status != CreateOrderSuccess {
		t.Fatalf("expected success at min bound, got %v %v", atMin, err)
	}
	atMax, err := store.CreateOrder(ctx, 1, "alice", dec("100"), dec("1"), model.SideBid)
	if err != nil || atMax.Status != CreateOrderSuccess {
		t.Fatalf("expected success at max bound, got %v %v", atMax, err)
	}
}

func TestBalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDB()
	store.EnsureUserCreated(ctx, "alice", "Alice", dec("50"))
	store.CreateMarket(ctx, "M", "", "alice", dec("0"), dec("100"))

	res, err := store.CreateOrder(ctx, 1, "alice", dec("60"), dec("1"), model.SideBid)
	if err != nil || res.Status != CreateOrderInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v %v", res, err)
	}

	portfolio, ok, err := store.GetPortfolio(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("get portfolio: %v %v", ok, err)
	}
	if portfolio.Balance.IsNegative() {
		t.Fatalf("balance went negative: %s", portfolio.Balance)
	}
}

func TestOfferRequiresCollateral(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDB()
	store.EnsureUserCreated(ctx, "alice", "Alice", dec("0"))
	store.CreateMarket(ctx, "M", "", "alice", dec("0"), dec("100"))

	res, err := store.CreateOrder(ctx, 1, "alice", dec("60"), dec("10"), model.SideOffer)
	if err != nil || res.Status != CreateOrderInsufficientFunds {
		t.Fatalf("expected insufficient funds for an uncollateralized offer, got %v %v", res, err)
	}
}

func TestCancelOfferRefundsEscrow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDB()
	store.EnsureUserCreated(ctx, "alice", "Alice", dec("1000"))
	store.CreateMarket(ctx, "M", "", "alice", dec("0"), dec("100"))

	order, err := store.CreateOrder(ctx, 1, "alice", dec("60"), dec("10"), model.SideOffer)
	if err != nil || order.Status != CreateOrderSuccess {
		t.Fatalf("create offer: %v %v", order, err)
	}
	portfolioAfterCreate, _, _ := store.GetPortfolio(ctx, "alice")
	if !portfolioAfterCreate.Balance.Equal(dec("400")) {
		t.Fatalf("expected balance 400 after escrowing 600, got %s", portfolioAfterCreate.Balance)
	}

	cancel, err := store.CancelOrder(ctx, order.Order.ID, "alice")
	if err != nil || cancel.Status != CancelOrderSuccess {
		t.Fatalf("cancel offer: %v %v", cancel, err)
	}
	portfolioAfterCancel, _, _ := store.GetPortfolio(ctx, "alice")
	if !portfolioAfterCancel.Balance.Equal(dec("1000")) {
		t.Fatalf("expected escrow refunded to 1000, got %s", portfolioAfterCancel.Balance)
	}
}
