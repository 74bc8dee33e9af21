package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbook/matching-engine/internal/models"
)

func newExecutor(store *memStore) *TradeExecutor {
	return NewTradeExecutor(store, store, store, NewValidator(store), zap.NewNop())
}

func TestTradeExecutor_Execute(t *testing.T) {
	store := newMemStore()
	store.addUser(1, "1000.00")
	store.addUser(2, "500.00")
	store.addOrder(&models.Order{ID: 10, UserID: 1, StockID: 1, Side: models.SideBuy, Price: decimal.RequireFromString("95.00"), Quantity: 10})
	store.addOrder(&models.Order{ID: 20, UserID: 2, StockID: 1, Side: models.SideSell, Price: decimal.RequireFromString("95.00"), Quantity: 15})

	ex := newExecutor(store)
	trade, err := ex.Execute(context.Background(), models.TradeProposal{
		StockID:     1,
		BuyOrderID:  10,
		SellOrderID: 20,
		Price:       decimal.RequireFromString("95.00"),
		Quantity:    10,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if trade.ID == 0 {
		t.Error("stored trade has no id")
	}
	if trade.BuyerID != 1 || trade.SellerID != 2 {
		t.Errorf("trade parties = (%d, %d), want (1, 2)", trade.BuyerID, trade.SellerID)
	}

	// Fills persisted on both legs.
	if got := store.order(10).FilledQuantity; got != 10 {
		t.Errorf("buy order filled = %d, want 10", got)
	}
	if got := store.order(20).FilledQuantity; got != 10 {
		t.Errorf("sell order filled = %d, want 10", got)
	}

	// Money conserved: buyer -950, seller +950.
	if got := store.balance(1); !got.Equal(decimal.RequireFromString("50.00")) {
		t.Errorf("buyer balance = %s, want 50.00", got)
	}
	if got := store.balance(2); !got.Equal(decimal.RequireFromString("1450.00")) {
		t.Errorf("seller balance = %s, want 1450.00", got)
	}
}

func TestTradeExecutor_RejectsBrokeBuyer(t *testing.T) {
	store := newMemStore()
	store.addUser(1, "10.00")
	store.addUser(2, "500.00")
	store.addOrder(&models.Order{ID: 10, UserID: 1, StockID: 1, Side: models.SideBuy, Price: decimal.RequireFromString("95.00"), Quantity: 10})
	store.addOrder(&models.Order{ID: 20, UserID: 2, StockID: 1, Side: models.SideSell, Price: decimal.RequireFromString("95.00"), Quantity: 10})

	ex := newExecutor(store)
	_, err := ex.Execute(context.Background(), models.TradeProposal{
		StockID:     1,
		BuyOrderID:  10,
		SellOrderID: 20,
		Price:       decimal.RequireFromString("95.00"),
		Quantity:    10,
	})

	var rejected *TradeRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected TradeRejectedError, got %v", err)
	}
	if rejected.OrderID != 10 || rejected.Side != models.SideBuy {
		t.Errorf("rejected leg = (%d, %s), want (10, buy)", rejected.OrderID, rejected.Side)
	}

	// Rejected buy is cancelled; the sell leg is untouched.
	if !store.order(10).IsCancelled {
		t.Error("rejected buy order not cancelled")
	}
	if sell := store.order(20); sell.IsCancelled || sell.FilledQuantity != 0 {
		t.Errorf("sell leg mutated: cancelled=%v filled=%d", sell.IsCancelled, sell.FilledQuantity)
	}

	// Nothing traded, no money moved.
	if store.tradeCount() != 0 {
		t.Errorf("expected 0 trades, got %d", store.tradeCount())
	}
	if got := store.balance(1); !got.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("buyer balance changed: %s", got)
	}
}

func TestTradeExecutor_MissingOrderIsNotRejection(t *testing.T) {
	store := newMemStore()
	store.addUser(2, "500.00")
	store.addOrder(&models.Order{ID: 20, UserID: 2, StockID: 1, Side: models.SideSell, Price: decimal.RequireFromString("95.00"), Quantity: 10})

	ex := newExecutor(store)
	_, err := ex.Execute(context.Background(), models.TradeProposal{
		StockID:     1,
		BuyOrderID:  99,
		SellOrderID: 20,
		Price:       decimal.RequireFromString("95.00"),
		Quantity:    10,
	})

	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	var rejected *TradeRejectedError
	if errors.As(err, &rejected) {
		t.Error("a missing order must surface as a consistency failure, not a rejection")
	}
}

func TestTradeExecutor_CancelledLegRejected(t *testing.T) {
	store := newMemStore()
	store.addUser(1, "1000.00")
	store.addUser(2, "500.00")
	store.addOrder(&models.Order{ID: 10, UserID: 1, StockID: 1, Side: models.SideBuy, Price: decimal.RequireFromString("95.00"), Quantity: 10})
	store.addOrder(&models.Order{ID: 20, UserID: 2, StockID: 1, Side: models.SideSell, Price: decimal.RequireFromString("95.00"), Quantity: 10, IsCancelled: true})

	ex := newExecutor(store)
	_, err := ex.Execute(context.Background(), models.TradeProposal{
		StockID:     1,
		BuyOrderID:  10,
		SellOrderID: 20,
		Price:       decimal.RequireFromString("95.00"),
		Quantity:    10,
	})

	var rejected *TradeRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected TradeRejectedError, got %v", err)
	}
	if rejected.OrderID != 20 || rejected.Side != models.SideSell {
		t.Errorf("rejected leg = (%d, %s), want (20, sell)", rejected.OrderID, rejected.Side)
	}
	// The healthy buy leg stays live.
	if store.order(10).IsCancelled {
		t.Error("healthy buy leg was cancelled")
	}
}
