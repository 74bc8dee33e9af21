package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openbook/matching-engine/internal/models"
)

// TradeExecutor turns one trade proposal into a persisted trade: it
// re-validates both legs, fills the orders, moves the money and stores the
// trade row. Balance is re-checked here even though it was checked at
// placement, because time passes between an order being queued and its turn
// to trade.
//
// The persistence steps are not individually retried or rolled back; a
// failure partway is surfaced as a fatal error for this trade, and the
// persisted fills and balances are the source of truth re-read on the next
// startup.
type TradeExecutor struct {
	orders    OrderStore
	users     UserStore
	trades    TradeStore
	validator *Validator
	log       *zap.Logger
}

func NewTradeExecutor(orders OrderStore, users UserStore, trades TradeStore, validator *Validator, log *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		orders:    orders,
		users:     users,
		trades:    trades,
		validator: validator,
		log:       log,
	}
}

// Execute validates and commits a single proposal. On a validation failure it
// cancels the offending leg and returns a *TradeRejectedError; any other
// error is a consistency or infrastructure failure.
func (e *TradeExecutor) Execute(ctx context.Context, p models.TradeProposal) (*models.Trade, error) {
	buy, err := e.orders.GetOrder(ctx, p.BuyOrderID)
	if err != nil {
		return nil, fmt.Errorf("proposal references buy order %d: %w", p.BuyOrderID, err)
	}
	sell, err := e.orders.GetOrder(ctx, p.SellOrderID)
	if err != nil {
		return nil, fmt.Errorf("proposal references sell order %d: %w", p.SellOrderID, err)
	}

	// A defect on either leg voids only that leg. The buy side is checked
	// first; if it fails, the sell side is left untouched for other
	// counter-orders.
	if err := e.checkLeg(ctx, buy); err != nil {
		return nil, err
	}
	if err := e.checkLeg(ctx, sell); err != nil {
		return nil, err
	}

	buyer, err := e.users.GetUser(ctx, buy.UserID)
	if err != nil {
		return nil, fmt.Errorf("buyer %d for order %d: %w", buy.UserID, buy.ID, err)
	}
	seller, err := e.users.GetUser(ctx, sell.UserID)
	if err != nil {
		return nil, fmt.Errorf("seller %d for order %d: %w", sell.UserID, sell.ID, err)
	}

	trade := &models.Trade{
		StockID:     p.StockID,
		BuyerID:     buyer.ID,
		SellerID:    seller.ID,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Price:       p.Price,
		Quantity:    p.Quantity,
		ExecutedAt:  time.Now().UTC(),
	}

	if err := buy.Fill(p.Quantity); err != nil {
		return nil, fmt.Errorf("fill buy order %d: %w", buy.ID, err)
	}
	if err := sell.Fill(p.Quantity); err != nil {
		return nil, fmt.Errorf("fill sell order %d: %w", sell.ID, err)
	}
	if err := e.orders.UpdateFilledQuantity(ctx, buy.ID, buy.FilledQuantity); err != nil {
		return nil, fmt.Errorf("persist fill for buy order %d: %w", buy.ID, err)
	}
	if err := e.orders.UpdateFilledQuantity(ctx, sell.ID, sell.FilledQuantity); err != nil {
		return nil, fmt.Errorf("persist fill for sell order %d: %w", sell.ID, err)
	}

	total := trade.TotalValue()
	if err := e.users.UpdateBalance(ctx, buyer.ID, buyer.Balance.Sub(total)); err != nil {
		return nil, fmt.Errorf("debit buyer %d: %w", buyer.ID, err)
	}
	if err := e.users.UpdateBalance(ctx, seller.ID, seller.Balance.Add(total)); err != nil {
		return nil, fmt.Errorf("credit seller %d: %w", seller.ID, err)
	}

	stored, err := e.trades.AddTrade(ctx, trade)
	if err != nil {
		return nil, fmt.Errorf("persist trade: %w", err)
	}
	return stored, nil
}

// checkLeg validates one leg and cancels it on failure.
func (e *TradeExecutor) checkLeg(ctx context.Context, o *models.Order) error {
	violations, err := e.validator.Validate(ctx, o)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		return nil
	}
	if err := e.orders.CancelOrder(ctx, o.ID); err != nil {
		return fmt.Errorf("cancel rejected order %d: %w", o.ID, err)
	}
	e.log.Warn("order rejected at execution",
		zap.Int64("order_id", o.ID),
		zap.String("side", string(o.Side)),
		zap.Int("violations", len(violations)))
	return &TradeRejectedError{OrderID: o.ID, Side: o.Side, Violations: violations}
}
