// Package book implements the per-instrument limit order book and the
// price-time priority matching pass. The book is a pure in-memory structure:
// ProposeTrades is a projection over current state and mutates nothing,
// CommitTrade is the only entry point that applies fills. Callers must
// guarantee a single matching pass per instrument at a time.
package book

import (
	"fmt"
	"sort"

	"github.com/openbook/matching-engine/internal/models"
)

// OrderBook holds the resting orders for a single instrument.
type OrderBook struct {
	StockID int64
	buys    []*models.Order // price descending, then CreatedAt ascending
	sells   []*models.Order // price ascending, then CreatedAt ascending
}

// New creates an empty book for one instrument.
func New(stockID int64) *OrderBook {
	return &OrderBook{StockID: stockID}
}

// Add places an order on its side of the book, keeping price-time order.
func (b *OrderBook) Add(o *models.Order) {
	if o.Side == models.SideBuy {
		b.buys = append(b.buys, o)
		// Highest price first, then earliest time
		sort.SliceStable(b.buys, func(i, j int) bool {
			if b.buys[i].Price.Equal(b.buys[j].Price) {
				return b.buys[i].CreatedAt.Before(b.buys[j].CreatedAt)
			}
			return b.buys[i].Price.GreaterThan(b.buys[j].Price)
		})
	} else {
		b.sells = append(b.sells, o)
		// Lowest price first, then earliest time
		sort.SliceStable(b.sells, func(i, j int) bool {
			if b.sells[i].Price.Equal(b.sells[j].Price) {
				return b.sells[i].CreatedAt.Before(b.sells[j].CreatedAt)
			}
			return b.sells[i].Price.LessThan(b.sells[j].Price)
		})
	}
}

// ProposeTrades projects the trades that would execute if the incoming order
// were matched against the opposite side right now. Candidates are walked in
// strict price-time priority; remaining quantity is tracked locally and no
// order state is mutated. The proposal price is always the resting order's
// price (maker price).
func (b *OrderBook) ProposeTrades(incoming *models.Order) []models.TradeProposal {
	if incoming.IsCancelled {
		return nil
	}
	remaining := incoming.Remaining()
	if remaining <= 0 {
		return nil
	}

	var proposals []models.TradeProposal
	if incoming.Side == models.SideBuy {
		for _, sell := range b.sells {
			if sell.Price.GreaterThan(incoming.Price) {
				break
			}
			if sell.Remaining() <= 0 {
				continue
			}
			qty := min(remaining, sell.Remaining())
			proposals = append(proposals, models.TradeProposal{
				StockID:     b.StockID,
				BuyOrderID:  incoming.ID,
				SellOrderID: sell.ID,
				Price:       sell.Price,
				Quantity:    qty,
			})
			remaining -= qty
			if remaining == 0 {
				break
			}
		}
	} else {
		for _, buy := range b.buys {
			if buy.Price.LessThan(incoming.Price) {
				break
			}
			if buy.Remaining() <= 0 {
				continue
			}
			qty := min(remaining, buy.Remaining())
			proposals = append(proposals, models.TradeProposal{
				StockID:     b.StockID,
				BuyOrderID:  buy.ID,
				SellOrderID: incoming.ID,
				Price:       buy.Price,
				Quantity:    qty,
			})
			remaining -= qty
			if remaining == 0 {
				break
			}
		}
	}
	return proposals
}

// CommitTrade applies an executed trade to the book's own copies of both
// orders and drops each side once fully filled. A trade touching an order
// that is missing or cancelled indicates a consistency bug: well-formed
// proposals only reference live resting orders.
func (b *OrderBook) CommitTrade(t *models.Trade) error {
	buy := b.find(models.SideBuy, t.BuyOrderID)
	if buy == nil {
		return fmt.Errorf("buy order %d not in book for stock %d", t.BuyOrderID, b.StockID)
	}
	sell := b.find(models.SideSell, t.SellOrderID)
	if sell == nil {
		return fmt.Errorf("sell order %d not in book for stock %d", t.SellOrderID, b.StockID)
	}
	if buy.IsCancelled || sell.IsCancelled {
		return fmt.Errorf("trade %d touches a cancelled order (buy %d, sell %d)", t.ID, buy.ID, sell.ID)
	}

	if err := buy.Fill(t.Quantity); err != nil {
		return fmt.Errorf("fill buy order %d: %w", buy.ID, err)
	}
	if err := sell.Fill(t.Quantity); err != nil {
		return fmt.Errorf("fill sell order %d: %w", sell.ID, err)
	}

	if buy.Status() == models.StatusFilled {
		b.remove(models.SideBuy, buy.ID)
	}
	if sell.Status() == models.StatusFilled {
		b.remove(models.SideSell, sell.ID)
	}
	return nil
}

// Cancel marks the order cancelled and detaches it. Returns false if the
// order is not in the book or cannot be cancelled.
func (b *OrderBook) Cancel(orderID int64) bool {
	o := b.findAny(orderID)
	if o == nil {
		return false
	}
	if err := o.Cancel(); err != nil {
		return false
	}
	return b.RemoveOrder(orderID)
}

// RemoveOrder detaches an order from the book by id without mutating it.
func (b *OrderBook) RemoveOrder(orderID int64) bool {
	if b.remove(models.SideBuy, orderID) {
		return true
	}
	return b.remove(models.SideSell, orderID)
}

// IsEmpty reports whether no orders rest on either side.
func (b *OrderBook) IsEmpty() bool {
	return len(b.buys) == 0 && len(b.sells) == 0
}

// TotalOrders reports how many orders rest in the book.
func (b *OrderBook) TotalOrders() int {
	return len(b.buys) + len(b.sells)
}

// Orders returns copies of the resting orders on both sides in book order.
func (b *OrderBook) Orders() (buys, sells []models.Order) {
	buys = make([]models.Order, len(b.buys))
	for i, o := range b.buys {
		buys[i] = *o
	}
	sells = make([]models.Order, len(b.sells))
	for i, o := range b.sells {
		sells[i] = *o
	}
	return buys, sells
}

func (b *OrderBook) side(s models.Side) *[]*models.Order {
	if s == models.SideBuy {
		return &b.buys
	}
	return &b.sells
}

func (b *OrderBook) find(s models.Side, orderID int64) *models.Order {
	for _, o := range *b.side(s) {
		if o.ID == orderID {
			return o
		}
	}
	return nil
}

func (b *OrderBook) findAny(orderID int64) *models.Order {
	if o := b.find(models.SideBuy, orderID); o != nil {
		return o
	}
	return b.find(models.SideSell, orderID)
}

func (b *OrderBook) remove(s models.Side, orderID int64) bool {
	orders := b.side(s)
	for i, o := range *orders {
		if o.ID == orderID {
			*orders = append((*orders)[:i], (*orders)[i+1:]...)
			return true
		}
	}
	return false
}
