package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus is derived from an order's fill and cancellation state; it is
// never stored directly.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
)

var (
	// ErrFillCancelled is returned when a fill is attempted on a cancelled order.
	ErrFillCancelled = errors.New("cannot fill a cancelled order")
	// ErrCancelFilled is returned when a cancel is attempted on a fully filled order.
	ErrCancelFilled = errors.New("cannot cancel a fully filled order")
)

// Order is a limit order resting in or entering the book.
type Order struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	StockID        int64           `json:"stock_id"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int64           `json:"quantity"`
	FilledQuantity int64           `json:"filled_quantity"`
	IsCancelled    bool            `json:"is_cancelled"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Status derives the lifecycle state of the order.
func (o *Order) Status() OrderStatus {
	switch {
	case o.IsCancelled:
		return StatusCancelled
	case o.FilledQuantity == 0:
		return StatusPending
	case o.FilledQuantity < o.Quantity:
		return StatusPartiallyFilled
	default:
		return StatusFilled
	}
}

// Remaining reports the quantity still open for matching.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// Fill increases FilledQuantity by qty, clamped to Quantity. Filling a
// cancelled order fails; FilledQuantity never decreases.
func (o *Order) Fill(qty int64) error {
	if o.IsCancelled {
		return ErrFillCancelled
	}
	if qty <= 0 {
		return nil
	}
	o.FilledQuantity += qty
	if o.FilledQuantity > o.Quantity {
		o.FilledQuantity = o.Quantity
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel marks the order cancelled. Cancelling an already cancelled order is
// a no-op; cancelling a fully filled order fails.
func (o *Order) Cancel() error {
	if o.IsCancelled {
		return nil
	}
	if o.Status() == StatusFilled {
		return ErrCancelFilled
	}
	o.IsCancelled = true
	o.UpdatedAt = time.Now().UTC()
	return nil
}
