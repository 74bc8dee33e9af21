package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the immutable record of one matched quantity slice. Price is the
// maker price, i.e. the resting order's price.
type Trade struct {
	ID          int64           `json:"id"`
	StockID     int64           `json:"stock_id"`
	BuyerID     int64           `json:"buyer_id"`
	SellerID    int64           `json:"seller_id"`
	BuyOrderID  int64           `json:"buy_order_id"`
	SellOrderID int64           `json:"sell_order_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// TotalValue is the money moved by the trade: Price × Quantity.
func (t *Trade) TotalValue() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// TradeProposal is the ephemeral output of a matching pass: what would trade
// if this proposal were committed. It is never persisted.
type TradeProposal struct {
	StockID     int64
	BuyOrderID  int64
	SellOrderID int64
	Price       decimal.Decimal
	Quantity    int64
}
