package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/openbook/matching-engine/internal/models"
)

// The matching core depends only on these narrow persistence contracts. The
// pgx-backed implementation lives in internal/db; tests use in-memory fakes.
// All methods must be safe to call concurrently for different instruments;
// atomicity of an individual write is assumed from the store.

// OrderStore loads and mutates persisted orders.
type OrderStore interface {
	// GetAllOpenOrders returns every pending or partially filled order,
	// oldest first.
	GetAllOpenOrders(ctx context.Context) ([]*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	UpdateFilledQuantity(ctx context.Context, id, filled int64) error
	CancelOrder(ctx context.Context, id int64) error
}

// UserStore loads users and moves their money.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	HasSufficientBalance(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error)
	UpdateBalance(ctx context.Context, userID int64, balance decimal.Decimal) error
}

// TradeStore persists executed trades.
type TradeStore interface {
	AddTrade(ctx context.Context, t *models.Trade) (*models.Trade, error)
}
